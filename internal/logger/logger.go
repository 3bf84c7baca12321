package logger

import "go.uber.org/zap"

// New builds the process-wide production logger. Callers receive it as an
// explicit dependency; there is no package-level global.
func New(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
