package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/domain"
)

// withRetry re-runs fn while it fails with a Conflict-kind error, sleeping
// baseDelay*attempt between tries. Any other outcome is returned immediately;
// exhausting the budget surfaces the last conflict to the caller.
func withRetry(ctx context.Context, log *zap.Logger, attempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !domain.IsConflict(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := baseDelay * time.Duration(attempt)
		conflictRetriesTotal.Inc()
		log.Warn("retrying after concurrency conflict",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// validateAmount enforces the money contract shared by every mutation:
// strictly positive, at most two decimal places.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.InvalidState("amount must be greater than zero")
	}
	if amount.Exponent() < -2 {
		return domain.InvalidState("amount cannot have more than two decimal places")
	}
	return nil
}
