// Package idempotency guards state-mutating endpoints against duplicate
// submissions. A caller-supplied Idempotency-Key, scoped per user, pins the
// first response; replays receive it verbatim without re-executing effects.
package idempotency

import (
	"bytes"
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/auth"
	"github.com/ntbank/corebank/internal/domain"
)

const headerKey = "Idempotency-Key"

var replaysTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ledger_idempotency_replays_total",
	Help: "Requests answered from a stored idempotency record",
})

// Recorder is the slice of the ledger store the guard needs.
type Recorder interface {
	GetIdempotencyRecord(ctx context.Context, key string, userID int64) (*domain.IdempotencyRecord, error)
	SaveIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error
}

// responseRecorder captures what the wrapped handler writes so it can be
// stored and replayed later.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware applies the guard to every request carrying the header. The
// record is written only after the handler returns, i.e. after the wrapped
// operation's effects are committed. Statuses >= 500 are never stored so a
// genuine server failure stays retryable.
func Middleware(recorder Recorder, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			stored, err := recorder.GetIdempotencyRecord(r.Context(), key, userID)
			if err != nil && domain.KindOf(err) != domain.KindNotFound {
				// Fail open: a broken lookup must not block the request.
				log.Error("idempotency lookup failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if stored != nil {
				replaysTotal.Inc()
				log.Info("idempotency replay",
					zap.String("key", key), zap.Int64("user_id", userID))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(stored.StatusCode)
				w.Write(stored.Body)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= 200 && rec.statusCode < 500 {
				err := recorder.SaveIdempotencyRecord(r.Context(), &domain.IdempotencyRecord{
					Key:        key,
					UserID:     userID,
					Path:       r.URL.Path,
					Method:     r.Method,
					StatusCode: rec.statusCode,
					Body:       rec.body.Bytes(),
				})
				if err != nil {
					// Best-effort secondary write; never masks the response.
					log.Error("idempotency record save failed",
						zap.String("key", key), zap.Error(err))
				}
			}
		})
	}
}
