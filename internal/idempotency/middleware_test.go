package idempotency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/auth"
	"github.com/ntbank/corebank/internal/domain"
)

type fakeRecorder struct {
	records   map[string]*domain.IdempotencyRecord
	lookupErr error
	saveErr   error
	saves     int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{records: map[string]*domain.IdempotencyRecord{}}
}

func (f *fakeRecorder) GetIdempotencyRecord(ctx context.Context, key string, userID int64) (*domain.IdempotencyRecord, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	rec, ok := f.records[key]
	if !ok {
		return nil, domain.NotFound("idempotency record not found")
	}
	return rec, nil
}

func (f *fakeRecorder) SaveIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records[rec.Key] = rec
	return nil
}

func newRequest(key string, userID int64) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/1/deposit", nil)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if userID != 0 {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}
	return req
}

func countingHandler(status int, body string, calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestMiddlewareStoresAndReplays(t *testing.T) {
	t.Parallel()
	recorder := newFakeRecorder()
	calls := 0
	handler := Middleware(recorder, zap.NewNop())(countingHandler(http.StatusOK, `{"id":1}`, &calls))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("key-1", 42))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, 1, calls)

	stored := recorder.records["key-1"]
	require.NotNil(t, stored)
	assert.Equal(t, int64(42), stored.UserID)
	assert.Equal(t, http.MethodPost, stored.Method)
	assert.Equal(t, "/api/v1/accounts/1/deposit", stored.Path)
	assert.Equal(t, `{"id":1}`, string(stored.Body))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("key-1", 42))
	assert.Equal(t, 1, calls, "replay must not re-run the handler")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, `{"id":1}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replayed"))
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	t.Parallel()
	recorder := newFakeRecorder()
	calls := 0
	handler := Middleware(recorder, zap.NewNop())(countingHandler(http.StatusOK, "ok", &calls))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newRequest("", 42))
	}
	assert.Equal(t, 2, calls)
	assert.Zero(t, recorder.saves)
}

func TestMiddlewarePassesThroughWithoutUser(t *testing.T) {
	t.Parallel()
	recorder := newFakeRecorder()
	calls := 0
	handler := Middleware(recorder, zap.NewNop())(countingHandler(http.StatusOK, "ok", &calls))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("key-1", 0))
	assert.Equal(t, 1, calls)
	assert.Zero(t, recorder.saves)
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	t.Parallel()
	recorder := newFakeRecorder()
	calls := 0
	handler := Middleware(recorder, zap.NewNop())(countingHandler(http.StatusInternalServerError, "boom", &calls))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("key-1", 42))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("key-1", 42))

	assert.Equal(t, 2, calls, "5xx responses stay retryable")
	assert.Zero(t, recorder.saves)
}

func TestMiddlewareStoresClientErrors(t *testing.T) {
	t.Parallel()
	recorder := newFakeRecorder()
	calls := 0
	handler := Middleware(recorder, zap.NewNop())(countingHandler(http.StatusUnprocessableEntity, `{"error":"insufficient funds"}`, &calls))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("key-1", 42))

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, newRequest("key-1", 42))
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusUnprocessableEntity, replay.Code)
	assert.Equal(t, `{"error":"insufficient funds"}`, replay.Body.String())
}

func TestMiddlewareFailsOpenOnLookupError(t *testing.T) {
	t.Parallel()
	recorder := newFakeRecorder()
	recorder.lookupErr = errors.New("connection refused")
	calls := 0
	handler := Middleware(recorder, zap.NewNop())(countingHandler(http.StatusOK, "ok", &calls))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, newRequest("key-1", 42))
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Zero(t, recorder.saves)
}

func TestMiddlewareSaveFailureDoesNotMaskResponse(t *testing.T) {
	t.Parallel()
	recorder := newFakeRecorder()
	recorder.saveErr = errors.New("connection refused")
	calls := 0
	handler := Middleware(recorder, zap.NewNop())(countingHandler(http.StatusOK, `{"id":1}`, &calls))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, newRequest("key-1", 42))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, `{"id":1}`, resp.Body.String())
	assert.Equal(t, 1, recorder.saves)
}
