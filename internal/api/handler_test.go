package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/domain"
)

func TestStatusForKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind domain.Kind
		want int
	}{
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindForbidden, http.StatusForbidden},
		{domain.KindInvalidState, http.StatusBadRequest},
		{domain.KindInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.KindConflict, http.StatusConflict},
		{domain.KindFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForKind(tt.kind), string(tt.kind))
	}
}

func TestWriteDomainErrorMasksInternalDetail(t *testing.T) {
	t.Parallel()
	h := &Handler{log: zap.NewNop()}

	resp := httptest.NewRecorder()
	h.writeDomainError(resp, domain.Failure("could not update account", errors.New("pq: relation accounts does not exist")))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestWriteDomainErrorForwardsClientMessages(t *testing.T) {
	t.Parallel()
	h := &Handler{log: zap.NewNop()}

	resp := httptest.NewRecorder()
	h.writeDomainError(resp, domain.InsufficientFunds("insufficient funds"))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "insufficient funds", body["error"])
}

func TestPathID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		wantID int64
		wantOK bool
	}{
		{"valid", "42", 42, true},
		{"zero", "0", 0, false},
		{"negative", "-1", 0, false},
		{"not a number", "abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/"+tt.raw, nil)
			req = mux.SetURLVars(req, map[string]string{"id": tt.raw})
			resp := httptest.NewRecorder()

			id, ok := pathID(resp, req, "id")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			if !tt.wantOK {
				assert.Equal(t, http.StatusBadRequest, resp.Code)
			}
		})
	}
}
