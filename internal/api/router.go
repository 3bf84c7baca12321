package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/auth"
	"github.com/ntbank/corebank/internal/idempotency"
)

// NewRouter wires the public surface. Every /api/v1 route requires a bearer
// token; mutating routes additionally pass through the idempotency guard.
func NewRouter(h *Handler, recorder idempotency.Recorder, jwtSecret []byte, log *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(Instrument)
	v1.Use(auth.Middleware(jwtSecret))
	v1.Use(idempotency.Middleware(recorder, log))

	v1.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	v1.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods(http.MethodDelete)
	v1.HandleFunc("/accounts/{id}/deposit", h.Deposit).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}/withdraw", h.Withdraw).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}/transactions", h.ListTransactions).Methods(http.MethodGet)

	v1.HandleFunc("/transfers", h.InitiateTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{intentId}/complete", h.CompleteTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/transfers/{intentId}/cancel", h.CancelTransfer).Methods(http.MethodPost)

	return r
}
