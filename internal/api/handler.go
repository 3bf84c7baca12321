package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/auth"
	"github.com/ntbank/corebank/internal/domain"
	"github.com/ntbank/corebank/internal/httputil"
	"github.com/ntbank/corebank/internal/service"
)

type Handler struct {
	accounts  *service.AccountService
	transfers *service.TransferService
	log       *zap.Logger
}

func NewHandler(accounts *service.AccountService, transfers *service.TransferService, log *zap.Logger) *Handler {
	return &Handler{accounts: accounts, transfers: transfers, log: log}
}

type createAccountRequest struct {
	AccountType domain.AccountType `json:"account_type"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type initiateTransferRequest struct {
	FromAccountNumber string `json:"from_account_number"`
	ToAccountNumber   string `json:"to_account_number"`
}

type completeTransferRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	acct, err := h.accounts.Create(r.Context(), userID, req.AccountType)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, acct)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	acct, err := h.accounts.Get(r.Context(), id, userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	accounts, err := h.accounts.ListByUser(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	httputil.WriteJSON(w, http.StatusOK, accounts)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.accounts.SoftDelete(r.Context(), id, userID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutateBalance(w, r, h.accounts.Deposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutateBalance(w, r, h.accounts.Withdraw)
}

type balanceOp func(ctx context.Context, accountID int64, amount decimal.Decimal, userID int64) (*domain.Account, error)

func (h *Handler) mutateBalance(w http.ResponseWriter, r *http.Request, op balanceOp) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	acct, err := op(r.Context(), id, req.Amount, userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txns, err := h.accounts.Transactions(r.Context(), id, userID, limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, txns)
}

func (h *Handler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req initiateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.FromAccountNumber == "" || req.ToAccountNumber == "" {
		httputil.WriteError(w, http.StatusBadRequest, "source and destination account numbers are required")
		return
	}

	intentID, err := h.transfers.Initiate(r.Context(), req.FromAccountNumber, req.ToAccountNumber, userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"intent_id": intentID})
}

func (h *Handler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	intentID := mux.Vars(r)["intentId"]

	var req completeTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	acct, err := h.transfers.Complete(r.Context(), intentID, req.Amount, req.Description, userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	intentID := mux.Vars(r)["intentId"]

	acct, err := h.transfers.Cancel(r.Context(), intentID, userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps error kinds to status codes. Failure-kind detail
// never leaves the process.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	if kind == domain.KindFailure {
		h.log.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	httputil.WriteError(w, statusForKind(kind), msg)
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindInvalidState:
		return http.StatusBadRequest
	case domain.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return 0, false
	}
	return userID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}
