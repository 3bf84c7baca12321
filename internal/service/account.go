// Package service implements the ledger core: account balance operations,
// the two-phase transfer protocol and the interest accrual job.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/domain"
	"github.com/ntbank/corebank/internal/store"
)

type AccountService struct {
	ledger store.Ledger
	log    *zap.Logger
}

func NewAccountService(ledger store.Ledger, log *zap.Logger) *AccountService {
	return &AccountService{ledger: ledger, log: log}
}

// Create opens a new account in Pending status. Activation is owned by the
// external approval workflow.
func (s *AccountService) Create(ctx context.Context, userID int64, accountType domain.AccountType) (*domain.Account, error) {
	switch accountType {
	case domain.AccountTypeChecking, domain.AccountTypeSavings:
	default:
		return nil, domain.InvalidState("unknown account type")
	}

	acct := &domain.Account{
		Number:  domain.NewAccountNumber(),
		Type:    accountType,
		Balance: decimal.Zero,
		UserID:  userID,
		Status:  domain.AccountStatusPending,
		Level:   1,
	}
	if err := s.ledger.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *AccountService) Get(ctx context.Context, accountID, userID int64) (*domain.Account, error) {
	acct, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.UserID != userID {
		return nil, domain.Forbidden("not the owner of this account")
	}
	return acct, nil
}

func (s *AccountService) ListByUser(ctx context.Context, userID int64) ([]domain.Account, error) {
	return s.ledger.ListAccountsByUser(ctx, userID)
}

// SoftDelete marks the account deleted; ledger rows are kept forever.
func (s *AccountService) SoftDelete(ctx context.Context, accountID, userID int64) error {
	if _, err := s.Get(ctx, accountID, userID); err != nil {
		return err
	}
	return s.ledger.SoftDeleteAccount(ctx, accountID)
}

// Deposit credits amount to the account and appends the matching ledger row
// in one atomic commit. A version clash surfaces as a retryable Conflict.
func (s *AccountService) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal, userID int64) (*domain.Account, error) {
	acct, err := s.mutateBalance(ctx, accountID, amount, userID, domain.TransactionTypeCredit)
	if err != nil {
		balanceOpsTotal.WithLabelValues("deposit", outcomeLabel(err)).Inc()
		return nil, err
	}
	balanceOpsTotal.WithLabelValues("deposit", "ok").Inc()
	return acct, nil
}

// Withdraw debits amount from the account, rejecting overdrafts before any
// mutation.
func (s *AccountService) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal, userID int64) (*domain.Account, error) {
	acct, err := s.mutateBalance(ctx, accountID, amount, userID, domain.TransactionTypeDebit)
	if err != nil {
		balanceOpsTotal.WithLabelValues("withdraw", outcomeLabel(err)).Inc()
		return nil, err
	}
	balanceOpsTotal.WithLabelValues("withdraw", "ok").Inc()
	return acct, nil
}

func (s *AccountService) mutateBalance(ctx context.Context, accountID int64, amount decimal.Decimal, userID int64, txnType domain.TransactionType) (*domain.Account, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	acct, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.UserID != userID {
		return nil, domain.Forbidden("not the owner of this account")
	}
	if acct.Status != domain.AccountStatusActive {
		return nil, domain.InvalidState("account is not active")
	}

	var description string
	switch txnType {
	case domain.TransactionTypeCredit:
		acct.Balance = acct.Balance.Add(amount)
		description = fmt.Sprintf("Deposit of %s", amount.StringFixed(2))
	case domain.TransactionTypeDebit:
		if acct.Balance.LessThan(amount) {
			return nil, domain.InsufficientFunds("insufficient funds")
		}
		acct.Balance = acct.Balance.Sub(amount)
		description = fmt.Sprintf("Withdrawal of %s", amount.StringFixed(2))
	}

	err = s.ledger.WithinTx(ctx, func(tx store.Ledger) error {
		if err := tx.UpdateAccountBalance(ctx, acct); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, &domain.Transaction{
			Type:         txnType,
			Amount:       amount,
			AccountID:    acct.ID,
			BalanceAfter: acct.Balance,
			ReferenceID:  uuid.NewString(),
			Description:  description,
		})
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Transactions returns the account's ledger entries, newest first.
func (s *AccountService) Transactions(ctx context.Context, accountID, userID int64, limit, offset int) ([]domain.Transaction, error) {
	if _, err := s.Get(ctx, accountID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.ledger.ListTransactions(ctx, accountID, limit, offset)
}

func outcomeLabel(err error) string {
	return string(domain.KindOf(err))
}
