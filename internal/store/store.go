// Package store provides the transactional persistence layer for accounts,
// transactions, transfer intents and idempotency records.
package store

import (
	"context"
	"time"

	"github.com/ntbank/corebank/internal/domain"
)

// Ledger is the repository contract the services operate against. The pgx
// implementation below satisfies it, as do in-memory fakes in tests.
//
// All balance writes are optimistic: UpdateAccountBalance commits only if the
// account's version token is unchanged and reports a Conflict-kind error
// otherwise. WithinTx runs fn against a transaction-bound Ledger under
// serializable isolation; fn returning an error rolls everything back.
type Ledger interface {
	WithinTx(ctx context.Context, fn func(tx Ledger) error) error

	CreateAccount(ctx context.Context, acct *domain.Account) error
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]domain.Account, error)
	UpdateAccountBalance(ctx context.Context, acct *domain.Account) error
	SoftDeleteAccount(ctx context.Context, id int64) error
	ListActiveSavingsAccounts(ctx context.Context, afterID int64, limit int) ([]domain.Account, error)

	CreateTransaction(ctx context.Context, txn *domain.Transaction) error
	ListTransactions(ctx context.Context, accountID int64, limit, offset int) ([]domain.Transaction, error)

	CreateIntent(ctx context.Context, intent *domain.TransferIntent) error
	GetIntent(ctx context.Context, intentID string) (*domain.TransferIntent, error)
	TransitionIntent(ctx context.Context, intent *domain.TransferIntent) error
	CancelStaleIntents(ctx context.Context, olderThan time.Time) (int64, error)

	GetIdempotencyRecord(ctx context.Context, key string, userID int64) (*domain.IdempotencyRecord, error)
	SaveIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error
}
