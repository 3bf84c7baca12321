package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
)

type AccountStatus string

const (
	AccountStatusPending   AccountStatus = "PENDING"
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusInactive  AccountStatus = "INACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusClosed    AccountStatus = "CLOSED"
)

type TransactionType string

const (
	TransactionTypeCredit   TransactionType = "CREDIT"
	TransactionTypeDebit    TransactionType = "DEBIT"
	TransactionTypeTransfer TransactionType = "TRANSFER"
	TransactionTypeInterest TransactionType = "INTEREST"
)

type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "PENDING"
	IntentStatusCompleted IntentStatus = "COMPLETED"
	IntentStatusCancelled IntentStatus = "CANCELLED"
	IntentStatusFailed    IntentStatus = "FAILED"
)

// Terminal reports whether no further transition is permitted.
func (s IntentStatus) Terminal() bool {
	return s != IntentStatusPending
}

// AuditFields carries the timestamps and soft-delete markers shared by the
// mutable entities. Embedded by value.
type AuditFields struct {
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	IsDeleted bool       `json:"-"`
	DeletedAt *time.Time `json:"-"`
}

// Account is a user's balance container. Balance never goes negative and is
// mutable only together with an appended Transaction row; Version is the
// optimistic-concurrency token bumped on every write.
type Account struct {
	ID      int64           `json:"id"`
	Number  string          `json:"account_number"`
	Type    AccountType     `json:"account_type"`
	Balance decimal.Decimal `json:"balance"`
	UserID  int64           `json:"user_id"`
	Status  AccountStatus   `json:"status"`
	Level   int16           `json:"level"`
	Version int64           `json:"-"`
	AuditFields
}

// Transaction is one immutable ledger entry. A transfer produces exactly two
// rows (debit leg and credit leg) sharing one ReferenceID.
type Transaction struct {
	ID               int64           `json:"id"`
	Type             TransactionType `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	AccountID        int64           `json:"account_id"`
	RelatedAccountID *int64          `json:"related_account_id,omitempty"`
	BalanceAfter     decimal.Decimal `json:"balance_after"`
	ReferenceID      string          `json:"reference_id"`
	Description      string          `json:"description"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TransferIntent is a reserved, not-yet-executed transfer. The amount is
// unknown until completion. Exactly one terminal transition is permitted.
type TransferIntent struct {
	ID            int64            `json:"-"`
	IntentID      string           `json:"intent_id"`
	FromAccountID int64            `json:"from_account_id"`
	ToAccountID   int64            `json:"to_account_id"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Status        IntentStatus     `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// IdempotencyRecord stores the response replayed for a repeated request.
// (Key, UserID) is unique; first writer wins.
type IdempotencyRecord struct {
	ID         int64
	Key        string
	UserID     int64
	Path       string
	Method     string
	StatusCode int
	Body       []byte
	CreatedAt  time.Time
}
