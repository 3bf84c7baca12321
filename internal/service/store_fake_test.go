package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ntbank/corebank/internal/domain"
	"github.com/ntbank/corebank/internal/store"
)

type idemKey struct {
	key    string
	userID int64
}

// memLedger is an in-memory store.Ledger with the same optimistic semantics
// as the pgx implementation. WithinTx runs against a snapshot that is copied
// back only on success. forceConflicts injects version clashes on the next N
// balance updates; failTxnInsert makes transaction inserts fail once.
type memLedger struct {
	mu *sync.Mutex
	tx bool // transaction-bound copy; the root holds the lock already

	accounts     map[int64]*domain.Account
	transactions []domain.Transaction
	intents      map[string]*domain.TransferIntent
	idem         map[idemKey]domain.IdempotencyRecord

	nextAccountID *int64
	nextTxnID     *int64
	nextIntentID  *int64

	forceConflicts *int
	failTxnInsert  *error
}

func newMemLedger() *memLedger {
	var accID, txnID, intID int64
	var conflicts int
	var txnErr error
	return &memLedger{
		mu:             &sync.Mutex{},
		accounts:       map[int64]*domain.Account{},
		intents:        map[string]*domain.TransferIntent{},
		idem:           map[idemKey]domain.IdempotencyRecord{},
		nextAccountID:  &accID,
		nextTxnID:      &txnID,
		nextIntentID:   &intID,
		forceConflicts: &conflicts,
		failTxnInsert:  &txnErr,
	}
}

func (m *memLedger) lock() func() {
	if m.tx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memLedger) snapshot() *memLedger {
	cp := &memLedger{
		mu:             m.mu,
		tx:             true,
		accounts:       make(map[int64]*domain.Account, len(m.accounts)),
		transactions:   append([]domain.Transaction(nil), m.transactions...),
		intents:        make(map[string]*domain.TransferIntent, len(m.intents)),
		idem:           make(map[idemKey]domain.IdempotencyRecord, len(m.idem)),
		nextAccountID:  m.nextAccountID,
		nextTxnID:      m.nextTxnID,
		nextIntentID:   m.nextIntentID,
		forceConflicts: m.forceConflicts,
		failTxnInsert:  m.failTxnInsert,
	}
	for id, a := range m.accounts {
		c := *a
		cp.accounts[id] = &c
	}
	for id, in := range m.intents {
		c := *in
		cp.intents[id] = &c
	}
	for k, v := range m.idem {
		cp.idem[k] = v
	}
	return cp
}

func (m *memLedger) WithinTx(ctx context.Context, fn func(tx store.Ledger) error) error {
	defer m.lock()()
	snap := m.snapshot()
	if err := fn(snap); err != nil {
		return err
	}
	m.accounts = snap.accounts
	m.transactions = snap.transactions
	m.intents = snap.intents
	m.idem = snap.idem
	return nil
}

func (m *memLedger) CreateAccount(ctx context.Context, acct *domain.Account) error {
	defer m.lock()()
	*m.nextAccountID++
	acct.ID = *m.nextAccountID
	acct.CreatedAt = time.Now().UTC()
	c := *acct
	m.accounts[acct.ID] = &c
	return nil
}

func (m *memLedger) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	defer m.lock()()
	a, ok := m.accounts[id]
	if !ok || a.IsDeleted {
		return nil, domain.NotFound("account not found")
	}
	c := *a
	return &c, nil
}

func (m *memLedger) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	defer m.lock()()
	for _, a := range m.accounts {
		if a.Number == number && !a.IsDeleted {
			c := *a
			return &c, nil
		}
	}
	return nil, domain.NotFound("account not found")
}

func (m *memLedger) ListAccountsByUser(ctx context.Context, userID int64) ([]domain.Account, error) {
	defer m.lock()()
	var out []domain.Account
	for _, a := range m.accounts {
		if a.UserID == userID && !a.IsDeleted {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memLedger) ListActiveSavingsAccounts(ctx context.Context, afterID int64, limit int) ([]domain.Account, error) {
	defer m.lock()()
	var out []domain.Account
	for _, a := range m.accounts {
		if a.Type == domain.AccountTypeSavings && a.Status == domain.AccountStatusActive &&
			!a.IsDeleted && a.ID > afterID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLedger) UpdateAccountBalance(ctx context.Context, acct *domain.Account) error {
	defer m.lock()()
	stored, ok := m.accounts[acct.ID]
	if !ok || stored.IsDeleted {
		return domain.NotFound("account not found")
	}
	if *m.forceConflicts > 0 {
		*m.forceConflicts--
		return domain.Conflict("account was modified concurrently")
	}
	if stored.Version != acct.Version {
		return domain.Conflict("account was modified concurrently")
	}
	c := *acct
	c.Version++
	m.accounts[acct.ID] = &c
	acct.Version++
	return nil
}

func (m *memLedger) SoftDeleteAccount(ctx context.Context, id int64) error {
	defer m.lock()()
	a, ok := m.accounts[id]
	if !ok || a.IsDeleted {
		return domain.NotFound("account not found")
	}
	now := time.Now().UTC()
	a.IsDeleted = true
	a.DeletedAt = &now
	return nil
}

func (m *memLedger) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	defer m.lock()()
	if err := *m.failTxnInsert; err != nil {
		*m.failTxnInsert = nil
		return err
	}
	*m.nextTxnID++
	txn.ID = *m.nextTxnID
	txn.CreatedAt = time.Now().UTC()
	m.transactions = append(m.transactions, *txn)
	return nil
}

func (m *memLedger) ListTransactions(ctx context.Context, accountID int64, limit, offset int) ([]domain.Transaction, error) {
	defer m.lock()()
	var out []domain.Transaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].AccountID == accountID {
			out = append(out, m.transactions[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLedger) CreateIntent(ctx context.Context, intent *domain.TransferIntent) error {
	defer m.lock()()
	*m.nextIntentID++
	intent.ID = *m.nextIntentID
	intent.CreatedAt = time.Now().UTC()
	c := *intent
	m.intents[intent.IntentID] = &c
	return nil
}

func (m *memLedger) GetIntent(ctx context.Context, intentID string) (*domain.TransferIntent, error) {
	defer m.lock()()
	in, ok := m.intents[intentID]
	if !ok {
		return nil, domain.NotFound("transfer intent not found")
	}
	c := *in
	return &c, nil
}

func (m *memLedger) TransitionIntent(ctx context.Context, intent *domain.TransferIntent) error {
	defer m.lock()()
	stored, ok := m.intents[intent.IntentID]
	if !ok || stored.Status != domain.IntentStatusPending {
		return domain.InvalidState("transfer intent is not pending")
	}
	stored.Status = intent.Status
	stored.Amount = intent.Amount
	stored.CompletedAt = intent.CompletedAt
	return nil
}

func (m *memLedger) CancelStaleIntents(ctx context.Context, olderThan time.Time) (int64, error) {
	defer m.lock()()
	var n int64
	now := time.Now().UTC()
	for _, in := range m.intents {
		if in.Status == domain.IntentStatusPending && in.CreatedAt.Before(olderThan) {
			in.Status = domain.IntentStatusCancelled
			in.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memLedger) GetIdempotencyRecord(ctx context.Context, key string, userID int64) (*domain.IdempotencyRecord, error) {
	defer m.lock()()
	rec, ok := m.idem[idemKey{key, userID}]
	if !ok {
		return nil, domain.NotFound("idempotency record not found")
	}
	return &rec, nil
}

func (m *memLedger) SaveIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	defer m.lock()()
	k := idemKey{rec.Key, rec.UserID}
	if _, exists := m.idem[k]; exists {
		return nil
	}
	rec.CreatedAt = time.Now().UTC()
	m.idem[k] = *rec
	return nil
}

// seedAccount registers an account directly, bypassing service validation.
func (m *memLedger) seedAccount(userID int64, accountType domain.AccountType, status domain.AccountStatus, balance string) *domain.Account {
	acct := &domain.Account{
		Number:  domain.NewAccountNumber(),
		Type:    accountType,
		Balance: decimal.RequireFromString(balance),
		UserID:  userID,
		Status:  status,
		Level:   1,
	}
	m.CreateAccount(context.Background(), acct)
	return acct
}

func (m *memLedger) accountBalance(id int64) decimal.Decimal {
	defer m.lock()()
	return m.accounts[id].Balance
}

func (m *memLedger) transactionsFor(id int64) []domain.Transaction {
	defer m.lock()()
	var out []domain.Transaction
	for _, t := range m.transactions {
		if t.AccountID == id {
			out = append(out, t)
		}
	}
	return out
}

func (m *memLedger) intentByID(intentID string) *domain.TransferIntent {
	defer m.lock()()
	in := m.intents[intentID]
	c := *in
	return &c
}

var _ store.Ledger = (*memLedger)(nil)
