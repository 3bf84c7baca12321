package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ntbank/corebank/internal/domain"
)

const (
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so one store type
// serves pooled and transaction-bound access.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LedgerStore is the pgx implementation of Ledger.
type LedgerStore struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	db   querier
}

func New(ctx context.Context, dsn string) (*LedgerStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &LedgerStore{pool: pool, db: pool}, nil
}

func (s *LedgerStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithinTx runs fn against a transaction-bound store under serializable
// isolation. Serialization failures surface as retryable Conflict errors.
func (s *LedgerStore) WithinTx(ctx context.Context, fn func(tx Ledger) error) error {
	if s.pool == nil {
		// Already inside a transaction; nesting is not supported.
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&LedgerStore{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isPgErr(err, pgSerializationFailure) {
			return domain.Conflict("transaction aborted by concurrent update")
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isPgErr(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// Accounts

const accountColumns = `id, account_number, account_type, balance, user_id, status,
	level, version, created_at, updated_at, is_deleted, deleted_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Number, &a.Type, &a.Balance, &a.UserID, &a.Status,
		&a.Level, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.IsDeleted, &a.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("account not found")
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if a.IsDeleted {
		return nil, domain.NotFound("account not found")
	}
	return &a, nil
}

func (s *LedgerStore) CreateAccount(ctx context.Context, acct *domain.Account) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (account_number, account_type, balance, user_id, status, level)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, version, created_at`,
		acct.Number, acct.Type, acct.Balance, acct.UserID, acct.Status, acct.Level,
	).Scan(&acct.ID, &acct.Version, &acct.CreatedAt)
	if err != nil {
		if isPgErr(err, pgUniqueViolation) {
			return domain.Conflict("account number already exists")
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *LedgerStore) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number)
	return scanAccount(row)
}

func (s *LedgerStore) ListAccountsByUser(ctx context.Context, userID int64) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE user_id = $1 AND NOT is_deleted ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func (s *LedgerStore) ListActiveSavingsAccounts(ctx context.Context, afterID int64, limit int) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE account_type = $1 AND status = $2 AND NOT is_deleted AND id > $3
		 ORDER BY id LIMIT $4`,
		domain.AccountTypeSavings, domain.AccountStatusActive, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query savings accounts: %w", err)
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Number, &a.Type, &a.Balance, &a.UserID, &a.Status,
			&a.Level, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.IsDeleted, &a.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccountBalance commits the new balance only if the version token is
// unchanged, bumping it on success. Zero rows affected means another writer
// got there first.
func (s *LedgerStore) UpdateAccountBalance(ctx context.Context, acct *domain.Account) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET balance = $1, version = version + 1, updated_at = now()
		 WHERE id = $2 AND version = $3 AND NOT is_deleted`,
		acct.Balance, acct.ID, acct.Version)
	if err != nil {
		if isPgErr(err, pgSerializationFailure) {
			return domain.Conflict("account update aborted by concurrent write")
		}
		return fmt.Errorf("update account balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("account was modified concurrently")
	}
	acct.Version++
	return nil
}

func (s *LedgerStore) SoftDeleteAccount(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET is_deleted = TRUE, deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("soft delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("account not found")
	}
	return nil
}

// Transactions

func (s *LedgerStore) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO transactions (type, amount, account_id, related_account_id,
		    balance_after, reference_id, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		txn.Type, txn.Amount, txn.AccountID, txn.RelatedAccountID,
		txn.BalanceAfter, txn.ReferenceID, txn.Description,
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, accountID int64, limit, offset int) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, type, amount, account_id, related_account_id, balance_after,
		    reference_id, description, created_at
		 FROM transactions WHERE account_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Amount, &t.AccountID, &t.RelatedAccountID,
			&t.BalanceAfter, &t.ReferenceID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// Transfer intents

func (s *LedgerStore) CreateIntent(ctx context.Context, intent *domain.TransferIntent) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO transfer_intents (intent_id, from_account_id, to_account_id, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		intent.IntentID, intent.FromAccountID, intent.ToAccountID, intent.Status,
	).Scan(&intent.ID, &intent.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer intent: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetIntent(ctx context.Context, intentID string) (*domain.TransferIntent, error) {
	var in domain.TransferIntent
	err := s.db.QueryRow(ctx,
		`SELECT id, intent_id, from_account_id, to_account_id, amount, status,
		    created_at, completed_at
		 FROM transfer_intents WHERE intent_id = $1`, intentID,
	).Scan(&in.ID, &in.IntentID, &in.FromAccountID, &in.ToAccountID, &in.Amount,
		&in.Status, &in.CreatedAt, &in.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("transfer intent not found")
		}
		return nil, fmt.Errorf("scan transfer intent: %w", err)
	}
	return &in, nil
}

// TransitionIntent applies the single permitted terminal transition. The
// status guard in the WHERE clause makes replays lose deterministically.
func (s *LedgerStore) TransitionIntent(ctx context.Context, intent *domain.TransferIntent) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE transfer_intents SET status = $1, amount = $2, completed_at = $3
		 WHERE intent_id = $4 AND status = $5`,
		intent.Status, intent.Amount, intent.CompletedAt,
		intent.IntentID, domain.IntentStatusPending)
	if err != nil {
		if isPgErr(err, pgSerializationFailure) {
			return domain.Conflict("intent update aborted by concurrent write")
		}
		return fmt.Errorf("update transfer intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.InvalidState("transfer intent is not pending")
	}
	return nil
}

func (s *LedgerStore) CancelStaleIntents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE transfer_intents SET status = $1, completed_at = now()
		 WHERE status = $2 AND created_at < $3`,
		domain.IntentStatusCancelled, domain.IntentStatusPending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cancel stale intents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Idempotency records

func (s *LedgerStore) GetIdempotencyRecord(ctx context.Context, key string, userID int64) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := s.db.QueryRow(ctx,
		`SELECT id, key, user_id, path, method, response_status, response_body, created_at
		 FROM idempotency_records WHERE key = $1 AND user_id = $2`, key, userID,
	).Scan(&rec.ID, &rec.Key, &rec.UserID, &rec.Path, &rec.Method,
		&rec.StatusCode, &rec.Body, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("idempotency record not found")
		}
		return nil, fmt.Errorf("scan idempotency record: %w", err)
	}
	return &rec, nil
}

// SaveIdempotencyRecord inserts the record; the first writer wins and later
// duplicates are silently dropped.
func (s *LedgerStore) SaveIdempotencyRecord(ctx context.Context, rec *domain.IdempotencyRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO idempotency_records (key, user_id, path, method, response_status, response_body)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key, user_id) DO NOTHING`,
		rec.Key, rec.UserID, rec.Path, rec.Method, rec.StatusCode, rec.Body)
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}
