package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/domain"
	"github.com/ntbank/corebank/internal/store"
)

// TransferService implements the two-phase transfer protocol: an initiation
// call reserves a Pending intent, and a second call either completes it with
// an amount (executing the double-entry mutation) or cancels it. Intents make
// exactly one terminal transition.
type TransferService struct {
	ledger         store.Ledger
	log            *zap.Logger
	retryAttempts  int
	retryBaseDelay time.Duration
}

func NewTransferService(ledger store.Ledger, log *zap.Logger, retryAttempts int, retryBaseDelay time.Duration) *TransferService {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &TransferService{
		ledger:         ledger,
		log:            log,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
	}
}

// Initiate resolves both accounts by number, validates them and creates a
// Pending intent. No money moves and no amount is recorded yet; the returned
// token is the capability for the completion call.
func (s *TransferService) Initiate(ctx context.Context, fromNumber, toNumber string, userID int64) (string, error) {
	from, err := s.ledger.GetAccountByNumber(ctx, fromNumber)
	if err != nil {
		return "", remapNotFound(err, "source account not found")
	}
	if from.UserID != userID {
		return "", domain.Forbidden("not the owner of the source account")
	}
	if from.Status != domain.AccountStatusActive {
		return "", domain.InvalidState("source account is not active")
	}

	to, err := s.ledger.GetAccountByNumber(ctx, toNumber)
	if err != nil {
		return "", remapNotFound(err, "destination account not found")
	}
	if to.Status != domain.AccountStatusActive {
		return "", domain.InvalidState("destination account is not active")
	}
	if from.ID == to.ID {
		return "", domain.InvalidState("cannot transfer to the same account")
	}

	intent := &domain.TransferIntent{
		IntentID:      uuid.NewString(),
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Status:        domain.IntentStatusPending,
	}
	if err := s.ledger.CreateIntent(ctx, intent); err != nil {
		return "", domain.Failure("could not create transfer intent", err)
	}

	s.log.Info("transfer intent created",
		zap.String("intent_id", intent.IntentID),
		zap.Int64("from_account_id", from.ID),
		zap.Int64("to_account_id", to.ID))
	return intent.IntentID, nil
}

// Complete executes the double-entry mutation for a Pending intent. Version
// conflicts are retried with increasing backoff; any other failure inside the
// transactional section marks the intent Failed and surfaces a Failure.
func (s *TransferService) Complete(ctx context.Context, intentID string, amount decimal.Decimal, description string, userID int64) (*domain.Account, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var source *domain.Account
	err := withRetry(ctx, s.log, s.retryAttempts, s.retryBaseDelay, func() error {
		var attemptErr error
		source, attemptErr = s.execute(ctx, intentID, amount, description, userID)
		return attemptErr
	})
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindConflict:
			transfersTotal.WithLabelValues("conflict").Inc()
			s.log.Warn("transfer abandoned after conflict retries", zap.String("intent_id", intentID))
		case domain.KindFailure:
			transfersTotal.WithLabelValues("failed").Inc()
			s.log.Error("transfer failed", zap.String("intent_id", intentID), zap.Error(err))
			s.markFailed(ctx, intentID)
		}
		return nil, err
	}

	transfersTotal.WithLabelValues("completed").Inc()
	return source, nil
}

// execute is one optimistic attempt: read everything, validate, then commit
// both balance writes, both ledger rows and the intent transition atomically.
func (s *TransferService) execute(ctx context.Context, intentID string, amount decimal.Decimal, description string, userID int64) (*domain.Account, error) {
	intent, err := s.ledger.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.IntentStatusPending {
		return nil, domain.InvalidState("transfer intent is not pending")
	}

	from, err := s.ledger.GetAccount(ctx, intent.FromAccountID)
	if err != nil {
		return nil, remapNotFound(err, "source account not found")
	}
	to, err := s.ledger.GetAccount(ctx, intent.ToAccountID)
	if err != nil {
		return nil, remapNotFound(err, "destination account not found")
	}

	if from.UserID != userID {
		return nil, domain.Forbidden("not the owner of the source account")
	}
	if from.Status != domain.AccountStatusActive {
		return nil, domain.InvalidState("source account is not active")
	}
	if to.Status != domain.AccountStatusActive {
		return nil, domain.InvalidState("destination account is not active")
	}
	if from.ID == to.ID {
		return nil, domain.InvalidState("cannot transfer to the same account")
	}
	if from.Balance.LessThan(amount) {
		return nil, domain.InsufficientFunds("insufficient funds")
	}

	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)
	now := time.Now().UTC()
	referenceID := uuid.NewString()

	err = s.ledger.WithinTx(ctx, func(tx store.Ledger) error {
		if err := tx.UpdateAccountBalance(ctx, from); err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, to); err != nil {
			return err
		}

		debit := &domain.Transaction{
			Type:             domain.TransactionTypeTransfer,
			Amount:           amount,
			AccountID:        from.ID,
			RelatedAccountID: &to.ID,
			BalanceAfter:     from.Balance,
			ReferenceID:      referenceID,
			Description:      legDescription("Transfer to", to.Number, description),
		}
		if err := tx.CreateTransaction(ctx, debit); err != nil {
			return err
		}

		credit := &domain.Transaction{
			Type:             domain.TransactionTypeTransfer,
			Amount:           amount,
			AccountID:        to.ID,
			RelatedAccountID: &from.ID,
			BalanceAfter:     to.Balance,
			ReferenceID:      referenceID,
			Description:      legDescription("Transfer from", from.Number, description),
		}
		if err := tx.CreateTransaction(ctx, credit); err != nil {
			return err
		}

		intent.Status = domain.IntentStatusCompleted
		intent.Amount = &amount
		intent.CompletedAt = &now
		return tx.TransitionIntent(ctx, intent)
	})
	if err != nil {
		return nil, err
	}
	return from, nil
}

// Cancel makes the Cancelled terminal transition. No balance effect.
func (s *TransferService) Cancel(ctx context.Context, intentID string, userID int64) (*domain.Account, error) {
	intent, err := s.ledger.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.IntentStatusPending {
		return nil, domain.InvalidState("transfer intent is not pending")
	}

	from, err := s.ledger.GetAccount(ctx, intent.FromAccountID)
	if err != nil {
		return nil, remapNotFound(err, "source account not found")
	}
	if from.UserID != userID {
		return nil, domain.Forbidden("not the owner of the source account")
	}

	now := time.Now().UTC()
	intent.Status = domain.IntentStatusCancelled
	intent.CompletedAt = &now
	if err := s.ledger.TransitionIntent(ctx, intent); err != nil {
		return nil, err
	}

	transfersTotal.WithLabelValues("cancelled").Inc()
	s.log.Info("transfer intent cancelled", zap.String("intent_id", intentID))
	return from, nil
}

// ExpireStaleIntents cancels Pending intents older than ttl. Intents never
// expire implicitly; this sweep is the retention policy.
func (s *TransferService) ExpireStaleIntents(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := s.ledger.CancelStaleIntents(ctx, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		staleIntentsCancelledTotal.Add(float64(n))
		s.log.Info("cancelled stale transfer intents", zap.Int64("count", n))
	}
	return n, nil
}

// markFailed records the terminal Failed transition after an unrecoverable
// execution error. The intent row is the durable trail of the attempt, so a
// failure here is logged, not surfaced.
func (s *TransferService) markFailed(ctx context.Context, intentID string) {
	now := time.Now().UTC()
	intent := &domain.TransferIntent{
		IntentID:    intentID,
		Status:      domain.IntentStatusFailed,
		CompletedAt: &now,
	}
	if err := s.ledger.TransitionIntent(ctx, intent); err != nil {
		s.log.Error("could not mark transfer intent failed",
			zap.String("intent_id", intentID), zap.Error(err))
	}
}

func legDescription(prefix, accountNumber, description string) string {
	if description == "" {
		return prefix + " " + accountNumber
	}
	return prefix + " " + accountNumber + ": " + description
}

// remapNotFound keeps the error kind but names which account was missing.
func remapNotFound(err error, msg string) error {
	if domain.KindOf(err) == domain.KindNotFound {
		return domain.NotFound(msg)
	}
	return err
}
