package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ntbank/corebank/internal/domain"
	"github.com/ntbank/corebank/internal/store"
)

// InterestService periodically credits interest to active savings accounts.
// It uses the same balance-mutation discipline as deposits: one Interest
// ledger row per credit under the account's version token. A version clash
// just skips the account until the next cycle.
type InterestService struct {
	ledger    store.Ledger
	log       *zap.Logger
	rate      decimal.Decimal
	batchSize int
}

func NewInterestService(ledger store.Ledger, log *zap.Logger, rate decimal.Decimal, batchSize int) *InterestService {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &InterestService{ledger: ledger, log: log, rate: rate, batchSize: batchSize}
}

// ApplyInterest walks all eligible accounts in id-ordered batches and credits
// round(balance*rate, 2) to each, skipping non-positive results. Returns the
// number of accounts credited.
func (s *InterestService) ApplyInterest(ctx context.Context) (int, error) {
	var (
		afterID int64
		applied int
	)
	for {
		accounts, err := s.ledger.ListActiveSavingsAccounts(ctx, afterID, s.batchSize)
		if err != nil {
			return applied, err
		}
		if len(accounts) == 0 {
			return applied, nil
		}

		for i := range accounts {
			acct := &accounts[i]
			afterID = acct.ID

			if err := ctx.Err(); err != nil {
				return applied, err
			}

			interest := acct.Balance.Mul(s.rate).Round(2)
			if !interest.IsPositive() {
				continue
			}

			if err := s.credit(ctx, acct, interest); err != nil {
				if domain.IsConflict(err) {
					s.log.Warn("skipping interest credit after conflict",
						zap.Int64("account_id", acct.ID))
					continue
				}
				return applied, err
			}
			applied++
			interestCreditsTotal.Inc()
		}
	}
}

func (s *InterestService) credit(ctx context.Context, acct *domain.Account, interest decimal.Decimal) error {
	acct.Balance = acct.Balance.Add(interest)
	return s.ledger.WithinTx(ctx, func(tx store.Ledger) error {
		if err := tx.UpdateAccountBalance(ctx, acct); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, &domain.Transaction{
			Type:         domain.TransactionTypeInterest,
			Amount:       interest,
			AccountID:    acct.ID,
			BalanceAfter: acct.Balance,
			ReferenceID:  fmt.Sprintf("INT-%s-%d", time.Now().UTC().Format("20060102"), acct.ID),
			Description:  "Interest credit",
		})
	})
}

// Run applies interest on every tick until the context is cancelled.
func (s *InterestService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("interest job started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("interest job stopped")
			return
		case <-ticker.C:
			n, err := s.ApplyInterest(ctx)
			if err != nil {
				s.log.Error("interest cycle aborted", zap.Error(err))
				continue
			}
			s.log.Info("interest cycle finished", zap.Int("accounts_credited", n))
		}
	}
}
