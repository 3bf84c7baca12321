package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Transfer completions by outcome",
	}, []string{"outcome"})

	balanceOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_balance_operations_total",
		Help: "Deposit and withdrawal attempts by outcome",
	}, []string{"type", "outcome"})

	conflictRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_conflict_retries_total",
		Help: "Retries triggered by optimistic-version conflicts",
	})

	interestCreditsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_interest_credits_total",
		Help: "Interest credits applied to savings accounts",
	})

	staleIntentsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_stale_intents_cancelled_total",
		Help: "Pending transfer intents cancelled by the TTL sweeper",
	})
)
