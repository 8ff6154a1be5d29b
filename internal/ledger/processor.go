package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Processor periodically replays each wallet's transaction log and compares
// the result against the stored balance. Settlement writes both sides of a
// trade in one transaction, so any drift here points at a balance that was
// mutated outside the credit/debit contract.
type Processor struct {
	db             *Database
	reconcileDelay time.Duration
}

func NewProcessor(db *Database) *Processor {
	return &Processor{
		db:             db,
		reconcileDelay: 5 * time.Minute,
	}
}

// Start begins the reconciliation loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "ledger_reconciler").Logger()
	logger.Info().Msg("starting ledger reconciliation processor")

	ticker := time.NewTicker(p.reconcileDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down ledger reconciliation processor")
			return
		case <-ticker.C:
			if err := p.ReconcileAll(); err != nil {
				logger.Error().Err(err).Msg("ledger reconciliation run failed")
			}
		}
	}
}

// ReconcileAll checks every wallet once and returns the first hard error.
// Drift is logged, not returned, so one bad wallet does not stop the sweep.
func (p *Processor) ReconcileAll() error {
	logger := log.With().Str("component", "ledger_reconciler").Logger()

	wallets, err := p.db.GetAllWallets()
	if err != nil {
		return err
	}

	logger.Debug().Int("wallet_count", len(wallets)).Msg("reconciling wallets")

	for _, wallet := range wallets {
		creditStr, debitStr, err := p.db.NetTransactionSum(wallet.AccountID, wallet.Asset)
		if err != nil {
			return err
		}

		credits, err := decimal.NewFromString(creditStr)
		if err != nil {
			return err
		}
		debits, err := decimal.NewFromString(debitStr)
		if err != nil {
			return err
		}

		expected := credits.Sub(debits)
		if !expected.Equal(wallet.Balance) {
			logger.Warn().
				Str("account_id", wallet.AccountID).
				Str("asset", wallet.Asset).
				Str("balance", wallet.Balance.String()).
				Str("expected", expected.String()).
				Msg("wallet balance drifted from transaction log")
		}
	}

	return nil
}
