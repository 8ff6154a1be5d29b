package settlement

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/abo/gymtoken-api/internal/ledger"
	"github.com/abo/gymtoken-api/internal/types"
)

// Service applies the balance movements for a single match. One match step
// is one database transaction: the trade record, all four ledger movements
// and both order updates commit together or not at all.
type Service struct {
	gormDB *gorm.DB
	ledger *ledger.Service
}

func NewService(gormDB *gorm.DB, ledgerService *ledger.Service) *Service {
	return &Service{
		gormDB: gormDB,
		ledger: ledgerService,
	}
}

// SettleMatch settles amount tokens between the buy and sell orders at the
// given price (always the resting order's price). On success the in-memory
// orders are advanced to their post-fill state; on failure they are left
// untouched and the database rolls back to the pre-match state.
func (s *Service) SettleMatch(buyOrder, sellOrder *types.Order, amount, price decimal.Decimal) (*types.Trade, error) {
	totalValue := amount.Mul(price)

	trade := &types.Trade{
		TradeID:     "TRD_" + uuid.New().String(),
		BuyOrderID:  buyOrder.OrderID,
		SellOrderID: sellOrder.OrderID,
		BuyerID:     buyOrder.AccountID,
		SellerID:    sellOrder.AccountID,
		TokenAmount: amount,
		TokenPrice:  price,
		TotalValue:  totalValue,
	}

	logger := log.With().
		Str("trade_id", trade.TradeID).
		Str("buy_order_id", buyOrder.OrderID).
		Str("sell_order_id", sellOrder.OrderID).
		Str("amount", amount.String()).
		Str("price", price.String()).
		Str("service", "settlement").
		Logger()

	buyRemaining := buyOrder.RemainingAmount.Sub(amount)
	sellRemaining := sellOrder.RemainingAmount.Sub(amount)
	buyStatus := fillStatus(buyRemaining)
	sellStatus := fillStatus(sellRemaining)

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		// Balances can have moved since submission validation, so the
		// debits re-check under the same transaction.
		if err := s.ledger.DebitTx(tx, buyOrder.AccountID, ledger.AssetFiat, totalValue, ledger.TxPurchase, trade.TradeID, "token purchase"); err != nil {
			return fmt.Errorf("buyer fiat debit: %w", err)
		}
		if err := s.ledger.DebitTx(tx, sellOrder.AccountID, ledger.AssetToken, amount, ledger.TxSale, trade.TradeID, "token sale"); err != nil {
			return fmt.Errorf("seller token debit: %w", err)
		}
		if err := s.ledger.CreditTx(tx, sellOrder.AccountID, ledger.AssetFiat, totalValue, ledger.TxSale, trade.TradeID, "token sale proceeds"); err != nil {
			return fmt.Errorf("seller fiat credit: %w", err)
		}
		if err := s.ledger.CreditTx(tx, buyOrder.AccountID, ledger.AssetToken, amount, ledger.TxPurchase, trade.TradeID, "token purchase"); err != nil {
			return fmt.Errorf("buyer token credit: %w", err)
		}

		if err := tx.Create(trade).Error; err != nil {
			return err
		}

		if err := updateOrderFill(tx, buyOrder.OrderID, buyRemaining, buyStatus); err != nil {
			return err
		}
		return updateOrderFill(tx, sellOrder.OrderID, sellRemaining, sellStatus)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("match step aborted, no balances moved")
		return nil, err
	}

	// Only advance the in-memory orders once the step has committed.
	buyOrder.RemainingAmount = buyRemaining
	buyOrder.Status = buyStatus
	sellOrder.RemainingAmount = sellRemaining
	sellOrder.Status = sellStatus

	logger.Info().
		Str("total_value", totalValue.String()).
		Str("buy_status", buyStatus).
		Str("sell_status", sellStatus).
		Msg("match settled")

	return trade, nil
}

func fillStatus(remaining decimal.Decimal) string {
	if remaining.IsZero() {
		return types.StatusCompleted
	}
	return types.StatusPartial
}

func updateOrderFill(tx *gorm.DB, orderID string, remaining decimal.Decimal, status string) error {
	return tx.Model(&types.Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"remaining_amount": remaining,
			"status":           status,
		}).Error
}
