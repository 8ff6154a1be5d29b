package exchange

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/abo/gymtoken-api/internal/ledger"
	"github.com/abo/gymtoken-api/internal/settlement"
	"github.com/abo/gymtoken-api/internal/types"
)

// Config tunes engine behaviour.
type Config struct {
	// TokenPrice is the fixed market price applied when an order is
	// submitted without an explicit price.
	TokenPrice decimal.Decimal
	// AllowSelfTrade permits an account to match against its own resting
	// orders, which the gym platform historically allowed.
	AllowSelfTrade bool
}

// DefaultConfig mirrors the platform defaults: 1000 rial per token,
// self-trading allowed.
func DefaultConfig() Config {
	return Config{
		TokenPrice:     decimal.NewFromInt(1000),
		AllowSelfTrade: true,
	}
}

// Engine matches incoming token orders against the resting book in strict
// arrival order and hands each match to settlement. All mutating entry
// points take a single engine-wide lock, so submission validation, matching
// and cancellation are serialized and balance checks cannot race balance
// movements.
type Engine struct {
	mu         sync.Mutex
	db         *Database
	ledger     *ledger.Service
	settlement *settlement.Service
	cfg        Config
}

func NewEngine(gormDB *gorm.DB, ledgerService *ledger.Service, settlementService *settlement.Service, cfg Config) *Engine {
	if cfg.TokenPrice.Sign() <= 0 {
		cfg.TokenPrice = DefaultConfig().TokenPrice
	}
	return &Engine{
		db:         NewDatabase(gormDB),
		ledger:     ledgerService,
		settlement: settlementService,
		cfg:        cfg,
	}
}

// Submit validates the order, inserts it and runs the match loop. The
// returned trades are the immediate fills; a non-nil error with a non-nil
// order means settlement stopped mid-loop and the order holds its partially
// filled state.
func (e *Engine) Submit(accountID, side string, amount, price decimal.Decimal) (*types.Order, []types.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if side != types.SideBuy && side != types.SideSell {
		return nil, nil, types.ErrInvalidOrder
	}
	if price.IsZero() {
		price = e.cfg.TokenPrice
	}
	if amount.Sign() <= 0 || price.Sign() <= 0 {
		return nil, nil, types.ErrInvalidOrder
	}

	if err := e.checkFunds(accountID, side, amount, price); err != nil {
		return nil, nil, err
	}

	order := &types.Order{
		OrderID:         "ORD_" + uuid.New().String(),
		AccountID:       accountID,
		Side:            side,
		TokenAmount:     amount,
		TokenPrice:      price,
		TotalValue:      amount.Mul(price),
		RemainingAmount: amount,
		Status:          types.StatusPending,
	}
	if err := e.db.CreateOrder(order); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("account_id", accountID).
		Str("side", side).
		Str("amount", amount.String()).
		Str("price", price.String()).
		Msg("order accepted")

	trades, err := e.match(order)
	return order, trades, err
}

// checkFunds verifies the submitting account can cover the order. Nothing is
// reserved; settlement re-checks each debit, so a balance spent elsewhere
// between submission and match simply aborts that match step.
func (e *Engine) checkFunds(accountID, side string, amount, price decimal.Decimal) error {
	switch side {
	case types.SideBuy:
		balance, err := e.ledger.Balance(accountID, ledger.AssetFiat)
		if err != nil {
			return err
		}
		if balance.LessThan(amount.Mul(price)) {
			return types.ErrInsufficientFunds
		}
	case types.SideSell:
		balance, err := e.ledger.Balance(accountID, ledger.AssetToken)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return types.ErrInsufficientFunds
		}
	}
	return nil
}

// match walks the opposite side of the book oldest-first and settles one
// step per resting order. Each step strictly reduces the combined remaining
// quantity, so the loop always terminates. A settlement failure halts
// matching but keeps every step that already committed.
func (e *Engine) match(incoming *types.Order) ([]types.Trade, error) {
	resting, err := e.db.GetOpenOrders(oppositeSide(incoming.Side))
	if err != nil {
		return nil, err
	}

	var trades []types.Trade
	for i := range resting {
		if !incoming.RemainingAmount.IsPositive() {
			break
		}

		other := &resting[i]
		if !e.cfg.AllowSelfTrade && other.AccountID == incoming.AccountID {
			continue
		}

		matchAmount := decimal.Min(incoming.RemainingAmount, other.RemainingAmount)

		buyOrder, sellOrder := incoming, other
		if incoming.Side == types.SideSell {
			buyOrder, sellOrder = other, incoming
		}

		// The resting order's price is authoritative for the trade.
		trade, err := e.settlement.SettleMatch(buyOrder, sellOrder, matchAmount, other.TokenPrice)
		if err != nil {
			log.Warn().
				Err(err).
				Str("incoming_order_id", incoming.OrderID).
				Str("resting_order_id", other.OrderID).
				Int("trades_settled", len(trades)).
				Msg("matching halted")
			return trades, fmt.Errorf("settle against order %s: %w", other.OrderID, err)
		}
		trades = append(trades, *trade)
	}

	return trades, nil
}

// Cancel marks an open order cancelled and removes its remaining quantity
// from the book. Fills that already happened stand. Runs under the engine
// lock so it cannot race an in-flight match against the same order.
func (e *Engine) Cancel(orderID, requestingAccountID string) (*types.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrOrderNotFound
	}
	if order.AccountID != requestingAccountID {
		return nil, types.ErrForbidden
	}
	if order.Status != types.StatusPending && order.Status != types.StatusPartial {
		return nil, types.ErrNotCancellable
	}

	order.Status = types.StatusCancelled
	if err := e.db.UpdateOrder(order); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("account_id", order.AccountID).
		Str("remaining", order.RemainingAmount.String()).
		Msg("order cancelled")

	return order, nil
}

func oppositeSide(side string) string {
	if side == types.SideBuy {
		return types.SideSell
	}
	return types.SideBuy
}
