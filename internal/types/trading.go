package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses
const (
	StatusPending   = "pending"
	StatusPartial   = "partial"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Order represents a fixed-price buy or sell order for the internal token.
// Orders are never deleted; cancelled and completed orders remain as an
// audit trail. RemainingAmount only ever decreases.
type Order struct {
	gorm.Model      `json:"-"`
	OrderID         string          `gorm:"uniqueIndex" json:"order_id"`
	AccountID       string          `gorm:"index" json:"account_id"`
	Side            string          `json:"side"` // buy or sell
	TokenAmount     decimal.Decimal `gorm:"type:decimal(15,2)" json:"token_amount"`
	TokenPrice      decimal.Decimal `gorm:"type:decimal(10,2)" json:"token_price"`
	TotalValue      decimal.Decimal `gorm:"type:decimal(15,2)" json:"total_value"`
	RemainingAmount decimal.Decimal `gorm:"type:decimal(15,2)" json:"remaining_amount"`
	Status          string          `gorm:"index" json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsOpen reports whether the order can still rest on the book.
func (o *Order) IsOpen() bool {
	return (o.Status == StatusPending || o.Status == StatusPartial) && o.RemainingAmount.IsPositive()
}

// Trade records a single match between a buy and a sell order. The price is
// always the resting order's price. Trades are immutable once created.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeID     string          `gorm:"uniqueIndex" json:"trade_id"`
	BuyOrderID  string          `gorm:"index" json:"buy_order_id"`
	SellOrderID string          `gorm:"index" json:"sell_order_id"`
	BuyerID     string          `gorm:"index" json:"buyer_id"`
	SellerID    string          `gorm:"index" json:"seller_id"`
	TokenAmount decimal.Decimal `gorm:"type:decimal(15,2)" json:"token_amount"`
	TokenPrice  decimal.Decimal `gorm:"type:decimal(10,2)" json:"token_price"`
	TotalValue  decimal.Decimal `gorm:"type:decimal(15,2)" json:"total_value"`
	CreatedAt   time.Time       `json:"created_at"`
}
