package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Asset kinds. Each account holds one wallet per asset and the two never
// touch each other's balance.
const (
	AssetFiat  = "fiat"
	AssetToken = "token"
)

// Entry directions
const (
	EntryCredit = "credit"
	EntryDebit  = "debit"
)

// Business transaction types, carried over from the fiat wallet module.
const (
	TxDeposit    = "deposit"
	TxWithdrawal = "withdrawal"
	TxPurchase   = "purchase"
	TxSale       = "sale"
	TxReward     = "reward"
	TxRefund     = "refund"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAsset        = errors.New("unknown asset kind")
)

// Wallet holds the balance of one account in one asset. Balances are only
// mutated through the credit/debit contract and never go negative.
type Wallet struct {
	gorm.Model `json:"-"`
	AccountID  string          `gorm:"uniqueIndex:idx_wallet_account_asset" json:"account_id"`
	Asset      string          `gorm:"uniqueIndex:idx_wallet_account_asset" json:"asset"`
	Balance    decimal.Decimal `gorm:"type:decimal(15,2)" json:"balance"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Transaction is the immutable audit row written alongside every balance
// change, recording the balance before and after the movement.
type Transaction struct {
	gorm.Model      `json:"-"`
	TransactionID   string          `gorm:"uniqueIndex" json:"transaction_id"`
	AccountID       string          `gorm:"index" json:"account_id"`
	Asset           string          `json:"asset"`
	EntryType       string          `json:"entry_type"`       // credit or debit
	TransactionType string          `json:"transaction_type"` // deposit, purchase, sale, ...
	Amount          decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount"`
	BalanceBefore   decimal.Decimal `gorm:"type:decimal(15,2)" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(15,2)" json:"balance_after"`
	ReferenceID     string          `json:"reference_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ValidAsset reports whether the asset kind is known.
func ValidAsset(asset string) bool {
	return asset == AssetFiat || asset == AssetToken
}
