package trading

import (
	"errors"

	"github.com/abo/gymtoken-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOrderByOrderIDAndAccountID(orderID, accountID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ? AND account_id = ?", orderID, accountID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetBuyBook lists resting buy orders most-recent-first. The listing order
// is presentational; matching priority is still arrival order.
func (d *Database) GetBuyBook(depth int) ([]types.Order, error) {
	var orders []types.Order
	err := d.openOrders(types.SideBuy).
		Order("created_at DESC").
		Order("id DESC").
		Limit(depth).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// GetSellBook lists resting sell orders oldest-first, mirroring the order in
// which they will be matched.
func (d *Database) GetSellBook(depth int) ([]types.Order, error) {
	var orders []types.Order
	err := d.openOrders(types.SideSell).
		Order("created_at ASC").
		Order("id ASC").
		Limit(depth).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) openOrders(side string) *gorm.DB {
	return d.db.Model(&types.Order{}).
		Where("side = ? AND status IN ? AND remaining_amount > 0", side, []string{types.StatusPending, types.StatusPartial})
}

// GetTradesForAccount returns trades where the account was buyer or seller,
// newest first.
func (d *Database) GetTradesForAccount(accountID string) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("buyer_id = ? OR seller_id = ?", accountID, accountID).
		Order("created_at DESC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}
