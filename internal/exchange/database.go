package exchange

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

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

// GetOpenOrders returns the resting orders for one side in strict arrival
// order. The secondary sort on the row id breaks created_at ties so FIFO
// holds even when two orders land in the same timestamp tick.
func (d *Database) GetOpenOrders(side string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("side = ? AND status IN ? AND remaining_amount > 0", side, []string{types.StatusPending, types.StatusPartial}).
		Order("created_at ASC").
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
