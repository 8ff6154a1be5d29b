package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/abo/gymtoken-api/internal/database/migrations"
	"github.com/abo/gymtoken-api/internal/rewards"
	"github.com/abo/gymtoken-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase() (*gorm.DB, error) {
	return Open("gymtoken.db")
}

// Open connects to the given sqlite DSN and runs all migrations. Tests use
// this with an in-memory DSN.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddWalletLedger(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Order{},
		&types.Trade{},
		&rewards.RewardConfig{},
		&rewards.RewardGrant{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
