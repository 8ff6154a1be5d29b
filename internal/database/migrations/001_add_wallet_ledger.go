package migrations

import (
	"gorm.io/gorm"

	"github.com/abo/gymtoken-api/internal/ledger"
)

func AddWalletLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.Wallet{}); err != nil {
		return err
	}

	return db.AutoMigrate(&ledger.Transaction{})
}
