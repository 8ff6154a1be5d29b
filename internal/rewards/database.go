package rewards

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetActiveConfig(testType string) (*RewardConfig, error) {
	var config RewardConfig
	err := d.db.Where("test_type = ? AND is_active = ?", testType, true).First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveReward
		}
		return nil, err
	}
	return &config, nil
}

func (d *Database) ListActiveConfigs() ([]RewardConfig, error) {
	var configs []RewardConfig
	if err := d.db.Where("is_active = ?", true).Order("test_type ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// UpsertConfig inserts or replaces the reward config for a test type.
func (d *Database) UpsertConfig(config *RewardConfig) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "test_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_amount", "is_active", "description", "updated_at"}),
	}).Create(config).Error
}

func (d *Database) CreateGrant(tx *gorm.DB, grant *RewardGrant) error {
	return tx.Create(grant).Error
}

func (d *Database) GetGrantsForAccount(accountID string) ([]RewardGrant, error) {
	var grants []RewardGrant
	err := d.db.Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}
