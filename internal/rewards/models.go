package rewards

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Gym test types eligible for token rewards.
var TestTypes = []string{
	"fitness",
	"strength",
	"cardio",
	"flexibility",
	"sports",
	"rehabilitation",
	"general",
}

var (
	ErrUnknownTestType = errors.New("unknown test type")
	ErrNoActiveReward  = errors.New("no active reward configured for test type")
)

// RewardConfig sets the token amount granted for a successfully completed
// gym test of one type. One config per test type.
type RewardConfig struct {
	gorm.Model  `json:"-"`
	TestType    string          `gorm:"uniqueIndex" json:"test_type"`
	TokenAmount decimal.Decimal `gorm:"type:decimal(10,2)" json:"token_amount"`
	IsActive    bool            `json:"is_active"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RewardGrant records one reward credited to a member's token wallet.
// Immutable once created.
type RewardGrant struct {
	gorm.Model   `json:"-"`
	GrantID      string          `gorm:"uniqueIndex" json:"grant_id"`
	AccountID    string          `gorm:"index" json:"account_id"`
	TestType     string          `json:"test_type"`
	TestResultID string          `json:"test_result_id,omitempty"`
	TokenAmount  decimal.Decimal `gorm:"type:decimal(10,2)" json:"token_amount"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func validTestType(testType string) bool {
	for _, t := range TestTypes {
		if t == testType {
			return true
		}
	}
	return false
}
