package rewards

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/abo/gymtoken-api/internal/auth"
	"github.com/abo/gymtoken-api/internal/ledger"
	"github.com/abo/gymtoken-api/pkg/response"
)

// Service grants token rewards for completed gym tests. The wallet credit
// and the grant history row are written in one transaction.
type Service struct {
	db     *Database
	gormDB *gorm.DB
	ledger *ledger.Service
}

func NewService(gormDB *gorm.DB, ledgerService *ledger.Service) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		gormDB: gormDB,
		ledger: ledgerService,
	}
}

// Grant credits the configured reward for the given test type to the
// account's token wallet. Fails when the test type is unknown or has no
// active reward config.
func (s *Service) Grant(accountID, testType, testResultID string) (*RewardGrant, error) {
	if !validTestType(testType) {
		return nil, ErrUnknownTestType
	}

	config, err := s.db.GetActiveConfig(testType)
	if err != nil {
		return nil, err
	}

	grant := &RewardGrant{
		GrantID:      "RWD_" + uuid.New().String(),
		AccountID:    accountID,
		TestType:     testType,
		TestResultID: testResultID,
		TokenAmount:  config.TokenAmount,
		Description:  config.Description,
	}

	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.CreditTx(tx, accountID, ledger.AssetToken, config.TokenAmount, ledger.TxReward, grant.GrantID, "gym test reward"); err != nil {
			return err
		}
		return s.db.CreateGrant(tx, grant)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("grant_id", grant.GrantID).
		Str("account_id", accountID).
		Str("test_type", testType).
		Str("token_amount", config.TokenAmount.String()).
		Msg("token reward granted")

	return grant, nil
}

// UpsertConfig creates or replaces the reward config for one test type.
func (s *Service) UpsertConfig(testType string, amount decimal.Decimal, description string, active bool) (*RewardConfig, error) {
	if !validTestType(testType) {
		return nil, ErrUnknownTestType
	}
	if amount.Sign() <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	config := &RewardConfig{
		TestType:    testType,
		TokenAmount: amount,
		IsActive:    active,
		Description: description,
	}
	if err := s.db.UpsertConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ActiveConfigs lists the active reward configs.
func (s *Service) ActiveConfigs() ([]RewardConfig, error) {
	return s.db.ListActiveConfigs()
}

// History lists the rewards already granted to an account, newest first.
func (s *Service) History(accountID string) ([]RewardGrant, error) {
	return s.db.GetGrantsForAccount(accountID)
}

// GinHandlers contains HTTP handlers for reward endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListRewardsHandler handles GET requests for the active reward configs.
func (h *GinHandlers) ListRewardsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		configs, err := h.service.ActiveConfigs()
		response.Handle(c, configs, err)
	}
}

// RewardHistoryHandler handles GET requests for the caller's granted rewards.
func (h *GinHandlers) RewardHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		accountID := auth.GetAccountID(claims)
		if accountID == "" {
			response.Unauthorized(c, "Invalid account ID in token")
			return
		}

		grants, err := h.service.History(accountID)
		response.Handle(c, grants, err)
	}
}

// GrantRewardHandler handles internal POST requests granting a reward after
// a verified test result.
func (h *GinHandlers) GrantRewardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		if accountID == "" {
			response.BadRequest(c, "account ID is required")
			return
		}

		var request struct {
			TestType     string `json:"test_type" binding:"required"`
			TestResultID string `json:"test_result_id"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		grant, err := h.service.Grant(accountID, request.TestType, request.TestResultID)
		switch {
		case errors.Is(err, ErrUnknownTestType):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrNoActiveReward):
			response.NotFound(c, err.Error())
		default:
			response.Handle(c, grant, err)
		}
	}
}

// UpsertConfigHandler handles internal PUT requests configuring rewards.
func (h *GinHandlers) UpsertConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			TestType    string `json:"test_type" binding:"required"`
			TokenAmount string `json:"token_amount" binding:"required"`
			Description string `json:"description"`
			IsActive    *bool  `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amount, err := decimal.NewFromString(request.TokenAmount)
		if err != nil {
			response.BadRequest(c, "invalid token amount")
			return
		}

		active := true
		if request.IsActive != nil {
			active = *request.IsActive
		}

		config, err := h.service.UpsertConfig(request.TestType, amount, request.Description, active)
		switch {
		case errors.Is(err, ErrUnknownTestType), errors.Is(err, ledger.ErrInvalidAmount):
			response.BadRequest(c, err.Error())
		default:
			response.Handle(c, config, err)
		}
	}
}
