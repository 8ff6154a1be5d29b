package ledger

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/abo/gymtoken-api/internal/auth"
	"github.com/abo/gymtoken-api/pkg/response"
)

// Service exposes the credit/debit contract over per-account, per-asset
// wallets. Balance mutations always go through Credit/Debit (or their Tx
// variants) so that every movement leaves an audit transaction behind.
type Service struct {
	db     *Database
	gormDB *gorm.DB
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		gormDB: gormDB,
	}
}

// GetOrOpen returns the wallet for (account, asset), provisioning a
// zero-balance wallet on first use.
func (s *Service) GetOrOpen(accountID, asset string) (*Wallet, error) {
	if !ValidAsset(asset) {
		return nil, ErrInvalidAsset
	}
	return s.db.GetOrOpenWallet(s.gormDB, accountID, asset)
}

// Balance returns the current balance for (account, asset). Reads taken
// outside the engine lock are for presentation only, never validation.
func (s *Service) Balance(accountID, asset string) (decimal.Decimal, error) {
	wallet, err := s.GetOrOpen(accountID, asset)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

// Credit increases the wallet balance in its own transaction.
func (s *Service) Credit(accountID, asset string, amount decimal.Decimal, txType, referenceID, description string) error {
	return s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.CreditTx(tx, accountID, asset, amount, txType, referenceID, description)
	})
}

// Debit decreases the wallet balance in its own transaction. Fails with
// ErrInsufficientBalance when the balance cannot cover the amount; there is
// no partial debit.
func (s *Service) Debit(accountID, asset string, amount decimal.Decimal, txType, referenceID, description string) error {
	return s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.DebitTx(tx, accountID, asset, amount, txType, referenceID, description)
	})
}

// CreditTx applies a credit inside a caller-owned transaction. Settlement
// uses this to fold both legs of a trade into one atomic unit.
func (s *Service) CreditTx(tx *gorm.DB, accountID, asset string, amount decimal.Decimal, txType, referenceID, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !ValidAsset(asset) {
		return ErrInvalidAsset
	}

	wallet, err := s.db.GetOrOpenWallet(tx, accountID, asset)
	if err != nil {
		return err
	}

	before := wallet.Balance
	wallet.Balance = before.Add(amount)
	if err := s.db.SaveWallet(tx, wallet); err != nil {
		return err
	}

	log.Debug().
		Str("account_id", accountID).
		Str("asset", asset).
		Str("amount", amount.String()).
		Str("balance", wallet.Balance.String()).
		Msg("wallet credited")

	return s.db.CreateTransaction(tx, &Transaction{
		AccountID:       accountID,
		Asset:           asset,
		EntryType:       EntryCredit,
		TransactionType: txType,
		Amount:          amount,
		BalanceBefore:   before,
		BalanceAfter:    wallet.Balance,
		ReferenceID:     referenceID,
		Description:     description,
	})
}

// DebitTx applies a debit inside a caller-owned transaction.
func (s *Service) DebitTx(tx *gorm.DB, accountID, asset string, amount decimal.Decimal, txType, referenceID, description string) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !ValidAsset(asset) {
		return ErrInvalidAsset
	}

	wallet, err := s.db.GetOrOpenWallet(tx, accountID, asset)
	if err != nil {
		return err
	}

	if wallet.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	before := wallet.Balance
	wallet.Balance = before.Sub(amount)
	if err := s.db.SaveWallet(tx, wallet); err != nil {
		return err
	}

	log.Debug().
		Str("account_id", accountID).
		Str("asset", asset).
		Str("amount", amount.String()).
		Str("balance", wallet.Balance.String()).
		Msg("wallet debited")

	return s.db.CreateTransaction(tx, &Transaction{
		AccountID:       accountID,
		Asset:           asset,
		EntryType:       EntryDebit,
		TransactionType: txType,
		Amount:          amount,
		BalanceBefore:   before,
		BalanceAfter:    wallet.Balance,
		ReferenceID:     referenceID,
		Description:     description,
	})
}

// Transactions returns the audit log for (account, asset), newest first.
func (s *Service) Transactions(accountID, asset string) ([]Transaction, error) {
	if !ValidAsset(asset) {
		return nil, ErrInvalidAsset
	}
	return s.db.GetTransactionsForAccount(accountID, asset)
}

// GetDB exposes the database wrapper for background processors.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for wallet endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// WalletHandler handles GET requests for the caller's wallet in one asset.
// The wallet is provisioned with a zero balance if it does not exist yet.
func (h *GinHandlers) WalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := accountFromContext(c)
		if accountID == "" {
			return
		}

		asset := c.Param("asset")
		wallet, err := h.service.GetOrOpen(accountID, asset)
		if err == ErrInvalidAsset {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, wallet, err)
	}
}

// TransactionsHandler handles GET requests for the caller's transaction log.
func (h *GinHandlers) TransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := accountFromContext(c)
		if accountID == "" {
			return
		}

		asset := c.Param("asset")
		txns, err := h.service.Transactions(accountID, asset)
		if err == ErrInvalidAsset {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, txns, err)
	}
}

// DepositHandler handles internal POST requests crediting an account's fiat
// wallet. The deposit approval workflow lives outside this service; by the
// time this endpoint is called the deposit is taken as verified.
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		if accountID == "" {
			response.BadRequest(c, "account ID is required")
			return
		}

		var request struct {
			Amount      string `json:"amount" binding:"required"`
			ReferenceID string `json:"reference_id"`
			Description string `json:"description"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amount, err := decimal.NewFromString(request.Amount)
		if err != nil {
			response.BadRequest(c, "invalid amount")
			return
		}

		err = h.service.Credit(accountID, AssetFiat, amount, TxDeposit, request.ReferenceID, request.Description)
		if err == ErrInvalidAmount {
			response.BadRequest(c, err.Error())
			return
		}
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		log.Info().
			Str("account_id", accountID).
			Str("amount", amount.String()).
			Msg("fiat deposit credited")

		wallet, err := h.service.GetOrOpen(accountID, AssetFiat)
		response.Handle(c, wallet, err)
	}
}

func accountFromContext(c *gin.Context) string {
	claims, exists := c.Get("claims")
	if !exists {
		response.Unauthorized(c, "Missing authentication claims")
		return ""
	}

	accountID := auth.GetAccountID(claims)
	if accountID == "" {
		response.Unauthorized(c, "Invalid account ID in token")
		return ""
	}
	return accountID
}
