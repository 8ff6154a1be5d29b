package trading

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/abo/gymtoken-api/internal/auth"
	"github.com/abo/gymtoken-api/internal/exchange"
	"github.com/abo/gymtoken-api/internal/types"
	"github.com/abo/gymtoken-api/pkg/response"
)

const defaultBookDepth = 10

// Service handles token order submission, cancellation and the read-side
// views of the book and trade history. All mutations go through the engine.
type Service struct {
	db     *Database
	engine *exchange.Engine
}

func NewService(gormDB *gorm.DB, engine *exchange.Engine) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		engine: engine,
	}
}

// SubmitOrder places a new order and runs matching. See exchange.Engine.Submit
// for the error contract.
func (s *Service) SubmitOrder(accountID, side string, amount, price decimal.Decimal) (*types.Order, []types.Trade, error) {
	return s.engine.Submit(accountID, side, amount, price)
}

// CancelOrder cancels an open order owned by the requesting account.
func (s *Service) CancelOrder(orderID, accountID string) (*types.Order, error) {
	return s.engine.Cancel(orderID, accountID)
}

// GetOrder retrieves an order scoped to its owner.
func (s *Service) GetOrder(orderID, accountID string) (*types.Order, error) {
	return s.db.GetOrderByOrderIDAndAccountID(orderID, accountID)
}

// OrderBook returns both sides of the resting book up to depth entries each.
func (s *Service) OrderBook(depth int) (*types.OrderBookResponse, error) {
	if depth <= 0 {
		depth = defaultBookDepth
	}

	buys, err := s.db.GetBuyBook(depth)
	if err != nil {
		return nil, err
	}
	sells, err := s.db.GetSellBook(depth)
	if err != nil {
		return nil, err
	}

	return &types.OrderBookResponse{
		BuyOrders:  buys,
		SellOrders: sells,
	}, nil
}

// AccountTrades returns the trade history for an account.
func (s *Service) AccountTrades(accountID string) ([]types.Trade, error) {
	return s.db.GetTradesForAccount(accountID)
}

// GinHandlers contains HTTP handlers for token order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SubmitOrderHandler handles POST requests to place token orders.
// Requires a valid JWT token; the order is placed for the token's account.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := accountFromContext(c)
		if accountID == "" {
			return
		}

		var request types.SubmitOrderRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amount, err := decimal.NewFromString(request.TokenAmount)
		if err != nil {
			response.BadRequest(c, "invalid token amount")
			return
		}

		price := decimal.Zero
		if request.TokenPrice != "" {
			price, err = decimal.NewFromString(request.TokenPrice)
			if err != nil {
				response.BadRequest(c, "invalid token price")
				return
			}
		}

		order, trades, err := h.service.SubmitOrder(accountID, request.Side, amount, price)
		switch {
		case errors.Is(err, types.ErrInvalidOrder):
			response.BadRequest(c, err.Error())
			return
		case errors.Is(err, types.ErrInsufficientFunds):
			response.UnprocessableEntity(c, response.ErrCodeInsufficientFunds, err.Error())
			return
		case err != nil && order != nil:
			// Settlement stopped mid-loop; earlier fills stand and the
			// order keeps its partially matched state.
			response.FailedWithData(c, http.StatusUnprocessableEntity, gin.H{
				"order":  order,
				"trades": trades,
			}, response.ErrCodeInsufficientFunds, err.Error())
			return
		case err != nil:
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, gin.H{
			"order":  order,
			"trades": trades,
		})
	}
}

// GetOrderHandler handles GET requests for a single order owned by the caller.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := accountFromContext(c)
		if accountID == "" {
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(orderID, accountID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// CancelOrderHandler handles DELETE requests to cancel an open order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := accountFromContext(c)
		if accountID == "" {
			return
		}

		orderID := c.Param("order_id")

		order, err := h.service.CancelOrder(orderID, accountID)
		switch {
		case errors.Is(err, types.ErrOrderNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, types.ErrForbidden):
			response.Forbidden(c, err.Error())
		case errors.Is(err, types.ErrNotCancellable):
			response.FailedWithData(c, http.StatusConflict, nil, response.ErrCodeNotCancellable, err.Error())
		default:
			response.Handle(c, order, err)
		}
	}
}

// OrderBookHandler handles GET requests for the resting book. Depth is
// capped by the query parameter, defaulting to 10 per side.
func (h *GinHandlers) OrderBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		depth := defaultBookDepth
		if raw := c.Query("depth"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "invalid depth")
				return
			}
			depth = parsed
		}

		book, err := h.service.OrderBook(depth)
		response.Handle(c, book, err)
	}
}

// TradesHandler handles GET requests for the caller's trade history.
func (h *GinHandlers) TradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := accountFromContext(c)
		if accountID == "" {
			return
		}

		trades, err := h.service.AccountTrades(accountID)
		response.Handle(c, trades, err)
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
