package types

// OrderBookResponse is the public view of the resting book. The buy side is
// listed most-recent-first, the sell side oldest-first, mirroring matching
// priority for sells.
type OrderBookResponse struct {
	BuyOrders  []Order `json:"buy_orders"`
	SellOrders []Order `json:"sell_orders"`
}

// SubmitOrderRequest is the body for order submission. A zero price means
// "use the fixed market price".
type SubmitOrderRequest struct {
	Side        string `json:"side" binding:"required"`
	TokenAmount string `json:"token_amount" binding:"required"`
	TokenPrice  string `json:"token_price"`
}
