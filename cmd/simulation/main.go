package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/abo/gymtoken-api/internal/auth"
	"github.com/abo/gymtoken-api/internal/database"
	"github.com/abo/gymtoken-api/internal/exchange"
	"github.com/abo/gymtoken-api/internal/ledger"
	"github.com/abo/gymtoken-api/internal/rewards"
	"github.com/abo/gymtoken-api/internal/settlement"
	"github.com/abo/gymtoken-api/internal/trading"
	"github.com/abo/gymtoken-api/internal/types"
	"github.com/abo/gymtoken-api/pkg/middleware"
)

const (
	minOrders     = 15
	maxOrders     = 120
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	jwtSecret     = "gymtoken-secret-key"
)

var (
	sides     = []string{types.SideBuy, types.SideSell}
	testTypes = []string{"fitness", "strength", "cardio"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// member is one simulated gym member driving order flow
type member struct {
	accountID string
	secret    string
	token     string
}

// simulationClient handles HTTP communication with the token exchange API
type simulationClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats

	mu      sync.Mutex
	members []*member
}

// newSimulationClient creates and initializes a new simulation client
func newSimulationClient(memberCount int) *simulationClient {
	sc := &simulationClient{
		baseURL: serverAddress,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"deposit": {name: "Fiat Deposit"},
			"reward":  {name: "Grant Reward"},
			"submit":  {name: "Submit Order"},
			"book":    {name: "Order Book"},
			"trades":  {name: "Trade History"},
		},
	}

	for i := 0; i < memberCount; i++ {
		sc.members = append(sc.members, &member{
			accountID: fmt.Sprintf("MEMBER_%d", i),
			secret:    fmt.Sprintf("member-secret-%d", i),
		})
	}

	return sc
}

func (sc *simulationClient) postJSON(path, token string, payload interface{}, statsKey string) ([]byte, error) {
	start := time.Now()
	defer func() {
		sc.mu.Lock()
		sc.stats[statsKey].addDuration(time.Since(start))
		sc.mu.Unlock()
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.recordFailure(statsKey)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		sc.recordFailure(statsKey)
		return respBody, fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (sc *simulationClient) getJSON(path, token, statsKey string) ([]byte, error) {
	start := time.Now()
	defer func() {
		sc.mu.Lock()
		sc.stats[statsKey].addDuration(time.Since(start))
		sc.mu.Unlock()
	}()

	req, err := http.NewRequest("GET", sc.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.recordFailure(statsKey)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		sc.recordFailure(statsKey)
		return respBody, fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (sc *simulationClient) recordFailure(statsKey string) {
	sc.mu.Lock()
	sc.stats[statsKey].failures++
	sc.mu.Unlock()
}

// authenticate fetches a JWT for one member
func (sc *simulationClient) authenticate(m *member) error {
	respBody, err := sc.postJSON("/api/v1/auth/token", "", map[string]string{
		"api_key":    m.accountID,
		"api_secret": m.secret,
	}, "auth")
	if err != nil {
		return err
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return err
	}
	if result.Data.Token == "" {
		return fmt.Errorf("no token in response: %s", string(respBody))
	}

	m.token = result.Data.Token
	return nil
}

// fund provisions a member with fiat (deposit) and tokens (test rewards)
func (sc *simulationClient) fund(operatorToken string, m *member) error {
	_, err := sc.postJSON("/api/v1/internal/deposits/"+m.accountID, operatorToken, map[string]string{
		"amount":      fmt.Sprintf("%d", rand.Intn(400000)+100000),
		"description": "simulation funding",
	}, "deposit")
	if err != nil {
		return err
	}

	// A few passed gym tests give the member tokens to sell
	for i := 0; i < rand.Intn(4)+2; i++ {
		_, err := sc.postJSON("/api/v1/internal/rewards/"+m.accountID, operatorToken, map[string]string{
			"test_type":      testTypes[rand.Intn(len(testTypes))],
			"test_result_id": fmt.Sprintf("RESULT_%d", rand.Int63()),
		}, "reward")
		if err != nil {
			return err
		}
	}
	return nil
}

// submitOrder places a random order for the member and returns the order ID
func (sc *simulationClient) submitOrder(m *member) (string, error) {
	side := sides[rand.Intn(len(sides))]
	amount := fmt.Sprintf("%d", rand.Intn(20)+1)

	respBody, err := sc.postJSON("/api/v1/token/orders", m.token, map[string]string{
		"side":         side,
		"token_amount": amount,
	}, "submit")
	if err != nil {
		return "", err
	}

	var result struct {
		Data struct {
			Order struct {
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"order"`
			Trades []struct {
				TradeID string `json:"trade_id"`
			} `json:"trades"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if result.Data.Order.OrderID == "" {
		return "", fmt.Errorf("no order ID in response: %s", string(respBody))
	}

	log.Info().
		Str("account_id", m.accountID).
		Str("order_id", result.Data.Order.OrderID).
		Str("side", side).
		Str("amount", amount).
		Str("status", result.Data.Order.Status).
		Int("immediate_fills", len(result.Data.Trades)).
		Msg("Order submitted")

	return result.Data.Order.OrderID, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the token exchange simulation
// It starts a local API server and simulates concurrent gym members trading
func main() {
	simClient := newSimulationClient(numWorkers)

	// Start the server in a goroutine
	go func() {
		if err := startServer(simClient.members); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Authenticate every member
	for _, m := range simClient.members {
		if err := simClient.authenticate(m); err != nil {
			log.Fatal().Err(err).Str("account_id", m.accountID).Msg("Failed to authenticate member")
		}
	}
	operatorToken := simClient.members[0].token

	// Configure rewards, then fund members with fiat and tokens
	if err := configureRewards(simClient, operatorToken); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure rewards")
	}
	for _, m := range simClient.members {
		if err := simClient.fund(operatorToken, m); err != nil {
			log.Fatal().Err(err).Str("account_id", m.accountID).Msg("Failed to fund member")
		}
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	ordersChan := make(chan string, targetOrders)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(m *member) {
			defer wg.Done()
			for j := 0; j < targetOrders/numWorkers; j++ {
				orderID, err := simClient.submitOrder(m)
				if err != nil {
					log.Warn().Err(err).Str("account_id", m.accountID).Msg("Order rejected")
					continue
				}
				ordersChan <- orderID
				time.Sleep(time.Duration(rand.Intn(300)) * time.Millisecond)
			}
		}(simClient.members[i])
	}

	wg.Wait()
	close(ordersChan)

	var orderIDs []string
	for orderID := range ordersChan {
		orderIDs = append(orderIDs, orderID)
	}
	log.Info().Int("orders_created", len(orderIDs)).Msg("All orders submitted")

	// Final book and per-member trade history
	bookBody, err := simClient.getJSON("/api/v1/token/orders/book?depth=10", operatorToken, "book")
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch order book")
	} else {
		var book struct {
			Data types.OrderBookResponse `json:"data"`
		}
		if err := json.Unmarshal(bookBody, &book); err == nil {
			log.Info().
				Int("resting_buys", len(book.Data.BuyOrders)).
				Int("resting_sells", len(book.Data.SellOrders)).
				Msg("Final order book")
		}
	}

	totalTrades := 0
	for _, m := range simClient.members {
		tradesBody, err := simClient.getJSON("/api/v1/token/transactions", m.token, "trades")
		if err != nil {
			log.Error().Err(err).Str("account_id", m.accountID).Msg("Failed to fetch trades")
			continue
		}
		var result struct {
			Data []types.Trade `json:"data"`
		}
		if err := json.Unmarshal(tradesBody, &result); err != nil {
			continue
		}
		totalTrades += len(result.Data)
		log.Info().
			Str("account_id", m.accountID).
			Int("trades", len(result.Data)).
			Msg("Member trade history")
	}

	// Each trade is counted for buyer and seller
	log.Info().
		Int("orders_submitted", len(orderIDs)).
		Int("trade_participations", totalTrades).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// configureRewards sets up the reward amounts granted per gym test type
func configureRewards(sc *simulationClient, operatorToken string) error {
	for _, testType := range testTypes {
		payload := map[string]interface{}{
			"test_type":    testType,
			"token_amount": fmt.Sprintf("%d", rand.Intn(40)+10),
			"description":  "simulation reward",
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		req, err := http.NewRequest("PUT", sc.baseURL+"/api/v1/internal/rewards/config", bytes.NewBuffer(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+operatorToken)

		resp, err := sc.client.Do(req)
		if err != nil {
			return err
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("reward config failed with status %d: %s", resp.StatusCode, string(body))
		}
	}
	return nil
}

// startServer initializes and starts the token exchange API server
func startServer(members []*member) error {
	db, err := database.Open("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth.NewService(jwtSecret)
	for _, m := range members {
		authService.RegisterAPICredentials(m.accountID, m.secret)
	}

	ledgerService := ledger.NewService(db)
	settlementService := settlement.NewService(db, ledgerService)
	engine := exchange.NewEngine(db, ledgerService, settlementService, exchange.DefaultConfig())
	tradingService := trading.NewService(db, engine)
	rewardsService := rewards.NewService(db, ledgerService)

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	tradingHandlers := trading.NewGinHandlers(tradingService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	rewardsHandlers := rewards.NewGinHandlers(rewardsService)

	setupRoutes(router, authHandlers, tradingHandlers, ledgerHandlers, rewardsHandlers)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	rewardsHandlers *rewards.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		orders := v1.Group("/token/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", tradingHandlers.SubmitOrderHandler())
			orders.GET("/book", tradingHandlers.OrderBookHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
			orders.DELETE("/:order_id", tradingHandlers.CancelOrderHandler())
		}

		token := v1.Group("/token")
		token.Use(middleware.JWTAuth(jwtSecret))
		{
			token.GET("/transactions", tradingHandlers.TradesHandler())
			token.GET("/rewards", rewardsHandlers.ListRewardsHandler())
			token.GET("/rewards/history", rewardsHandlers.RewardHistoryHandler())
		}

		wallets := v1.Group("/wallets")
		wallets.Use(middleware.JWTAuth(jwtSecret))
		{
			wallets.GET("/:asset", ledgerHandlers.WalletHandler())
			wallets.GET("/:asset/transactions", ledgerHandlers.TransactionsHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/deposits/:account_id", ledgerHandlers.DepositHandler())
			internal.POST("/rewards/:account_id", rewardsHandlers.GrantRewardHandler())
			internal.PUT("/rewards/config", rewardsHandlers.UpsertConfigHandler())
		}
	}
}
