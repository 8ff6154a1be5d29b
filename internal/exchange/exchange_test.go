package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/abo/gymtoken-api/internal/ledger"
	"github.com/abo/gymtoken-api/internal/settlement"
	"github.com/abo/gymtoken-api/internal/types"
)

type testEnv struct {
	db     *gorm.DB
	ledger *ledger.Service
	engine *Engine
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledger.Wallet{}, &ledger.Transaction{}, &types.Order{}, &types.Trade{}))

	ledgerService := ledger.NewService(db)
	settlementService := settlement.NewService(db, ledgerService)

	return &testEnv{
		db:     db,
		ledger: ledgerService,
		engine: NewEngine(db, ledgerService, settlementService, cfg),
	}
}

func (env *testEnv) fund(t *testing.T, accountID, asset, amount string) {
	t.Helper()
	err := env.ledger.Credit(accountID, asset, dec(t, amount), ledger.TxDeposit, "", "test funding")
	require.NoError(t, err)
}

func (env *testEnv) balance(t *testing.T, accountID, asset string) decimal.Decimal {
	t.Helper()
	balance, err := env.ledger.Balance(accountID, asset)
	require.NoError(t, err)
	return balance
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "BUYER", ledger.AssetFiat, "100000")

	t.Run("unknown side", func(t *testing.T) {
		_, _, err := env.engine.Submit("BUYER", "short", dec(t, "1"), decimal.Zero)
		assert.ErrorIs(t, err, types.ErrInvalidOrder)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, _, err := env.engine.Submit("BUYER", types.SideBuy, decimal.Zero, decimal.Zero)
		assert.ErrorIs(t, err, types.ErrInvalidOrder)

		_, _, err = env.engine.Submit("BUYER", types.SideBuy, dec(t, "-3"), decimal.Zero)
		assert.ErrorIs(t, err, types.ErrInvalidOrder)
	})

	t.Run("negative price", func(t *testing.T) {
		_, _, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "1"), dec(t, "-10"))
		assert.ErrorIs(t, err, types.ErrInvalidOrder)
	})

	t.Run("zero price falls back to the fixed token price", func(t *testing.T) {
		order, trades, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "3"), decimal.Zero)
		require.NoError(t, err)
		assert.Empty(t, trades)
		assert.True(t, order.TokenPrice.Equal(dec(t, "1000")))
		assert.True(t, order.TotalValue.Equal(dec(t, "3000")))
	})
}

func TestInsufficientFundsAtSubmission(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "BUYER", ledger.AssetFiat, "999")

	t.Run("buyer cannot cover total value", func(t *testing.T) {
		_, _, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "1"), decimal.Zero)
		assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	})

	t.Run("seller holds no tokens", func(t *testing.T) {
		_, _, err := env.engine.Submit("SELLER", types.SideSell, dec(t, "1"), decimal.Zero)
		assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	})

	t.Run("rejected orders never reach the book", func(t *testing.T) {
		var count int64
		require.NoError(t, env.db.Model(&types.Order{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestOrderRestsOnEmptyBook(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "BUYER", ledger.AssetFiat, "10000")

	order, trades, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "5"), decimal.Zero)
	require.NoError(t, err)

	assert.Empty(t, trades)
	assert.Equal(t, types.StatusPending, order.Status)
	assert.True(t, order.RemainingAmount.Equal(dec(t, "5")))

	// Nothing settled, so no balances moved
	assert.True(t, env.balance(t, "BUYER", ledger.AssetFiat).Equal(dec(t, "10000")))
}

func TestExactFill(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "SELLER", ledger.AssetToken, "5")
	env.fund(t, "BUYER", ledger.AssetFiat, "5000")

	sellOrder, trades, err := env.engine.Submit("SELLER", types.SideSell, dec(t, "5"), decimal.Zero)
	require.NoError(t, err)
	require.Empty(t, trades)

	buyOrder, trades, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "5"), decimal.Zero)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	t.Run("both orders complete", func(t *testing.T) {
		assert.Equal(t, types.StatusCompleted, buyOrder.Status)
		assert.True(t, buyOrder.RemainingAmount.IsZero())

		var stored types.Order
		require.NoError(t, env.db.Where("order_id = ?", sellOrder.OrderID).First(&stored).Error)
		assert.Equal(t, types.StatusCompleted, stored.Status)
		assert.True(t, stored.RemainingAmount.IsZero())
	})

	t.Run("trade references both sides", func(t *testing.T) {
		trade := trades[0]
		assert.Equal(t, buyOrder.OrderID, trade.BuyOrderID)
		assert.Equal(t, sellOrder.OrderID, trade.SellOrderID)
		assert.Equal(t, "BUYER", trade.BuyerID)
		assert.Equal(t, "SELLER", trade.SellerID)
		assert.True(t, trade.TokenAmount.Equal(dec(t, "5")))
		assert.True(t, trade.TotalValue.Equal(dec(t, "5000")))
	})

	t.Run("all four ledger movements applied", func(t *testing.T) {
		assert.True(t, env.balance(t, "BUYER", ledger.AssetFiat).IsZero())
		assert.True(t, env.balance(t, "BUYER", ledger.AssetToken).Equal(dec(t, "5")))
		assert.True(t, env.balance(t, "SELLER", ledger.AssetFiat).Equal(dec(t, "5000")))
		assert.True(t, env.balance(t, "SELLER", ledger.AssetToken).IsZero())
	})
}

func TestPartialFill(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "SELLER", ledger.AssetToken, "6")
	env.fund(t, "BUYER", ledger.AssetFiat, "10000")

	_, _, err := env.engine.Submit("SELLER", types.SideSell, dec(t, "6"), decimal.Zero)
	require.NoError(t, err)

	buyOrder, trades, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "10"), decimal.Zero)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.True(t, trades[0].TokenAmount.Equal(dec(t, "6")))
	assert.Equal(t, types.StatusPartial, buyOrder.Status)
	assert.True(t, buyOrder.RemainingAmount.Equal(dec(t, "4")))

	t.Run("partially filled remainder keeps matching", func(t *testing.T) {
		env.fund(t, "SELLER_2", ledger.AssetToken, "4")

		sellOrder, sellTrades, err := env.engine.Submit("SELLER_2", types.SideSell, dec(t, "4"), decimal.Zero)
		require.NoError(t, err)
		require.Len(t, sellTrades, 1)

		assert.Equal(t, buyOrder.OrderID, sellTrades[0].BuyOrderID)
		assert.Equal(t, types.StatusCompleted, sellOrder.Status)

		var stored types.Order
		require.NoError(t, env.db.Where("order_id = ?", buyOrder.OrderID).First(&stored).Error)
		assert.Equal(t, types.StatusCompleted, stored.Status)
		assert.True(t, stored.RemainingAmount.IsZero())
	})
}

func TestFIFOMatching(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "SELLER_A", ledger.AssetToken, "3")
	env.fund(t, "SELLER_B", ledger.AssetToken, "3")
	env.fund(t, "BUYER", ledger.AssetFiat, "10000")

	first, _, err := env.engine.Submit("SELLER_A", types.SideSell, dec(t, "3"), decimal.Zero)
	require.NoError(t, err)
	second, _, err := env.engine.Submit("SELLER_B", types.SideSell, dec(t, "3"), decimal.Zero)
	require.NoError(t, err)

	_, trades, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "4"), decimal.Zero)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Oldest resting order fills first and completely
	assert.Equal(t, first.OrderID, trades[0].SellOrderID)
	assert.True(t, trades[0].TokenAmount.Equal(dec(t, "3")))
	assert.Equal(t, second.OrderID, trades[1].SellOrderID)
	assert.True(t, trades[1].TokenAmount.Equal(dec(t, "1")))

	var stored types.Order
	require.NoError(t, env.db.Where("order_id = ?", second.OrderID).First(&stored).Error)
	assert.Equal(t, types.StatusPartial, stored.Status)
	assert.True(t, stored.RemainingAmount.Equal(dec(t, "2")))
}

func TestRestingPriceWins(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "SELLER", ledger.AssetToken, "2")
	env.fund(t, "BUYER", ledger.AssetFiat, "4000")

	_, _, err := env.engine.Submit("SELLER", types.SideSell, dec(t, "2"), dec(t, "900"))
	require.NoError(t, err)

	_, trades, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "2"), dec(t, "1100"))
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.True(t, trades[0].TokenPrice.Equal(dec(t, "900")))
	assert.True(t, trades[0].TotalValue.Equal(dec(t, "1800")))
	assert.True(t, env.balance(t, "BUYER", ledger.AssetFiat).Equal(dec(t, "2200")))
	assert.True(t, env.balance(t, "SELLER", ledger.AssetFiat).Equal(dec(t, "1800")))
}

func TestSelfTrade(t *testing.T) {
	t.Run("allowed by default", func(t *testing.T) {
		env := newTestEnv(t, DefaultConfig())
		env.fund(t, "ACC_1", ledger.AssetToken, "5")
		env.fund(t, "ACC_1", ledger.AssetFiat, "5000")

		_, _, err := env.engine.Submit("ACC_1", types.SideSell, dec(t, "5"), decimal.Zero)
		require.NoError(t, err)

		_, trades, err := env.engine.Submit("ACC_1", types.SideBuy, dec(t, "5"), decimal.Zero)
		require.NoError(t, err)
		require.Len(t, trades, 1)

		// Both legs settle against the same account, so balances round-trip
		assert.True(t, env.balance(t, "ACC_1", ledger.AssetFiat).Equal(dec(t, "5000")))
		assert.True(t, env.balance(t, "ACC_1", ledger.AssetToken).Equal(dec(t, "5")))
	})

	t.Run("skipped when disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AllowSelfTrade = false
		env := newTestEnv(t, cfg)
		env.fund(t, "ACC_1", ledger.AssetToken, "5")
		env.fund(t, "ACC_1", ledger.AssetFiat, "5000")

		_, _, err := env.engine.Submit("ACC_1", types.SideSell, dec(t, "5"), decimal.Zero)
		require.NoError(t, err)

		order, trades, err := env.engine.Submit("ACC_1", types.SideBuy, dec(t, "5"), decimal.Zero)
		require.NoError(t, err)
		assert.Empty(t, trades)
		assert.Equal(t, types.StatusPending, order.Status)
	})
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "BUYER", ledger.AssetFiat, "20000")
	env.fund(t, "SELLER", ledger.AssetToken, "10")

	order, _, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "5"), decimal.Zero)
	require.NoError(t, err)

	t.Run("only the owner can cancel", func(t *testing.T) {
		_, err := env.engine.Cancel(order.OrderID, "SOMEONE_ELSE")
		assert.ErrorIs(t, err, types.ErrForbidden)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := env.engine.Cancel("ORD_missing", "BUYER")
		assert.ErrorIs(t, err, types.ErrOrderNotFound)
	})

	t.Run("pending order cancels and leaves the book", func(t *testing.T) {
		cancelled, err := env.engine.Cancel(order.OrderID, "BUYER")
		require.NoError(t, err)
		assert.Equal(t, types.StatusCancelled, cancelled.Status)

		// A new sell no longer matches it
		sellOrder, trades, err := env.engine.Submit("SELLER", types.SideSell, dec(t, "5"), decimal.Zero)
		require.NoError(t, err)
		assert.Empty(t, trades)
		assert.Equal(t, types.StatusPending, sellOrder.Status)
	})

	t.Run("cancelled order cannot cancel again", func(t *testing.T) {
		_, err := env.engine.Cancel(order.OrderID, "BUYER")
		assert.ErrorIs(t, err, types.ErrNotCancellable)
	})

	t.Run("completed fills stand after cancelling the remainder", func(t *testing.T) {
		// The resting sell from the previous subtest holds 5 tokens; take 2
		buyOrder, trades, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "2"), decimal.Zero)
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, types.StatusCompleted, buyOrder.Status)

		var sell types.Order
		require.NoError(t, env.db.Where("side = ? AND status = ?", types.SideSell, types.StatusPartial).First(&sell).Error)

		cancelled, err := env.engine.Cancel(sell.OrderID, "SELLER")
		require.NoError(t, err)
		assert.Equal(t, types.StatusCancelled, cancelled.Status)
		assert.True(t, cancelled.RemainingAmount.Equal(dec(t, "3")))

		// The seller keeps the proceeds of the filled part
		assert.True(t, env.balance(t, "SELLER", ledger.AssetFiat).Equal(dec(t, "2000")))
	})
}

func TestSettlementFailureHaltsMatching(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "SELLER_A", ledger.AssetToken, "5")
	env.fund(t, "SELLER_B", ledger.AssetToken, "5")
	env.fund(t, "BUYER", ledger.AssetFiat, "10000")

	_, _, err := env.engine.Submit("SELLER_A", types.SideSell, dec(t, "5"), decimal.Zero)
	require.NoError(t, err)
	second, _, err := env.engine.Submit("SELLER_B", types.SideSell, dec(t, "5"), decimal.Zero)
	require.NoError(t, err)

	// SELLER_B's tokens leave the wallet after the order rested, so the
	// second match step cannot debit them
	require.NoError(t, env.ledger.Debit("SELLER_B", ledger.AssetToken, dec(t, "5"), ledger.TxWithdrawal, "", "spent elsewhere"))

	buyOrder, trades, err := env.engine.Submit("BUYER", types.SideBuy, dec(t, "10"), decimal.Zero)
	require.Error(t, err)
	require.NotNil(t, buyOrder)

	t.Run("committed steps stand", func(t *testing.T) {
		require.Len(t, trades, 1)
		assert.True(t, trades[0].TokenAmount.Equal(dec(t, "5")))
		assert.Equal(t, types.StatusPartial, buyOrder.Status)
		assert.True(t, buyOrder.RemainingAmount.Equal(dec(t, "5")))
	})

	t.Run("failed step moved nothing", func(t *testing.T) {
		assert.True(t, env.balance(t, "BUYER", ledger.AssetFiat).Equal(dec(t, "5000")))
		assert.True(t, env.balance(t, "BUYER", ledger.AssetToken).Equal(dec(t, "5")))
		assert.True(t, env.balance(t, "SELLER_B", ledger.AssetFiat).IsZero())

		var stored types.Order
		require.NoError(t, env.db.Where("order_id = ?", second.OrderID).First(&stored).Error)
		assert.Equal(t, types.StatusPending, stored.Status)
		assert.True(t, stored.RemainingAmount.Equal(dec(t, "5")))
	})
}

func TestTokenConservation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.fund(t, "SELLER_A", ledger.AssetToken, "7")
	env.fund(t, "SELLER_B", ledger.AssetToken, "3")
	env.fund(t, "BUYER_A", ledger.AssetFiat, "6000")
	env.fund(t, "BUYER_B", ledger.AssetFiat, "4000")

	_, _, err := env.engine.Submit("SELLER_A", types.SideSell, dec(t, "7"), decimal.Zero)
	require.NoError(t, err)
	_, _, err = env.engine.Submit("SELLER_B", types.SideSell, dec(t, "3"), decimal.Zero)
	require.NoError(t, err)
	_, _, err = env.engine.Submit("BUYER_A", types.SideBuy, dec(t, "6"), decimal.Zero)
	require.NoError(t, err)
	_, _, err = env.engine.Submit("BUYER_B", types.SideBuy, dec(t, "4"), decimal.Zero)
	require.NoError(t, err)

	accounts := []string{"SELLER_A", "SELLER_B", "BUYER_A", "BUYER_B"}
	tokens := decimal.Zero
	fiat := decimal.Zero
	for _, account := range accounts {
		tokens = tokens.Add(env.balance(t, account, ledger.AssetToken))
		fiat = fiat.Add(env.balance(t, account, ledger.AssetFiat))
	}

	// Trading moves value between accounts but never creates or destroys it
	assert.True(t, tokens.Equal(dec(t, "10")))
	assert.True(t, fiat.Equal(dec(t, "10000")))
}
