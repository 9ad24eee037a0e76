package pool

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/broker/simulator"
	"ctrader_gateway/internal/mapper"
)

func TestGetPositions_CacheWindow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.exchange.AddPosition("1001", "demo", broker.Position{SymbolID: 1, Volume: broker.Ptr(int64(150))})

	first := f.pool.GetPositions(ctx, "1001", "demo")
	require.Len(t, first, 1)
	assert.Equal(t, "EURUSD", first[0].Symbol)
	assert.Equal(t, 1.5, first[0].Volume)

	f.clock.Advance(500 * time.Millisecond)
	second := f.pool.GetPositions(ctx, "1001", "demo")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpPositions), "served from cache")

	f.clock.Advance(600 * time.Millisecond)
	f.pool.GetPositions(ctx, "1001", "demo")
	assert.Equal(t, 2, f.exchange.Calls(simulator.OpPositions), "refreshed after the window")
}

func TestGetPositions_EmptyCacheIsStillFresh(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	assert.Empty(t, f.pool.GetPositions(ctx, "1001", "demo"))
	assert.Empty(t, f.pool.GetPositions(ctx, "1001", "demo"))
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpPositions))
}

func TestGetOrders_CacheWindow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res := f.pool.ExecuteTrade(ctx, "1001", "demo", mapper.TradeRequest{Symbol: "EURUSD", ActionType: "ORDER_TYPE_BUY_LIMIT", Volume: 1, OpenPrice: broker.Ptr(1.05)})
	require.True(t, res.Success)

	orders := f.pool.GetOrders(ctx, "1001", "demo")
	require.Len(t, orders, 1)
	assert.Equal(t, "ORDER_TYPE_BUY_LIMIT", orders[0].Type)
	assert.Equal(t, "ORDER_STATE_PLACED", orders[0].State)

	f.pool.GetOrders(ctx, "1001", "demo")
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpOrders))

	f.clock.Advance(time.Second)
	f.pool.GetOrders(ctx, "1001", "demo")
	assert.Equal(t, 2, f.exchange.Calls(simulator.OpOrders))
}

func TestGetAccountInfo_CacheWindow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.exchange.SetBalance("1001", "demo", 2500)

	info := f.pool.GetAccountInfo(ctx, "1001", "demo")
	require.NotNil(t, info)
	assert.Equal(t, 2500.0, info.Balance)
	assert.Equal(t, "demo", info.Server)

	f.clock.Advance(4 * time.Second)
	require.NotNil(t, f.pool.GetAccountInfo(ctx, "1001", "demo"))
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpAccount))

	f.clock.Advance(time.Second)
	require.NotNil(t, f.pool.GetAccountInfo(ctx, "1001", "demo"))
	assert.Equal(t, 2, f.exchange.Calls(simulator.OpAccount))
}

func TestQueries_VendorFailureDegrades(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	boom := errors.New("vendor timeout")

	f.exchange.FailNext(simulator.OpPositions, boom)
	positions := f.pool.GetPositions(ctx, "1001", "demo")
	assert.NotNil(t, positions)
	assert.Empty(t, positions)

	f.exchange.FailNext(simulator.OpOrders, boom)
	orders := f.pool.GetOrders(ctx, "1001", "demo")
	assert.NotNil(t, orders)
	assert.Empty(t, orders)

	f.exchange.FailNext(simulator.OpAccount, boom)
	assert.Nil(t, f.pool.GetAccountInfo(ctx, "1001", "demo"))

	assert.Equal(t, int64(3), f.pool.Stats().Errors)
	s, ok := f.pool.Lookup("1001", "demo")
	require.True(t, ok)
	assert.Equal(t, 3, s.Errors())
}

func TestExecuteTrade_Success(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	res := f.pool.ExecuteTrade(ctx, "1001", "demo", mapper.TradeRequest{
		Symbol:     "EURUSD",
		ActionType: "ORDER_TYPE_BUY",
		Volume:     0.1,
		StopLoss:   broker.Ptr(1.09),
		ClientID:   "7",
	})
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.OrderID)
	assert.NotEmpty(t, res.PositionID)
	assert.Equal(t, 0.1, res.ExecutedVolume)
	assert.Equal(t, 1.1002, res.ExecutedPrice)
	assert.Empty(t, res.Error)
	assert.Equal(t, int64(1), f.pool.Stats().TradesExecuted)

	require.Len(t, f.recorder.events, 1)
	ev := f.recorder.events[0]
	assert.Equal(t, TradeOpen, ev.Kind)
	assert.Equal(t, "EURUSD", ev.Symbol)
	assert.Equal(t, "BUY", ev.Side)
	assert.Equal(t, res.PositionID, ev.PositionID)

	positions := f.pool.GetPositions(ctx, "1001", "demo")
	require.Len(t, positions, 1)
	assert.Equal(t, 1.09, positions[0].StopLoss)
}

func TestExecuteTrade_UnknownSymbol(t *testing.T) {
	f := newFixture(t, Options{})

	res := f.pool.ExecuteTrade(context.Background(), "1001", "demo", mapper.TradeRequest{Symbol: "BTCUSD", ActionType: "ORDER_TYPE_BUY", Volume: 1})

	assert.False(t, res.Success)
	assert.Equal(t, "Unknown symbol: BTCUSD", res.Error)
	stats := f.pool.Stats()
	assert.Equal(t, int64(0), stats.TradesExecuted)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, 0, f.exchange.Calls(simulator.OpSubmit))
	assert.Empty(t, f.recorder.events)
}

func TestExecuteTrade_VendorFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.exchange.FailNext(simulator.OpSubmit, errors.New("market closed"))

	res := f.pool.ExecuteTrade(context.Background(), "1001", "demo", mapper.TradeRequest{Symbol: "EURUSD", ActionType: "ORDER_TYPE_SELL", Volume: 1})

	assert.False(t, res.Success)
	assert.Equal(t, "market closed", res.Error)
	assert.Equal(t, int64(0), f.pool.Stats().TradesExecuted)
	assert.Equal(t, int64(1), f.pool.Stats().Errors)
}

func TestModifyPosition(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.exchange.AddPosition("1001", "demo", broker.Position{SymbolID: 1})
	positionID := strconv.FormatInt(id, 10)

	assert.True(t, f.pool.ModifyPosition(ctx, "1001", "demo", positionID, broker.Ptr(1.01), broker.Ptr(1.2)))

	positions := f.pool.GetPositions(ctx, "1001", "demo")
	require.Len(t, positions, 1)
	assert.Equal(t, 1.01, positions[0].StopLoss)
	assert.Equal(t, 1.2, positions[0].TakeProfit)
	assert.Equal(t, int64(0), f.pool.Stats().Errors)
}

func TestModifyPosition_FailureCountsOneError(t *testing.T) {
	f := newFixture(t, Options{})
	f.exchange.FailNext(simulator.OpAmend, errors.New("TRADING_BAD_STOPS"))

	ok := f.pool.ModifyPosition(context.Background(), "1001", "demo", "123", broker.Ptr(1.0), nil)

	assert.False(t, ok)
	assert.Equal(t, int64(1), f.pool.Stats().Errors)
}

func TestModifyPosition_InvalidID(t *testing.T) {
	f := newFixture(t, Options{})

	assert.False(t, f.pool.ModifyPosition(context.Background(), "1001", "demo", "abc", nil, nil))
	assert.Equal(t, int64(1), f.pool.Stats().Errors)
	assert.Equal(t, 0, f.exchange.Calls(simulator.OpAmend))
}

func TestClosePosition_RemovesFromCache(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	keep := f.exchange.AddPosition("1001", "demo", broker.Position{SymbolID: 1})
	gone := f.exchange.AddPosition("1001", "demo", broker.Position{SymbolID: 2, TradeSide: broker.Ptr("SELL"), Volume: broker.Ptr(int64(200))})
	require.NoError(t, f.exchange.SetProfit("1001", "demo", gone, -12))

	require.Len(t, f.pool.GetPositions(ctx, "1001", "demo"), 2)

	assert.True(t, f.pool.ClosePosition(ctx, "1001", "demo", strconv.FormatInt(gone, 10)))

	positions := f.pool.GetPositions(ctx, "1001", "demo")
	require.Len(t, positions, 1)
	assert.Equal(t, strconv.FormatInt(keep, 10), positions[0].ID)
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpPositions), "cache still fresh, closed position dropped")

	require.Len(t, f.recorder.events, 1)
	ev := f.recorder.events[0]
	assert.Equal(t, TradeClose, ev.Kind)
	assert.Equal(t, "GBPUSD", ev.Symbol)
	assert.Equal(t, "SELL", ev.Side)
	assert.Equal(t, 2.0, ev.Volume)
	assert.Equal(t, -12.0, ev.Profit)
}

func TestClosePosition_Failure(t *testing.T) {
	f := newFixture(t, Options{})

	assert.False(t, f.pool.ClosePosition(context.Background(), "1001", "demo", "999"))
	assert.Equal(t, int64(1), f.pool.Stats().Errors)
	assert.Empty(t, f.recorder.events)
}

func TestGetPrice(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.exchange.SetQuote(1, 1.0850, 1.0852)

	assert.Nil(t, f.pool.GetPrice(ctx, "EURUSD"), "no session to quote from")
	assert.Nil(t, f.pool.GetPrice(ctx, "BTCUSD"))

	_, err := f.pool.GetConnection(ctx, "1001", "demo", nil)
	require.NoError(t, err)

	price := f.pool.GetPrice(ctx, "EURUSD")
	require.NotNil(t, price)
	assert.Equal(t, "EURUSD", price.Symbol)
	assert.Equal(t, 1.0850, price.Bid)
	assert.InDelta(t, 0.0002, price.Spread, 1e-9)

	f.pool.GetPrice(ctx, "EURUSD")
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpQuote), "served from price cache")

	f.clock.Advance(time.Second)
	f.pool.GetPrice(ctx, "EURUSD")
	assert.Equal(t, 2, f.exchange.Calls(simulator.OpQuote))
}

func TestGetPrice_SkipsFailingSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, account := range []string{"1", "2"} {
		_, err := f.pool.GetConnection(ctx, account, "demo", nil)
		require.NoError(t, err)
	}
	f.exchange.FailNext(simulator.OpQuote, errors.New("no spot"))

	price := f.pool.GetPrice(ctx, "XAUUSD")
	require.NotNil(t, price)
	assert.Equal(t, 1.1000, price.Bid)
	assert.Equal(t, int64(1), f.pool.Stats().Errors)
}

func TestGetAllPrices(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.pool.GetConnection(ctx, "1001", "demo", nil)
	require.NoError(t, err)

	prices := f.pool.GetAllPrices(ctx)
	assert.Len(t, prices, 3)
	assert.Contains(t, prices, "GBPUSD")
}

func TestStreaming(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	assert.True(t, f.pool.InitializeStreaming(ctx, "1001", "demo"))
	assert.False(t, f.pool.SubscribeSymbol(ctx, "BTCUSD", "1001", "demo"))

	assert.True(t, f.pool.SubscribeSymbol(ctx, "EURUSD", "1001", "demo"))
	assert.True(t, f.exchange.Subscribed("1001", "demo", 1))

	_, err := f.pool.GetConnection(ctx, "1002", "live", nil)
	require.NoError(t, err)
	assert.True(t, f.pool.SubscribeSymbol(ctx, "XAUUSD", "", ""))
	assert.True(t, f.exchange.Subscribed("1001", "demo", 41))
	assert.True(t, f.exchange.Subscribed("1002", "live", 41))
}

func TestAccountsSummaryAndCachedAccounts(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.exchange.SetBalance("1001", "demo", 1000)
	id := f.exchange.AddPosition("1001", "demo", broker.Position{SymbolID: 1})
	require.NoError(t, f.exchange.SetProfit("1001", "demo", id, -50))

	assert.Empty(t, f.pool.CachedAccounts())

	f.pool.GetPositions(ctx, "1001", "demo")
	summary := f.pool.AccountsSummary(ctx)
	require.Contains(t, summary, "1001")
	assert.Equal(t, 1000.0, summary["1001"].Balance)
	assert.Equal(t, 950.0, summary["1001"].Equity)
	assert.Equal(t, 1, summary["1001"].OpenPositions)
	assert.Equal(t, "demo", summary["1001"].Environment)

	before := f.pool.Stats().ConnectionsReused
	cached := f.pool.CachedAccounts()
	require.Len(t, cached, 1)
	assert.Equal(t, "1001", cached[0].AccountID)
	assert.Equal(t, 950.0, cached[0].Info.Equity)
	assert.True(t, cached[0].FetchedAt.Equal(f.clock.Now()))
	assert.Equal(t, before, f.pool.Stats().ConnectionsReused, "cached accounts do not touch sessions")
}
