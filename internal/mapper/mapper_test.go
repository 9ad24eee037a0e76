package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrader_gateway/internal/broker"
	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/symbols"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	table, err := symbols.New([]symbols.Entry{
		{Symbol: "EURUSD", CTraderID: 1, TickValue: broker.Ptr(1.0), PipPosition: broker.Ptr(4), Digits: broker.Ptr(5)},
		{Symbol: "XAUUSD", CTraderID: 41, TickValue: broker.Ptr(0.1), PipPosition: broker.Ptr(2)},
	})
	require.NoError(t, err)
	return New(table).WithClock(func() time.Time { return fixedNow })
}

func TestOrderRequest_Market(t *testing.T) {
	m := newTestMapper(t)

	out, err := m.OrderRequest(TradeRequest{
		Symbol:     "EURUSD",
		ActionType: "ORDER_TYPE_SELL",
		Volume:     0.29,
		StopLoss:   broker.Ptr(1.2),
		TakeProfit: broker.Ptr(0.0),
		Comment:    "grid",
		ClientID:   "77",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), out.SymbolID)
	assert.Equal(t, 1, out.OrderType)
	assert.Equal(t, "SELL", out.TradeSide)
	assert.Equal(t, int64(29), out.Volume)
	assert.Nil(t, out.LimitPrice)
	assert.Nil(t, out.StopPrice)
	require.NotNil(t, out.StopLoss)
	assert.Equal(t, 1.2, *out.StopLoss)
	assert.Nil(t, out.TakeProfit, "zero take profit is omitted")
	assert.Equal(t, "grid", out.Comment)
	assert.Equal(t, "77", out.Label)
}

func TestOrderRequest_PendingTypes(t *testing.T) {
	m := newTestMapper(t)

	tests := []struct {
		action    string
		wantType  int
		wantSide  string
		wantLimit bool
		wantStop  bool
	}{
		{"ORDER_TYPE_BUY", 1, "BUY", false, false},
		{"ORDER_TYPE_BUY_LIMIT", 2, "BUY", true, false},
		{"ORDER_TYPE_SELL_LIMIT", 2, "SELL", true, false},
		{"ORDER_TYPE_BUY_STOP", 3, "BUY", false, true},
		{"ORDER_TYPE_SELL_STOP", 3, "SELL", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			out, err := m.OrderRequest(TradeRequest{Symbol: "EURUSD", ActionType: tt.action, Volume: 1, OpenPrice: broker.Ptr(1.05)})
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, out.OrderType)
			assert.Equal(t, tt.wantSide, out.TradeSide)
			assert.Equal(t, tt.wantLimit, out.LimitPrice != nil)
			assert.Equal(t, tt.wantStop, out.StopPrice != nil)
			if tt.wantLimit {
				assert.Equal(t, 1.05, *out.LimitPrice)
			}
			if tt.wantStop {
				assert.Equal(t, 1.05, *out.StopPrice)
			}
		})
	}
}

func TestOrderRequest_UnknownSymbol(t *testing.T) {
	m := newTestMapper(t)

	_, err := m.OrderRequest(TradeRequest{Symbol: "BTCUSD", ActionType: "ORDER_TYPE_BUY", Volume: 1})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnknownSymbol(err))
	assert.Equal(t, "Unknown symbol: BTCUSD", err.Error())
}

func TestPosition_Defaults(t *testing.T) {
	m := newTestMapper(t)

	got := m.Position(broker.Position{PositionID: 9, SymbolID: 777})

	assert.Equal(t, "9", got.ID)
	assert.Equal(t, "POSITION_TYPE_BUY", got.Type)
	assert.Equal(t, "UNKNOWN_777", got.Symbol)
	assert.Equal(t, int64(0), got.Magic)
	assert.Equal(t, 1.0, got.CurrentTickValue)
	assert.Equal(t, 0.0, got.Volume)
	assert.Equal(t, fixedNow, got.OpenTime)
	assert.Equal(t, fixedNow, got.UpdateTime)
}

func TestPosition_Full(t *testing.T) {
	m := newTestMapper(t)

	got := m.Position(broker.Position{
		PositionID:             123,
		SymbolID:               41,
		TradeSide:              broker.Ptr("SELL"),
		Volume:                 broker.Ptr(int64(250)),
		EntryPrice:             broker.Ptr(2010.5),
		Profit:                 broker.Ptr(-12.5),
		Label:                  broker.Ptr("20240101"),
		Comment:                broker.Ptr("hedge"),
		UTCTimestamp:           broker.Ptr(int64(1700000000000)),
		UTCLastUpdateTimestamp: broker.Ptr(int64(1700000500000)),
	})

	assert.Equal(t, "POSITION_TYPE_SELL", got.Type)
	assert.Equal(t, "XAUUSD", got.Symbol)
	assert.Equal(t, int64(20240101), got.Magic)
	assert.Equal(t, 2.5, got.Volume)
	assert.Equal(t, 2010.5, got.CurrentPrice, "current price falls back to entry price")
	assert.Equal(t, 0.1, got.CurrentTickValue)
	assert.Equal(t, -12.5, got.UnrealizedProfit, "unrealized falls back to profit")
	assert.Equal(t, "hedge", got.ClientID)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got.OpenTime)
	assert.Equal(t, time.UnixMilli(1700000500000).UTC(), got.UpdateTime)
}

func TestOrder_TypeAndState(t *testing.T) {
	m := newTestMapper(t)

	tests := []struct {
		name      string
		order     broker.Order
		wantType  string
		wantState string
		wantOpen  float64
	}{
		{
			name:      "defaults",
			order:     broker.Order{OrderID: 1, SymbolID: 1},
			wantType:  "ORDER_TYPE_BUY",
			wantState: "ORDER_STATE_PLACED",
		},
		{
			name:      "sell limit",
			order:     broker.Order{OrderID: 2, SymbolID: 1, OrderType: broker.Ptr(2), TradeSide: broker.Ptr("SELL"), LimitPrice: broker.Ptr(1.1), OrderStatus: broker.Ptr("ACCEPTED")},
			wantType:  "ORDER_TYPE_SELL_LIMIT",
			wantState: "ORDER_STATE_PLACED",
			wantOpen:  1.1,
		},
		{
			name:      "stop limit from stop price",
			order:     broker.Order{OrderID: 3, SymbolID: 1, OrderType: broker.Ptr(6), StopPrice: broker.Ptr(1.2), OrderStatus: broker.Ptr("CANCELLED")},
			wantType:  "ORDER_TYPE_BUY_STOP",
			wantState: "ORDER_STATE_CANCELED",
			wantOpen:  1.2,
		},
		{
			name:      "unknown type",
			order:     broker.Order{OrderID: 4, SymbolID: 1, OrderType: broker.Ptr(99), TradeSide: broker.Ptr("SELL"), OrderStatus: broker.Ptr("FILLED")},
			wantType:  "ORDER_TYPE_SELL",
			wantState: "ORDER_STATE_FILLED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Order(tt.order)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantState, got.State)
			assert.Equal(t, tt.wantOpen, got.OpenPrice)
		})
	}
}

func TestOrderState(t *testing.T) {
	assert.Equal(t, "ORDER_STATE_EXPIRED", OrderState("EXPIRED"))
	assert.Equal(t, "ORDER_STATE_REJECTED", OrderState("REJECTED"))
	assert.Equal(t, "ORDER_STATE_PLACED", OrderState("SOMETHING_NEW"))
}

func TestAccount_Defaults(t *testing.T) {
	m := newTestMapper(t)

	got := m.Account(broker.Account{AccountID: "1001", Balance: broker.Ptr(5000.0)})

	assert.Equal(t, "1001", got.ID)
	assert.Equal(t, "cTrader", got.Broker)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, "demo", got.Server)
	assert.Equal(t, 5000.0, got.Equity)
	assert.Equal(t, 5000.0, got.FreeMargin)
	assert.Equal(t, 100, got.Leverage)
	assert.True(t, got.TradeAllowed)
	assert.False(t, got.InvestorMode)
	assert.Equal(t, "ctrader", got.Platform)
	assert.Equal(t, fixedNow, got.BrokerTime)
}

func TestPrice(t *testing.T) {
	m := newTestMapper(t)

	got := m.Price(broker.Spot{SymbolID: 1, Bid: broker.Ptr(1.1000), Ask: broker.Ptr(1.1002)})
	assert.Equal(t, "EURUSD", got.Symbol)
	assert.InDelta(t, 0.0002, got.Spread, 1e-9)
	assert.Equal(t, 1.0, got.ProfitTickValue)

	missing := m.Price(broker.Spot{SymbolID: 5})
	assert.Equal(t, "UNKNOWN_5", missing.Symbol)
	assert.Equal(t, 0.0, missing.Bid)
	assert.Equal(t, 0.0, missing.Spread)
}

func TestSymbolInfo(t *testing.T) {
	m := newTestMapper(t)

	eur, _ := m.Symbols().ToVendor("EURUSD")
	info := m.SymbolInfo(eur, &Price{Bid: 1.1, Ask: 1.2})
	assert.InDelta(t, 0.00001, info.TickSize, 1e-12)
	assert.Equal(t, 1.0, info.MinVolume)
	assert.Equal(t, 100000.0, info.MaxVolume)
	assert.Equal(t, 1.0, info.VolumeStep)
	assert.Equal(t, 4, info.PipPosition)
	assert.Equal(t, 1.1, info.Bid)

	gold, _ := m.Symbols().ToVendor("XAUUSD")
	info = m.SymbolInfo(gold, nil)
	assert.Equal(t, 2, info.PipPosition)
	assert.Equal(t, 0.00001, info.TickSize)
}

func TestDeal(t *testing.T) {
	m := newTestMapper(t)

	got := m.Deal(broker.Execution{
		ExecutionID:    5,
		OrderID:        6,
		PositionID:     broker.Ptr(int64(7)),
		SymbolID:       1,
		TradeSide:      broker.Ptr("SELL"),
		Volume:         broker.Ptr(int64(150)),
		ExecutionPrice: broker.Ptr(1.09),
	})
	assert.Equal(t, "DEAL_TYPE_SELL", got.Type)
	assert.Equal(t, "7", got.PositionID)
	assert.Equal(t, 1.5, got.Volume)
	assert.Equal(t, fixedNow, got.Time)
}

func TestVolumeConversion(t *testing.T) {
	assert.Equal(t, int64(29), LotsToVolume(0.29))
	assert.Equal(t, int64(1), LotsToVolume(0.015))
	assert.Equal(t, int64(100000), LotsToVolume(1000))
	assert.Equal(t, 0.29, VolumeToLots(29))
	assert.Equal(t, 1000.0, VolumeToLots(100000))
}
