package mapper

import (
	"github.com/shopspring/decimal"
)

// VolumeScale is the number of vendor volume units per neutral lot.
const VolumeScale = 100

// Policy lists the value substituted for each field a vendor payload may omit.
// Fields that fall back to another field of the same payload (equity to balance,
// currentPrice to openPrice, unrealizedProfit to profit) are resolved in the
// mapping functions; every other omitted numeric field becomes zero.
type Policy struct {
	TradeSide      string
	TickValue      float64
	Broker         string
	Currency       string
	Environment    string
	Leverage       int
	TradeAllowed   bool
	OrderType      int
	OrderStatus    string
	TickSize       float64
	MinVolume      int64
	MaxVolume      int64
	VolumeStep     int64
	ContractSize   float64
	PipPosition    int
	ProfitCurrency string
	Platform       string
}

// Defaults is the policy applied by every Mapper.
var Defaults = Policy{
	TradeSide:      "BUY",
	TickValue:      1,
	Broker:         "cTrader",
	Currency:       "USD",
	Environment:    "demo",
	Leverage:       100,
	TradeAllowed:   true,
	OrderType:      1,
	OrderStatus:    "PENDING",
	TickSize:       0.00001,
	MinVolume:      100,
	MaxVolume:      10000000,
	VolumeStep:     100,
	ContractSize:   100000,
	PipPosition:    4,
	ProfitCurrency: "USD",
	Platform:       "ctrader",
}

// orderTypeCodes maps neutral action types to vendor order types.
var orderTypeCodes = map[string]int{
	"ORDER_TYPE_BUY":        1,
	"ORDER_TYPE_SELL":       1,
	"ORDER_TYPE_BUY_LIMIT":  2,
	"ORDER_TYPE_SELL_LIMIT": 2,
	"ORDER_TYPE_BUY_STOP":   3,
	"ORDER_TYPE_SELL_STOP":  3,
}

// orderTypeNames maps vendor order types back to neutral types, buy side.
var orderTypeNames = map[int]string{
	1: "ORDER_TYPE_BUY",
	2: "ORDER_TYPE_BUY_LIMIT",
	3: "ORDER_TYPE_BUY_STOP",
	4: "ORDER_TYPE_SELL",
	5: "ORDER_TYPE_BUY",
	6: "ORDER_TYPE_BUY_STOP",
}

var orderStates = map[string]string{
	"PENDING":   "ORDER_STATE_PLACED",
	"ACCEPTED":  "ORDER_STATE_PLACED",
	"FILLED":    "ORDER_STATE_FILLED",
	"CANCELLED": "ORDER_STATE_CANCELED",
	"EXPIRED":   "ORDER_STATE_EXPIRED",
	"REJECTED":  "ORDER_STATE_REJECTED",
}

// ActionTypes returns the accepted neutral action types.
func ActionTypes() []string {
	return []string{
		"ORDER_TYPE_BUY", "ORDER_TYPE_SELL",
		"ORDER_TYPE_BUY_LIMIT", "ORDER_TYPE_SELL_LIMIT",
		"ORDER_TYPE_BUY_STOP", "ORDER_TYPE_SELL_STOP",
	}
}

// IsActionType reports whether s is an accepted neutral action type.
func IsActionType(s string) bool {
	_, ok := orderTypeCodes[s]
	return ok
}

// LotsToVolume converts neutral lots to vendor volume units, truncating
// anything below one unit.
func LotsToVolume(lots float64) int64 {
	return decimal.NewFromFloat(lots).Mul(decimal.NewFromInt(VolumeScale)).IntPart()
}

// VolumeToLots converts vendor volume units to neutral lots.
func VolumeToLots(volume int64) float64 {
	return decimal.NewFromInt(volume).Div(decimal.NewFromInt(VolumeScale)).InexactFloat64()
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
