package ctrader

import (
	"encoding/json"
	"math"
)

// Payload types of the Open API JSON protocol.
const (
	typeHeartbeat         = 51
	typeAppAuthReq        = 2100
	typeAppAuthRes        = 2101
	typeAccountAuthReq    = 2102
	typeAccountAuthRes    = 2103
	typeNewOrderReq       = 2106
	typeAmendSLTPReq      = 2110
	typeClosePositionReq  = 2111
	typeTraderReq         = 2121
	typeTraderRes         = 2122
	typeReconcileReq      = 2124
	typeReconcileRes      = 2125
	typeExecutionEvent    = 2126
	typeSubscribeSpotsReq = 2127
	typeSubscribeSpotsRes = 2128
	typeSpotEvent         = 2131
	typeOrderErrorEvent   = 2132
	typeErrorRes          = 2142
)

// Execution types carried by execution events.
const (
	execOrderAccepted    = 2
	execOrderFilled      = 3
	execOrderReplaced    = 4
	execOrderCancelled   = 5
	execOrderRejected    = 7
	execOrderPartialFill = 11
)

const (
	sideBuy  = 1
	sideSell = 2

	orderMarket = 1
)

// spotScale converts integer spot prices to decimals.
const spotScale = 100000

var orderStatusNames = map[int]string{
	1: "ACCEPTED",
	2: "FILLED",
	3: "REJECTED",
	4: "EXPIRED",
	5: "CANCELLED",
}

type envelope struct {
	ClientMsgID string          `json:"clientMsgId,omitempty"`
	PayloadType int             `json:"payloadType"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type appAuthReq struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type accountAuthReq struct {
	CTIDTraderAccountID int64  `json:"ctidTraderAccountId"`
	AccessToken         string `json:"accessToken"`
}

type accountReq struct {
	CTIDTraderAccountID int64 `json:"ctidTraderAccountId"`
}

type traderRes struct {
	Trader struct {
		CTIDTraderAccountID int64   `json:"ctidTraderAccountId"`
		Balance             int64   `json:"balance"`
		LeverageInCents     *int64  `json:"leverageInCents,omitempty"`
		BrokerName          *string `json:"brokerName,omitempty"`
		MoneyDigits         *int    `json:"moneyDigits,omitempty"`
		IsLive              *bool   `json:"isLive,omitempty"`
		AccessRights        *int    `json:"accessRights,omitempty"`
	} `json:"trader"`
}

type tradeData struct {
	SymbolID      int64   `json:"symbolId"`
	Volume        *int64  `json:"volume,omitempty"`
	TradeSide     int     `json:"tradeSide"`
	OpenTimestamp *int64  `json:"openTimestamp,omitempty"`
	Label         *string `json:"label,omitempty"`
	Comment       *string `json:"comment,omitempty"`
}

type position struct {
	PositionID             int64     `json:"positionId"`
	TradeData              tradeData `json:"tradeData"`
	Swap                   *int64    `json:"swap,omitempty"`
	Price                  *float64  `json:"price,omitempty"`
	StopLoss               *float64  `json:"stopLoss,omitempty"`
	TakeProfit             *float64  `json:"takeProfit,omitempty"`
	Commission             *int64    `json:"commission,omitempty"`
	MoneyDigits            *int      `json:"moneyDigits,omitempty"`
	UTCLastUpdateTimestamp *int64    `json:"utcLastUpdateTimestamp,omitempty"`
}

type order struct {
	OrderID                int64     `json:"orderId"`
	TradeData              tradeData `json:"tradeData"`
	OrderType              *int      `json:"orderType,omitempty"`
	OrderStatus            *int      `json:"orderStatus,omitempty"`
	ExecutionPrice         *float64  `json:"executionPrice,omitempty"`
	LimitPrice             *float64  `json:"limitPrice,omitempty"`
	StopPrice              *float64  `json:"stopPrice,omitempty"`
	PositionID             *int64    `json:"positionId,omitempty"`
	UTCLastUpdateTimestamp *int64    `json:"utcLastUpdateTimestamp,omitempty"`
}

type reconcileRes struct {
	Position []position `json:"position"`
	Order    []order    `json:"order"`
}

type deal struct {
	DealID             int64    `json:"dealId"`
	OrderID            int64    `json:"orderId"`
	PositionID         int64    `json:"positionId"`
	Volume             *int64   `json:"volume,omitempty"`
	FilledVolume       *int64   `json:"filledVolume,omitempty"`
	SymbolID           int64    `json:"symbolId"`
	ExecutionTimestamp *int64   `json:"executionTimestamp,omitempty"`
	ExecutionPrice     *float64 `json:"executionPrice,omitempty"`
	TradeSide          int      `json:"tradeSide"`
	Commission         *int64   `json:"commission,omitempty"`
	MoneyDigits        *int     `json:"moneyDigits,omitempty"`
}

type executionEvent struct {
	ExecutionType int       `json:"executionType"`
	Position      *position `json:"position,omitempty"`
	Order         *order    `json:"order,omitempty"`
	Deal          *deal     `json:"deal,omitempty"`
	ErrorCode     *string   `json:"errorCode,omitempty"`
}

type newOrderReq struct {
	CTIDTraderAccountID int64    `json:"ctidTraderAccountId"`
	SymbolID            int64    `json:"symbolId"`
	OrderType           int      `json:"orderType"`
	TradeSide           int      `json:"tradeSide"`
	Volume              int64    `json:"volume"`
	LimitPrice          *float64 `json:"limitPrice,omitempty"`
	StopPrice           *float64 `json:"stopPrice,omitempty"`
	StopLoss            *float64 `json:"stopLoss,omitempty"`
	TakeProfit          *float64 `json:"takeProfit,omitempty"`
	Comment             string   `json:"comment,omitempty"`
	Label               string   `json:"label,omitempty"`
}

type amendSLTPReq struct {
	CTIDTraderAccountID int64    `json:"ctidTraderAccountId"`
	PositionID          int64    `json:"positionId"`
	StopLoss            *float64 `json:"stopLoss,omitempty"`
	TakeProfit          *float64 `json:"takeProfit,omitempty"`
}

type closePositionReq struct {
	CTIDTraderAccountID int64 `json:"ctidTraderAccountId"`
	PositionID          int64 `json:"positionId"`
	Volume              int64 `json:"volume"`
}

type subscribeSpotsReq struct {
	CTIDTraderAccountID int64   `json:"ctidTraderAccountId"`
	SymbolID            []int64 `json:"symbolId"`
}

type spotEvent struct {
	CTIDTraderAccountID int64   `json:"ctidTraderAccountId"`
	SymbolID            int64   `json:"symbolId"`
	Bid                 *uint64 `json:"bid,omitempty"`
	Ask                 *uint64 `json:"ask,omitempty"`
}

type errorRes struct {
	ErrorCode   string `json:"errorCode"`
	Description string `json:"description,omitempty"`
}

func sideName(side int) string {
	if side == sideSell {
		return "SELL"
	}
	return "BUY"
}

func sideCode(side string) int {
	if side == "SELL" {
		return sideSell
	}
	return sideBuy
}

// money scales an integer amount by 10^-digits; cTrader defaults to two digits.
func money(v int64, digits *int) float64 {
	d := 2
	if digits != nil {
		d = *digits
	}
	return float64(v) / math.Pow10(d)
}

func spotPrice(v *uint64) *float64 {
	if v == nil {
		return nil
	}
	p := float64(*v) / spotScale
	return &p
}
