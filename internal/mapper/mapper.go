// Package mapper translates between cTrader payloads and the broker-neutral
// (MetaTrader style) records exposed by the gateway.
package mapper

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ctrader_gateway/internal/broker"
	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/symbols"
)

// TradeRequest is a neutral order specification.
type TradeRequest struct {
	Symbol     string   `json:"symbol"`
	ActionType string   `json:"actionType"`
	Volume     float64  `json:"volume"`
	OpenPrice  *float64 `json:"openPrice,omitempty"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	ClientID   string   `json:"clientId,omitempty"`
}

// Position is a neutral open position.
type Position struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	Symbol           string    `json:"symbol"`
	Magic            int64     `json:"magic"`
	OpenPrice        float64   `json:"openPrice"`
	CurrentPrice     float64   `json:"currentPrice"`
	CurrentTickValue float64   `json:"currentTickValue"`
	Volume           float64   `json:"volume"`
	Swap             float64   `json:"swap"`
	Profit           float64   `json:"profit"`
	Commission       float64   `json:"commission"`
	ClientID         string    `json:"clientId"`
	StopLoss         float64   `json:"stopLoss"`
	TakeProfit       float64   `json:"takeProfit"`
	Comment          string    `json:"comment"`
	UpdateTime       time.Time `json:"updateTime"`
	OpenTime         time.Time `json:"openTime"`
	RealizedProfit   float64   `json:"realizedProfit"`
	UnrealizedProfit float64   `json:"unrealizedProfit"`
}

// Order is a neutral pending order.
type Order struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	State         string    `json:"state"`
	Symbol        string    `json:"symbol"`
	Magic         int64     `json:"magic"`
	OpenPrice     float64   `json:"openPrice"`
	CurrentPrice  float64   `json:"currentPrice"`
	Volume        float64   `json:"volume"`
	CurrentVolume float64   `json:"currentVolume"`
	Comment       string    `json:"comment"`
	ClientID      string    `json:"clientId"`
	UpdateTime    time.Time `json:"updateTime"`
	OpenTime      time.Time `json:"openTime"`
}

// AccountInfo is a neutral account snapshot.
type AccountInfo struct {
	ID           string    `json:"id"`
	BrokerTime   time.Time `json:"brokerTime"`
	Broker       string    `json:"broker"`
	Currency     string    `json:"currency"`
	Server       string    `json:"server"`
	Balance      float64   `json:"balance"`
	Equity       float64   `json:"equity"`
	Margin       float64   `json:"margin"`
	FreeMargin   float64   `json:"freeMargin"`
	Leverage     int       `json:"leverage"`
	MarginLevel  float64   `json:"marginLevel"`
	TradeAllowed bool      `json:"tradeAllowed"`
	InvestorMode bool      `json:"investorMode"`
	Platform     string    `json:"platform"`
}

// Price is a neutral quote.
type Price struct {
	Symbol          string    `json:"symbol"`
	Bid             float64   `json:"bid"`
	Ask             float64   `json:"ask"`
	BrokerTime      time.Time `json:"brokerTime"`
	Spread          float64   `json:"spread"`
	ProfitTickValue float64   `json:"profitTickValue"`
	LossTickValue   float64   `json:"lossTickValue"`
}

// SymbolInfo is the neutral instrument specification.
type SymbolInfo struct {
	Symbol         string  `json:"symbol"`
	TickSize       float64 `json:"tickSize"`
	MinVolume      float64 `json:"minVolume"`
	MaxVolume      float64 `json:"maxVolume"`
	VolumeStep     float64 `json:"volumeStep"`
	ContractSize   float64 `json:"contractSize"`
	PipPosition    int     `json:"pipPosition"`
	SpreadFloating bool    `json:"spreadFloating"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	ProfitCurrency string  `json:"profitCurrency"`
}

// Deal is a neutral execution record.
type Deal struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Symbol     string    `json:"symbol"`
	Magic      int64     `json:"magic"`
	OrderID    string    `json:"orderId"`
	PositionID string    `json:"positionId"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Profit     float64   `json:"profit"`
	Time       time.Time `json:"time"`
	ClientID   string    `json:"clientId"`
	Comment    string    `json:"comment"`
}

// Mapper holds the symbol table and a clock; it has no other state.
type Mapper struct {
	symbols *symbols.Table
	now     func() time.Time
}

// New creates a Mapper over a symbol table.
func New(table *symbols.Table) *Mapper {
	return &Mapper{symbols: table, now: time.Now}
}

// WithClock replaces the clock used for substituted timestamps.
func (m *Mapper) WithClock(now func() time.Time) *Mapper {
	m.now = now
	return m
}

// Symbols exposes the underlying table.
func (m *Mapper) Symbols() *symbols.Table {
	return m.symbols
}

// OrderRequest converts a neutral trade request. Unknown symbols are an error.
func (m *Mapper) OrderRequest(req TradeRequest) (broker.OrderRequest, error) {
	entry, ok := m.symbols.ToVendor(req.Symbol)
	if !ok {
		return broker.OrderRequest{}, apperrors.UnknownSymbol(req.Symbol)
	}

	action := req.ActionType
	if action == "" {
		action = "ORDER_TYPE_BUY"
	}

	orderType, ok := orderTypeCodes[action]
	if !ok {
		orderType = Defaults.OrderType
	}

	side := "SELL"
	if strings.Contains(action, "BUY") {
		side = "BUY"
	}

	out := broker.OrderRequest{
		SymbolID:  entry.CTraderID,
		OrderType: orderType,
		TradeSide: side,
		Volume:    LotsToVolume(req.Volume),
		Comment:   req.Comment,
		Label:     req.ClientID,
	}

	openPrice := valueOr(req.OpenPrice, 0)
	switch {
	case strings.Contains(action, "LIMIT"):
		out.LimitPrice = &openPrice
	case strings.Contains(action, "STOP"):
		out.StopPrice = &openPrice
	}

	if req.StopLoss != nil && *req.StopLoss != 0 {
		out.StopLoss = req.StopLoss
	}
	if req.TakeProfit != nil && *req.TakeProfit != 0 {
		out.TakeProfit = req.TakeProfit
	}
	return out, nil
}

// Position converts a vendor position.
func (m *Mapper) Position(p broker.Position) Position {
	entry, known := m.symbols.ByVendorID(p.SymbolID)

	posType := "POSITION_TYPE_BUY"
	if valueOr(p.TradeSide, Defaults.TradeSide) != "BUY" {
		posType = "POSITION_TYPE_SELL"
	}

	entryPrice := valueOr(p.EntryPrice, 0)
	profit := valueOr(p.Profit, 0)
	comment := valueOr(p.Comment, "")

	return Position{
		ID:               strconv.FormatInt(p.PositionID, 10),
		Type:             posType,
		Symbol:           m.symbolName(entry, known, p.SymbolID),
		Magic:            magic(p.Label),
		OpenPrice:        entryPrice,
		CurrentPrice:     valueOr(p.CurrentPrice, entryPrice),
		CurrentTickValue: tickValue(entry, known),
		Volume:           VolumeToLots(valueOr(p.Volume, 0)),
		Swap:             valueOr(p.Swap, 0),
		Profit:           profit,
		Commission:       valueOr(p.Commission, 0),
		ClientID:         comment,
		StopLoss:         valueOr(p.StopLoss, 0),
		TakeProfit:       valueOr(p.TakeProfit, 0),
		Comment:          comment,
		UpdateTime:       m.timestamp(p.UTCLastUpdateTimestamp),
		OpenTime:         m.timestamp(p.UTCTimestamp),
		RealizedProfit:   valueOr(p.RealizedProfit, 0),
		UnrealizedProfit: valueOr(p.UnrealizedProfit, profit),
	}
}

// Order converts a vendor pending order.
func (m *Mapper) Order(o broker.Order) Order {
	entry, known := m.symbols.ByVendorID(o.SymbolID)

	orderType, ok := orderTypeNames[valueOr(o.OrderType, Defaults.OrderType)]
	if !ok {
		orderType = "ORDER_TYPE_BUY"
	}
	if valueOr(o.TradeSide, Defaults.TradeSide) == "SELL" {
		orderType = strings.ReplaceAll(orderType, "BUY", "SELL")
	}

	openPrice := valueOr(o.LimitPrice, 0)
	if openPrice == 0 {
		openPrice = valueOr(o.StopPrice, 0)
	}
	volume := VolumeToLots(valueOr(o.Volume, 0))

	return Order{
		ID:            strconv.FormatInt(o.OrderID, 10),
		Type:          orderType,
		State:         OrderState(valueOr(o.OrderStatus, Defaults.OrderStatus)),
		Symbol:        m.symbolName(entry, known, o.SymbolID),
		Magic:         magic(o.Label),
		OpenPrice:     openPrice,
		CurrentPrice:  valueOr(o.ExecutionPrice, 0),
		Volume:        volume,
		CurrentVolume: volume,
		Comment:       valueOr(o.Comment, ""),
		ClientID:      valueOr(o.Label, ""),
		UpdateTime:    m.timestamp(o.UTCLastUpdateTimestamp),
		OpenTime:      m.timestamp(o.UTCTimestamp),
	}
}

// OrderState maps a vendor order status to a neutral order state.
func OrderState(status string) string {
	if s, ok := orderStates[status]; ok {
		return s
	}
	return "ORDER_STATE_PLACED"
}

// Account converts a vendor account snapshot.
func (m *Mapper) Account(a broker.Account) AccountInfo {
	balance := valueOr(a.Balance, 0)
	return AccountInfo{
		ID:           a.AccountID,
		BrokerTime:   m.now(),
		Broker:       valueOr(a.BrokerName, Defaults.Broker),
		Currency:     valueOr(a.Currency, Defaults.Currency),
		Server:       valueOr(a.Environment, Defaults.Environment),
		Balance:      balance,
		Equity:       valueOr(a.Equity, balance),
		Margin:       valueOr(a.Margin, 0),
		FreeMargin:   valueOr(a.FreeMargin, balance),
		Leverage:     valueOr(a.Leverage, Defaults.Leverage),
		MarginLevel:  valueOr(a.MarginLevel, 0),
		TradeAllowed: valueOr(a.TradeAllowed, Defaults.TradeAllowed),
		InvestorMode: false,
		Platform:     Defaults.Platform,
	}
}

// Price converts a vendor spot.
func (m *Mapper) Price(s broker.Spot) Price {
	entry, known := m.symbols.ByVendorID(s.SymbolID)
	bid := valueOr(s.Bid, 0)
	ask := valueOr(s.Ask, 0)
	tv := tickValue(entry, known)
	return Price{
		Symbol:          m.symbolName(entry, known, s.SymbolID),
		Bid:             bid,
		Ask:             ask,
		BrokerTime:      m.now(),
		Spread:          math.Abs(ask - bid),
		ProfitTickValue: tv,
		LossTickValue:   tv,
	}
}

// SymbolInfo builds the instrument specification for a mapping entry.
// The quote is optional.
func (m *Mapper) SymbolInfo(entry symbols.Entry, quote *Price) SymbolInfo {
	tickSize := Defaults.TickSize
	if entry.Digits != nil {
		tickSize = math.Pow10(-*entry.Digits)
	}
	info := SymbolInfo{
		Symbol:         entry.Symbol,
		TickSize:       tickSize,
		MinVolume:      VolumeToLots(Defaults.MinVolume),
		MaxVolume:      VolumeToLots(Defaults.MaxVolume),
		VolumeStep:     VolumeToLots(Defaults.VolumeStep),
		ContractSize:   Defaults.ContractSize,
		PipPosition:    valueOr(entry.PipPosition, Defaults.PipPosition),
		SpreadFloating: true,
		ProfitCurrency: Defaults.ProfitCurrency,
	}
	if quote != nil {
		info.Bid = quote.Bid
		info.Ask = quote.Ask
	}
	return info
}

// Deal converts a vendor execution event.
func (m *Mapper) Deal(e broker.Execution) Deal {
	entry, known := m.symbols.ByVendorID(e.SymbolID)
	positionID := ""
	if e.PositionID != nil {
		positionID = strconv.FormatInt(*e.PositionID, 10)
	}
	return Deal{
		ID:         strconv.FormatInt(e.ExecutionID, 10),
		Type:       "DEAL_TYPE_" + valueOr(e.TradeSide, Defaults.TradeSide),
		Symbol:     m.symbolName(entry, known, e.SymbolID),
		Magic:      magic(e.Label),
		OrderID:    strconv.FormatInt(e.OrderID, 10),
		PositionID: positionID,
		Volume:     VolumeToLots(valueOr(e.Volume, 0)),
		Price:      valueOr(e.ExecutionPrice, 0),
		Commission: valueOr(e.Commission, 0),
		Swap:       valueOr(e.Swap, 0),
		Profit:     valueOr(e.Profit, 0),
		Time:       m.timestamp(e.UTCTimestamp),
		ClientID:   valueOr(e.Label, ""),
		Comment:    valueOr(e.Comment, ""),
	}
}

func (m *Mapper) symbolName(entry symbols.Entry, known bool, id int64) string {
	if known {
		return entry.Symbol
	}
	return fmt.Sprintf("UNKNOWN_%d", id)
}

func (m *Mapper) timestamp(ms *int64) time.Time {
	if ms == nil {
		return m.now()
	}
	return time.UnixMilli(*ms).UTC()
}

func tickValue(entry symbols.Entry, known bool) float64 {
	if !known {
		return Defaults.TickValue
	}
	return valueOr(entry.TickValue, Defaults.TickValue)
}

// magic reads a numeric label; anything else is zero.
func magic(label *string) int64 {
	if label == nil || *label == "" {
		return 0
	}
	n, err := strconv.ParseInt(*label, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
