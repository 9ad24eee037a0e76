// Package broker defines the capability boundary between the pool and a
// brokerage vendor, plus the vendor-shaped payload records that cross it.
package broker

import (
	"context"
	"errors"
)

// Environments a session can target.
const (
	EnvironmentDemo = "demo"
	EnvironmentLive = "live"
)

// ErrNotConnected is returned by adapters when a call needs an open vendor handle.
var ErrNotConnected = errors.New("broker session not connected")

// Credentials authorise one trading account.
type Credentials struct {
	AccessToken   string
	CTIDAccountID int64
}

// Valid reports whether both parts are present.
func (c *Credentials) Valid() bool {
	return c != nil && c.AccessToken != "" && c.CTIDAccountID != 0
}

// Session is one vendor connection for one account in one environment.
// Implementations must be safe for use by a single caller at a time; the pool
// serialises operations per session.
type Session interface {
	// Connect performs the vendor handshake and account authorisation.
	Connect(ctx context.Context, creds Credentials) error

	// Disconnect releases the vendor handle. Safe to call on a session that never connected.
	Disconnect(ctx context.Context) error

	// Positions returns the account's open positions.
	Positions(ctx context.Context) ([]Position, error)

	// Orders returns the account's pending orders.
	Orders(ctx context.Context) ([]Order, error)

	// Account returns the trader account snapshot.
	Account(ctx context.Context) (Account, error)

	// SubmitOrder places a new order and returns its execution.
	SubmitOrder(ctx context.Context, req OrderRequest) (Execution, error)

	// AmendPosition changes stop loss and/or take profit. Nil leaves a level untouched.
	AmendPosition(ctx context.Context, positionID int64, stopLoss, takeProfit *float64) error

	// ClosePosition closes the whole position.
	ClosePosition(ctx context.Context, positionID int64) error

	// Quote returns the latest spot for a vendor symbol id.
	Quote(ctx context.Context, symbolID int64) (Spot, error)

	// Subscribe asks the vendor to stream spots for the given symbol ids.
	Subscribe(ctx context.Context, symbolIDs []int64) error
}

// Factory builds an unconnected Session for an account key.
type Factory func(accountID, environment string) Session

// Position is a vendor position record. Nil fields were omitted by the vendor.
type Position struct {
	PositionID             int64
	SymbolID               int64
	TradeSide              *string // BUY or SELL
	Volume                 *int64  // vendor units, lots x 100
	EntryPrice             *float64
	CurrentPrice           *float64
	Swap                   *float64
	Profit                 *float64
	Commission             *float64
	StopLoss               *float64
	TakeProfit             *float64
	Label                  *string
	Comment                *string
	RealizedProfit         *float64
	UnrealizedProfit       *float64
	UTCTimestamp           *int64 // ms
	UTCLastUpdateTimestamp *int64 // ms
}

// Order is a vendor pending order record.
type Order struct {
	OrderID                int64
	SymbolID               int64
	OrderType              *int
	TradeSide              *string
	OrderStatus            *string
	Volume                 *int64
	LimitPrice             *float64
	StopPrice              *float64
	ExecutionPrice         *float64
	Label                  *string
	Comment                *string
	UTCTimestamp           *int64
	UTCLastUpdateTimestamp *int64
}

// Account is a vendor trader snapshot.
type Account struct {
	AccountID    string
	BrokerName   *string
	Currency     *string
	Environment  *string
	Balance      *float64
	Equity       *float64
	Margin       *float64
	FreeMargin   *float64
	Leverage     *int
	MarginLevel  *float64
	TradeAllowed *bool
}

// Spot is a vendor bid/ask quote.
type Spot struct {
	SymbolID int64
	Bid      *float64
	Ask      *float64
}

// Execution is a vendor execution event.
type Execution struct {
	ExecutionID    int64
	OrderID        int64
	PositionID     *int64
	SymbolID       int64
	TradeSide      *string
	Volume         *int64
	ExecutionPrice *float64
	Commission     *float64
	Swap           *float64
	Profit         *float64
	Label          *string
	Comment        *string
	UTCTimestamp   *int64
}

// OrderRequest is a new order in vendor shape.
type OrderRequest struct {
	SymbolID   int64
	OrderType  int    // 1 market, 2 limit, 3 stop
	TradeSide  string // BUY or SELL
	Volume     int64
	LimitPrice *float64
	StopPrice  *float64
	StopLoss   *float64
	TakeProfit *float64
	Comment    string
	Label      string
}

// Ptr returns a pointer to v. Handy for building vendor records.
func Ptr[T any](v T) *T {
	return &v
}
