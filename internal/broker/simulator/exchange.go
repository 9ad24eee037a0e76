// Package simulator provides a deterministic in-memory broker used for demo
// deployments and tests.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ctrader_gateway/internal/broker"
)

// Operation names accepted by FailNext and Calls.
const (
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpPositions  = "positions"
	OpOrders     = "orders"
	OpAccount    = "account"
	OpSubmit     = "submit"
	OpAmend      = "amend"
	OpClose      = "close"
	OpQuote      = "quote"
	OpSubscribe  = "subscribe"
)

// DefaultBalance is the opening balance of an account the exchange has not seen.
const DefaultBalance = 10000.0

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrInvalidVolume    = errors.New("invalid volume")
	ErrRejectedToken    = errors.New("access token rejected")
)

var defaultQuote = quote{bid: 1.1000, ask: 1.1002}

type quote struct {
	bid, ask float64
}

type account struct {
	balance       float64
	positions     map[int64]broker.Position
	orders        map[int64]broker.Order
	subscriptions map[int64]bool
}

// Exchange is the shared book behind every simulator session. State survives
// session disconnects, so a recreated session sees the same positions.
type Exchange struct {
	mu       sync.Mutex
	accounts map[string]*account
	quotes   map[int64]quote
	calls    map[string]int
	failures map[string][]error
	rejected map[string]bool
	latency  time.Duration
	nextID   int64
	now      func() time.Time
}

// NewExchange returns an empty exchange.
func NewExchange() *Exchange {
	return &Exchange{
		accounts: make(map[string]*account),
		quotes:   make(map[int64]quote),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		rejected: make(map[string]bool),
		nextID:   1000,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for vendor timestamps.
func (e *Exchange) WithClock(now func() time.Time) *Exchange {
	e.now = now
	return e
}

// WithLatency makes every call wait d (or until its context ends).
func (e *Exchange) WithLatency(d time.Duration) *Exchange {
	e.latency = d
	return e
}

// Factory returns a broker.Factory producing sessions on this exchange.
func (e *Exchange) Factory() broker.Factory {
	return func(accountID, environment string) broker.Session {
		return &Session{exchange: e, accountID: accountID, environment: environment}
	}
}

// FailNext makes the next call of op return err.
func (e *Exchange) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = append(e.failures[op], err)
}

// RejectToken makes Connect fail for the given access token.
func (e *Exchange) RejectToken(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejected[token] = true
}

// Calls returns how many times op reached the exchange.
func (e *Exchange) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// SetQuote fixes the bid/ask for a symbol id.
func (e *Exchange) SetQuote(symbolID int64, bid, ask float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quotes[symbolID] = quote{bid: bid, ask: ask}
}

// SetBalance sets an account's cash balance.
func (e *Exchange) SetBalance(accountID, environment string, balance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account(accountID, environment).balance = balance
}

// AddPosition seeds an open position and returns its id.
func (e *Exchange) AddPosition(accountID, environment string, p broker.Position) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.PositionID == 0 {
		p.PositionID = e.id()
	}
	if p.UTCTimestamp == nil {
		p.UTCTimestamp = broker.Ptr(e.now().UnixMilli())
	}
	e.account(accountID, environment).positions[p.PositionID] = p
	return p.PositionID
}

// SetProfit updates the floating profit of an open position.
func (e *Exchange) SetProfit(accountID, environment string, positionID int64, profit float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	acct := e.account(accountID, environment)
	p, ok := acct.positions[positionID]
	if !ok {
		return ErrPositionNotFound
	}
	p.Profit = broker.Ptr(profit)
	acct.positions[positionID] = p
	return nil
}

// Subscribed reports whether the account subscribed to a symbol id.
func (e *Exchange) Subscribed(accountID, environment string, symbolID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account(accountID, environment).subscriptions[symbolID]
}

// enter counts the call, applies latency and pops an injected failure.
func (e *Exchange) enter(ctx context.Context, op string) error {
	if e.latency > 0 {
		select {
		case <-time.After(e.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[op]++
	if queue := e.failures[op]; len(queue) > 0 {
		err := queue[0]
		e.failures[op] = queue[1:]
		return err
	}
	return nil
}

func (e *Exchange) account(accountID, environment string) *account {
	key := accountID + "_" + environment
	a, ok := e.accounts[key]
	if !ok {
		a = &account{
			balance:       DefaultBalance,
			positions:     make(map[int64]broker.Position),
			orders:        make(map[int64]broker.Order),
			subscriptions: make(map[int64]bool),
		}
		e.accounts[key] = a
	}
	return a
}

func (e *Exchange) quote(symbolID int64) quote {
	if q, ok := e.quotes[symbolID]; ok {
		return q
	}
	return defaultQuote
}

func (e *Exchange) id() int64 {
	e.nextID++
	return e.nextID
}

func (e *Exchange) submit(accountID, environment string, req broker.OrderRequest) (broker.Execution, error) {
	if req.Volume <= 0 {
		return broker.Execution{}, fmt.Errorf("%w: %d", ErrInvalidVolume, req.Volume)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acct := e.account(accountID, environment)
	q := e.quote(req.SymbolID)
	now := e.now().UnixMilli()
	orderID := e.id()

	exec := broker.Execution{
		ExecutionID:  e.id(),
		OrderID:      orderID,
		SymbolID:     req.SymbolID,
		TradeSide:    broker.Ptr(req.TradeSide),
		Volume:       broker.Ptr(req.Volume),
		Label:        broker.Ptr(req.Label),
		Comment:      broker.Ptr(req.Comment),
		UTCTimestamp: broker.Ptr(now),
	}

	if req.OrderType != 1 {
		// Pending orders rest on the book until cancelled.
		acct.orders[orderID] = broker.Order{
			OrderID:                orderID,
			SymbolID:               req.SymbolID,
			OrderType:              broker.Ptr(req.OrderType),
			TradeSide:              broker.Ptr(req.TradeSide),
			OrderStatus:            broker.Ptr("ACCEPTED"),
			Volume:                 broker.Ptr(req.Volume),
			LimitPrice:             req.LimitPrice,
			StopPrice:              req.StopPrice,
			Label:                  broker.Ptr(req.Label),
			Comment:                broker.Ptr(req.Comment),
			UTCTimestamp:           broker.Ptr(now),
			UTCLastUpdateTimestamp: broker.Ptr(now),
		}
		return exec, nil
	}

	price := q.ask
	if req.TradeSide == "SELL" {
		price = q.bid
	}
	positionID := e.id()
	acct.positions[positionID] = broker.Position{
		PositionID:             positionID,
		SymbolID:               req.SymbolID,
		TradeSide:              broker.Ptr(req.TradeSide),
		Volume:                 broker.Ptr(req.Volume),
		EntryPrice:             broker.Ptr(price),
		StopLoss:               req.StopLoss,
		TakeProfit:             req.TakeProfit,
		Label:                  broker.Ptr(req.Label),
		Comment:                broker.Ptr(req.Comment),
		UTCTimestamp:           broker.Ptr(now),
		UTCLastUpdateTimestamp: broker.Ptr(now),
	}
	exec.PositionID = broker.Ptr(positionID)
	exec.ExecutionPrice = broker.Ptr(price)
	return exec, nil
}
