package simulator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ctrader_gateway/internal/broker"
)

// Session is a broker.Session backed by an Exchange. Calls succeed whether or
// not Connect ran, which is what degraded (credential-less) pool sessions rely on.
type Session struct {
	exchange    *Exchange
	accountID   string
	environment string
	connected   bool
}

var _ broker.Session = (*Session)(nil)

func (s *Session) Connect(ctx context.Context, creds broker.Credentials) error {
	if err := s.exchange.enter(ctx, OpConnect); err != nil {
		return err
	}
	s.exchange.mu.Lock()
	rejected := s.exchange.rejected[creds.AccessToken]
	s.exchange.mu.Unlock()
	if rejected || strings.TrimSpace(creds.AccessToken) == "" {
		return ErrRejectedToken
	}
	s.connected = true
	return nil
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.connected = false
	return s.exchange.enter(ctx, OpDisconnect)
}

func (s *Session) Positions(ctx context.Context) ([]broker.Position, error) {
	if err := s.exchange.enter(ctx, OpPositions); err != nil {
		return nil, err
	}
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()

	acct := s.exchange.account(s.accountID, s.environment)
	out := make([]broker.Position, 0, len(acct.positions))
	for _, p := range acct.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out, nil
}

func (s *Session) Orders(ctx context.Context) ([]broker.Order, error) {
	if err := s.exchange.enter(ctx, OpOrders); err != nil {
		return nil, err
	}
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()

	acct := s.exchange.account(s.accountID, s.environment)
	out := make([]broker.Order, 0, len(acct.orders))
	for _, o := range acct.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (s *Session) Account(ctx context.Context) (broker.Account, error) {
	if err := s.exchange.enter(ctx, OpAccount); err != nil {
		return broker.Account{}, err
	}
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()

	acct := s.exchange.account(s.accountID, s.environment)
	floating := 0.0
	for _, p := range acct.positions {
		if p.Profit != nil {
			floating += *p.Profit
		}
	}
	return broker.Account{
		AccountID:   s.accountID,
		BrokerName:  broker.Ptr("cTrader Simulator"),
		Environment: broker.Ptr(s.environment),
		Balance:     broker.Ptr(acct.balance),
		Equity:      broker.Ptr(acct.balance + floating),
		Margin:      broker.Ptr(0.0),
	}, nil
}

func (s *Session) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Execution, error) {
	if err := s.exchange.enter(ctx, OpSubmit); err != nil {
		return broker.Execution{}, err
	}
	return s.exchange.submit(s.accountID, s.environment, req)
}

func (s *Session) AmendPosition(ctx context.Context, positionID int64, stopLoss, takeProfit *float64) error {
	if err := s.exchange.enter(ctx, OpAmend); err != nil {
		return err
	}
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()

	acct := s.exchange.account(s.accountID, s.environment)
	p, ok := acct.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPositionNotFound, positionID)
	}
	if stopLoss != nil {
		p.StopLoss = broker.Ptr(*stopLoss)
	}
	if takeProfit != nil {
		p.TakeProfit = broker.Ptr(*takeProfit)
	}
	p.UTCLastUpdateTimestamp = broker.Ptr(s.exchange.now().UnixMilli())
	acct.positions[positionID] = p
	return nil
}

func (s *Session) ClosePosition(ctx context.Context, positionID int64) error {
	if err := s.exchange.enter(ctx, OpClose); err != nil {
		return err
	}
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()

	acct := s.exchange.account(s.accountID, s.environment)
	p, ok := acct.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPositionNotFound, positionID)
	}
	if p.Profit != nil {
		acct.balance += *p.Profit
	}
	delete(acct.positions, positionID)
	return nil
}

func (s *Session) Quote(ctx context.Context, symbolID int64) (broker.Spot, error) {
	if err := s.exchange.enter(ctx, OpQuote); err != nil {
		return broker.Spot{}, err
	}
	s.exchange.mu.Lock()
	q := s.exchange.quote(symbolID)
	s.exchange.mu.Unlock()
	return broker.Spot{SymbolID: symbolID, Bid: broker.Ptr(q.bid), Ask: broker.Ptr(q.ask)}, nil
}

func (s *Session) Subscribe(ctx context.Context, symbolIDs []int64) error {
	if err := s.exchange.enter(ctx, OpSubscribe); err != nil {
		return err
	}
	s.exchange.mu.Lock()
	defer s.exchange.mu.Unlock()

	acct := s.exchange.account(s.accountID, s.environment)
	for _, id := range symbolIDs {
		acct.subscriptions[id] = true
	}
	return nil
}

// Connected reports whether Connect succeeded and Disconnect has not run since.
func (s *Session) Connected() bool {
	return s.connected
}
