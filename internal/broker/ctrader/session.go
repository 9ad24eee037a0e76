package ctrader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/logger"
)

const defaultQuoteTimeout = 5 * time.Second

// Config holds the application registration shared by every session.
type Config struct {
	ClientID     string
	ClientSecret string

	// Endpoint overrides the environment's default host when set.
	Endpoint string

	// Limiter throttles requests across all sessions; nil disables throttling.
	Limiter *rate.Limiter

	QuoteTimeout time.Duration
}

// NewFactory returns a broker.Factory creating cTrader sessions.
func NewFactory(cfg Config) broker.Factory {
	return func(accountID, environment string) broker.Session {
		return NewSession(cfg, accountID, environment)
	}
}

// Session is one authorised Open API connection for one trading account.
type Session struct {
	cfg         Config
	accountID   string
	environment string

	client *client
	ctid   int64

	spotMu     sync.Mutex
	spots      map[int64]broker.Spot
	waiters    map[int64][]chan struct{}
	subscribed map[int64]bool
}

var _ broker.Session = (*Session)(nil)

// NewSession creates an unconnected session.
func NewSession(cfg Config, accountID, environment string) *Session {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = defaultQuoteTimeout
	}
	return &Session{
		cfg:         cfg,
		accountID:   accountID,
		environment: environment,
		spots:       make(map[int64]broker.Spot),
		waiters:     make(map[int64][]chan struct{}),
		subscribed:  make(map[int64]bool),
	}
}

// Connect dials the server, authorises the application and then the account.
func (s *Session) Connect(ctx context.Context, creds broker.Credentials) error {
	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" {
		return ErrMissingApplication
	}

	endpoint := s.cfg.Endpoint
	if endpoint == "" {
		endpoint = Endpoint(s.environment)
	}

	c, err := dial(ctx, endpoint, s.cfg.Limiter, s.handleEvent)
	if err != nil {
		return err
	}

	if _, err := c.call(ctx, typeAppAuthReq, appAuthReq{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
	}, is(typeAppAuthRes)); err != nil {
		_ = c.close()
		return fmt.Errorf("application auth: %w", err)
	}

	if _, err := c.call(ctx, typeAccountAuthReq, accountAuthReq{
		CTIDTraderAccountID: creds.CTIDAccountID,
		AccessToken:         creds.AccessToken,
	}, is(typeAccountAuthRes)); err != nil {
		_ = c.close()
		return fmt.Errorf("account auth: %w", err)
	}

	s.client = c
	s.ctid = creds.CTIDAccountID
	logger.Info(ctx, "ctrader: account authorised", "account", s.accountID, "environment", s.environment)
	return nil
}

func (s *Session) Disconnect(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.close()
	s.client = nil
	return err
}

func (s *Session) Positions(ctx context.Context) ([]broker.Position, error) {
	res, err := s.reconcile(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Position, 0, len(res.Position))
	for _, p := range res.Position {
		out = append(out, toPosition(p))
	}
	return out, nil
}

func (s *Session) Orders(ctx context.Context) ([]broker.Order, error) {
	res, err := s.reconcile(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0, len(res.Order))
	for _, o := range res.Order {
		out = append(out, toOrder(o))
	}
	return out, nil
}

func (s *Session) Account(ctx context.Context) (broker.Account, error) {
	if s.client == nil {
		return broker.Account{}, broker.ErrNotConnected
	}

	env, err := s.client.call(ctx, typeTraderReq, accountReq{CTIDTraderAccountID: s.ctid}, is(typeTraderRes))
	if err != nil {
		return broker.Account{}, err
	}
	var res traderRes
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		return broker.Account{}, fmt.Errorf("decoding trader: %w", err)
	}

	t := res.Trader
	acct := broker.Account{
		AccountID:   s.accountID,
		BrokerName:  t.BrokerName,
		Environment: broker.Ptr(s.environment),
		Balance:     broker.Ptr(money(t.Balance, t.MoneyDigits)),
	}
	if t.LeverageInCents != nil {
		acct.Leverage = broker.Ptr(int(*t.LeverageInCents / 100))
	}
	if t.AccessRights != nil {
		// 0 is FULL_ACCESS; every other right blocks trading.
		acct.TradeAllowed = broker.Ptr(*t.AccessRights == 0)
	}
	return acct, nil
}

func (s *Session) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Execution, error) {
	if s.client == nil {
		return broker.Execution{}, broker.ErrNotConnected
	}

	market := req.OrderType == orderMarket
	env, err := s.client.call(ctx, typeNewOrderReq, newOrderReq{
		CTIDTraderAccountID: s.ctid,
		SymbolID:            req.SymbolID,
		OrderType:           req.OrderType,
		TradeSide:           sideCode(req.TradeSide),
		Volume:              req.Volume,
		LimitPrice:          req.LimitPrice,
		StopPrice:           req.StopPrice,
		StopLoss:            req.StopLoss,
		TakeProfit:          req.TakeProfit,
		Comment:             req.Comment,
		Label:               req.Label,
	}, func(env envelope) bool {
		if env.PayloadType != typeExecutionEvent {
			return false
		}
		t := executionType(env)
		if t == execOrderRejected || t == execOrderCancelled {
			return true
		}
		if market {
			return t == execOrderFilled || t == execOrderPartialFill
		}
		return t == execOrderAccepted
	})
	if err != nil {
		return broker.Execution{}, err
	}

	var ev executionEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return broker.Execution{}, fmt.Errorf("decoding execution: %w", err)
	}
	if ev.ExecutionType == execOrderRejected || ev.ExecutionType == execOrderCancelled {
		code := ""
		if ev.ErrorCode != nil {
			code = *ev.ErrorCode
		}
		return broker.Execution{}, fmt.Errorf("%w: %s", ErrOrderRejected, code)
	}
	return toExecution(ev, req), nil
}

func (s *Session) AmendPosition(ctx context.Context, positionID int64, stopLoss, takeProfit *float64) error {
	if s.client == nil {
		return broker.ErrNotConnected
	}
	_, err := s.client.call(ctx, typeAmendSLTPReq, amendSLTPReq{
		CTIDTraderAccountID: s.ctid,
		PositionID:          positionID,
		StopLoss:            stopLoss,
		TakeProfit:          takeProfit,
	}, is(typeExecutionEvent))
	return err
}

// ClosePosition closes the full volume; the server requires the volume, so
// the position is looked up first.
func (s *Session) ClosePosition(ctx context.Context, positionID int64) error {
	res, err := s.reconcile(ctx)
	if err != nil {
		return err
	}

	var volume int64
	found := false
	for _, p := range res.Position {
		if p.PositionID == positionID {
			found = true
			if p.TradeData.Volume != nil {
				volume = *p.TradeData.Volume
			}
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %d", ErrPositionNotFound, positionID)
	}

	_, err = s.client.call(ctx, typeClosePositionReq, closePositionReq{
		CTIDTraderAccountID: s.ctid,
		PositionID:          positionID,
		Volume:              volume,
	}, func(env envelope) bool {
		if env.PayloadType != typeExecutionEvent {
			return false
		}
		t := executionType(env)
		return t == execOrderFilled || t == execOrderPartialFill || t == execOrderRejected
	})
	return err
}

// Quote returns the last streamed spot, subscribing and waiting for the
// first one when the symbol has not been seen yet.
func (s *Session) Quote(ctx context.Context, symbolID int64) (broker.Spot, error) {
	if s.client == nil {
		return broker.Spot{}, broker.ErrNotConnected
	}

	s.spotMu.Lock()
	if spot, ok := s.spots[symbolID]; ok {
		s.spotMu.Unlock()
		return spot, nil
	}
	wait := make(chan struct{})
	s.waiters[symbolID] = append(s.waiters[symbolID], wait)
	s.spotMu.Unlock()

	if err := s.Subscribe(ctx, []int64{symbolID}); err != nil {
		return broker.Spot{}, err
	}

	timer := time.NewTimer(s.cfg.QuoteTimeout)
	defer timer.Stop()

	select {
	case <-wait:
	case <-timer.C:
		return broker.Spot{}, fmt.Errorf("%w: symbol %d", ErrQuoteTimeout, symbolID)
	case <-ctx.Done():
		return broker.Spot{}, ctx.Err()
	}

	s.spotMu.Lock()
	defer s.spotMu.Unlock()
	return s.spots[symbolID], nil
}

func (s *Session) Subscribe(ctx context.Context, symbolIDs []int64) error {
	if s.client == nil {
		return broker.ErrNotConnected
	}

	s.spotMu.Lock()
	var fresh []int64
	for _, id := range symbolIDs {
		if !s.subscribed[id] {
			fresh = append(fresh, id)
		}
	}
	s.spotMu.Unlock()
	if len(fresh) == 0 {
		return nil
	}

	if _, err := s.client.call(ctx, typeSubscribeSpotsReq, subscribeSpotsReq{
		CTIDTraderAccountID: s.ctid,
		SymbolID:            fresh,
	}, is(typeSubscribeSpotsRes)); err != nil {
		return err
	}

	s.spotMu.Lock()
	for _, id := range fresh {
		s.subscribed[id] = true
	}
	s.spotMu.Unlock()
	return nil
}

func (s *Session) reconcile(ctx context.Context) (reconcileRes, error) {
	if s.client == nil {
		return reconcileRes{}, broker.ErrNotConnected
	}
	env, err := s.client.call(ctx, typeReconcileReq, accountReq{CTIDTraderAccountID: s.ctid}, is(typeReconcileRes))
	if err != nil {
		return reconcileRes{}, err
	}
	var res reconcileRes
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		return reconcileRes{}, fmt.Errorf("decoding reconcile: %w", err)
	}
	return res, nil
}

// handleEvent receives unsolicited server messages.
func (s *Session) handleEvent(env envelope) {
	if env.PayloadType != typeSpotEvent {
		logger.Debug(context.Background(), "ctrader: unhandled event", "payloadType", env.PayloadType, "account", s.accountID)
		return
	}

	var ev spotEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		logger.Warn(context.Background(), "ctrader: bad spot event", "error", err)
		return
	}

	s.spotMu.Lock()
	defer s.spotMu.Unlock()

	// Spot events omit a side that did not change.
	spot := s.spots[ev.SymbolID]
	spot.SymbolID = ev.SymbolID
	if bid := spotPrice(ev.Bid); bid != nil {
		spot.Bid = bid
	}
	if ask := spotPrice(ev.Ask); ask != nil {
		spot.Ask = ask
	}
	s.spots[ev.SymbolID] = spot

	for _, w := range s.waiters[ev.SymbolID] {
		close(w)
	}
	delete(s.waiters, ev.SymbolID)
}

func is(payloadType int) func(envelope) bool {
	return func(env envelope) bool { return env.PayloadType == payloadType }
}

func executionType(env envelope) int {
	var ev struct {
		ExecutionType int `json:"executionType"`
	}
	_ = json.Unmarshal(env.Payload, &ev)
	return ev.ExecutionType
}

func toPosition(p position) broker.Position {
	out := broker.Position{
		PositionID:             p.PositionID,
		SymbolID:               p.TradeData.SymbolID,
		TradeSide:              broker.Ptr(sideName(p.TradeData.TradeSide)),
		Volume:                 p.TradeData.Volume,
		EntryPrice:             p.Price,
		StopLoss:               p.StopLoss,
		TakeProfit:             p.TakeProfit,
		Label:                  p.TradeData.Label,
		Comment:                p.TradeData.Comment,
		UTCTimestamp:           p.TradeData.OpenTimestamp,
		UTCLastUpdateTimestamp: p.UTCLastUpdateTimestamp,
	}
	if p.Swap != nil {
		out.Swap = broker.Ptr(money(*p.Swap, p.MoneyDigits))
	}
	if p.Commission != nil {
		out.Commission = broker.Ptr(money(*p.Commission, p.MoneyDigits))
	}
	return out
}

func toOrder(o order) broker.Order {
	out := broker.Order{
		OrderID:                o.OrderID,
		SymbolID:               o.TradeData.SymbolID,
		OrderType:              o.OrderType,
		TradeSide:              broker.Ptr(sideName(o.TradeData.TradeSide)),
		Volume:                 o.TradeData.Volume,
		LimitPrice:             o.LimitPrice,
		StopPrice:              o.StopPrice,
		ExecutionPrice:         o.ExecutionPrice,
		Label:                  o.TradeData.Label,
		Comment:                o.TradeData.Comment,
		UTCTimestamp:           o.TradeData.OpenTimestamp,
		UTCLastUpdateTimestamp: o.UTCLastUpdateTimestamp,
	}
	if o.OrderStatus != nil {
		if name, ok := orderStatusNames[*o.OrderStatus]; ok {
			out.OrderStatus = broker.Ptr(name)
		}
	}
	return out
}

func toExecution(ev executionEvent, req broker.OrderRequest) broker.Execution {
	out := broker.Execution{
		SymbolID:  req.SymbolID,
		TradeSide: broker.Ptr(req.TradeSide),
		Volume:    broker.Ptr(req.Volume),
		Label:     broker.Ptr(req.Label),
		Comment:   broker.Ptr(req.Comment),
	}
	if ev.Order != nil {
		out.OrderID = ev.Order.OrderID
		out.ExecutionPrice = ev.Order.ExecutionPrice
	}
	if ev.Position != nil {
		out.PositionID = broker.Ptr(ev.Position.PositionID)
	}
	if d := ev.Deal; d != nil {
		out.ExecutionID = d.DealID
		out.OrderID = d.OrderID
		out.PositionID = broker.Ptr(d.PositionID)
		out.UTCTimestamp = d.ExecutionTimestamp
		if d.ExecutionPrice != nil {
			out.ExecutionPrice = d.ExecutionPrice
		}
		if d.FilledVolume != nil {
			out.Volume = d.FilledVolume
		}
		if d.Commission != nil {
			out.Commission = broker.Ptr(money(*d.Commission, d.MoneyDigits))
		}
	}
	return out
}
