package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/mapper"
)

// ErrSessionLost is returned when a session was evicted between lookup and use twice in a row.
var ErrSessionLost = errors.New("session disconnected during acquire")

// TradeResult is the outcome of ExecuteTrade. Failures carry Success false
// and an error message; they are never returned as Go errors.
type TradeResult struct {
	Success        bool    `json:"success"`
	OrderID        string  `json:"orderId,omitempty"`
	PositionID     string  `json:"positionId,omitempty"`
	ExecutedVolume float64 `json:"executedVolume,omitempty"`
	ExecutedPrice  float64 `json:"executedPrice,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// acquire returns a connected session with its operation lock held.
// Connection failures are already counted by GetConnection.
func (p *Pool) acquire(ctx context.Context, accountID, environment string) (*Session, func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		s, err := p.GetConnection(ctx, accountID, environment, nil)
		if err != nil {
			return nil, nil, err
		}
		s.opMu.Lock()
		if s.Connected() {
			return s, s.opMu.Unlock, nil
		}
		s.opMu.Unlock()
	}
	p.errs.Add(1)
	return nil, nil, ErrSessionLost
}

// fail counts a vendor operation error against the pool and the session.
// A lost vendor connection also marks the session disconnected so the next
// GetConnection replaces it.
func (p *Pool) fail(ctx context.Context, s *Session, op string, err error) {
	p.errs.Add(1)
	if s != nil {
		s.recordError()
		if errors.Is(err, broker.ErrNotConnected) && s.markLost() {
			logger.Warn(ctx, "Vendor connection lost", "key", s.Key(), "op", op)
		}
	}
	logger.ErrorWithErr(ctx, "Vendor operation failed", err, "op", op, "key", sessionKey(s))
}

func sessionKey(s *Session) string {
	if s == nil {
		return ""
	}
	return s.Key()
}

// GetPositions returns open positions, from cache when fresh. Failures
// yield an empty list.
func (p *Pool) GetPositions(ctx context.Context, accountID, environment string) []mapper.Position {
	s, release, err := p.acquire(ctx, accountID, environment)
	if err != nil {
		logger.Warn(ctx, "No session for positions", "account", accountID, "error", err)
		return []mapper.Position{}
	}
	defer release()

	if cached, ok := s.cachedPositions(p.opts.PositionsTTL); ok {
		return cached
	}

	raw, err := s.vendor.Positions(ctx)
	if err != nil {
		p.fail(ctx, s, "positions", err)
		return []mapper.Position{}
	}

	out := make([]mapper.Position, 0, len(raw))
	for _, v := range raw {
		out = append(out, p.mapper.Position(v))
	}
	s.setPositions(out)
	return out
}

// GetOrders returns pending orders, from cache when fresh. Failures yield
// an empty list.
func (p *Pool) GetOrders(ctx context.Context, accountID, environment string) []mapper.Order {
	s, release, err := p.acquire(ctx, accountID, environment)
	if err != nil {
		logger.Warn(ctx, "No session for orders", "account", accountID, "error", err)
		return []mapper.Order{}
	}
	defer release()

	if cached, ok := s.cachedOrders(p.opts.OrdersTTL); ok {
		return cached
	}

	raw, err := s.vendor.Orders(ctx)
	if err != nil {
		p.fail(ctx, s, "orders", err)
		return []mapper.Order{}
	}

	out := make([]mapper.Order, 0, len(raw))
	for _, v := range raw {
		out = append(out, p.mapper.Order(v))
	}
	s.setOrders(out)
	return out
}

// GetAccountInfo returns the account snapshot, from cache when fresh, or
// nil when it cannot be fetched.
func (p *Pool) GetAccountInfo(ctx context.Context, accountID, environment string) *mapper.AccountInfo {
	s, release, err := p.acquire(ctx, accountID, environment)
	if err != nil {
		logger.Warn(ctx, "No session for account info", "account", accountID, "error", err)
		return nil
	}
	defer release()

	if cached, ok := s.cachedAccount(p.opts.AccountTTL); ok {
		return cached
	}

	raw, err := s.vendor.Account(ctx)
	if err != nil {
		p.fail(ctx, s, "account", err)
		return nil
	}

	info := p.mapper.Account(raw)
	s.setAccount(info)
	return &info
}

// ExecuteTrade maps and submits an order. Unknown symbols fail before any
// session is touched.
func (p *Pool) ExecuteTrade(ctx context.Context, accountID, environment string, req mapper.TradeRequest) TradeResult {
	order, err := p.mapper.OrderRequest(req)
	if err != nil {
		p.errs.Add(1)
		logger.Warn(ctx, "Trade rejected", "account", accountID, "symbol", req.Symbol, "error", err)
		return TradeResult{Success: false, Error: err.Error()}
	}

	s, release, err := p.acquire(ctx, accountID, environment)
	if err != nil {
		return TradeResult{Success: false, Error: err.Error()}
	}
	defer release()

	exec, err := s.vendor.SubmitOrder(ctx, order)
	if err != nil {
		p.fail(ctx, s, "submit order", err)
		return TradeResult{Success: false, Error: err.Error()}
	}
	p.trades.Add(1)
	s.invalidate(CachePositions, CacheOrders, CacheAccount)

	deal := p.mapper.Deal(exec)
	logger.Info(ctx, "Trade executed",
		"account", accountID,
		"symbol", req.Symbol,
		"action", req.ActionType,
		"orderId", deal.OrderID,
		"positionId", deal.PositionID,
	)

	p.record(ctx, TradeEvent{
		AccountID:   accountID,
		Environment: s.Environment,
		Kind:        TradeOpen,
		Symbol:      req.Symbol,
		Side:        order.TradeSide,
		Volume:      deal.Volume,
		Price:       deal.Price,
		OrderID:     deal.OrderID,
		PositionID:  deal.PositionID,
		ExecutedAt:  deal.Time,
	})

	return TradeResult{
		Success:        true,
		OrderID:        deal.OrderID,
		PositionID:     deal.PositionID,
		ExecutedVolume: deal.Volume,
		ExecutedPrice:  deal.Price,
	}
}

// ModifyPosition amends stop loss and take profit. It reports success only.
func (p *Pool) ModifyPosition(ctx context.Context, accountID, environment, positionID string, stopLoss, takeProfit *float64) bool {
	id, err := parsePositionID(positionID)
	if err != nil {
		p.fail(ctx, nil, "modify position", err)
		return false
	}

	s, release, err := p.acquire(ctx, accountID, environment)
	if err != nil {
		return false
	}
	defer release()

	if err := s.vendor.AmendPosition(ctx, id, stopLoss, takeProfit); err != nil {
		p.fail(ctx, s, "modify position", err)
		return false
	}
	s.invalidate(CachePositions)
	return true
}

// ClosePosition closes a position and drops it from the position cache.
func (p *Pool) ClosePosition(ctx context.Context, accountID, environment, positionID string) bool {
	id, err := parsePositionID(positionID)
	if err != nil {
		p.fail(ctx, nil, "close position", err)
		return false
	}

	s, release, err := p.acquire(ctx, accountID, environment)
	if err != nil {
		return false
	}
	defer release()

	cached, known := s.position(positionID)

	if err := s.vendor.ClosePosition(ctx, id); err != nil {
		p.fail(ctx, s, "close position", err)
		return false
	}
	s.removePosition(positionID)
	s.invalidate(CacheAccount)

	ev := TradeEvent{
		AccountID:   accountID,
		Environment: s.Environment,
		Kind:        TradeClose,
		PositionID:  positionID,
		ExecutedAt:  p.now(),
	}
	if known {
		ev.Symbol = cached.Symbol
		ev.Side = sideOf(cached.Type)
		ev.Volume = cached.Volume
		ev.Price = cached.CurrentPrice
		ev.Profit = cached.Profit
	}
	p.record(ctx, ev)
	return true
}

func (p *Pool) record(ctx context.Context, ev TradeEvent) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordTrade(ctx, ev); err != nil {
		logger.Warn(ctx, "Recording trade failed", "account", ev.AccountID, "kind", ev.Kind, "error", err)
	}
}

func parsePositionID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid position id %q", id)
	}
	return n, nil
}

func sideOf(positionType string) string {
	if positionType == "POSITION_TYPE_SELL" {
		return "SELL"
	}
	return "BUY"
}
