package pool

import (
	"context"

	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/mapper"
)

// GetPrice returns a quote for a neutral symbol from the shared price cache,
// or from the first connected session that can quote it. It returns nil
// for unknown symbols and when no session can quote.
func (p *Pool) GetPrice(ctx context.Context, symbol string) *mapper.Price {
	if cached, ok := p.cachedPrice(symbol); ok {
		return &cached
	}

	entry, ok := p.mapper.Symbols().ToVendor(symbol)
	if !ok {
		return nil
	}

	for _, s := range p.Sessions() {
		if !s.Connected() {
			continue
		}

		s.opMu.Lock()
		spot, err := s.vendor.Quote(ctx, entry.CTraderID)
		s.opMu.Unlock()
		if err != nil {
			p.fail(ctx, s, "quote", err)
			continue
		}

		price := p.mapper.Price(spot)
		p.priceMu.Lock()
		p.prices[symbol] = cachedPrice{price: price, at: p.now()}
		p.priceMu.Unlock()
		return &price
	}

	logger.Debug(ctx, "No session available for quote", "symbol", symbol)
	return nil
}

func (p *Pool) cachedPrice(symbol string) (mapper.Price, bool) {
	p.priceMu.Lock()
	defer p.priceMu.Unlock()
	c, ok := p.prices[symbol]
	if !ok || p.now().Sub(c.at) >= p.opts.PriceTTL {
		return mapper.Price{}, false
	}
	return c.price, true
}

// GetAllPrices quotes every mapped symbol, skipping those without a quote.
func (p *Pool) GetAllPrices(ctx context.Context) map[string]mapper.Price {
	out := make(map[string]mapper.Price)
	for _, symbol := range p.mapper.Symbols().All() {
		if price := p.GetPrice(ctx, symbol); price != nil {
			out[symbol] = *price
		}
	}
	return out
}

// InitializeStreaming ensures a session exists for the account and reports
// whether it is connected.
func (p *Pool) InitializeStreaming(ctx context.Context, accountID, environment string) bool {
	s, err := p.GetConnection(ctx, accountID, environment, nil)
	if err != nil {
		logger.Warn(ctx, "Streaming initialisation failed", "account", accountID, "error", err)
		return false
	}
	return s.Connected()
}

// SubscribeSymbol asks for spot updates on a symbol. With an account id only
// that account's session subscribes; otherwise every connected session does.
// Unknown symbols return false.
func (p *Pool) SubscribeSymbol(ctx context.Context, symbol, accountID, environment string) bool {
	entry, ok := p.mapper.Symbols().ToVendor(symbol)
	if !ok {
		logger.Warn(ctx, "Subscription for unknown symbol", "symbol", symbol)
		return false
	}
	ids := []int64{entry.CTraderID}

	if accountID != "" {
		s, release, err := p.acquire(ctx, accountID, environment)
		if err != nil {
			return false
		}
		defer release()
		if err := s.vendor.Subscribe(ctx, ids); err != nil {
			p.fail(ctx, s, "subscribe", err)
			return false
		}
		return true
	}

	for _, s := range p.Sessions() {
		if !s.Connected() {
			continue
		}
		s.opMu.Lock()
		err := s.vendor.Subscribe(ctx, ids)
		s.opMu.Unlock()
		if err != nil {
			p.fail(ctx, s, "subscribe", err)
		}
	}
	return true
}
