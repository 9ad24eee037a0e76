// Package pool manages pooled cTrader sessions: reuse by account and
// environment, a bound on concurrent sessions, idle eviction, short-lived
// caches and aggregate usage counters.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ctrader_gateway/internal/broker"
	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/mapper"
)

var (
	// ErrClosed is returned once Close has started.
	ErrClosed = errors.New("connection pool closed")

	// ErrExhausted is returned when every slot holds a session that is still connecting.
	ErrExhausted = errors.New("connection pool exhausted")
)

// Options bound the pool and set its cache windows.
type Options struct {
	MaxSessions   int
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	PositionsTTL time.Duration
	OrdersTTL    time.Duration
	AccountTTL   time.Duration
	PriceTTL     time.Duration

	// ShutdownParallelism caps concurrent disconnects during Close.
	ShutdownParallelism int
}

// DefaultOptions returns the standard limits and freshness windows.
func DefaultOptions() Options {
	return Options{
		MaxSessions:         50,
		IdleTimeout:         300 * time.Second,
		SweepInterval:       60 * time.Second,
		PositionsTTL:        time.Second,
		OrdersTTL:           time.Second,
		AccountTTL:          5 * time.Second,
		PriceTTL:            time.Second,
		ShutdownParallelism: 8,
	}
}

// CredentialSource supplies stored credentials. A nil result with a nil
// error means none are stored and the session runs degraded.
type CredentialSource interface {
	Lookup(ctx context.Context, accountID, environment string) (*broker.Credentials, error)
}

// TradeRecorder receives executed trades and closes.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, ev TradeEvent) error
}

// Trade event kinds.
const (
	TradeOpen  = "open"
	TradeClose = "close"
)

// TradeEvent describes one executed trade or close.
type TradeEvent struct {
	AccountID   string
	Environment string
	Kind        string
	Symbol      string
	Side        string
	Volume      float64
	Price       float64
	OrderID     string
	PositionID  string
	Profit      float64
	ExecutedAt  time.Time
}

// Stats is the aggregate counter snapshot.
type Stats struct {
	ConnectionsCreated int64   `json:"connectionsCreated"`
	ConnectionsReused  int64   `json:"connectionsReused"`
	TradesExecuted     int64   `json:"tradesExecuted"`
	Errors             int64   `json:"errors"`
	ActiveConnections  int     `json:"activeConnections"`
	ReuseRatio         float64 `json:"reuse_ratio"`
}

// Option configures a Pool.
type Option func(*Pool)

// WithCredentials sets where GetConnection finds credentials when the caller passes none.
func WithCredentials(src CredentialSource) Option {
	return func(p *Pool) { p.creds = src }
}

// WithRecorder sets the trade recorder.
func WithRecorder(r TradeRecorder) Option {
	return func(p *Pool) { p.recorder = r }
}

// WithClock replaces the pool clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// Pool owns all sessions. Create one with New and share it.
type Pool struct {
	factory  broker.Factory
	mapper   *mapper.Mapper
	opts     Options
	creds    CredentialSource
	recorder TradeRecorder
	now      func() time.Time

	keys *keyedMutex

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	priceMu sync.Mutex
	prices  map[string]cachedPrice

	created atomic.Int64
	reused  atomic.Int64
	trades  atomic.Int64
	errs    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

type cachedPrice struct {
	price mapper.Price
	at    time.Time
}

// Key builds the session key for an account and environment.
func Key(accountID, environment string) string {
	return accountID + "_" + environment
}

// New creates a pool. Zero option fields fall back to DefaultOptions.
func New(factory broker.Factory, m *mapper.Mapper, opts Options, options ...Option) *Pool {
	def := DefaultOptions()
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = def.MaxSessions
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.PositionsTTL <= 0 {
		opts.PositionsTTL = def.PositionsTTL
	}
	if opts.OrdersTTL <= 0 {
		opts.OrdersTTL = def.OrdersTTL
	}
	if opts.AccountTTL <= 0 {
		opts.AccountTTL = def.AccountTTL
	}
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = def.PriceTTL
	}
	if opts.ShutdownParallelism <= 0 {
		opts.ShutdownParallelism = def.ShutdownParallelism
	}

	p := &Pool{
		factory:  factory,
		mapper:   m,
		opts:     opts,
		now:      time.Now,
		keys:     newKeyedMutex(),
		sessions: make(map[string]*Session),
		prices:   make(map[string]cachedPrice),
		done:     make(chan struct{}),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Mapper returns the mapper the pool translates with.
func (p *Pool) Mapper() *mapper.Mapper {
	return p.mapper
}

// GetConnection returns the session for an account and environment, reusing
// a connected one or creating a new one. At capacity the least recently
// used session is evicted first. Calls for the same key are serialised, so a
// key never has two sessions. Without credentials (passed or stored) the new
// session is marked connected in degraded mode.
func (p *Pool) GetConnection(ctx context.Context, accountID, environment string, creds *broker.Credentials) (*Session, error) {
	if environment == "" {
		environment = broker.EnvironmentDemo
	}
	key := Key(accountID, environment)

	unlock := p.keys.Lock(key)
	defer unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	var retired []*Session
	if s, ok := p.sessions[key]; ok {
		if s.Connected() {
			s.Touch()
			p.mu.Unlock()
			p.reused.Add(1)
			return s, nil
		}
		delete(p.sessions, key)
		retired = append(retired, s)
	}

	if len(p.sessions) >= p.opts.MaxSessions {
		victim := p.lruLocked()
		if victim == nil {
			p.mu.Unlock()
			p.errs.Add(1)
			return nil, ErrExhausted
		}
		delete(p.sessions, victim.Key())
		retired = append(retired, victim)
		logger.Info(ctx, "Evicting least recently used session", "key", victim.Key(), "lastUsed", victim.LastUsed())
	}

	s := newSession(accountID, environment, p.factory(accountID, environment), p.now)
	// The placeholder holds the slot while connecting.
	p.sessions[key] = s
	p.mu.Unlock()

	for _, r := range retired {
		r.disconnect(ctx)
	}

	if creds == nil && p.creds != nil {
		stored, err := p.creds.Lookup(ctx, accountID, environment)
		if err != nil {
			p.drop(key, s)
			p.errs.Add(1)
			return nil, apperrors.Connectivity("credential lookup failed", err)
		}
		creds = stored
	}

	if creds == nil {
		s.markDegraded()
		logger.Info(ctx, "Session created without credentials", "key", key)
	} else if err := s.connect(ctx, *creds); err != nil {
		p.drop(key, s)
		p.errs.Add(1)
		s.disconnect(ctx)
		logger.ErrorWithErr(ctx, "Session connect failed", err, "key", key)
		return nil, apperrors.Connectivity("connect failed for "+key, err)
	}

	p.created.Add(1)
	logger.Debug(ctx, "Session created", "key", key, "degraded", s.Degraded())
	return s, nil
}

// lruLocked picks the connected session with the oldest last use.
func (p *Pool) lruLocked() *Session {
	var victim *Session
	for _, s := range p.sessions {
		if !s.Connected() {
			continue
		}
		if victim == nil || s.LastUsed().Before(victim.LastUsed()) {
			victim = s
		}
	}
	return victim
}

// drop removes key only while it still maps to s.
func (p *Pool) drop(key string, s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[key] == s {
		delete(p.sessions, key)
	}
}

// Sweep disconnects and removes every session idle for longer than the
// idle timeout. It returns the number removed.
func (p *Pool) Sweep(ctx context.Context) int {
	now := p.now()

	p.mu.Lock()
	var idle []*Session
	for key, s := range p.sessions {
		if !s.Connected() {
			continue
		}
		if now.Sub(s.LastUsed()) > p.opts.IdleTimeout {
			delete(p.sessions, key)
			idle = append(idle, s)
		}
	}
	p.mu.Unlock()

	for _, s := range idle {
		logger.Info(ctx, "Removing idle session", "key", s.Key(), "lastUsed", s.LastUsed())
		s.disconnect(ctx)
	}
	return len(idle)
}

// Run sweeps idle sessions every SweepInterval until ctx ends or Close is called.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case <-ticker.C:
			if n := p.Sweep(ctx); n > 0 {
				logger.Info(ctx, "Idle sweep finished", "removed", n)
			}
		}
	}
}

// Close stops the sweeper, disconnects every session and empties the pool.
// Individual disconnect failures are logged and do not stop the shutdown.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	p.closed = true
	all := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		all = append(all, s)
	}
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(p.opts.ShutdownParallelism)
	for _, s := range all {
		g.Go(func() error {
			s.disconnect(ctx)
			return nil
		})
	}
	err := g.Wait()

	logger.Info(ctx, "Connection pool closed", "sessions", len(all))
	return err
}

// Stats returns the aggregate counters.
func (p *Pool) Stats() Stats {
	created := p.created.Load()
	reused := p.reused.Load()

	p.mu.Lock()
	active := len(p.sessions)
	p.mu.Unlock()

	return Stats{
		ConnectionsCreated: created,
		ConnectionsReused:  reused,
		TradesExecuted:     p.trades.Load(),
		Errors:             p.errs.Load(),
		ActiveConnections:  active,
		ReuseRatio:         float64(reused) / float64(max(1, created)),
	}
}

// Sessions returns a snapshot of the pooled sessions.
func (p *Pool) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	return out
}

// Lookup returns the pooled session for a key without touching it.
func (p *Pool) Lookup(accountID, environment string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[Key(accountID, environment)]
	return s, ok
}

// Remove disconnects and drops the session for a key, so the next request
// connects afresh. It reports whether a session was pooled.
func (p *Pool) Remove(ctx context.Context, accountID, environment string) bool {
	key := Key(accountID, environment)
	unlock := p.keys.Lock(key)
	defer unlock()

	p.mu.Lock()
	s, ok := p.sessions[key]
	if ok {
		delete(p.sessions, key)
	}
	p.mu.Unlock()

	if ok {
		s.disconnect(ctx)
		logger.Info(ctx, "Session removed", "key", key)
	}
	return ok
}
