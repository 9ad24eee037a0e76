package pool

import (
	"context"
	"sync"
	"time"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/mapper"
)

// State is a session's position in its lifecycle. Disconnected is terminal.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// CacheField names one of a session's cached values.
type CacheField int

const (
	CachePositions CacheField = iota
	CacheOrders
	CacheAccount
)

// Session wraps one vendor connection with its lifecycle state, usage
// counters and short-lived caches.
type Session struct {
	AccountID   string
	Environment string

	vendor broker.Session
	now    func() time.Time

	// opMu serialises vendor calls on this session.
	opMu sync.Mutex

	mu              sync.Mutex
	state           State
	degraded        bool
	released        bool
	createdAt       time.Time
	lastUsed        time.Time
	connectAttempts int
	errors          int

	positions   map[string]mapper.Position
	positionIDs []string
	orders      []mapper.Order
	account     *mapper.AccountInfo
	accountAt   time.Time
	cachedAt    map[CacheField]time.Time
}

func newSession(accountID, environment string, vendor broker.Session, now func() time.Time) *Session {
	t := now()
	return &Session{
		AccountID:   accountID,
		Environment: environment,
		vendor:      vendor,
		now:         now,
		createdAt:   t,
		lastUsed:    t,
		positions:   make(map[string]mapper.Position),
		cachedAt:    make(map[CacheField]time.Time),
	}
}

// Key returns the pool key for this session.
func (s *Session) Key() string {
	return Key(s.AccountID, s.Environment)
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is usable.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Degraded reports whether the session was marked connected without credentials.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// LastUsed returns the time of the last successful reuse, or creation.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Touch records a successful reuse.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = s.now()
	s.mu.Unlock()
}

// ConnectAttempts returns how many times Connect was tried on this instance.
func (s *Session) ConnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectAttempts
}

// Errors returns the number of failed calls on this session.
func (s *Session) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// IsCacheValid reports whether field was cached less than maxAge ago.
func (s *Session) IsCacheValid(field CacheField, maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked(field, maxAge)
}

func (s *Session) validLocked(field CacheField, maxAge time.Duration) bool {
	at, ok := s.cachedAt[field]
	if !ok {
		return false
	}
	return s.now().Sub(at) < maxAge
}

// connect moves uninitialized -> connecting -> connected, or to disconnected
// when the vendor handshake fails. A session released by disconnect stays
// disconnected.
func (s *Session) connect(ctx context.Context, creds broker.Credentials) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrSessionLost
	}
	s.state = StateConnecting
	s.connectAttempts++
	s.mu.Unlock()

	s.opMu.Lock()
	err := s.vendor.Connect(ctx, creds)
	s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		s.state = StateDisconnected
		return err
	}
	if s.released {
		return ErrSessionLost
	}
	s.state = StateConnected
	return nil
}

// markDegraded marks a credential-less session connected without a handshake.
func (s *Session) markDegraded() {
	s.mu.Lock()
	s.state = StateConnected
	s.degraded = true
	s.mu.Unlock()
}

// disconnect waits for in-flight calls, releases the vendor handle and
// never reports failure; vendor errors are logged.
func (s *Session) disconnect(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.state = StateDisconnected
	s.mu.Unlock()

	if err := s.vendor.Disconnect(ctx); err != nil {
		logger.Warn(ctx, "Session disconnect failed", "account", s.AccountID, "environment", s.Environment, "error", err)
	}
}

// markLost marks a connected session disconnected after the vendor reported
// its handle gone. The vendor handle is released later by disconnect.
// Degraded sessions never had a handle and stay as they are.
func (s *Session) markLost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded || s.state != StateConnected {
		return false
	}
	s.state = StateDisconnected
	return true
}

func (s *Session) recordError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func (s *Session) cachedPositions(maxAge time.Duration) ([]mapper.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked(CachePositions, maxAge) {
		return nil, false
	}
	return s.positionListLocked(), true
}

func (s *Session) positionListLocked() []mapper.Position {
	out := make([]mapper.Position, 0, len(s.positionIDs))
	for _, id := range s.positionIDs {
		out = append(out, s.positions[id])
	}
	return out
}

func (s *Session) setPositions(list []mapper.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]mapper.Position, len(list))
	s.positionIDs = s.positionIDs[:0]
	for _, p := range list {
		if _, dup := s.positions[p.ID]; !dup {
			s.positionIDs = append(s.positionIDs, p.ID)
		}
		s.positions[p.ID] = p
	}
	s.cachedAt[CachePositions] = s.now()
}

// position returns a cached position regardless of freshness.
func (s *Session) position(id string) (mapper.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	return p, ok
}

func (s *Session) removePosition(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[id]; !ok {
		return
	}
	delete(s.positions, id)
	for i, pid := range s.positionIDs {
		if pid == id {
			s.positionIDs = append(s.positionIDs[:i], s.positionIDs[i+1:]...)
			break
		}
	}
}

func (s *Session) openPositions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions)
}

func (s *Session) cachedOrders(maxAge time.Duration) ([]mapper.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked(CacheOrders, maxAge) {
		return nil, false
	}
	return append([]mapper.Order(nil), s.orders...), true
}

func (s *Session) setOrders(list []mapper.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append([]mapper.Order(nil), list...)
	s.cachedAt[CacheOrders] = s.now()
}

func (s *Session) cachedAccount(maxAge time.Duration) (*mapper.AccountInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil || !s.validLocked(CacheAccount, maxAge) {
		return nil, false
	}
	a := *s.account
	return &a, true
}

// lastAccount returns the most recent account snapshot, however old, and
// when it was fetched.
func (s *Session) lastAccount() (*mapper.AccountInfo, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return nil, time.Time{}, false
	}
	a := *s.account
	return &a, s.accountAt, true
}

func (s *Session) setAccount(info mapper.AccountInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = &info
	s.accountAt = s.now()
	s.cachedAt[CacheAccount] = s.accountAt
}

// invalidate drops the freshness of the given fields; cached values stay
// available to lastAccount and position lookups.
func (s *Session) invalidate(fields ...CacheField) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fields {
		delete(s.cachedAt, f)
	}
}
