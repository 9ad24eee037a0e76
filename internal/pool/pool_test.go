package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/broker/simulator"
	apperrors "ctrader_gateway/internal/errors"
	"ctrader_gateway/internal/mapper"
	"ctrader_gateway/internal/symbols"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []TradeEvent
}

func (r *recorder) RecordTrade(_ context.Context, ev TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type staticCredentials map[string]*broker.Credentials

func (s staticCredentials) Lookup(_ context.Context, accountID, environment string) (*broker.Credentials, error) {
	return s[Key(accountID, environment)], nil
}

type fixture struct {
	pool     *Pool
	exchange *simulator.Exchange
	clock    *fakeClock
	recorder *recorder
}

func newFixture(t *testing.T, opts Options, extra ...Option) *fixture {
	t.Helper()
	table, err := symbols.New([]symbols.Entry{
		{Symbol: "EURUSD", CTraderID: 1, TickValue: broker.Ptr(1.0)},
		{Symbol: "GBPUSD", CTraderID: 2},
		{Symbol: "XAUUSD", CTraderID: 41},
	})
	require.NoError(t, err)

	f := &fixture{exchange: simulator.NewExchange(), clock: newClock(), recorder: &recorder{}}
	options := append([]Option{WithClock(f.clock.Now), WithRecorder(f.recorder)}, extra...)
	f.pool = New(f.exchange.Factory(), mapper.New(table), opts, options...)
	t.Cleanup(func() { _ = f.pool.Close(context.Background()) })
	return f
}

var validCreds = &broker.Credentials{AccessToken: "token", CTIDAccountID: 42}

func TestGetConnection_SameKeyNeverDuplicates(t *testing.T) {
	f := newFixture(t, Options{})
	f.exchange.WithLatency(5 * time.Millisecond)
	ctx := context.Background()

	const callers = 32
	results := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.pool.GetConnection(ctx, "1001", "demo", validCreds)
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s)
	}
	stats := f.pool.Stats()
	assert.Equal(t, int64(1), stats.ConnectionsCreated)
	assert.Equal(t, int64(callers-1), stats.ConnectionsReused)
	assert.Equal(t, 1, stats.ActiveConnections)
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpConnect))
	assert.Equal(t, 0, f.pool.keys.size(), "key locks are released")
}

func TestGetConnection_CapacityHoldsUnderConcurrency(t *testing.T) {
	f := newFixture(t, Options{MaxSessions: 3})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := string(rune('A' + i%10))
			_, _ = f.pool.GetConnection(ctx, account, "demo", nil)
			assert.LessOrEqual(t, f.pool.Stats().ActiveConnections, 3)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, f.pool.Stats().ActiveConnections, 3)
}

func TestGetConnection_LRUScenario(t *testing.T) {
	f := newFixture(t, Options{MaxSessions: 2, IdleTimeout: 300 * time.Second})
	ctx := context.Background()

	_, err := f.pool.GetConnection(ctx, "A", "demo", nil)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.pool.GetConnection(ctx, "B", "demo", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.pool.Stats().ConnectionsCreated)

	f.clock.Advance(time.Second)
	_, err = f.pool.GetConnection(ctx, "A", "demo", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.pool.Stats().ConnectionsReused)
	assert.Equal(t, int64(2), f.pool.Stats().ConnectionsCreated)

	f.clock.Advance(time.Second)
	_, err = f.pool.GetConnection(ctx, "C", "demo", nil)
	require.NoError(t, err)

	stats := f.pool.Stats()
	assert.Equal(t, int64(3), stats.ConnectionsCreated)
	assert.Equal(t, int64(1), stats.ConnectionsReused)
	assert.Equal(t, 2, stats.ActiveConnections)

	_, hasB := f.pool.Lookup("B", "demo")
	assert.False(t, hasB, "B was least recently used")
	_, hasA := f.pool.Lookup("A", "demo")
	assert.True(t, hasA)
	_, hasC := f.pool.Lookup("C", "demo")
	assert.True(t, hasC)
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpDisconnect))
}

func TestGetConnection_ReplacesDisconnectedEntry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first, err := f.pool.GetConnection(ctx, "1001", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "demo", first.Environment, "environment defaults to demo")

	first.disconnect(ctx)
	assert.Equal(t, StateDisconnected, first.State())

	second, err := f.pool.GetConnection(ctx, "1001", "demo", nil)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, second.Connected())
	assert.Equal(t, int64(2), f.pool.Stats().ConnectionsCreated)
	assert.Equal(t, int64(0), f.pool.Stats().ConnectionsReused)
}

func TestGetConnection_DegradedWithoutCredentials(t *testing.T) {
	f := newFixture(t, Options{})

	s, err := f.pool.GetConnection(context.Background(), "1001", "live", nil)
	require.NoError(t, err)
	assert.True(t, s.Connected())
	assert.True(t, s.Degraded())
	assert.Equal(t, 0, s.ConnectAttempts())
	assert.Equal(t, 0, f.exchange.Calls(simulator.OpConnect))
}

func TestGetConnection_UsesStoredCredentials(t *testing.T) {
	creds := staticCredentials{Key("1001", "demo"): validCreds}
	f := newFixture(t, Options{}, WithCredentials(creds))

	s, err := f.pool.GetConnection(context.Background(), "1001", "demo", nil)
	require.NoError(t, err)
	assert.False(t, s.Degraded())
	assert.Equal(t, 1, s.ConnectAttempts())
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpConnect))
}

func TestGetConnection_ConnectFailure(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.pool.GetConnection(context.Background(), "1001", "demo", &broker.Credentials{CTIDAccountID: 42})
	require.Error(t, err)
	assert.True(t, apperrors.IsConnectivity(err))

	stats := f.pool.Stats()
	assert.Equal(t, int64(0), stats.ConnectionsCreated)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, 0, stats.ActiveConnections, "failed placeholder is removed")
}

func TestSweep_RemovesOnlyIdleSessions(t *testing.T) {
	f := newFixture(t, Options{IdleTimeout: 300 * time.Second})
	ctx := context.Background()

	_, err := f.pool.GetConnection(ctx, "old", "demo", nil)
	require.NoError(t, err)
	f.clock.Advance(200 * time.Second)
	_, err = f.pool.GetConnection(ctx, "recent", "demo", nil)
	require.NoError(t, err)
	f.clock.Advance(150 * time.Second)

	assert.Equal(t, 1, f.pool.Sweep(ctx))

	_, hasOld := f.pool.Lookup("old", "demo")
	assert.False(t, hasOld)
	_, hasRecent := f.pool.Lookup("recent", "demo")
	assert.True(t, hasRecent)
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpDisconnect))
}

func TestSweep_TouchKeepsSessionAlive(t *testing.T) {
	f := newFixture(t, Options{IdleTimeout: 300 * time.Second})
	ctx := context.Background()

	_, err := f.pool.GetConnection(ctx, "1001", "demo", nil)
	require.NoError(t, err)
	f.clock.Advance(250 * time.Second)
	_, err = f.pool.GetConnection(ctx, "1001", "demo", nil)
	require.NoError(t, err)
	f.clock.Advance(250 * time.Second)

	assert.Equal(t, 0, f.pool.Sweep(ctx))
	assert.Equal(t, 1, f.pool.Stats().ActiveConnections)
}

func TestRun_StopsOnClose(t *testing.T) {
	f := newFixture(t, Options{SweepInterval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- f.pool.Run(context.Background()) }()

	require.NoError(t, f.pool.Close(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestClose_DisconnectsEverySession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for _, account := range []string{"1", "2", "3"} {
		_, err := f.pool.GetConnection(ctx, account, "demo", validCreds)
		require.NoError(t, err)
	}
	f.exchange.FailNext(simulator.OpDisconnect, errors.New("socket already gone"))

	require.NoError(t, f.pool.Close(ctx))
	assert.Equal(t, 3, f.exchange.Calls(simulator.OpDisconnect))
	assert.Equal(t, 0, f.pool.Stats().ActiveConnections)

	_, err := f.pool.GetConnection(ctx, "1", "demo", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStats_ReuseRatio(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Equal(t, 0.0, f.pool.Stats().ReuseRatio)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.pool.GetConnection(ctx, "1001", "demo", nil)
		require.NoError(t, err)
	}
	_, err := f.pool.GetConnection(ctx, "1002", "demo", nil)
	require.NoError(t, err)

	stats := f.pool.Stats()
	assert.Equal(t, int64(2), stats.ConnectionsCreated)
	assert.Equal(t, int64(2), stats.ConnectionsReused)
	assert.Equal(t, 1.0, stats.ReuseRatio)
}

func TestSession_IsCacheValid(t *testing.T) {
	clk := newClock()
	s := newSession("1", "demo", simulator.NewExchange().Factory()("1", "demo"), clk.Now)

	assert.False(t, s.IsCacheValid(CachePositions, time.Second), "absent timestamp is invalid")
	s.setPositions(nil)
	assert.True(t, s.IsCacheValid(CachePositions, time.Second))
	clk.Advance(time.Second)
	assert.False(t, s.IsCacheValid(CachePositions, time.Second))
	assert.False(t, s.IsCacheValid(CacheAccount, time.Hour))
}

func TestKeyedMutexSerialises(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockB := k.Lock("b")
	unlockB()

	unlock()
	<-acquired
	assert.Equal(t, 0, k.size())
}

func TestRemove_DropsAndDisconnects(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first, err := f.pool.GetConnection(ctx, "1001", "demo", validCreds)
	require.NoError(t, err)

	assert.True(t, f.pool.Remove(ctx, "1001", "demo"))
	assert.False(t, first.Connected())
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpDisconnect))
	assert.Equal(t, 0, f.pool.Stats().ActiveConnections)
	assert.False(t, f.pool.Remove(ctx, "1001", "demo"), "second remove finds nothing")

	second, err := f.pool.GetConnection(ctx, "1001", "demo", validCreds)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), f.pool.Stats().ConnectionsCreated)
}

func TestGetConnection_ReplacesSessionAfterLostVendorConnection(t *testing.T) {
	creds := staticCredentials{Key("1001", "demo"): validCreds}
	f := newFixture(t, Options{}, WithCredentials(creds))
	ctx := context.Background()

	first, err := f.pool.GetConnection(ctx, "1001", "demo", nil)
	require.NoError(t, err)

	f.exchange.FailNext(simulator.OpPositions, fmt.Errorf("read loop: %w", broker.ErrNotConnected))
	assert.Empty(t, f.pool.GetPositions(ctx, "1001", "demo"))
	assert.Equal(t, StateDisconnected, first.State())

	f.exchange.AddPosition("1001", "demo", broker.Position{SymbolID: 1, Volume: broker.Ptr(int64(100000))})
	assert.Len(t, f.pool.GetPositions(ctx, "1001", "demo"), 1)

	second, ok := f.pool.Lookup("1001", "demo")
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.True(t, second.Connected())

	stats := f.pool.Stats()
	assert.Equal(t, int64(2), stats.ConnectionsCreated)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, 2, f.exchange.Calls(simulator.OpConnect))
	assert.Equal(t, 1, f.exchange.Calls(simulator.OpDisconnect))
}

func TestGetConnection_DegradedSessionSurvivesNotConnected(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first, err := f.pool.GetConnection(ctx, "1001", "demo", nil)
	require.NoError(t, err)

	f.exchange.FailNext(simulator.OpPositions, broker.ErrNotConnected)
	assert.Empty(t, f.pool.GetPositions(ctx, "1001", "demo"))
	assert.True(t, first.Connected())

	again, err := f.pool.GetConnection(ctx, "1001", "demo", nil)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int64(1), f.pool.Stats().ConnectionsCreated)
}

func TestSession_ConnectAfterReleaseStaysDisconnected(t *testing.T) {
	ctx := context.Background()
	exchange := simulator.NewExchange()
	s := newSession("1001", "demo", exchange.Factory()("1001", "demo"), newClock().Now)

	s.disconnect(ctx)
	err := s.connect(ctx, *validCreds)

	assert.ErrorIs(t, err, ErrSessionLost)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 0, exchange.Calls(simulator.OpConnect))
}
