package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ctrader_gateway/internal/broker/simulator"
	"ctrader_gateway/internal/config"
	"ctrader_gateway/internal/database"
	"ctrader_gateway/internal/handlers"
	"ctrader_gateway/internal/mapper"
	"ctrader_gateway/internal/middleware"
	"ctrader_gateway/internal/pool"
	"ctrader_gateway/internal/symbols"
)

func newTestApp(t *testing.T, apiKey string) *App {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	table, err := symbols.New([]symbols.Entry{{Symbol: "EURUSD", CTraderID: 1}})
	if err != nil {
		t.Fatalf("symbols.New() error = %v", err)
	}

	cfg := config.New()
	cfg.APIKey = apiKey
	p := pool.New(simulator.NewExchange().Factory(), mapper.New(table), pool.Options{})

	app := &App{
		config:  cfg,
		db:      db,
		pool:    p,
		limiter: middleware.NewRateLimiter(1000, 1000),
	}
	app.setupRouter(handlers.NewDependencies(p).WithDB(db))

	t.Cleanup(func() {
		app.limiter.Close()
		p.Close(context.Background())
		db.Close()
	})
	return app
}

func TestRouter_ReadsAreOpen(t *testing.T) {
	app := newTestApp(t, "secret")

	for _, path := range []string{"/", "/health", "/pool/stats", "/symbols/EURUSD", "/accounts/1/symbols"} {
		rr := httptest.NewRecorder()
		app.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rr.Code, http.StatusOK)
		}
	}
}

func TestRouter_MutationsNeedAPIKey(t *testing.T) {
	app := newTestApp(t, "secret")
	body := `{"account_id":"1","symbol":"EURUSD","actionType":"ORDER_TYPE_BUY","volume":0.1}`

	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/trade/execute", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("without key = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodPost, "/trade/execute", strings.NewReader(body))
	req.Header.Set(middleware.APIKeyHeader, "secret")
	rr = httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("with key = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	app := newTestApp(t, "")

	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}

func TestPrintSymbols(t *testing.T) {
	table, err := symbols.New([]symbols.Entry{
		{Symbol: "EURUSD", CTraderID: 1},
		{Symbol: "XAUUSD", CTraderID: 41},
	})
	if err != nil {
		t.Fatalf("symbols.New() error = %v", err)
	}

	var buf bytes.Buffer
	if err := printSymbols(&buf, table); err != nil {
		t.Fatalf("printSymbols() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"EURUSD", "XAUUSD", "41", "2 symbols"} {
		if !strings.Contains(out, want) {
			t.Errorf("printSymbols() output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "FAIL") {
		t.Errorf("printSymbols() reported a failure:\n%s", out)
	}
}
