// Package demo seeds the simulated exchange and the store for demonstration deployments.
package demo

import (
	"context"
	"fmt"
	"math"
	"time"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/broker/simulator"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/models"
	"ctrader_gateway/internal/repository"
	"ctrader_gateway/internal/services"
	"ctrader_gateway/internal/symbols"
)

// Account describes one seeded demo account.
type Account struct {
	ID            string
	Environment   string
	CTIDAccountID int64
	Balance       float64
	StartBalance  float64 // equity 30 days ago
	Positions     []Position
	ClosedProfits []float64
}

// Position is a seeded open position in neutral terms.
type Position struct {
	Symbol string
	Side   string
	Lots   float64
	Price  float64
	Profit float64
}

// Accounts are the default demo accounts.
var Accounts = []Account{
	{
		ID:            "demo-1",
		Environment:   broker.EnvironmentDemo,
		CTIDAccountID: 900001,
		Balance:       10000,
		StartBalance:  9200,
		Positions: []Position{
			{Symbol: "EURUSD", Side: "BUY", Lots: 0.5, Price: 1.0850, Profit: 42.5},
			{Symbol: "XAUUSD", Side: "SELL", Lots: 0.1, Price: 2350.10, Profit: -18.2},
		},
		ClosedProfits: []float64{120, -45.5, 80.25, -30, 64},
	},
	{
		ID:            "demo-2",
		Environment:   broker.EnvironmentDemo,
		CTIDAccountID: 900002,
		Balance:       25000,
		StartBalance:  26100,
		Positions: []Position{
			{Symbol: "GBPUSD", Side: "SELL", Lots: 1, Price: 1.2710, Profit: -310},
		},
		ClosedProfits: []float64{-200, -150, 90},
	},
}

// Seeder seeds the simulator exchange and the database with demo data.
type Seeder struct {
	exchange  *simulator.Exchange
	symbols   *symbols.Table
	vault     *services.CredentialVault
	trades    *repository.TradeRepository
	snapshots *repository.SnapshotRepository
	now       func() time.Time
}

// NewSeeder creates a new demo data seeder.
func NewSeeder(
	exchange *simulator.Exchange,
	table *symbols.Table,
	vault *services.CredentialVault,
	trades *repository.TradeRepository,
	snapshots *repository.SnapshotRepository,
) *Seeder {
	return &Seeder{
		exchange:  exchange,
		symbols:   table,
		vault:     vault,
		trades:    trades,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// Token returns the demo access token of an account.
func Token(accountID string) string {
	return "demo-token-" + accountID
}

// SeedIfEmpty seeds the database when no credentials are stored yet. The
// exchange is always seeded since it lives in memory.
func (s *Seeder) SeedIfEmpty(ctx context.Context) error {
	stored, err := s.vault.Accounts(ctx)
	if err != nil {
		return err
	}

	s.seedExchange(ctx)
	if len(stored) > 0 {
		logger.Info(ctx, "Store already has credentials, skipping demo seed", "accounts", len(stored))
		return nil
	}

	logger.Info(ctx, "Seeding demo data")
	return s.seedStore(ctx)
}

// Seed seeds the exchange and the store unconditionally.
func (s *Seeder) Seed(ctx context.Context) error {
	s.seedExchange(ctx)
	return s.seedStore(ctx)
}

func (s *Seeder) seedExchange(ctx context.Context) {
	for _, acct := range Accounts {
		s.exchange.SetBalance(acct.ID, acct.Environment, acct.Balance)
		for _, p := range acct.Positions {
			entry, ok := s.symbols.ToVendor(p.Symbol)
			if !ok {
				logger.Warn(ctx, "Demo position skipped, symbol not mapped", "symbol", p.Symbol)
				continue
			}
			s.exchange.AddPosition(acct.ID, acct.Environment, broker.Position{
				SymbolID:     entry.CTraderID,
				TradeSide:    broker.Ptr(p.Side),
				Volume:       broker.Ptr(int64(math.Round(p.Lots * 100))),
				EntryPrice:   broker.Ptr(p.Price),
				CurrentPrice: broker.Ptr(p.Price),
				Profit:       broker.Ptr(p.Profit),
				Comment:      broker.Ptr("demo"),
			})
		}
	}
}

func (s *Seeder) seedStore(ctx context.Context) error {
	now := s.now().UTC()
	for _, acct := range Accounts {
		creds := broker.Credentials{AccessToken: Token(acct.ID), CTIDAccountID: acct.CTIDAccountID}
		if err := s.vault.Store(ctx, acct.ID, acct.Environment, creds); err != nil {
			return fmt.Errorf("storing demo credentials: %w", err)
		}

		for i, profit := range acct.ClosedProfits {
			_, err := s.trades.Create(ctx, &models.Trade{
				AccountID:   acct.ID,
				Environment: acct.Environment,
				Kind:        models.TradeKindClose,
				Symbol:      "EURUSD",
				Side:        "BUY",
				Volume:      0.1,
				Profit:      profit,
				PositionID:  fmt.Sprintf("%d", 500+i),
				ExecutedAt:  now.AddDate(0, 0, -(len(acct.ClosedProfits)-i)*3),
			})
			if err != nil {
				return fmt.Errorf("journaling demo trade: %w", err)
			}
		}

		for _, snap := range generateGrowth(acct, now, 30) {
			if _, err := s.snapshots.Create(ctx, snap); err != nil {
				return fmt.Errorf("storing demo snapshot: %w", err)
			}
		}
		logger.Info(ctx, "Seeded demo account", "account", acct.ID, "environment", acct.Environment)
	}
	return nil
}

// generateGrowth creates one snapshot per day moving from the start balance
// to the current balance, with a small deterministic wobble.
func generateGrowth(acct Account, now time.Time, days int) []*models.AccountSnapshot {
	out := make([]*models.AccountSnapshot, 0, days)
	for d := days; d >= 1; d-- {
		progress := float64(days-d) / float64(days)
		equity := acct.StartBalance + (acct.Balance-acct.StartBalance)*progress
		equity += math.Sin(float64(d)) * acct.Balance * 0.004
		equity = math.Round(equity*100) / 100
		out = append(out, &models.AccountSnapshot{
			AccountID:   acct.ID,
			Environment: acct.Environment,
			Balance:     equity,
			Equity:      equity,
			TakenAt:     now.AddDate(0, 0, -d),
		})
	}
	return out
}
