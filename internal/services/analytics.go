package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ctrader_gateway/internal/mapper"
	"ctrader_gateway/internal/models"
	"ctrader_gateway/internal/repository"
)

// Risk levels by current drawdown percentage.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// AccountSource supplies live account snapshots. *pool.Pool satisfies it.
type AccountSource interface {
	GetAccountInfo(ctx context.Context, accountID, environment string) *mapper.AccountInfo
}

// Metrics summarises closed trades.
type Metrics struct {
	Trades       int     `json:"trades"`
	WonTrades    int     `json:"wonTrades"`
	LostTrades   int     `json:"lostTrades"`
	WinRate      float64 `json:"winRate"`
	Profit       float64 `json:"profit"`
	Loss         float64 `json:"loss"`
	AverageWin   float64 `json:"averageWin"`
	AverageLoss  float64 `json:"averageLoss"`
	NetProfit    float64 `json:"netProfit"`
	ProfitFactor float64 `json:"profitFactor"`
}

// TradeHistory is a window of journal entries.
type TradeHistory struct {
	Trades []*models.Trade `json:"trades"`
	Count  int             `json:"count"`
}

// DailyGrowth is one day of account equity development.
type DailyGrowth struct {
	Date    string  `json:"date"`
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
	Growth  float64 `json:"growth"` // percent versus the previous day's equity
}

// RiskStatus is the current and historical drawdown of an account.
type RiskStatus struct {
	Drawdown    float64 `json:"drawdown"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	RiskLevel   string  `json:"riskLevel"`
	MarginLevel float64 `json:"marginLevel"`
}

// Analytics derives account statistics from the journal, stored snapshots
// and live account data.
type Analytics struct {
	trades    *repository.TradeRepository
	snapshots *repository.SnapshotRepository
	accounts  AccountSource
	now       func() time.Time
}

// NewAnalytics creates a new Analytics service.
func NewAnalytics(trades *repository.TradeRepository, snapshots *repository.SnapshotRepository, accounts AccountSource) *Analytics {
	return &Analytics{trades: trades, snapshots: snapshots, accounts: accounts, now: time.Now}
}

// WithClock replaces the clock used for day windows.
func (a *Analytics) WithClock(now func() time.Time) *Analytics {
	a.now = now
	return a
}

// Metrics computes win/loss statistics over every closed trade of an account.
func (a *Analytics) Metrics(ctx context.Context, accountID, environment string) (Metrics, error) {
	filter := repository.TradeFilter{AccountID: accountID, Environment: environment, Kind: models.TradeKindClose}
	closes, err := a.trades.List(ctx, filter, repository.All)
	if err != nil {
		return Metrics{}, err
	}

	var m Metrics
	profit, loss := decimal.Zero, decimal.Zero
	for _, t := range closes {
		p := decimal.NewFromFloat(t.Profit)
		switch {
		case p.IsPositive():
			m.WonTrades++
			profit = profit.Add(p)
		case p.IsNegative():
			m.LostTrades++
			loss = loss.Add(p.Abs())
		}
	}
	m.Trades = len(closes)
	if m.Trades == 0 {
		return m, nil
	}

	m.WinRate = ratio(decimal.NewFromInt(int64(m.WonTrades)), decimal.NewFromInt(int64(m.Trades))).Mul(hundred).Round(2).InexactFloat64()
	m.Profit = profit.Round(2).InexactFloat64()
	m.Loss = loss.Round(2).InexactFloat64()
	m.NetProfit = profit.Sub(loss).Round(2).InexactFloat64()
	if m.WonTrades > 0 {
		m.AverageWin = profit.Div(decimal.NewFromInt(int64(m.WonTrades))).Round(2).InexactFloat64()
	}
	if m.LostTrades > 0 {
		m.AverageLoss = loss.Div(decimal.NewFromInt(int64(m.LostTrades))).Round(2).InexactFloat64()
		m.ProfitFactor = profit.Div(loss).Round(2).InexactFloat64()
	}
	return m, nil
}

// TradeHistory returns up to limit journal entries from the last days, newest first.
func (a *Analytics) TradeHistory(ctx context.Context, accountID, environment string, days, limit int) (TradeHistory, error) {
	filter := repository.TradeFilter{
		AccountID:   accountID,
		Environment: environment,
		Since:       a.now().AddDate(0, 0, -days),
	}
	trades, err := a.trades.List(ctx, filter, repository.NewPagination(limit, 0))
	if err != nil {
		return TradeHistory{Trades: []*models.Trade{}}, err
	}
	return TradeHistory{Trades: trades, Count: len(trades)}, nil
}

// Journal returns one page of journal entries, newest first. kind narrows
// to opens or closes when set.
func (a *Analytics) Journal(ctx context.Context, accountID, environment, kind string, page, perPage int) (repository.PaginatedResult[*models.Trade], error) {
	filter := repository.TradeFilter{AccountID: accountID, Environment: environment, Kind: kind}
	return a.trades.ListPaginated(ctx, filter, repository.PageToPagination(page, perPage))
}

// DailyGrowth returns the last snapshot of each UTC day within the window,
// oldest first, with equity growth versus the previous listed day.
func (a *Analytics) DailyGrowth(ctx context.Context, accountID, environment string, days int) ([]DailyGrowth, error) {
	snapshots, err := a.snapshots.ListSince(ctx, accountID, environment, a.now().AddDate(0, 0, -days))
	if err != nil {
		return []DailyGrowth{}, err
	}

	out := make([]DailyGrowth, 0)
	for _, s := range snapshots {
		day := s.TakenAt.UTC().Format("2006-01-02")
		entry := DailyGrowth{Date: day, Balance: s.Balance, Equity: s.Equity}
		if n := len(out); n > 0 && out[n-1].Date == day {
			out[n-1] = entry
			continue
		}
		out = append(out, entry)
	}

	for i := 1; i < len(out); i++ {
		prev := decimal.NewFromFloat(out[i-1].Equity)
		if prev.IsZero() {
			continue
		}
		cur := decimal.NewFromFloat(out[i].Equity)
		out[i].Growth = cur.Sub(prev).Div(prev).Mul(hundred).Round(2).InexactFloat64()
	}
	return out, nil
}

// RiskStatus measures drawdown from the live account and the recorded equity
// history. Accounts without live data report zero risk.
func (a *Analytics) RiskStatus(ctx context.Context, accountID, environment string) (RiskStatus, error) {
	info := a.accounts.GetAccountInfo(ctx, accountID, environment)
	if info == nil {
		return RiskStatus{RiskLevel: RiskLow}, nil
	}

	drawdown := Drawdown(info.Balance, info.Equity)
	status := RiskStatus{
		Drawdown:    drawdown,
		MaxDrawdown: drawdown,
		RiskLevel:   RiskLevel(drawdown),
		MarginLevel: info.MarginLevel,
	}

	history, err := a.snapshots.ListSince(ctx, accountID, environment, time.Time{})
	if err != nil {
		return status, err
	}
	equities := make([]float64, 0, len(history)+1)
	for _, s := range history {
		equities = append(equities, s.Equity)
	}
	equities = append(equities, info.Equity)
	if peak := MaxDrawdown(equities); peak > status.MaxDrawdown {
		status.MaxDrawdown = peak
	}
	return status, nil
}

var hundred = decimal.NewFromInt(100)

// Drawdown is (balance - equity) / balance in percent, or 0 without a balance.
func Drawdown(balance, equity float64) float64 {
	b := decimal.NewFromFloat(balance)
	if !b.IsPositive() {
		return 0
	}
	return b.Sub(decimal.NewFromFloat(equity)).Div(b).Mul(hundred).Round(2).InexactFloat64()
}

// MaxDrawdown is the largest peak-to-trough equity decline in percent.
func MaxDrawdown(equities []float64) float64 {
	peak, worst := decimal.Zero, decimal.Zero
	for _, e := range equities {
		v := decimal.NewFromFloat(e)
		if v.GreaterThan(peak) {
			peak = v
			continue
		}
		if !peak.IsPositive() {
			continue
		}
		if dd := peak.Sub(v).Div(peak).Mul(hundred); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst.Round(2).InexactFloat64()
}

// RiskLevel classifies a drawdown percentage.
func RiskLevel(drawdown float64) string {
	switch {
	case drawdown < 5:
		return RiskLow
	case drawdown < 10:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func ratio(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}
