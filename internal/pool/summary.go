package pool

import (
	"context"
	"time"

	"ctrader_gateway/internal/mapper"
)

// AccountSummary is one connected account in AccountsSummary.
type AccountSummary struct {
	Balance       float64   `json:"balance"`
	Equity        float64   `json:"equity"`
	OpenPositions int       `json:"openPositions"`
	Environment   string    `json:"environment"`
	LastActivity  time.Time `json:"lastActivity"`
}

// AccountsSummary fetches account info for every connected session, keyed
// by account id. Accounts whose info cannot be fetched are left out.
func (p *Pool) AccountsSummary(ctx context.Context) map[string]AccountSummary {
	out := make(map[string]AccountSummary)
	for _, s := range p.Sessions() {
		if !s.Connected() {
			continue
		}
		lastActivity := s.LastUsed()
		info := p.GetAccountInfo(ctx, s.AccountID, s.Environment)
		if info == nil {
			continue
		}
		out[s.AccountID] = AccountSummary{
			Balance:       info.Balance,
			Equity:        info.Equity,
			OpenPositions: s.openPositions(),
			Environment:   s.Environment,
			LastActivity:  lastActivity,
		}
	}
	return out
}

// CachedAccount is an account snapshot held by a pooled session.
type CachedAccount struct {
	AccountID   string
	Environment string
	Info        mapper.AccountInfo
	FetchedAt   time.Time
}

// CachedAccounts returns the last account snapshot of every pooled session
// that has one. Sessions are neither touched nor queried.
func (p *Pool) CachedAccounts() []CachedAccount {
	var out []CachedAccount
	for _, s := range p.Sessions() {
		info, at, ok := s.lastAccount()
		if !ok {
			continue
		}
		out = append(out, CachedAccount{AccountID: s.AccountID, Environment: s.Environment, Info: *info, FetchedAt: at})
	}
	return out
}
