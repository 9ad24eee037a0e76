// Package sync persists account snapshots taken from pooled sessions.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/models"
	"ctrader_gateway/internal/pool"
	"ctrader_gateway/internal/repository"
)

// DefaultRetention is how long snapshots are kept.
const DefaultRetention = 90 * 24 * time.Hour

// AccountLister exposes the last account data held by the pool. *pool.Pool satisfies it.
type AccountLister interface {
	CachedAccounts() []pool.CachedAccount
}

// Service records balance and equity of every pooled account.
type Service struct {
	accounts  AccountLister
	snapshots *repository.SnapshotRepository
	interval  time.Duration
	retention time.Duration
	now       func() time.Time

	mu gosync.Mutex
	// written holds the FetchedAt of the last stored snapshot per pool key.
	written map[string]time.Time
}

// NewService creates a new snapshot service.
func NewService(accounts AccountLister, snapshots *repository.SnapshotRepository, interval time.Duration) *Service {
	return &Service{
		accounts:  accounts,
		snapshots: snapshots,
		interval:  interval,
		retention: DefaultRetention,
		now:       time.Now,
		written:   make(map[string]time.Time),
	}
}

// WithRetention overrides DefaultRetention. Zero or less disables pruning.
func (s *Service) WithRetention(d time.Duration) *Service {
	s.retention = d
	return s
}

// WithClock replaces the clock stamped on snapshots.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SyncResult contains the result of one snapshot pass.
type SyncResult struct {
	AccountsSynced int
	// Unchanged counts accounts whose data was not refreshed since the last pass.
	Unchanged int
	Pruned    int64
}

// SnapshotOnce writes one snapshot per pooled account whose data was fetched
// after its previous snapshot, then prunes expired ones. A failing account
// is logged and skipped.
func (s *Service) SnapshotOnce(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &SyncResult{}
	takenAt := s.now().UTC()

	for _, acct := range s.accounts.CachedAccounts() {
		key := pool.Key(acct.AccountID, acct.Environment)
		if last, ok := s.written[key]; ok && !acct.FetchedAt.After(last) {
			result.Unchanged++
			continue
		}

		_, err := s.snapshots.Create(ctx, &models.AccountSnapshot{
			AccountID:   acct.AccountID,
			Environment: acct.Environment,
			Balance:     acct.Info.Balance,
			Equity:      acct.Info.Equity,
			MarginLevel: acct.Info.MarginLevel,
			TakenAt:     takenAt,
		})
		if err != nil {
			logger.Warn(ctx, "Snapshot failed", "account", acct.AccountID, "environment", acct.Environment, "error", err)
			continue
		}
		s.written[key] = acct.FetchedAt
		result.AccountsSynced++
	}

	if s.retention > 0 {
		n, err := s.snapshots.DeleteBefore(ctx, takenAt.Add(-s.retention))
		if err != nil {
			return result, fmt.Errorf("pruning snapshots: %w", err)
		}
		result.Pruned = n
	}
	return result, nil
}

// Run snapshots on every interval tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			timer := logger.StartTimer(ctx, "account snapshot")
			result, err := s.SnapshotOnce(ctx)
			if err == nil && result.AccountsSynced > 0 {
				logger.Debug(ctx, "Snapshots stored", "accounts", result.AccountsSynced, "pruned", result.Pruned)
			}
			timer.Stop(err)
		}
	}
}
