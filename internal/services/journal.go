package services

import (
	"context"

	"ctrader_gateway/internal/models"
	"ctrader_gateway/internal/pool"
	"ctrader_gateway/internal/repository"
)

// Journal persists executed trades and closes reported by the pool.
type Journal struct {
	repo *repository.TradeRepository
}

var _ pool.TradeRecorder = (*Journal)(nil)

// NewJournal creates a new Journal.
func NewJournal(repo *repository.TradeRepository) *Journal {
	return &Journal{repo: repo}
}

// RecordTrade writes one journal entry.
func (j *Journal) RecordTrade(ctx context.Context, ev pool.TradeEvent) error {
	_, err := j.repo.Create(ctx, &models.Trade{
		AccountID:   ev.AccountID,
		Environment: ev.Environment,
		Kind:        ev.Kind,
		Symbol:      ev.Symbol,
		Side:        ev.Side,
		Volume:      ev.Volume,
		Price:       ev.Price,
		OrderID:     ev.OrderID,
		PositionID:  ev.PositionID,
		Profit:      ev.Profit,
		ExecutedAt:  ev.ExecutedAt,
	})
	return err
}
