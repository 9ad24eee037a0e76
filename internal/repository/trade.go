package repository

import (
	"context"
	"database/sql"
	"time"

	"ctrader_gateway/internal/database"
	"ctrader_gateway/internal/models"
)

// TradeFilter narrows journal queries. A zero Since means no lower bound and
// an empty Kind means both kinds.
type TradeFilter struct {
	AccountID   string
	Environment string
	Kind        string
	Since       time.Time
}

// TradeRepository handles trade journal database operations.
type TradeRepository struct {
	db *database.DB
}

// NewTradeRepository creates a new TradeRepository.
func NewTradeRepository(db *database.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create inserts a journal entry and returns its ID.
func (r *TradeRepository) Create(ctx context.Context, trade *models.Trade) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO trades (account_id, environment, kind, symbol, side, volume, price, order_id, position_id, profit, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.AccountID, trade.Environment, trade.Kind, trade.Symbol, trade.Side, trade.Volume, trade.Price,
		trade.OrderID, trade.PositionID, trade.Profit, trade.ExecutedAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// List returns journal entries matching the filter, newest first.
func (r *TradeRepository) List(ctx context.Context, f TradeFilter, p Pagination) ([]*models.Trade, error) {
	where, args := f.clause()
	args = append(args, p.Limit, p.Offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, environment, kind, symbol, side, volume, price, order_id, position_id, profit, executed_at
		FROM trades
		WHERE `+where+`
		ORDER BY executed_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

// Count returns the number of journal entries matching the filter.
func (r *TradeRepository) Count(ctx context.Context, f TradeFilter) (int64, error) {
	where, args := f.clause()
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE `+where, args...).Scan(&count)
	return count, err
}

// ListPaginated returns one page of matching entries together with the total.
func (r *TradeRepository) ListPaginated(ctx context.Context, f TradeFilter, p Pagination) (PaginatedResult[*models.Trade], error) {
	total, err := r.Count(ctx, f)
	if err != nil {
		return PaginatedResult[*models.Trade]{}, err
	}
	items, err := r.List(ctx, f, p)
	if err != nil {
		return PaginatedResult[*models.Trade]{}, err
	}
	return NewPaginatedResult(items, total, p), nil
}

func (f TradeFilter) clause() (string, []any) {
	where := "account_id = ? AND environment = ?"
	args := []any{f.AccountID, f.Environment}
	if f.Kind != "" {
		where += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if !f.Since.IsZero() {
		where += " AND executed_at >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	return where, args
}

func scanTrades(rows *sql.Rows) ([]*models.Trade, error) {
	trades := make([]*models.Trade, 0)
	for rows.Next() {
		t := &models.Trade{}
		var executedAt int64
		if err := rows.Scan(
			&t.ID,
			&t.AccountID,
			&t.Environment,
			&t.Kind,
			&t.Symbol,
			&t.Side,
			&t.Volume,
			&t.Price,
			&t.OrderID,
			&t.PositionID,
			&t.Profit,
			&executedAt,
		); err != nil {
			return nil, err
		}
		t.ExecutedAt = time.UnixMilli(executedAt).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
