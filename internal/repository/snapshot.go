package repository

import (
	"context"
	"database/sql"
	"time"

	"ctrader_gateway/internal/database"
	"ctrader_gateway/internal/models"
)

// SnapshotRepository handles account snapshot database operations.
type SnapshotRepository struct {
	db *database.DB
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(db *database.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create inserts a snapshot and returns its ID.
func (r *SnapshotRepository) Create(ctx context.Context, s *models.AccountSnapshot) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO account_snapshots (account_id, environment, balance, equity, margin_level, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.AccountID, s.Environment, s.Balance, s.Equity, s.MarginLevel, s.TakenAt.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListSince returns an account's snapshots taken at or after since, oldest first.
func (r *SnapshotRepository) ListSince(ctx context.Context, accountID, environment string, since time.Time) ([]*models.AccountSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, environment, balance, equity, margin_level, taken_at
		FROM account_snapshots
		WHERE account_id = ? AND environment = ? AND taken_at >= ?
		ORDER BY taken_at ASC, id ASC
	`, accountID, environment, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := make([]*models.AccountSnapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// Latest returns the most recent snapshot of an account, or nil when there is none.
func (r *SnapshotRepository) Latest(ctx context.Context, accountID, environment string) (*models.AccountSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, environment, balance, equity, margin_level, taken_at
		FROM account_snapshots
		WHERE account_id = ? AND environment = ?
		ORDER BY taken_at DESC, id DESC
		LIMIT 1
	`, accountID, environment)

	s, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// PeakEquity returns the highest recorded equity of an account, or 0.
func (r *SnapshotRepository) PeakEquity(ctx context.Context, accountID, environment string) (float64, error) {
	var peak sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(equity) FROM account_snapshots WHERE account_id = ? AND environment = ?
	`, accountID, environment).Scan(&peak)
	if err != nil {
		return 0, err
	}
	return peak.Float64, nil
}

// DeleteBefore prunes snapshots older than before and reports how many went.
func (r *SnapshotRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM account_snapshots WHERE taken_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*models.AccountSnapshot, error) {
	s := &models.AccountSnapshot{}
	var takenAt int64
	if err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.Environment,
		&s.Balance,
		&s.Equity,
		&s.MarginLevel,
		&takenAt,
	); err != nil {
		return nil, err
	}
	s.TakenAt = time.UnixMilli(takenAt).UTC()
	return s, nil
}
