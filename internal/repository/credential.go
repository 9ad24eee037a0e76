package repository

import (
	"context"
	"database/sql"
	"errors"

	"ctrader_gateway/internal/database"
	"ctrader_gateway/internal/models"
)

// ErrCredentialNotFound is returned when no credential is stored for an account key.
var ErrCredentialNotFound = errors.New("broker credential not found")

// CredentialRepository handles encrypted broker credential storage.
type CredentialRepository struct {
	db *database.DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert stores a credential, replacing any existing one for the same
// account and environment.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.BrokerCredential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO broker_credentials (account_id, environment, ctid_account_id, token_ciphertext, token_nonce)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, environment) DO UPDATE SET
			ctid_account_id = excluded.ctid_account_id,
			token_ciphertext = excluded.token_ciphertext,
			token_nonce = excluded.token_nonce,
			updated_at = CURRENT_TIMESTAMP
	`, cred.AccountID, cred.Environment, cred.CTIDAccountID, cred.TokenCiphertext, cred.TokenNonce)
	return err
}

// Get retrieves the credential for an account key. It returns nil, nil when
// nothing is stored.
func (r *CredentialRepository) Get(ctx context.Context, accountID, environment string) (*models.BrokerCredential, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, environment, ctid_account_id, token_ciphertext, token_nonce, created_at, updated_at
		FROM broker_credentials
		WHERE account_id = ? AND environment = ?
	`, accountID, environment)

	cred := &models.BrokerCredential{}
	err := row.Scan(
		&cred.ID,
		&cred.AccountID,
		&cred.Environment,
		&cred.CTIDAccountID,
		&cred.TokenCiphertext,
		&cred.TokenNonce,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// List returns every stored credential without token material, ordered by account.
func (r *CredentialRepository) List(ctx context.Context) ([]*models.BrokerCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, environment, ctid_account_id, created_at, updated_at
		FROM broker_credentials
		ORDER BY account_id, environment
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	creds := make([]*models.BrokerCredential, 0)
	for rows.Next() {
		cred := &models.BrokerCredential{}
		if err := rows.Scan(
			&cred.ID,
			&cred.AccountID,
			&cred.Environment,
			&cred.CTIDAccountID,
			&cred.CreatedAt,
			&cred.UpdatedAt,
		); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// Delete removes the credential for an account key.
func (r *CredentialRepository) Delete(ctx context.Context, accountID, environment string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM broker_credentials WHERE account_id = ? AND environment = ?`,
		accountID, environment,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}
