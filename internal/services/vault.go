// Package services contains the gateway's business logic on top of the store.
package services

import (
	"context"
	"fmt"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/models"
	"ctrader_gateway/internal/pool"
	"ctrader_gateway/internal/repository"
)

// CredentialVault stores broker access tokens encrypted per account key.
// It is the pool's CredentialSource.
type CredentialVault struct {
	repo *repository.CredentialRepository
	enc  *broker.Encryptor
}

var _ pool.CredentialSource = (*CredentialVault)(nil)

// NewCredentialVault creates a new CredentialVault.
func NewCredentialVault(repo *repository.CredentialRepository, enc *broker.Encryptor) *CredentialVault {
	return &CredentialVault{repo: repo, enc: enc}
}

// Store encrypts and saves credentials, replacing existing ones.
func (v *CredentialVault) Store(ctx context.Context, accountID, environment string, creds broker.Credentials) error {
	if !creds.Valid() {
		return fmt.Errorf("storing credentials for %s: access token and ctid account id are required", pool.Key(accountID, environment))
	}
	ciphertext, nonce, err := v.enc.Encrypt(creds.AccessToken, pool.Key(accountID, environment))
	if err != nil {
		return fmt.Errorf("encrypting access token: %w", err)
	}
	return v.repo.Upsert(ctx, &models.BrokerCredential{
		AccountID:       accountID,
		Environment:     environment,
		CTIDAccountID:   creds.CTIDAccountID,
		TokenCiphertext: ciphertext,
		TokenNonce:      nonce,
	})
}

// Lookup returns decrypted credentials, or nil when none are stored.
func (v *CredentialVault) Lookup(ctx context.Context, accountID, environment string) (*broker.Credentials, error) {
	stored, err := v.repo.Get(ctx, accountID, environment)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	if stored == nil {
		return nil, nil
	}

	token, err := v.enc.Decrypt(stored.TokenCiphertext, stored.TokenNonce, pool.Key(accountID, environment))
	if err != nil {
		return nil, fmt.Errorf("decrypting access token: %w", err)
	}
	return &broker.Credentials{AccessToken: token, CTIDAccountID: stored.CTIDAccountID}, nil
}

// Delete removes stored credentials. Deleting nothing returns repository.ErrCredentialNotFound.
func (v *CredentialVault) Delete(ctx context.Context, accountID, environment string) error {
	return v.repo.Delete(ctx, accountID, environment)
}

// Accounts lists the account keys that have credentials.
func (v *CredentialVault) Accounts(ctx context.Context) ([]*models.BrokerCredential, error) {
	return v.repo.List(ctx)
}
