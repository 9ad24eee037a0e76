package handlers

import (
	"time"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/database"
	"ctrader_gateway/internal/pool"
	"ctrader_gateway/internal/services"
)

// Dependencies holds all handler dependencies.
// This reduces constructor parameter lists and simplifies dependency injection.
type Dependencies struct {
	Pool      *pool.Pool
	DB        *database.DB
	Vault     *services.CredentialVault
	Analytics *services.Analytics

	DefaultEnvironment string
	Version            string
	Now                func() time.Time
}

// NewDependencies creates a Dependencies container with defaults.
// Use the builder methods to set the rest.
func NewDependencies(p *pool.Pool) *Dependencies {
	return &Dependencies{
		Pool:               p,
		DefaultEnvironment: broker.EnvironmentDemo,
		Version:            "dev",
		Now:                time.Now,
	}
}

// WithDB sets the database checked by /health.
func (d *Dependencies) WithDB(db *database.DB) *Dependencies {
	d.DB = db
	return d
}

// WithVault sets the credential vault.
func (d *Dependencies) WithVault(v *services.CredentialVault) *Dependencies {
	d.Vault = v
	return d
}

// WithAnalytics sets the analytics service.
func (d *Dependencies) WithAnalytics(a *services.Analytics) *Dependencies {
	d.Analytics = a
	return d
}

// WithDefaultEnvironment sets the environment used when a request names none.
func (d *Dependencies) WithDefaultEnvironment(env string) *Dependencies {
	if env != "" {
		d.DefaultEnvironment = env
	}
	return d
}

// WithVersion sets the version reported by the root endpoint.
func (d *Dependencies) WithVersion(v string) *Dependencies {
	d.Version = v
	return d
}

// WithClock replaces the clock used for response timestamps.
func (d *Dependencies) WithClock(now func() time.Time) *Dependencies {
	d.Now = now
	return d
}
