package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Howie774/onprompted/app/config"
	"github.com/Howie774/onprompted/app/models"
)

// ErrAccountNotFound is returned by lookups for identities or Stripe customers
// with no account record.
var ErrAccountNotFound = errors.New("account not found")

// AccountStore persists one account per identity plus its prompt history.
//
// UpdateAccount is the single write path for usage, plan, and quota fields:
// it must run apply against a fresh read of the row and persist the result
// atomically, so two concurrent updates for the same identity serialize
// rather than clobber each other. If apply returns an error the account is
// left untouched and the error is surfaced to the caller. A missing account
// is created with defaults before apply runs.
type AccountStore interface {
	EnsureAccount(ctx context.Context, identity, email string) (models.Account, error)
	GetAccount(ctx context.Context, identity string) (models.Account, error)
	FindByCustomerID(ctx context.Context, customerID string) (models.Account, error)
	UpdateAccount(ctx context.Context, identity string, apply func(*models.Account) error) (models.Account, error)
	SaveTranscript(ctx context.Context, t models.Transcript) error
	ListTranscripts(ctx context.Context, identity string, limit int) ([]models.Transcript, error)
}

func defaultAccount(identity, email string, now time.Time) models.Account {
	return models.Account{
		ID:         identity,
		Email:      email,
		Plan:       models.PlanFree,
		Usage:      0,
		CycleStart: now,
		Quota:      models.PlanQuota(models.PlanFree),
	}
}

// NewStoreFromConfig opens the Postgres store when a database is configured
// and otherwise falls back to the in-memory store for local development.
func NewStoreFromConfig(cfg *config.Config) (AccountStore, error) {
	if cfg.DB.URL == "" {
		log.Print("POSTGRES_URL not set; using in-memory account store")
		return NewMemoryStore(), nil
	}
	db, err := OpenPostgres(cfg.DB)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(db)
}
