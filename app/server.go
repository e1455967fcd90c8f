// Package app wires the prompt-optimizer HTTP surface: auth-gated prompt
// engineering, usage metering, and Stripe billing.
package app

import (
	"context"
	"log"

	"github.com/Howie774/onprompted/app/config"
	"github.com/Howie774/onprompted/auth"
)

// Server holds the injected collaborators every handler depends on. All
// external clients are constructed up front by the entrypoint; handlers never
// reach for process-wide state.
type Server struct {
	cfg     *config.Config
	store   AccountStore
	ledger  *Ledger
	model   ChatModel
	billing BillingClient
}

func NewServer(cfg *config.Config, store AccountStore, model ChatModel, billing BillingClient) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		ledger:  NewLedger(store),
		model:   model,
		billing: billing,
	}
}

// Ledger exposes the usage ledger, mainly for tests that drive it directly.
func (s *Server) Ledger() *Ledger {
	return s.ledger
}

// ensureAccountFromClaims creates the account row on first authenticated
// contact so later reads and billing events always find it.
func (s *Server) ensureAccountFromClaims(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.Subject == "" {
		return nil
	}
	_, err := s.store.EnsureAccount(ctx, claims.Subject, claims.Email)
	if err != nil {
		log.Printf("ensure account failed sub=%s err=%v", claims.Subject, err)
	}
	return err
}
