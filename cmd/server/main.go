package main

import (
	"log"

	"github.com/Howie774/onprompted/app"
	"github.com/Howie774/onprompted/app/config"
	"github.com/Howie774/onprompted/auth"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := app.NewStoreFromConfig(cfg)
	if err != nil {
		log.Fatalf("failed to open account store: %v", err)
	}

	verifier, err := auth.NewVerifierFromEnv()
	if err != nil && !auth.AuthDisabled() {
		log.Fatalf("failed to initialize auth verifier: %v", err)
	}

	server := app.NewServer(
		cfg,
		store,
		app.NewOpenAIClient(cfg.OpenAI),
		app.NewStripeClient(cfg.Stripe.SecretKey),
	)

	router := server.Router(verifier)
	if err := router.Run("0.0.0.0:" + cfg.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
