package config

import (
	"os"
	"strings"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port   string
	DB     PostgresConfig
	OpenAI OpenAIConfig
	Stripe StripeConfig
	Auth   AuthConfig
}

type PostgresConfig struct {
	Username string
	Password string
	URL      string
	Port     string
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	PriceIDStarter string
	PriceIDPro     string
	PriceIDAgency  string
	FrontendURL    string
}

type AuthConfig struct {
	Issuer   string
	Audience string
}

func LoadConfig() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cfg := &Config{
		Port: port,
		DB: PostgresConfig{
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			URL:      os.Getenv("POSTGRES_URL"),
			Port:     os.Getenv("POSTGRES_PORT"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   os.Getenv("OPENAI_MODEL"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		},
		Stripe: StripeConfig{
			SecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
			PriceIDStarter: os.Getenv("STRIPE_PRICE_STARTER"),
			PriceIDPro:     os.Getenv("STRIPE_PRICE_PRO"),
			PriceIDAgency:  os.Getenv("STRIPE_PRICE_AGENCY"),
			FrontendURL:    strings.TrimRight(os.Getenv("FRONTEND_URL"), "/"),
		},
		Auth: AuthConfig{
			Issuer:   os.Getenv("AUTH0_ISSUER"),
			Audience: os.Getenv("AUTH0_AUDIENCE"),
		},
	}

	return cfg, nil
}
