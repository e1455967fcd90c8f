package main

import (
	"context"
	"log"

	"github.com/Howie774/onprompted/app"
	"github.com/Howie774/onprompted/app/config"
	"github.com/Howie774/onprompted/auth"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
)

var ginLambda *ginadapter.GinLambda

// init runs once per Lambda container (cold start)
func init() {
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

	ginLambda = ginadapter.New(server.Router(verifier))
}

// Handler is the Lambda entrypoint for API Gateway REST/HTTP API (proxy integration)
func Handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(Handler)
}
