package app

import (
	"time"

	"github.com/Howie774/onprompted/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Router builds the shared HTTP router for both local and Lambda execution.
// The webhook and diagnostics stay public; everything else sits behind the
// bearer-token middleware.
func (s *Server) Router(verifier *auth.Verifier) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", Health)
	router.POST("/echo", Echo)
	router.POST("/billing-webhook", s.StripeWebhook)

	protected := router.Group("/")
	protected.Use(auth.Middleware(verifier, auth.MiddlewareConfig{
		OnAuthenticated: func(c *gin.Context, claims *auth.Claims) {
			_ = s.ensureAccountFromClaims(c.Request.Context(), claims)
		},
	}))
	protected.POST("/prompt-engineer", s.EngineerPrompt)
	protected.GET("/me", s.Me)
	protected.GET("/history", s.History)
	protected.POST("/billing/create-checkout-session", s.CreateCheckoutSession)
	protected.POST("/billing/portal-session", s.CreatePortalSession)

	return router
}
