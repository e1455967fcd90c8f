package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Howie774/onprompted/app/models"
	"github.com/Howie774/onprompted/auth"

	"github.com/gin-gonic/gin"
)

const modelCallTimeout = 60 * time.Second

// Health is a public liveness probe.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Echo is a public diagnostic passthrough.
func Echo(c *gin.Context) {
	var req models.EchoRequest
	_ = c.ShouldBindJSON(&req)

	received := any(req.Text)
	if req.Text == "" {
		received = nil
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"received": received,
		"ts":       time.Now().UnixMilli(),
	})
}

// EngineerPrompt runs the two-phase prompt optimization: gate on quota,
// delegate to the model, validate the shape, and only then charge one unit.
func (s *Server) EngineerPrompt(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}
	identity := claims.Subject

	var req models.EngineerPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Missing "goal" (string) in request body.`})
		return
	}

	_, decision, err := s.ledger.Check(c.Request.Context(), identity, claims.Email)
	if err != nil {
		log.Printf("quota check failed sub=%s err=%v", identity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check usage"})
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error": fmt.Sprintf("You have used all %d prompts on the %s plan for this cycle. Upgrade to continue.",
				decision.Quota, decision.Plan),
			"code":  "LIMIT_REACHED",
			"plan":  decision.Plan,
			"limit": decision.Quota,
			"used":  decision.Usage,
		})
		return
	}

	// The model call is slow and out of process; no store lock is held while
	// it runs. The charge lands in a second transaction after validation.
	ctx, cancel := context.WithTimeout(c.Request.Context(), modelCallTimeout)
	defer cancel()

	raw, err := s.model.CompleteChat(ctx, promptOptimizerSystem, buildUserMessage(req))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Model request timed out. Please try again."})
			return
		}
		log.Printf("model call failed sub=%s err=%v", identity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate optimized prompt."})
		return
	}

	result, err := DecodePromptResult(raw)
	if err != nil {
		log.Printf("model protocol violation sub=%s err=%v raw=%s", identity, err, raw)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Model returned an unexpected response. Please try again."})
		return
	}

	if _, err := s.ledger.Commit(c.Request.Context(), identity, 1); err != nil {
		// The user already has a validated result; losing the charge beats
		// failing the request over our own accounting.
		log.Printf("usage commit failed sub=%s err=%v", identity, err)
	}

	switch result.Status {
	case StatusNeedsClarification:
		c.JSON(http.StatusOK, gin.H{
			"status":    StatusNeedsClarification,
			"questions": result.Questions,
		})
	case StatusReady:
		if err := s.store.SaveTranscript(c.Request.Context(), models.Transcript{
			Identity:             identity,
			Goal:                 req.Goal,
			ClarificationAnswers: strings.TrimSpace(req.ClarificationAnswers),
			FinalPrompt:          result.FinalPrompt,
			CreatedAt:            time.Now(),
		}); err != nil {
			log.Printf("transcript save failed sub=%s err=%v", identity, err)
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       StatusReady,
			"final_prompt": result.FinalPrompt,
		})
	}
}

// Me returns plan and usage info for the authenticated user, after the lazy
// cycle evaluation.
func (s *Server) Me(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	acct, decision, err := s.ledger.Check(c.Request.Context(), claims.Subject, claims.Email)
	if err != nil {
		log.Printf("me lookup failed sub=%s err=%v", claims.Subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}

	remaining := decision.Quota - decision.Usage
	if remaining < 0 {
		remaining = 0
	}

	cycleStart := acct.CycleStart
	if decision.NeedsReset {
		cycleStart = time.Now()
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":       decision.Plan,
		"usage":      decision.Usage,
		"quota":      decision.Quota,
		"remaining":  remaining,
		"cycleStart": cycleStart,
	})
}

// History lists the caller's recent optimized prompts.
func (s *Server) History(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	items, err := s.store.ListTranscripts(c.Request.Context(), claims.Subject, 20)
	if err != nil {
		log.Printf("history lookup failed sub=%s err=%v", claims.Subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	if items == nil {
		items = []models.Transcript{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}
