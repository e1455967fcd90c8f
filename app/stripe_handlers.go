package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/Howie774/onprompted/app/models"
	"github.com/Howie774/onprompted/auth"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// CreateCheckoutSession starts a subscription checkout for the requested plan.
func (s *Server) CreateCheckoutSession(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan"})
		return
	}
	priceID := s.priceForPlan(req.Plan)
	if !req.Plan.Paid() || priceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan"})
		return
	}

	frontendURL := s.cfg.Stripe.FrontendURL
	if frontendURL == "" {
		log.Printf("missing Stripe config: frontend_url unset")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	customerID, err := s.ensureCustomer(c.Request.Context(), claims.Subject, claims.Email)
	if err != nil {
		log.Printf("ensureCustomer failed for sub=%s: %v", claims.Subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(claims.Subject),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(frontendURL + "/billing/success"),
		CancelURL:  stripe.String(frontendURL + "/billing/cancel"),
	}

	sess, err := s.billing.NewCheckoutSession(params)
	if err != nil {
		log.Printf("stripe checkout session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

// CreatePortalSession opens the Stripe customer portal for the caller.
func (s *Server) CreatePortalSession(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	acct, err := s.store.GetAccount(c.Request.Context(), claims.Subject)
	if err != nil {
		log.Printf("portal lookup failed sub=%s err=%v", claims.Subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load customer"})
		return
	}
	if acct.StripeCustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stripe customer missing for user"})
		return
	}

	frontendURL := s.cfg.Stripe.FrontendURL
	if frontendURL == "" {
		log.Printf("missing Stripe config: frontend_url unset")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(acct.StripeCustomerID),
		ReturnURL: stripe.String(frontendURL + "/settings/billing"),
	}
	sess, err := s.billing.NewPortalSession(params)
	if err != nil {
		log.Printf("stripe portal session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

// StripeWebhook verifies and applies Stripe subscription lifecycle events.
// Signature failures are rejected outright; events that verify but cannot be
// traced to an account are acknowledged and dropped with a warning so Stripe
// does not keep redelivering them.
func (s *Server) StripeWebhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Printf("stripe webhook read failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	endpointSecret := s.cfg.Stripe.WebhookSecret
	if endpointSecret == "" {
		log.Printf("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Printf("stripe webhook signature failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			log.Printf("stripe session unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
			return
		}
		if err := s.linkCheckoutSession(c.Request.Context(), sess); err != nil {
			log.Printf("stripe checkout link failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Printf("stripe subscription unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
			return
		}
		if err := s.applySubscriptionUpsert(c.Request.Context(), sub); err != nil {
			log.Printf("stripe subscription upsert failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Printf("stripe subscription unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
			return
		}
		if err := s.applySubscriptionDeleted(c.Request.Context(), sub); err != nil {
			log.Printf("stripe subscription delete failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update user"})
			return
		}
	default:
		// Intentionally ignore unhandled events.
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// linkCheckoutSession attaches the Stripe customer and subscription ids to
// the account named by the session's client reference. All writes are field
// sets, so redelivered events are harmless.
func (s *Server) linkCheckoutSession(ctx context.Context, sess stripe.CheckoutSession) error {
	identity := sess.ClientReferenceID
	if identity == "" {
		log.Printf("stripe checkout session %s has no client reference; dropping", sess.ID)
		return nil
	}

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	subscriptionID := ""
	if sess.Subscription != nil {
		subscriptionID = sess.Subscription.ID
	}

	_, err := s.store.UpdateAccount(ctx, identity, func(a *models.Account) error {
		if a.StripeCustomerID == "" {
			a.StripeCustomerID = customerID
		}
		if subscriptionID != "" {
			a.SubscriptionID = subscriptionID
		}
		return nil
	})
	return err
}

// applySubscriptionUpsert moves the account onto the plan sold by the
// subscription's price and starts a fresh usage cycle.
func (s *Server) applySubscriptionUpsert(ctx context.Context, sub stripe.Subscription) error {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	if customerID == "" {
		log.Printf("stripe subscription %s missing customer id; dropping", sub.ID)
		return nil
	}

	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	plan, ok := s.planForPrice(priceID)
	if !ok {
		log.Printf("stripe subscription %s has unknown price %q; dropping", sub.ID, priceID)
		return nil
	}

	identity, err := s.resolveCustomerIdentity(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Printf("stripe customer %s not linked to any account; dropping subscription upsert", customerID)
			return nil
		}
		return err
	}

	now := time.Now()
	_, err = s.store.UpdateAccount(ctx, identity, func(a *models.Account) error {
		a.Plan = plan
		a.Quota = models.PlanQuota(plan)
		a.Usage = 0
		a.CycleStart = now
		a.SubscriptionID = sub.ID
		if a.StripeCustomerID == "" {
			a.StripeCustomerID = customerID
		}
		return nil
	})
	return err
}

// applySubscriptionDeleted downgrades to free. Usage and cycle start are left
// untouched: a cancelled account keeps what it already spent this cycle.
func (s *Server) applySubscriptionDeleted(ctx context.Context, sub stripe.Subscription) error {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	if customerID == "" {
		log.Printf("stripe subscription %s missing customer id; dropping", sub.ID)
		return nil
	}

	identity, err := s.resolveCustomerIdentity(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			log.Printf("stripe customer %s not linked to any account; dropping subscription delete", customerID)
			return nil
		}
		return err
	}

	_, err = s.store.UpdateAccount(ctx, identity, func(a *models.Account) error {
		a.Plan = models.PlanFree
		a.Quota = models.PlanQuota(models.PlanFree)
		a.SubscriptionID = ""
		return nil
	})
	return err
}
