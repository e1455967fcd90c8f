package app

import (
	"context"
	"errors"

	"github.com/Howie774/onprompted/app/models"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// BillingClient is the narrow Stripe surface the server depends on, so tests
// can substitute a fake without touching package-level Stripe state.
type BillingClient interface {
	NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	GetCustomer(id string) (*stripe.Customer, error)
}

// StripeClient wraps a stripe-go API client behind BillingClient.
type StripeClient struct {
	api *client.API
}

var _ BillingClient = (*StripeClient)(nil)

func NewStripeClient(secretKey string) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api}
}

func (c *StripeClient) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

func (c *StripeClient) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return c.api.BillingPortalSessions.New(params)
}

func (c *StripeClient) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return c.api.Customers.New(params)
}

func (c *StripeClient) GetCustomer(id string) (*stripe.Customer, error) {
	return c.api.Customers.Get(id, nil)
}

// customerMetadataKey carries the identity on the Stripe customer so webhook
// events can be traced back to an account even before the id is stored.
const customerMetadataKey = "auth0_sub"

// priceForPlan returns the configured Stripe price id for a paid plan.
func (s *Server) priceForPlan(plan models.Plan) string {
	switch plan {
	case models.PlanStarter:
		return s.cfg.Stripe.PriceIDStarter
	case models.PlanPro:
		return s.cfg.Stripe.PriceIDPro
	case models.PlanAgency:
		return s.cfg.Stripe.PriceIDAgency
	default:
		return ""
	}
}

// planForPrice maps a Stripe price id back to the plan it sells.
func (s *Server) planForPrice(priceID string) (models.Plan, bool) {
	if priceID == "" {
		return "", false
	}
	switch priceID {
	case s.cfg.Stripe.PriceIDStarter:
		return models.PlanStarter, true
	case s.cfg.Stripe.PriceIDPro:
		return models.PlanPro, true
	case s.cfg.Stripe.PriceIDAgency:
		return models.PlanAgency, true
	default:
		return "", false
	}
}

// ensureCustomer finds or creates the Stripe customer for an identity and
// stores the id once. Creation carries the identity in customer metadata so
// the link survives even if the local write is lost.
func (s *Server) ensureCustomer(ctx context.Context, identity, email string) (string, error) {
	if identity == "" {
		return "", errors.New("missing identity")
	}

	acct, err := s.store.EnsureAccount(ctx, identity, email)
	if err != nil {
		return "", err
	}
	if acct.StripeCustomerID != "" {
		return acct.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{customerMetadataKey: identity},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	cust, err := s.billing.NewCustomer(params)
	if err != nil {
		return "", err
	}

	updated, err := s.store.UpdateAccount(ctx, identity, func(a *models.Account) error {
		if a.StripeCustomerID == "" {
			a.StripeCustomerID = cust.ID
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return updated.StripeCustomerID, nil
}

// resolveCustomerIdentity maps a Stripe customer id to an account identity,
// trying the local store first and falling back to the customer metadata that
// ensureCustomer wrote at creation time.
func (s *Server) resolveCustomerIdentity(ctx context.Context, customerID string) (string, error) {
	acct, err := s.store.FindByCustomerID(ctx, customerID)
	if err == nil {
		return acct.ID, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return "", err
	}

	cust, err := s.billing.GetCustomer(customerID)
	if err != nil {
		return "", err
	}
	identity := cust.Metadata[customerMetadataKey]
	if identity == "" {
		return "", ErrAccountNotFound
	}
	return identity, nil
}
