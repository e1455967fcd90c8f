package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Howie774/onprompted/app/models"

	"github.com/stripe/stripe-go/v79"
)

type fakeBilling struct {
	customers        map[string]*stripe.Customer
	createdCustomers int
	checkoutCalls    []*stripe.CheckoutSessionParams
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{customers: map[string]*stripe.Customer{}}
}

func (f *fakeBilling) NewCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.checkoutCalls = append(f.checkoutCalls, params)
	return &stripe.CheckoutSession{URL: "https://checkout.stripe.test/session"}, nil
}

func (f *fakeBilling) NewPortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.test/portal"}, nil
}

func (f *fakeBilling) NewCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	f.createdCustomers++
	cust := &stripe.Customer{
		ID:       fmt.Sprintf("cus_fake_%d", f.createdCustomers),
		Metadata: params.Metadata,
	}
	f.customers[cust.ID] = cust
	return cust, nil
}

func (f *fakeBilling) GetCustomer(id string) (*stripe.Customer, error) {
	if cust, ok := f.customers[id]; ok {
		return cust, nil
	}
	return nil, fmt.Errorf("no such customer %s", id)
}

// signStripePayload builds a Stripe-Signature header the way stripe-go's
// webhook verification expects: HMAC-SHA256 over "<timestamp>.<payload>".
func signStripePayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(t *testing.T, server *Server, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()
	router := testRouter(server, "")
	req := httptest.NewRequest(http.MethodPost, "/billing-webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func subscriptionEvent(eventType, subID, customerID, priceID string) string {
	return fmt.Sprintf(`{
		"id": "evt_test",
		"type": %q,
		"data": {
			"object": {
				"id": %q,
				"customer": %q,
				"items": {"data": [{"price": {"id": %q}}]}
			}
		}
	}`, eventType, subID, customerID, priceID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	server, store := newTestServer(&scriptedModel{}, newFakeBilling())

	seedCustomerAccount(t, store, "u1", "cus_1", models.PlanFree, 3)

	payload := subscriptionEvent("customer.subscription.updated", "sub_1", "cus_1", "price_pro")
	resp := postWebhook(t, server, payload, "t=1,v1=deadbeef")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}

	acct, _ := store.GetAccount(context.Background(), "u1")
	if acct.Plan != models.PlanFree || acct.Usage != 3 {
		t.Fatalf("forged event must not mutate the store: %+v", acct)
	}
}

func TestWebhookSubscriptionUpsert(t *testing.T) {
	server, store := newTestServer(&scriptedModel{}, newFakeBilling())
	seedCustomerAccount(t, store, "u1", "cus_1", models.PlanFree, 7)

	payload := subscriptionEvent("customer.subscription.updated", "sub_9", "cus_1", "price_pro")
	resp := postWebhook(t, server, payload, signStripePayload([]byte(payload), "whsec_test"))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	acct, _ := store.GetAccount(context.Background(), "u1")
	if acct.Plan != models.PlanPro || acct.Quota != 500 {
		t.Fatalf("plan not applied: %+v", acct)
	}
	if acct.Usage != 0 {
		t.Fatalf("upsert starts a fresh cycle, usage = %d", acct.Usage)
	}
	if acct.SubscriptionID != "sub_9" {
		t.Fatalf("subscription id not stored: %+v", acct)
	}
}

func TestWebhookSubscriptionUpsertIdempotent(t *testing.T) {
	server, store := newTestServer(&scriptedModel{}, newFakeBilling())
	seedCustomerAccount(t, store, "u1", "cus_1", models.PlanFree, 7)

	payload := subscriptionEvent("customer.subscription.updated", "sub_9", "cus_1", "price_starter")
	for i := 0; i < 2; i++ {
		resp := postWebhook(t, server, payload, signStripePayload([]byte(payload), "whsec_test"))
		if resp.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d", i+1, resp.Code)
		}
	}

	acct, _ := store.GetAccount(context.Background(), "u1")
	if acct.Plan != models.PlanStarter || acct.Quota != 50 || acct.Usage != 0 || acct.SubscriptionID != "sub_9" {
		t.Fatalf("duplicate delivery changed the outcome: %+v", acct)
	}
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	server, store := newTestServer(&scriptedModel{}, newFakeBilling())

	_, err := store.UpdateAccount(context.Background(), "u3", func(a *models.Account) error {
		a.Plan = models.PlanPro
		a.Quota = 500
		a.Usage = 42
		a.StripeCustomerID = "cus_3"
		a.SubscriptionID = "sub_3"
		return nil
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	payload := subscriptionEvent("customer.subscription.deleted", "sub_3", "cus_3", "")
	resp := postWebhook(t, server, payload, signStripePayload([]byte(payload), "whsec_test"))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}

	acct, _ := store.GetAccount(context.Background(), "u3")
	if acct.Plan != models.PlanFree || acct.Quota != 10 {
		t.Fatalf("cancellation should downgrade to free: %+v", acct)
	}
	if acct.SubscriptionID != "" {
		t.Fatalf("subscription id should be cleared: %+v", acct)
	}
	if acct.Usage != 42 {
		t.Fatalf("cancellation must leave usage untouched, got %d", acct.Usage)
	}
}

func TestWebhookCheckoutCompletedLinksAccount(t *testing.T) {
	server, store := newTestServer(&scriptedModel{}, newFakeBilling())

	payload := `{
		"id": "evt_test",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test",
				"client_reference_id": "u4",
				"customer": "cus_4",
				"subscription": "sub_4"
			}
		}
	}`
	resp := postWebhook(t, server, payload, signStripePayload([]byte(payload), "whsec_test"))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}

	// First billing event for a never-seen identity creates the account.
	acct, err := store.GetAccount(context.Background(), "u4")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.StripeCustomerID != "cus_4" || acct.SubscriptionID != "sub_4" {
		t.Fatalf("checkout not linked: %+v", acct)
	}
}

func TestWebhookCheckoutCompletedWithoutReferenceIsDropped(t *testing.T) {
	server, _ := newTestServer(&scriptedModel{}, newFakeBilling())

	payload := `{
		"id": "evt_test",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test", "customer": "cus_9"}}
	}`
	resp := postWebhook(t, server, payload, signStripePayload([]byte(payload), "whsec_test"))
	if resp.Code != http.StatusOK {
		t.Fatalf("missing hint is acknowledged, not failed: %d", resp.Code)
	}
}

func TestWebhookUnresolvableCustomerIsDropped(t *testing.T) {
	billing := newFakeBilling()
	// Customer exists at Stripe but carries no identity metadata.
	billing.customers["cus_unknown"] = &stripe.Customer{ID: "cus_unknown"}
	server, _ := newTestServer(&scriptedModel{}, billing)

	payload := subscriptionEvent("customer.subscription.updated", "sub_7", "cus_unknown", "price_pro")
	resp := postWebhook(t, server, payload, signStripePayload([]byte(payload), "whsec_test"))
	if resp.Code != http.StatusOK {
		t.Fatalf("unresolvable identity must still be acknowledged: %d", resp.Code)
	}
}

func TestWebhookResolvesIdentityFromCustomerMetadata(t *testing.T) {
	billing := newFakeBilling()
	billing.customers["cus_meta"] = &stripe.Customer{
		ID:       "cus_meta",
		Metadata: map[string]string{customerMetadataKey: "u5"},
	}
	server, store := newTestServer(&scriptedModel{}, billing)

	payload := subscriptionEvent("customer.subscription.created", "sub_5", "cus_meta", "price_agency")
	resp := postWebhook(t, server, payload, signStripePayload([]byte(payload), "whsec_test"))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}

	acct, err := store.GetAccount(context.Background(), "u5")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Plan != models.PlanAgency || acct.Quota != 5000 || acct.StripeCustomerID != "cus_meta" {
		t.Fatalf("metadata-resolved upsert not applied: %+v", acct)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	billing := newFakeBilling()
	server, store := newTestServer(&scriptedModel{}, billing)
	router := testRouter(server, "u1")

	resp := postJSON(t, router, "/billing/create-checkout-session", models.CheckoutRequest{Plan: models.PlanPro})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	body := decodeBody(t, resp)
	if body["url"] != "https://checkout.stripe.test/session" {
		t.Fatalf("unexpected body: %v", body)
	}

	if len(billing.checkoutCalls) != 1 {
		t.Fatalf("expected one checkout call")
	}
	params := billing.checkoutCalls[0]
	if params.ClientReferenceID == nil || *params.ClientReferenceID != "u1" {
		t.Fatalf("client reference must carry the identity: %+v", params)
	}
	if len(params.LineItems) != 1 || *params.LineItems[0].Price != "price_pro" {
		t.Fatalf("wrong price: %+v", params.LineItems)
	}

	acct, _ := store.GetAccount(context.Background(), "u1")
	if acct.StripeCustomerID == "" {
		t.Fatalf("checkout should have ensured a customer: %+v", acct)
	}
}

func TestCreateCheckoutSessionInvalidPlan(t *testing.T) {
	server, _ := newTestServer(&scriptedModel{}, newFakeBilling())
	router := testRouter(server, "u1")

	for _, plan := range []models.Plan{models.PlanFree, models.Plan("enterprise"), ""} {
		resp := postJSON(t, router, "/billing/create-checkout-session", models.CheckoutRequest{Plan: plan})
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("plan %q: status = %d, want 400", plan, resp.Code)
		}
		if body := decodeBody(t, resp); body["error"] != "invalid_plan" {
			t.Fatalf("plan %q: unexpected body %v", plan, body)
		}
	}
}

func TestEnsureCustomerIsIdempotent(t *testing.T) {
	billing := newFakeBilling()
	server, _ := newTestServer(&scriptedModel{}, billing)
	ctx := context.Background()

	first, err := server.ensureCustomer(ctx, "u1", "u1@example.test")
	if err != nil {
		t.Fatalf("ensureCustomer: %v", err)
	}
	second, err := server.ensureCustomer(ctx, "u1", "u1@example.test")
	if err != nil {
		t.Fatalf("ensureCustomer: %v", err)
	}
	if first != second {
		t.Fatalf("customer id changed between calls: %s vs %s", first, second)
	}
	if billing.createdCustomers != 1 {
		t.Fatalf("customer created %d times, want once", billing.createdCustomers)
	}
	if got := billing.customers[first].Metadata[customerMetadataKey]; got != "u1" {
		t.Fatalf("customer metadata missing identity: %q", got)
	}
}

func seedCustomerAccount(t *testing.T, store *MemoryStore, identity, customerID string, plan models.Plan, usage int) {
	t.Helper()
	_, err := store.UpdateAccount(context.Background(), identity, func(a *models.Account) error {
		a.Plan = plan
		a.Quota = models.PlanQuota(plan)
		a.Usage = usage
		a.StripeCustomerID = customerID
		return nil
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", identity, err)
	}
}
