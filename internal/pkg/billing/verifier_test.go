package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/api/androidpublisher/v3"
)

type stubPlanMapper map[string][2]string

func (m stubPlanMapper) MapProduct(provider, productRef string) (string, string, bool) {
	v, ok := m[provider+"/"+productRef]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}

type stubPlayGetter struct {
	sub *androidpublisher.SubscriptionPurchaseV2
	err error
}

func (g *stubPlayGetter) GetSubscription(ctx context.Context, packageName, token string) (*androidpublisher.SubscriptionPurchaseV2, error) {
	return g.sub, g.err
}

func newPlayVerifier(getter playSubscriptionGetter, mapper PlanMapper) *PlayVerifier {
	return &PlayVerifier{
		getter:      getter,
		mapper:      mapper,
		packageName: "com.workpulse.app",
		timeout:     time.Second,
	}
}

func playMapper() stubPlanMapper {
	return stubPlanMapper{
		"play/workpulse.starter.monthly": {"starter", "monthly"},
	}
}

func TestPlayVerifierActiveState(t *testing.T) {
	expiry := time.Now().AddDate(0, 1, 0).UTC().Format(time.RFC3339)
	getter := &stubPlayGetter{sub: &androidpublisher.SubscriptionPurchaseV2{
		SubscriptionState: "SUBSCRIPTION_STATE_ACTIVE",
		LatestOrderId:     "GPA.1234",
		RegionCode:        "IN",
		LineItems: []*androidpublisher.SubscriptionPurchaseLineItem{{
			ProductId:  "workpulse.starter.monthly",
			ExpiryTime: expiry,
		}},
	}}

	v := newPlayVerifier(getter, playMapper())
	result := v.Verify(context.Background(), NormalizedEvent{Provider: "play", PurchaseToken: "token-1"})

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Plan != "starter" || result.BillingCycle != "monthly" {
		t.Fatalf("plan mapping wrong: %+v", result)
	}
	if result.ExpiresAt == nil {
		t.Fatalf("expiry not parsed")
	}
	if result.GraceEndsAt != nil {
		t.Fatalf("active state has no grace end")
	}
	if result.SubscriptionID != "GPA.1234" {
		t.Fatalf("order id = %q", result.SubscriptionID)
	}
}

func TestPlayVerifierGraceState(t *testing.T) {
	expiry := time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)
	getter := &stubPlayGetter{sub: &androidpublisher.SubscriptionPurchaseV2{
		SubscriptionState: "SUBSCRIPTION_STATE_IN_GRACE_PERIOD",
		LineItems: []*androidpublisher.SubscriptionPurchaseLineItem{{
			ProductId:  "workpulse.starter.monthly",
			ExpiryTime: expiry,
		}},
	}}

	result := newPlayVerifier(getter, playMapper()).Verify(context.Background(), NormalizedEvent{Provider: "play", PurchaseToken: "token-1"})

	if !result.Success {
		t.Fatalf("grace is an entitled state, got %+v", result)
	}
	if result.GraceEndsAt == nil || !result.GraceEndsAt.Equal(*result.ExpiresAt) {
		t.Fatalf("grace end must be the line-item expiry")
	}
}

func TestPlayVerifierNotEntitledStates(t *testing.T) {
	for _, state := range []string{
		"SUBSCRIPTION_STATE_ON_HOLD",
		"SUBSCRIPTION_STATE_CANCELED",
		"SUBSCRIPTION_STATE_EXPIRED",
		"SUBSCRIPTION_STATE_PAUSED",
	} {
		getter := &stubPlayGetter{sub: &androidpublisher.SubscriptionPurchaseV2{SubscriptionState: state}}
		result := newPlayVerifier(getter, playMapper()).Verify(context.Background(), NormalizedEvent{Provider: "play", PurchaseToken: "token-1"})
		if result.Success {
			t.Fatalf("state %s must not be entitled", state)
		}
		if result.ErrKind != VerifyErrNotEntitled {
			t.Fatalf("state %s: err kind = %s", state, result.ErrKind)
		}
	}
}

func TestPlayVerifierTransportAndMappingErrors(t *testing.T) {
	result := newPlayVerifier(&stubPlayGetter{err: errors.New("503")}, playMapper()).
		Verify(context.Background(), NormalizedEvent{Provider: "play", PurchaseToken: "token-1"})
	if result.ErrKind != VerifyErrTransport {
		t.Fatalf("api error must be transport, got %s", result.ErrKind)
	}

	getter := &stubPlayGetter{sub: &androidpublisher.SubscriptionPurchaseV2{
		SubscriptionState: "SUBSCRIPTION_STATE_ACTIVE",
		LineItems: []*androidpublisher.SubscriptionPurchaseLineItem{{
			ProductId: "workpulse.unknown.product",
		}},
	}}
	result = newPlayVerifier(getter, playMapper()).Verify(context.Background(), NormalizedEvent{Provider: "play", PurchaseToken: "token-1"})
	if result.ErrKind != VerifyErrUnmappedProduct {
		t.Fatalf("unknown product must be unmapped_product, got %s", result.ErrKind)
	}

	result = newPlayVerifier(getter, playMapper()).Verify(context.Background(), NormalizedEvent{Provider: "play"})
	if result.ErrKind != VerifyErrTransport {
		t.Fatalf("missing token must not reach the API, got %s", result.ErrKind)
	}
}

func razorpayTestClient(t *testing.T, handler http.HandlerFunc) (*RazorpayClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &RazorpayClient{
		KeyID:      "rzp_test_key",
		KeySecret:  "secret",
		APIBaseURL: srv.URL,
		mapper: stubPlanMapper{
			"razorpay/plan_starter_monthly": {"starter", "monthly"},
		},
		HTTPClient: srv.Client(),
	}, srv
}

func TestRazorpayVerifierActive(t *testing.T) {
	client, _ := razorpayTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "rzp_test_key" || pass != "secret" {
			t.Fatalf("basic auth not sent")
		}
		if r.URL.Path != "/subscriptions/sub_1" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sub_1","plan_id":"plan_starter_monthly","customer_id":"cust_1","status":"active","current_end":4102444800,"start_at":1724800000}`))
	})

	result := client.Verify(context.Background(), NormalizedEvent{Provider: "razorpay", SubscriptionID: "sub_1"})

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Plan != "starter" || result.RawState != "active" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ExpiresAt == nil || result.ExpiresAt.Unix() != 4102444800 {
		t.Fatalf("current_end not converted")
	}
}

func TestRazorpayVerifierPendingIsGrace(t *testing.T) {
	client, _ := razorpayTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sub_1","plan_id":"plan_starter_monthly","status":"pending","current_end":4102444800}`))
	})

	result := client.Verify(context.Background(), NormalizedEvent{Provider: "razorpay", SubscriptionID: "sub_1"})

	if !result.Success {
		t.Fatalf("pending is entitled (retry window), got %+v", result)
	}
	if result.GraceEndsAt == nil || !result.GraceEndsAt.Equal(*result.ExpiresAt) {
		t.Fatalf("pending must report the period end as grace end")
	}
}

func TestRazorpayVerifierErrorKinds(t *testing.T) {
	client, _ := razorpayTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sub_1","plan_id":"plan_starter_monthly","status":"halted"}`))
	})
	result := client.Verify(context.Background(), NormalizedEvent{Provider: "razorpay", SubscriptionID: "sub_1"})
	if result.Success || result.ErrKind != VerifyErrNotEntitled {
		t.Fatalf("halted must be not_entitled, got %+v", result)
	}

	client, _ = razorpayTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	result = client.Verify(context.Background(), NormalizedEvent{Provider: "razorpay", SubscriptionID: "sub_1"})
	if result.ErrKind != VerifyErrTransport {
		t.Fatalf("5xx must be transport, got %s", result.ErrKind)
	}

	client, _ = razorpayTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"sub_1","plan_id":"plan_unmapped","status":"active"}`))
	})
	result = client.Verify(context.Background(), NormalizedEvent{Provider: "razorpay", SubscriptionID: "sub_1"})
	if result.ErrKind != VerifyErrUnmappedProduct {
		t.Fatalf("unknown plan must be unmapped_product, got %s", result.ErrKind)
	}

	result = client.Verify(context.Background(), NormalizedEvent{Provider: "razorpay"})
	if result.ErrKind != VerifyErrTransport {
		t.Fatalf("missing subscription id, got %s", result.ErrKind)
	}
}

func TestMultiVerifierDispatch(t *testing.T) {
	play := &fakeVerifier{result: &VerificationResult{Success: true, Plan: "starter"}}
	rzp := &fakeVerifier{result: &VerificationResult{Success: true, Plan: "business"}}
	multi := &MultiVerifier{Play: play, Razorpay: rzp}

	if r := multi.Verify(context.Background(), NormalizedEvent{Provider: "play"}); r.Plan != "starter" {
		t.Fatalf("play dispatch failed: %+v", r)
	}
	if r := multi.Verify(context.Background(), NormalizedEvent{Provider: "razorpay"}); r.Plan != "business" {
		t.Fatalf("razorpay dispatch failed: %+v", r)
	}
	if r := multi.Verify(context.Background(), NormalizedEvent{Provider: "stripe"}); r.ErrKind != VerifyErrTransport {
		t.Fatalf("unknown provider must fail as transport: %+v", r)
	}
	if r := (&MultiVerifier{}).Verify(context.Background(), NormalizedEvent{Provider: "play"}); r.ErrKind != VerifyErrTransport {
		t.Fatalf("unconfigured rail must fail as transport: %+v", r)
	}
}
