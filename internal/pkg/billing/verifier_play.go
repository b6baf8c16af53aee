package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/workpulse-hq/workpulse/internal/pkg/env"
)

// Play subscription states that count as currently entitled. Every other
// state, even from a successful API call, yields Success=false.
const (
	playStateActive  = "SUBSCRIPTION_STATE_ACTIVE"
	playStateInGrace = "SUBSCRIPTION_STATE_IN_GRACE_PERIOD"
)

// playSubscriptionGetter is the seam over the Android Publisher API used by
// PlayVerifier; tests substitute a fake.
type playSubscriptionGetter interface {
	GetSubscription(ctx context.Context, packageName, token string) (*androidpublisher.SubscriptionPurchaseV2, error)
}

type androidPublisherGetter struct {
	svc *androidpublisher.Service
}

func (g *androidPublisherGetter) GetSubscription(ctx context.Context, packageName, token string) (*androidpublisher.SubscriptionPurchaseV2, error) {
	return g.svc.Purchases.Subscriptionsv2.Get(packageName, token).Context(ctx).Do()
}

// PlayVerifier resolves a purchase token to authoritative subscription state
// via the Android Publisher subscriptionsv2 endpoint.
type PlayVerifier struct {
	getter      playSubscriptionGetter
	mapper      PlanMapper
	packageName string
	timeout     time.Duration
}

// NewPlayVerifierFromEnv builds the verifier using service-account
// credentials; PLAY_PACKAGE_NAME identifies the app.
func NewPlayVerifierFromEnv(ctx context.Context, mapper PlanMapper) (*PlayVerifier, error) {
	credentialsFile := strings.TrimSpace(env.GetEnv("PLAY_CREDENTIALS_FILE", ""))
	packageName := strings.TrimSpace(env.GetEnv("PLAY_PACKAGE_NAME", ""))
	if credentialsFile == "" || packageName == "" {
		return nil, fmt.Errorf("PLAY_CREDENTIALS_FILE and PLAY_PACKAGE_NAME are required")
	}

	svc, err := androidpublisher.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("android publisher client init failed: %w", err)
	}

	return &PlayVerifier{
		getter:      &androidPublisherGetter{svc: svc},
		mapper:      mapper,
		packageName: packageName,
		timeout:     15 * time.Second,
	}, nil
}

func (v *PlayVerifier) Verify(ctx context.Context, ev NormalizedEvent) *VerificationResult {
	packageName := ev.PackageName
	if packageName == "" {
		packageName = v.packageName
	}
	if strings.TrimSpace(ev.PurchaseToken) == "" {
		return &VerificationResult{ErrKind: VerifyErrTransport, Err: "missing purchase token"}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	sub, err := v.getter.GetSubscription(ctx, packageName, ev.PurchaseToken)
	if err != nil {
		// Timeouts and 4xx/5xx are non-fatal here; the next sweep retries.
		return &VerificationResult{ErrKind: VerifyErrTransport, Err: err.Error()}
	}

	result := &VerificationResult{
		RawState:       sub.SubscriptionState,
		SubscriptionID: sub.LatestOrderId,
		Region:         sub.RegionCode,
	}
	if ts := parseRFC3339(sub.StartTime); ts != nil {
		result.StartTime = ts
	}

	if len(sub.LineItems) > 0 {
		item := sub.LineItems[0]
		result.ProductID = item.ProductId
		result.ExpiresAt = parseRFC3339(item.ExpiryTime)
	}

	switch sub.SubscriptionState {
	case playStateActive:
	case playStateInGrace:
		// During grace the line-item expiry is the verified grace end.
		result.GraceEndsAt = result.ExpiresAt
	default:
		result.ErrKind = VerifyErrNotEntitled
		result.Err = fmt.Sprintf("subscription state %s is not entitled", sub.SubscriptionState)
		return result
	}

	plan, cycle, ok := v.mapper.MapProduct(ev.Provider, result.ProductID)
	if !ok {
		result.ErrKind = VerifyErrUnmappedProduct
		result.Err = fmt.Sprintf("no plan mapping for product %q", result.ProductID)
		return result
	}

	result.Success = true
	result.Plan = plan
	result.BillingCycle = cycle
	return result
}

func parseRFC3339(value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}
