package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/workpulse-hq/workpulse/internal/pkg/env"
)

const defaultRazorpayAPIBaseURL = "https://api.razorpay.com/v1"

// Razorpay subscription states that count as currently entitled. "pending"
// is the gateway's charge-retry window, the analog of Play's grace period.
var razorpayEntitledStates = map[string]bool{
	"active":  true,
	"pending": true,
}

// RazorpayClient fetches authoritative subscription state from the Razorpay
// API using key/secret basic auth.
type RazorpayClient struct {
	KeyID      string
	KeySecret  string
	APIBaseURL string
	mapper     PlanMapper

	HTTPClient *http.Client
}

func NewRazorpayClientFromEnv(mapper PlanMapper) *RazorpayClient {
	return &RazorpayClient{
		KeyID:      strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		KeySecret:  strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("RAZORPAY_API_BASE_URL", defaultRazorpayAPIBaseURL)),
		mapper:     mapper,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type razorpaySubscriptionResponse struct {
	ID           string `json:"id"`
	PlanID       string `json:"plan_id"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
	CurrentStart int64  `json:"current_start"`
	CurrentEnd   int64  `json:"current_end"`
	StartAt      int64  `json:"start_at"`
	ChargeAt     int64  `json:"charge_at"`
}

func (c *RazorpayClient) Verify(ctx context.Context, ev NormalizedEvent) *VerificationResult {
	subscriptionID := strings.TrimSpace(ev.SubscriptionID)
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(ev.PurchaseToken)
	}
	if subscriptionID == "" {
		return &VerificationResult{ErrKind: VerifyErrTransport, Err: "missing subscription id"}
	}
	if c.KeyID == "" || c.KeySecret == "" {
		return &VerificationResult{ErrKind: VerifyErrTransport, Err: "razorpay credentials are not configured"}
	}

	url := strings.TrimRight(c.APIBaseURL, "/") + "/subscriptions/" + subscriptionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &VerificationResult{ErrKind: VerifyErrTransport, Err: err.Error()}
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &VerificationResult{ErrKind: VerifyErrTransport, Err: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &VerificationResult{
			ErrKind: VerifyErrTransport,
			Err:     fmt.Sprintf("razorpay subscription fetch failed: status=%d body=%s", resp.StatusCode, string(body)),
		}
	}

	var sub razorpaySubscriptionResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		return &VerificationResult{ErrKind: VerifyErrTransport, Err: err.Error()}
	}

	result := &VerificationResult{
		RawState:       sub.Status,
		ProductID:      sub.PlanID,
		SubscriptionID: sub.ID,
	}
	if sub.CurrentEnd > 0 {
		t := time.Unix(sub.CurrentEnd, 0)
		result.ExpiresAt = &t
	}
	if sub.StartAt > 0 {
		t := time.Unix(sub.StartAt, 0)
		result.StartTime = &t
	}

	if !razorpayEntitledStates[strings.ToLower(sub.Status)] {
		result.ErrKind = VerifyErrNotEntitled
		result.Err = fmt.Sprintf("subscription status %q is not entitled", sub.Status)
		return result
	}
	if strings.ToLower(sub.Status) == "pending" {
		// Charge retries run until the period end; that is the grace window.
		result.GraceEndsAt = result.ExpiresAt
	}

	plan, cycle, ok := c.mapper.MapProduct(ev.Provider, sub.PlanID)
	if !ok {
		result.ErrKind = VerifyErrUnmappedProduct
		result.Err = fmt.Sprintf("no plan mapping for razorpay plan %q", sub.PlanID)
		return result
	}

	result.Success = true
	result.Plan = plan
	result.BillingCycle = cycle
	return result
}
