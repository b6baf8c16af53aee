package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/workpulse-hq/workpulse/app/models"
	"github.com/workpulse-hq/workpulse/internal/pkg/cache"
)

// MultiVerifier dispatches verification to the rail the event came from.
type MultiVerifier struct {
	Play     Verifier
	Razorpay Verifier
}

func (m *MultiVerifier) Verify(ctx context.Context, ev NormalizedEvent) *VerificationResult {
	switch ev.Provider {
	case models.PlanSourcePlay:
		if m.Play != nil {
			return m.Play.Verify(ctx, ev)
		}
	case models.PlanSourceRazorpay:
		if m.Razorpay != nil {
			return m.Razorpay.Verify(ctx, ev)
		}
	}
	return &VerificationResult{ErrKind: VerifyErrTransport, Err: "no verifier configured for provider " + ev.Provider}
}

// CachedVerifier memoizes verification results in Redis for a short window
// so duplicate webhooks and overlapping sweeps do not hammer the provider
// API. Transport failures are never cached.
type CachedVerifier struct {
	Inner Verifier
	TTL   time.Duration
}

func NewCachedVerifier(inner Verifier, ttl time.Duration) *CachedVerifier {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &CachedVerifier{Inner: inner, TTL: ttl}
}

func (c *CachedVerifier) Verify(ctx context.Context, ev NormalizedEvent) *VerificationResult {
	key := verifyCacheKey(ev)
	if raw, err := cache.Get(key); err == nil && raw != "" {
		var cached VerificationResult
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return &cached
		}
	}

	result := c.Inner.Verify(ctx, ev)
	if result != nil && result.ErrKind != VerifyErrTransport {
		if raw, err := json.Marshal(result); err == nil {
			if err := cache.Set(key, string(raw), c.TTL); err != nil {
				log.Debugf("verification cache write failed: %v", err)
			}
		}
	}
	return result
}

func verifyCacheKey(ev NormalizedEvent) string {
	sum := sha256.Sum256([]byte(ev.PurchaseToken))
	return "billing:verify:" + ev.Provider + ":" + hex.EncodeToString(sum[:16])
}
