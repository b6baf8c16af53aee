package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"google.golang.org/api/idtoken"
)

func TestVerifyRazorpayWebhookSignature(t *testing.T) {
	payload := []byte(`{"event":"subscription.charged"}`)
	secret := "top-secret"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	validSig := hex.EncodeToString(mac.Sum(nil))

	if !VerifyRazorpayWebhookSignature(payload, validSig, secret) {
		t.Fatalf("expected signature to validate")
	}
	if VerifyRazorpayWebhookSignature(payload, validSig, "wrong-secret") {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifyRazorpayWebhookSignature(payload, "deadbeef", secret) {
		t.Fatalf("expected invalid signature to fail")
	}
	if VerifyRazorpayWebhookSignature(payload, "not-hex!", secret) {
		t.Fatalf("expected non-hex signature to fail")
	}
	if VerifyRazorpayWebhookSignature(payload, "", secret) {
		t.Fatalf("expected empty signature to fail")
	}
	if VerifyRazorpayWebhookSignature(payload, validSig, "") {
		t.Fatalf("expected empty secret to fail")
	}

	// One flipped byte in the body must break verification.
	tampered := append([]byte(nil), payload...)
	tampered[0] = '['
	if VerifyRazorpayWebhookSignature(tampered, validSig, secret) {
		t.Fatalf("expected tampered payload to fail")
	}
}

func TestPushTokenValidator(t *testing.T) {
	v := NewPushTokenValidator("https://api.example.com/webhooks/play")
	v.validate = func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
		if token == "good" && audience == "https://api.example.com/webhooks/play" {
			return &idtoken.Payload{Audience: audience}, nil
		}
		return nil, errors.New("bad token")
	}

	if err := v.VerifyAuthorizationHeader(context.Background(), "Bearer good"); err != nil {
		t.Fatalf("expected valid token to pass, got %v", err)
	}
	if err := v.VerifyAuthorizationHeader(context.Background(), "Bearer bad"); !errors.Is(err, ErrPushTokenInvalid) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if err := v.VerifyAuthorizationHeader(context.Background(), ""); !errors.Is(err, ErrPushTokenMissing) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if err := v.VerifyAuthorizationHeader(context.Background(), "Basic abc"); !errors.Is(err, ErrPushTokenInvalid) {
		t.Fatalf("expected non-bearer header to be invalid, got %v", err)
	}
	if err := v.VerifyAuthorizationHeader(context.Background(), "Bearer "); !errors.Is(err, ErrPushTokenMissing) {
		t.Fatalf("expected empty bearer token to be missing, got %v", err)
	}
}

func TestPushTokenValidatorUnconfiguredAudienceFailsClosed(t *testing.T) {
	v := NewPushTokenValidator("")
	v.validate = func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
		t.Fatalf("validate must not be called with empty audience")
		return nil, nil
	}
	if err := v.VerifyAuthorizationHeader(context.Background(), "Bearer anything"); !errors.Is(err, ErrPushTokenInvalid) {
		t.Fatalf("expected unconfigured audience to reject, got %v", err)
	}
}
