package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"google.golang.org/api/idtoken"
)

// VerifyRazorpayWebhookSignature checks the HMAC-SHA256 signature Razorpay
// sends in X-Razorpay-Signature. The payload must be the exact, unmodified
// request body bytes; any upstream transcoding breaks verification.
func VerifyRazorpayWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}

// PushTokenValidator authenticates Pub/Sub push requests carrying Play RTDN
// payloads. The OIDC token is validated against Google's published public
// keys and must carry the configured audience.
type PushTokenValidator struct {
	Audience string

	// validate is swappable for tests; defaults to idtoken.Validate.
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func NewPushTokenValidator(audience string) *PushTokenValidator {
	return &PushTokenValidator{
		Audience: strings.TrimSpace(audience),
		validate: idtoken.Validate,
	}
}

var (
	ErrPushTokenMissing = errors.New("missing push authorization token")
	ErrPushTokenInvalid = errors.New("invalid push authorization token")
)

// VerifyAuthorizationHeader checks the Authorization header of a push
// request. Missing header, malformed token, audience mismatch, and
// verification failure all reject; nothing reaches downstream components.
func (v *PushTokenValidator) VerifyAuthorizationHeader(ctx context.Context, authorizationHeader string) error {
	if v.Audience == "" {
		// Fail closed: an unconfigured audience must not accept anything.
		return ErrPushTokenInvalid
	}

	header := strings.TrimSpace(authorizationHeader)
	if header == "" {
		return ErrPushTokenMissing
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ErrPushTokenInvalid
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return ErrPushTokenMissing
	}

	validate := v.validate
	if validate == nil {
		validate = idtoken.Validate
	}
	if _, err := validate(ctx, token, v.Audience); err != nil {
		return ErrPushTokenInvalid
	}
	return nil
}
