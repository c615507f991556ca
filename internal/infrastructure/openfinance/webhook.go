package openfinance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)), optionally
// prefixed with "sha256=".
const SignatureHeader = "X-Webhook-Signature"

var (
	ErrMissingSignature = errors.New("webhook signature is missing")
	ErrInvalidSignature = errors.New("webhook signature does not match")
	ErrInvalidWebhook   = errors.New("invalid webhook payload")
)

// Sign returns the signature the provider sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body. An empty secret disables
// verification.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return nil
	}
	header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if header == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(header)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseWebhook decodes a webhook body. Type, code and item are required.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if p.WebhookType == "" || p.WebhookCode == "" {
		return nil, fmt.Errorf("%w: webhook_type and webhook_code are required", ErrInvalidWebhook)
	}
	if p.ItemID == "" {
		return nil, fmt.Errorf("%w: item_id is required", ErrInvalidWebhook)
	}
	return &p, nil
}
