package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

var ErrInvalidSignature = errors.New("gateway: invalid webhook signature")

// VerifyWebhookSignature checks signature against HMAC-SHA512(body, secret).
func VerifyWebhookSignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	want, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrInvalidSignature
	}
	return nil
}

// SignWebhook returns the signature the gateway would send for body.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookEvent is the part of a gateway event the orchestrator acts on.
type WebhookEvent struct {
	Event     string
	Reference string
}

// ChargeSucceeded reports whether the event signals a completed charge.
func (e WebhookEvent) ChargeSucceeded() bool { return e.Event == "charge.success" }

func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var raw struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookEvent{}, err
	}
	if raw.Event == "" || raw.Data.Reference == "" {
		return WebhookEvent{}, errors.New("gateway: webhook event missing event or reference")
	}
	return WebhookEvent{Event: raw.Event, Reference: raw.Data.Reference}, nil
}
