package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const SignatureHeader = "X-Callback-Signature"

// Callback is the body the provider posts to the callback URL.
type Callback struct {
	OrderID FlexString `json:"order_id"`
	Status  string     `json:"status"`
	Message string     `json:"message,omitempty"`
}

func ParseCallback(body []byte) (Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return cb, fmt.Errorf("malformed callback: %w", err)
	}
	if cb.OrderID == "" || cb.Status == "" {
		return cb, errors.New("callback requires order_id and status")
	}
	return cb, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature fails closed: an empty secret or signature never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
