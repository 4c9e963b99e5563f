package helpers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignWebhookBody returns the hex HMAC-SHA256 of body under secret.
func SignWebhookBody(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// VerifyWebhookSignature checks header against HMAC-SHA256(secret, body).
// Accepted header forms: "<hex>", "sha256=<hex>" and "<base64>".
// An empty secret never verifies.
func VerifyWebhookSignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" {
		return false
	}

	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	expected := m.Sum(nil)

	if got, err := hex.DecodeString(header); err == nil && hmac.Equal(got, expected) {
		return true
	}
	if got, err := base64.StdEncoding.DecodeString(header); err == nil && hmac.Equal(got, expected) {
		return true
	}
	return false
}
