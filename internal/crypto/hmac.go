package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderTimestamp = "X-Gaptrader-Timestamp"
	HeaderSignature = "X-Gaptrader-Signature"
)

// WebhookSigner signs outbound webhook bodies so receivers can authenticate
// them. The signature is hex(HMAC-SHA256(secret, timestamp + "." + body)).
type WebhookSigner struct {
	Secret string
}

// Headers returns the signature headers for body at the current time.
func (s WebhookSigner) Headers(body []byte) map[string]string {
	return s.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (s WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: "sha256=" + s.sign(ts, body),
	}
}

// Verify reports whether signature matches body and timestamp.
func (s WebhookSigner) Verify(body []byte, timestamp, signature string) bool {
	want := "sha256=" + s.sign(timestamp, body)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (s WebhookSigner) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (s WebhookSigner) String() string {
	if len(s.Secret) <= 4 {
		return "WebhookSigner{secret=****}"
	}
	return "WebhookSigner{secret=" + s.Secret[:4] + "****}"
}
