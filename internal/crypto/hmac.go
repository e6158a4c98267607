package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderTimestamp = "X-Smartmon-Timestamp"
	HeaderSignature = "X-Smartmon-Signature"
)

// WebhookSigner signs outbound webhook bodies so receivers can verify them.
// The signature is HMAC-SHA256(secret, timestamp + "." + body) encoded as
// base64.
type WebhookSigner struct {
	secret []byte
	now    func() time.Time
}

// NewWebhookSigner returns a signer for secret.
func NewWebhookSigner(secret string) *WebhookSigner {
	return &WebhookSigner{secret: []byte(secret), now: time.Now}
}

// Headers returns the timestamp and signature headers for body.
func (s *WebhookSigner) Headers(body []byte) map[string]string {
	return s.HeadersAt(body, s.now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (s *WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: s.sign(ts, body),
	}
}

// Verify reports whether sig matches body at timestamp ts.
func (s *WebhookSigner) Verify(ts string, body []byte, sig string) bool {
	return hmac.Equal([]byte(s.sign(ts, body)), []byte(sig))
}

func (s *WebhookSigner) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
