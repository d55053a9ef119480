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
	HeaderTimestamp = "X-Cascadebot-Timestamp"
	HeaderSignature = "X-Cascadebot-Signature"
)

// WebhookSignature computes hex(HMAC-SHA256(secret, timestamp + "." + body)).
func WebhookSignature(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookHeaders returns the timestamp and signature headers for body.
func WebhookHeaders(secret []byte, body []byte) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: WebhookSignature(secret, ts, body),
	}
}

// VerifyWebhook checks a signature in constant time.
func VerifyWebhook(secret []byte, timestamp string, body []byte, signature string) bool {
	want := WebhookSignature(secret, timestamp, body)
	return hmac.Equal([]byte(want), []byte(signature))
}
