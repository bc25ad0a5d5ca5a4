package checkstep

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 of body under the shared secret. This is
// the value CheckStep sends in the X-CheckStep-Signature header.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a webhook signature against the exact raw request
// body. It must be called before the body is parsed or re-serialized:
// re-encoding the JSON changes the bytes and breaks the HMAC. Comparison is
// constant-time.
func ValidateSignature(rawBody []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(rawBody, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
