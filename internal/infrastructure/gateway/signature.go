package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// sign computes the hex HMAC-SHA256 of the body under the shared webhook
// secret. Both adapters use the same scheme with different header names.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares a presented signature against the expected one in
// constant time.
func verify(secret, presented string, body []byte) bool {
	if presented == "" {
		return false
	}
	return hmac.Equal([]byte(sign(secret, body)), []byte(presented))
}
