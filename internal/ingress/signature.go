package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader is the webhook header carrying the hex HMAC digest of the
// raw request body.
const SignatureHeader = "X-Arbiter-Signature"

// ComputeSignature returns the hex HMAC-SHA256 digest of body under secret.
func ComputeSignature(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether provided matches the expected digest of
// body. The comparison is constant time.
func VerifySignature(secret, body []byte, provided string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(provided))
}
