package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// verifySignature verifies an HMAC-SHA256 signature against the raw request
// body. Signature failure is a normal outcome, not an error path: the
// function returns false for a missing header, malformed hex or mismatched
// digest, and never panics.
//
// Supported header formats:
//   - "sha256=<hex>" (GitHub style)
//   - "sha1=<hex>" (legacy senders; the digest is still HMAC-SHA256)
//   - "<hex>" (plain hex)
//
// An empty secret always fails verification; the caller must treat a missing
// secret as a configuration fault before ever reaching this point.
func verifySignature(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	actualMAC, err := parseSignature(signature)
	if err != nil {
		return false
	}

	// Constant-time comparison to prevent timing attacks. Differing
	// lengths fail the same way as a digest mismatch.
	return subtle.ConstantTimeCompare(expectedMAC, actualMAC) == 1
}

// parseSignature strips a recognized algorithm prefix and decodes the hex
// digest.
func parseSignature(signature string) ([]byte, error) {
	for _, prefix := range []string{"sha256=", "sha1="} {
		if strings.HasPrefix(signature, prefix) {
			return hex.DecodeString(strings.TrimPrefix(signature, prefix))
		}
	}
	return hex.DecodeString(signature)
}

// computeSignature computes the hex-encoded HMAC-SHA256 digest for a body.
// Used for testing and the config-check doctor.
func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
