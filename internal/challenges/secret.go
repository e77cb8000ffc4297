package challenges

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/shieldgate/authcore/internal/models"
)

// HashSecret deterministically hashes a raw magic-link secret for
// storage and constant-time comparison, the same commitment scheme
// internal/tokens uses for refresh-token hashes.
func HashSecret(raw string) []byte {
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

// MagicLinkMatcher builds a Matcher that compares presented (the raw
// secret from the link) against the challenge's stored hash in
// constant time (§4.8: "compares hashes in constant time").
func MagicLinkMatcher() Matcher {
	return func(c *models.Challenge, presented []byte) (bool, error) {
		hash := HashSecret(string(presented))
		return subtle.ConstantTimeCompare(hash, c.Payload) == 1, nil
	}
}

// CodeMatcher builds a Matcher for sms-code/email-code challenges,
// comparing presented digits against the stored hash in constant time
// with up to MaxAttempts tries before consumption-on-failure (§4.8).
func CodeMatcher() Matcher {
	return func(c *models.Challenge, presented []byte) (bool, error) {
		hash := HashSecret(string(presented))
		return subtle.ConstantTimeCompare(hash, c.Payload) == 1, nil
	}
}
