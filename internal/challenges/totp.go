package challenges

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/shieldgate/authcore/internal/models"
)

// TOTPMatcher builds a Matcher that validates a presented code against
// seed (the already-decrypted Base32 shared secret — decryption is the
// orchestrator's job via the key store, §4.7) for the current 30-second
// window plus driftWindows steps on either side (§4.6.3's drift-window
// configuration, §8's boundary law: "codes from the immediately prior
// and next 30-second window verify iff drift tolerance >= 1").
//
// Grounded on the teacher's dependency-free bcrypt/jwt stack having no
// TOTP of its own; pquerna/otp is the library the rest of the retrieval
// pack (gravitational-teleport, Jeffreasy-LaventeCareAuthSystems,
// streamspace-dev-streamspace) reaches for, so this wires the same one
// rather than hand-rolling RFC 6238 HMAC truncation.
func TOTPMatcher(seed string, driftWindows int) Matcher {
	return func(c *models.Challenge, presented []byte) (bool, error) {
		opts := totp.ValidateOpts{
			Period:    30,
			Skew:      uint(driftWindows),
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		}
		ok, err := totp.ValidateCustom(string(presented), seed, time.Now().UTC(), opts)
		if err != nil {
			return false, nil // malformed code: treat as a failed attempt, not a system error
		}
		return ok, nil
	}
}

// GenerateTOTPSeed creates a new random Base32-encoded shared secret
// suitable for a fresh TOTPEnrollment, using the same issuer/account
// naming convention pquerna/otp's Generate expects.
func GenerateTOTPSeed(issuer, accountName string) (seed string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}
