package challenges

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"fmt"

	"github.com/shieldgate/authcore/internal/models"
)

// WebAuthnAssertion is the transport-agnostic shape of a signed
// authentication response, carrying just enough structure to verify
// the signature and bump the signature counter (§4.8 webauthn-get,
// §6: "WebAuthn options follow the standard relying-party-initiated
// challenge structure"). The transport layer is responsible for
// parsing the browser's CredentialAssertionResponse into this shape;
// full CBOR/attestation-object decoding is a transport concern and is
// explicitly out of the core's scope (§1).
type WebAuthnAssertion struct {
	CredentialID      []byte
	AuthenticatorData []byte // raw authenticator data, including the flags and counter bytes
	ClientDataJSON    []byte
	Signature         []byte
}

// WebAuthnAttestation is the registration-time counterpart, carrying
// the new credential's public key and the signed proof of possession
// (§4.8 webauthn-create).
type WebAuthnAttestation struct {
	CredentialID   []byte
	PublicKeyDER   []byte // SubjectPublicKeyInfo-encoded EC public key
	ClientDataJSON []byte
	Signature      []byte
}

// authenticatorDataCounter extracts the big-endian uint32 signature
// counter from raw authenticator data: rpIdHash(32) || flags(1) ||
// counter(4) || ... (WebAuthn §6.1).
func authenticatorDataCounter(raw []byte) (counter uint32, userPresent bool, ok bool) {
	if len(raw) < 37 {
		return 0, false, false
	}
	flags := raw[32]
	counter = uint32(raw[33])<<24 | uint32(raw[34])<<16 | uint32(raw[35])<<8 | uint32(raw[36])
	return counter, flags&0x01 != 0, true
}

func clientDataHash(clientDataJSON []byte) [32]byte {
	return sha256.Sum256(clientDataJSON)
}

func verifyECDSASignature(pub *ecdsa.PublicKey, signedData, signature []byte) bool {
	digest := sha256.Sum256(signedData)
	return ecdsa.VerifyASN1(pub, digest[:], signature)
}

// WebAuthnGetMatcher builds a Matcher for a webauthn-get challenge.
// storedPublicKeyDER and storedCounter come from the matching
// models.WebAuthnCredential; onAccept is invoked with the new counter
// when the assertion verifies, so the caller can persist it via
// credentials.Registry.UpdateWebAuthnCounter.
//
// A non-increasing counter is treated as cloned-authenticator evidence
// and fails closed without consuming an attempt against a real retry —
// grounded on medhomegit-teleport/lib/auth/webauthn/login.go's
// CloneWarning handling, adapted here to the spec's simpler
// fail-closed requirement (§4.8: "A non-increasing counter is treated
// as cloned-authenticator evidence and fails closed").
func WebAuthnGetMatcher(storedPublicKeyDER []byte, storedCounter uint32, onAccept func(newCounter uint32) error) Matcher {
	return func(c *models.Challenge, presented []byte) (bool, error) {
		var assertion WebAuthnAssertion
		if err := json.Unmarshal(presented, &assertion); err != nil {
			return false, nil
		}

		counter, userPresent, ok := authenticatorDataCounter(assertion.AuthenticatorData)
		if !ok || !userPresent {
			return false, nil
		}
		if counter <= storedCounter {
			return false, fmt.Errorf("%w: non-increasing signature counter", errCloneSuspected)
		}

		pub, err := x509.ParsePKIXPublicKey(storedPublicKeyDER)
		if err != nil {
			return false, fmt.Errorf("webauthn: parse stored public key: %w", err)
		}
		ecKey, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return false, fmt.Errorf("webauthn: stored key is not ECDSA")
		}

		hash := clientDataHash(assertion.ClientDataJSON)
		signedData := append(append([]byte{}, assertion.AuthenticatorData...), hash[:]...)
		if !verifyECDSASignature(ecKey, signedData, assertion.Signature) {
			return false, nil
		}

		if onAccept != nil {
			if err := onAccept(counter); err != nil {
				return false, fmt.Errorf("webauthn: persist counter: %w", err)
			}
		}
		return true, nil
	}
}

// WebAuthnCreateMatcher builds a Matcher for a webauthn-create
// challenge. onAccept receives the parsed attestation so the caller
// can register a new models.WebAuthnCredential via
// credentials.Registry.AddWebAuthn.
func WebAuthnCreateMatcher(onAccept func(att WebAuthnAttestation) error) Matcher {
	return func(c *models.Challenge, presented []byte) (bool, error) {
		var att WebAuthnAttestation
		if err := json.Unmarshal(presented, &att); err != nil {
			return false, nil
		}

		pub, err := x509.ParsePKIXPublicKey(att.PublicKeyDER)
		if err != nil {
			return false, nil
		}
		ecKey, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return false, nil
		}

		hash := clientDataHash(att.ClientDataJSON)
		if !verifyECDSASignature(ecKey, hash[:], att.Signature) {
			return false, nil
		}

		if onAccept != nil {
			if err := onAccept(att); err != nil {
				return false, fmt.Errorf("webauthn: register credential: %w", err)
			}
		}
		return true, nil
	}
}

var errCloneSuspected = fmt.Errorf("webauthn: cloned authenticator suspected")
