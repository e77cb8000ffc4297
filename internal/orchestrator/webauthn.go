package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/challenges"
	"github.com/shieldgate/authcore/internal/models"
)

// webAuthnNonce is the JSON shape persisted as a webauthn-create or
// webauthn-get challenge's Payload: a random 32-byte nonce (§6:
// "random 32-byte nonces") plus whatever bookkeeping the matching
// Complete call needs once the assertion/attestation comes back.
type webAuthnNonce struct {
	Challenge     []byte `json:"challenge"`
	CredentialName string `json:"credential_name,omitempty"`
}

func randomNonce() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("orchestrator: generate webauthn nonce: %w", err)
	}
	return buf, nil
}

// RegistrationOptions is the relying-party-initiated challenge
// structure handed back by BeginWebAuthnRegister (§6). The
// caller's transport layer is responsible for shaping this into the
// browser-native PublicKeyCredentialCreationOptions.
type RegistrationOptions struct {
	ChallengeID uuid.UUID
	Nonce       []byte
}

// BeginWebAuthnRegister issues a webauthn-create challenge for user
// binding a new authenticator named credentialName (§6).
func (o *Orchestrator) BeginWebAuthnRegister(ctx context.Context, userID uuid.UUID, credentialName string) (RegistrationOptions, error) {
	nonce, err := randomNonce()
	if err != nil {
		return RegistrationOptions{}, err
	}
	payload, err := json.Marshal(webAuthnNonce{Challenge: nonce, CredentialName: credentialName})
	if err != nil {
		return RegistrationOptions{}, fmt.Errorf("orchestrator: encode webauthn-create payload: %w", err)
	}
	c, err := o.deps.Challenges.Issue(ctx, challenges.IssueParams{
		Variant:       models.VariantWebAuthnNew,
		SubjectUserID: &userID,
		Payload:       payload,
		MaxAttempts:   1,
	})
	if err != nil {
		return RegistrationOptions{}, err
	}
	return RegistrationOptions{ChallengeID: c.ID, Nonce: nonce}, nil
}

// CredentialRef identifies a newly registered credential (§6).
type CredentialRef struct {
	CredentialPK uuid.UUID
	CredentialID []byte
}

// CompleteWebAuthnRegister verifies the attestation's signature over
// its client data through the webauthn-create challenge issued by
// BeginWebAuthnRegister and, on success, registers the new
// WebAuthnCredential via the Credential Registry (C7) under the name
// stored in that challenge. The client data is not compared with the
// challenge's nonce.
func (o *Orchestrator) CompleteWebAuthnRegister(ctx context.Context, challengeID uuid.UUID, att challenges.WebAuthnAttestation) (CredentialRef, error) {
	c, err := o.deps.Challenges.Get(ctx, challengeID)
	if err != nil {
		return CredentialRef{}, err
	}
	var nonce webAuthnNonce
	if err := json.Unmarshal(c.Payload, &nonce); err != nil {
		return CredentialRef{}, fmt.Errorf("orchestrator: decode webauthn-create payload: %w", err)
	}

	var ref CredentialRef
	matcher := challenges.WebAuthnCreateMatcher(func(att challenges.WebAuthnAttestation) error {
		cred := &models.WebAuthnCredential{
			BaseModel:    models.BaseModel{ID: uuid.New()},
			UserID:       *c.SubjectUserID,
			CredentialID: att.CredentialID,
			PublicKey:    att.PublicKeyDER,
			FriendlyName: nonce.CredentialName,
		}
		if err := o.deps.Credentials.AddWebAuthn(ctx, cred); err != nil {
			return err
		}
		ref = CredentialRef{CredentialPK: cred.ID, CredentialID: cred.CredentialID}
		return nil
	})

	payload, err := json.Marshal(att)
	if err != nil {
		return CredentialRef{}, fmt.Errorf("orchestrator: encode attestation: %w", err)
	}
	if _, err := o.deps.Challenges.Verify(ctx, challengeID, payload, matcher); err != nil {
		return CredentialRef{}, err
	}
	o.emit(models.AuthEvent{Type: models.EventCredentialAdded, ActorUserID: c.SubjectUserID, Outcome: "webauthn credential added"})
	return ref, nil
}

// AssertionOptions is the relying-party-initiated challenge handed
// back by BeginWebAuthnLogin (§6): a nonce plus the allow-list of
// credential IDs the caller may assert with.
type AssertionOptions struct {
	ChallengeID   uuid.UUID
	Nonce         []byte
	AllowedCredentialIDs [][]byte
}

// BeginWebAuthnLogin issues a webauthn-get challenge against every
// registered credential for the given user.
func (o *Orchestrator) BeginWebAuthnLogin(ctx context.Context, email string) (AssertionOptions, error) {
	user, err := o.deps.Users.FindUserByEmail(ctx, email)
	if err != nil {
		return AssertionOptions{}, err
	}
	creds, err := o.deps.Credentials.ListWebAuthnFor(ctx, user.ID)
	if err != nil {
		return AssertionOptions{}, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return AssertionOptions{}, err
	}
	payload, err := json.Marshal(webAuthnNonce{Challenge: nonce})
	if err != nil {
		return AssertionOptions{}, fmt.Errorf("orchestrator: encode webauthn-get payload: %w", err)
	}
	c, err := o.deps.Challenges.Issue(ctx, challenges.IssueParams{
		Variant:       models.VariantWebAuthnGet,
		SubjectUserID: &user.ID,
		Payload:       payload,
	})
	if err != nil {
		return AssertionOptions{}, err
	}

	allowed := make([][]byte, 0, len(creds))
	for _, cred := range creds {
		allowed = append(allowed, cred.CredentialID)
	}
	return AssertionOptions{ChallengeID: c.ID, Nonce: nonce, AllowedCredentialIDs: allowed}, nil
}

// CompleteWebAuthnLogin verifies assertion against the challenge
// issued by BeginWebAuthnLogin, checks-and-bumps the matching
// credential's signature counter, and mints tokens on success (§4.8
// webauthn-get; §8: "the stored counter strictly increases on every
// accepted assertion").
func (o *Orchestrator) CompleteWebAuthnLogin(ctx context.Context, challengeID uuid.UUID, assertion challenges.WebAuthnAssertion, deviceFingerprint, sourceIP, userAgent string) AuthOutcome {
	correlationID := uuid.New().String()

	c, err := o.deps.Challenges.Get(ctx, challengeID)
	if err != nil {
		return o.temporaryFailure(correlationID, "challenge lookup failed", err)
	}
	cred, err := o.deps.Credentials.FindWebAuthnByCredentialID(ctx, assertion.CredentialID)
	if err != nil {
		o.emit(models.AuthEvent{Type: models.EventMFAFailed, Outcome: "unknown credential", CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "invalid_credential"}
	}

	matcher := challenges.WebAuthnGetMatcher(cred.PublicKey, cred.SignCounter, func(newCounter uint32) error {
		return o.deps.Credentials.UpdateWebAuthnCounter(ctx, cred.ID, newCounter, o.now())
	})

	payload, err := json.Marshal(assertion)
	if err != nil {
		return o.temporaryFailure(correlationID, "encode assertion failed", err)
	}
	if _, err := o.deps.Challenges.Verify(ctx, challengeID, payload, matcher); err != nil {
		o.emit(models.AuthEvent{Type: models.EventMFAFailed, ActorUserID: c.SubjectUserID, Outcome: err.Error(), CorrelationID: correlationID})
		return AuthOutcome{Kind: OutcomeDenied, DeniedReason: "challenge_failed"}
	}

	user, err := o.deps.Users.FindUserByID(ctx, cred.UserID)
	if err != nil {
		return o.temporaryFailure(correlationID, "user lookup failed", err)
	}
	fpHash := hashFingerprint(deviceFingerprint)
	device, err := o.deps.Users.BindDevice(ctx, user.ID, fpHash, o.now())
	if err != nil {
		return o.temporaryFailure(correlationID, "device bind failed", err)
	}

	outcome, err := o.mint(ctx, user, device, models.FactorPossession, 0, sourceIP, userAgent)
	if err != nil {
		return o.temporaryFailure(correlationID, "mint failed", err)
	}
	o.emit(models.AuthEvent{Type: models.EventLoginSucceeded, ActorUserID: &user.ID, DeviceID: &device.ID, Outcome: "webauthn login success", CorrelationID: correlationID})
	return outcome
}
