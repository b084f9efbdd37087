// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// SessionKind identifies the ceremony a session belongs to.
type SessionKind string

const (
	// SessionKindRegistration marks a credential creation ceremony.
	SessionKindRegistration SessionKind = "registration"

	// SessionKindAuthentication marks an assertion ceremony.
	SessionKindAuthentication SessionKind = "authentication"
)

// SessionState tracks whether a session has been redeemed.
type SessionState string

const (
	// SessionPending is the initial state after the start call.
	SessionPending SessionState = "pending"

	// SessionConsumed is the terminal state. The pending->consumed
	// transition happens exactly once.
	SessionConsumed SessionState = "consumed"
)

// Session holds the state of one in-flight ceremony attempt between the
// start and finish calls. All fields are JSON-serializable so sessions can
// live in external stores.
type Session struct {
	// ID is the opaque token the client presents on the finish call.
	ID string `json:"id"`

	// Kind is the ceremony this session belongs to.
	Kind SessionKind `json:"kind"`

	// State is pending until the session is consumed.
	State SessionState `json:"state"`

	// UserHandle is the WebAuthn user handle, present once the identity
	// is known. Empty for discoverable authentication sessions.
	UserHandle []byte `json:"user_handle,omitempty"`

	// Username is the pending account name for first-time registrations.
	// The directory account is only created after cryptographic proof.
	Username string `json:"username,omitempty"`

	// DisplayName is the human-readable name supplied at registration start.
	DisplayName string `json:"display_name,omitempty"`

	// Data is the challenge and verification context from go-webauthn.
	Data webauthn.SessionData `json:"data"`

	// CreatedAt and ExpiresAt bound the session lifetime.
	// ExpiresAt = CreatedAt + configured TTL.
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Credential is a registered public-key credential stored by the Relying
// Party. It wraps the go-webauthn credential with ownership and metadata.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	// Unique across all users.
	ID []byte `json:"id"`

	// UserID is the owning identity reference.
	UserID string `json:"user_id"`

	// PublicKey is the verification key in COSE format, opaque to this
	// package beyond being handed to the verification primitive.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the type of attestation used.
	AttestationType string `json:"attestation_type"`

	// Transport lists the transports supported by the authenticator.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// Flags contains authenticator capability flags.
	Flags CredentialFlags `json:"flags"`

	// AAGUID is the authenticator model identifier.
	AAGUID []byte `json:"aaguid,omitempty"`

	// SignCount is the authenticator-reported usage counter. Zero forever
	// for authenticators without counters; otherwise monotonically
	// non-decreasing across successful authentications.
	SignCount uint32 `json:"sign_count"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	// UserPresent indicates the user was present during the operation.
	UserPresent bool `json:"user_present"`

	// UserVerified indicates the user was verified (e.g., biometric, PIN).
	UserVerified bool `json:"user_verified"`

	// BackupEligible indicates the credential can be backed up.
	BackupEligible bool `json:"backup_eligible"`

	// BackupState indicates the credential is currently backed up.
	BackupState bool `json:"backup_state"`
}

// ToWebAuthn converts a Credential to the go-webauthn library's type.
func (c *Credential) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// Descriptor returns the credential descriptor used to build exclusion and
// allow lists.
func (c *Credential) Descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transport,
	}
}

// FromWebAuthnCredential creates a Credential from the go-webauthn type.
func FromWebAuthnCredential(userID string, wc *webauthn.Credential) *Credential {
	return &Credential{
		ID:              wc.ID,
		UserID:          userID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transport:       wc.Transport,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		AAGUID:    wc.Authenticator.AAGUID,
		SignCount: wc.Authenticator.SignCount,
		CreatedAt: time.Now().UTC(),
	}
}

// EncodeID renders an opaque byte identifier as base64url without padding,
// the encoding used on the wire and as store keys.
func EncodeID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeID parses a base64url identifier.
func DecodeID(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// NewSessionID generates an unguessable session identifier: the base64url
// encoding of random UUID bytes (128 bits of entropy).
func NewSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return EncodeID(id[:]), nil
}

// NewUserHandle generates a fresh WebAuthn user handle from random UUID bytes.
func NewUserHandle() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return id[:], nil
}
