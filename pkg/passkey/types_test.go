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
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := &Session{CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	assert.False(t, sess.Expired(now))
	assert.False(t, sess.Expired(now.Add(59*time.Second)))
	// The boundary instant counts as expired.
	assert.True(t, sess.Expired(now.Add(time.Minute)))
	assert.True(t, sess.Expired(now.Add(time.Hour)))
}

func TestCredential_RoundTrip(t *testing.T) {
	wc := &webauthn.Credential{
		ID:              []byte{0x01, 0x02, 0x03},
		PublicKey:       []byte{0x04, 0x05},
		AttestationType: "none",
		Transport:       []protocol.AuthenticatorTransport{protocol.Internal},
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			UserVerified:   true,
			BackupEligible: true,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    []byte{0xAA},
			SignCount: 7,
		},
	}

	cred := FromWebAuthnCredential("user-1", wc)
	assert.Equal(t, "user-1", cred.UserID)
	assert.Equal(t, wc.ID, cred.ID)
	assert.Equal(t, uint32(7), cred.SignCount)
	assert.True(t, cred.Flags.UserVerified)
	assert.False(t, cred.Flags.BackupState)

	back := cred.ToWebAuthn()
	assert.Equal(t, wc.ID, back.ID)
	assert.Equal(t, wc.PublicKey, back.PublicKey)
	assert.Equal(t, wc.Transport, back.Transport)
	assert.Equal(t, uint32(7), back.Authenticator.SignCount)
	assert.Equal(t, wc.Flags, back.Flags)
}

func TestCredential_Descriptor(t *testing.T) {
	cred := &Credential{
		ID:        []byte("cred-id"),
		Transport: []protocol.AuthenticatorTransport{protocol.USB},
	}

	desc := cred.Descriptor()
	assert.Equal(t, protocol.PublicKeyCredentialType, desc.Type)
	assert.Equal(t, protocol.URLEncodedBase64([]byte("cred-id")), desc.CredentialID)
	assert.Equal(t, cred.Transport, desc.Transport)
}

func TestEncodeDecodeID(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xFE, 0xFF}
	encoded := EncodeID(raw)

	// base64url alphabet, no padding.
	assert.NotContains(t, encoded, "=")
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")

	decoded, err := DecodeID(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = DecodeID("not valid base64url!")
	assert.Error(t, err)
}

func TestNewSessionID(t *testing.T) {
	a, err := NewSessionID()
	require.NoError(t, err)
	b, err := NewSessionID()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	// 16 random bytes encode to 22 base64url characters.
	assert.Len(t, a, 22)
	raw, err := DecodeID(a)
	require.NoError(t, err)
	assert.Len(t, raw, 16)
}

func TestNewUserHandle(t *testing.T) {
	a, err := NewUserHandle()
	require.NoError(t, err)
	b, err := NewUserHandle()
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}
