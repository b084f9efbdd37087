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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			RPID:          "example.com",
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{"https://example.com"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing RPID", mutate: func(c *Config) { c.RPID = "" }, wantErr: "RPID is required"},
		{name: "missing display name", mutate: func(c *Config) { c.RPDisplayName = "" }, wantErr: "RPDisplayName is required"},
		{name: "missing origins", mutate: func(c *Config) { c.RPOrigins = nil }, wantErr: "at least one RPOrigin is required"},
		{name: "negative session ttl", mutate: func(c *Config) { c.SessionTTL = -time.Second }, wantErr: "session TTL must not be negative"},
		{name: "bad user verification", mutate: func(c *Config) { c.UserVerification = "always" }, wantErr: "invalid user verification"},
		{name: "bad attestation", mutate: func(c *Config) { c.AttestationPreference = "full" }, wantErr: "invalid attestation preference"},
		{name: "bad resident key", mutate: func(c *Config) { c.ResidentKeyRequirement = "maybe" }, wantErr: "invalid resident key requirement"},
		{name: "bad attachment", mutate: func(c *Config) { c.AuthenticatorAttachment = "usb" }, wantErr: "invalid authenticator attachment"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, 2*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, "preferred", cfg.UserVerification)
	assert.Equal(t, "none", cfg.AttestationPreference)
	// Discoverable login needs resident credentials.
	assert.Equal(t, "required", cfg.ResidentKeyRequirement)
}

func TestConfig_SetDefaultsPreservesExplicit(t *testing.T) {
	cfg := &Config{
		SessionTTL:             time.Minute,
		UserVerification:       "required",
		ResidentKeyRequirement: "preferred",
	}
	cfg.SetDefaults()

	assert.Equal(t, time.Minute, cfg.SessionTTL)
	assert.Equal(t, "required", cfg.UserVerification)
	assert.Equal(t, "preferred", cfg.ResidentKeyRequirement)
}

func TestConfig_ToWebAuthnConfig(t *testing.T) {
	cfg := &Config{
		RPID:                    "example.com",
		RPDisplayName:           "Example Corp",
		RPOrigins:               []string{"https://example.com", "https://www.example.com"},
		Timeout:                 30 * time.Second,
		UserVerification:        "required",
		AttestationPreference:   "direct",
		ResidentKeyRequirement:  "required",
		AuthenticatorAttachment: "cross-platform",
	}

	wc := cfg.ToWebAuthnConfig()
	assert.Equal(t, "example.com", wc.RPID)
	assert.Equal(t, "Example Corp", wc.RPDisplayName)
	assert.Len(t, wc.RPOrigins, 2)
	assert.Equal(t, protocol.PreferDirectAttestation, wc.AttestationPreference)
	assert.Equal(t, protocol.VerificationRequired, wc.AuthenticatorSelection.UserVerification)
	assert.Equal(t, protocol.ResidentKeyRequirementRequired, wc.AuthenticatorSelection.ResidentKey)
	assert.Equal(t, protocol.CrossPlatform, wc.AuthenticatorSelection.AuthenticatorAttachment)
	assert.True(t, wc.Timeouts.Login.Enforce)
	assert.Equal(t, 30*time.Second, wc.Timeouts.Registration.Timeout)
}
