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

package http

import (
	"encoding/json"

	"github.com/go-webauthn/webauthn/protocol"
)

// RegistrationStartRequest is the request body for starting registration.
type RegistrationStartRequest struct {
	// Username identifies the account to register a credential for.
	Username string `json:"username"`

	// DisplayName is the human-readable name (optional, defaults to
	// username).
	DisplayName string `json:"displayName,omitempty"`
}

// RegistrationStartResponse carries the creation options and the session
// ID the client must present on finish.
type RegistrationStartResponse struct {
	CreationOptions *protocol.CredentialCreation `json:"creationOptions"`
	SessionID       string                       `json:"sessionId"`
}

// RegistrationFinishRequest is the request body for finishing registration.
type RegistrationFinishRequest struct {
	SessionID string `json:"sessionId"`

	// Credential is the authenticator's attestation response as produced
	// by navigator.credentials.create.
	Credential json.RawMessage `json:"credential"`
}

// RegistrationFinishResponse is returned on successful registration.
type RegistrationFinishResponse struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// DiscoverableStartResponse carries the assertion request options for a
// passwordless login. No request body is needed: the allow-list is empty
// and the authenticator chooses the credential.
type DiscoverableStartResponse struct {
	RequestOptions *protocol.CredentialAssertion `json:"requestOptions"`
	SessionID      string                        `json:"sessionId"`
}

// DiscoverableFinishRequest is the request body for finishing a
// passwordless login.
type DiscoverableFinishRequest struct {
	SessionID string `json:"sessionId"`

	// Credential is the authenticator's assertion response as produced by
	// navigator.credentials.get.
	Credential json.RawMessage `json:"credential"`
}

// DiscoverableFinishResponse is returned on successful authentication.
type DiscoverableFinishResponse struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the machine-readable error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidSession     = "invalid_session"
	ErrorCodeSessionConsumed    = "session_consumed"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeCredentialConflict = "credential_conflict"
	ErrorCodeStaleSignCount     = "stale_sign_count"
	ErrorCodeUnavailable        = "service_unavailable"
	ErrorCodeInternalError      = "internal_error"
)
