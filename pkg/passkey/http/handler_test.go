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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	tokens, err := passkey.NewJWTIssuer(&passkey.JWTIssuerConfig{Key: []byte("test-key")})
	require.NoError(t, err)

	svc, err := passkey.NewService(passkey.ServiceParams{
		Config: &passkey.Config{
			RPID:          "example.com",
			RPDisplayName: "Example Corp",
			RPOrigins:     []string{"https://example.com"},
		},
		Sessions:    passkey.NewMemorySessionStore(),
		Credentials: passkey.NewMemoryCredentialStore(),
		Directory:   passkey.NewMemoryDirectory(),
		Tokens:      tokens,
	})
	require.NoError(t, err)
	return NewHandler(svc)
}

var testRP = virtualwebauthn.RelyingParty{
	Name:   "Example Corp",
	ID:     "example.com",
	Origin: "https://example.com",
}

func TestHandler_RegistrationStart(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name       string
		method     string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "invalid body",
			method:     http.MethodPost,
			body:       "not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "missing username",
			method:     http.MethodPost,
			body:       RegistrationStartRequest{},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "success",
			method:     http.MethodPost,
			body:       RegistrationStartRequest{Username: "user@example.com", DisplayName: "User"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "success without display name",
			method:     http.MethodPost,
			body:       RegistrationStartRequest{Username: "user2@example.com"},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != nil {
				if s, ok := tt.body.(string); ok {
					body = strings.NewReader(s)
				} else {
					b, _ := json.Marshal(tt.body)
					body = bytes.NewReader(b)
				}
			}

			req := httptest.NewRequest(tt.method, "/registration/start", body)
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			h.RegistrationStart(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				var errResp ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
				assert.Equal(t, tt.wantCode, errResp.Error)
				return
			}

			var resp RegistrationStartResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.SessionID)
			require.NotNil(t, resp.CreationOptions)
			assert.NotEmpty(t, resp.CreationOptions.Response.Challenge)
		})
	}
}

func TestHandler_RegistrationFinishValidation(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "missing session id",
			method:     http.MethodPost,
			body:       `{"credential":{}}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "missing credential",
			method:     http.MethodPost,
			body:       `{"sessionId":"some-session"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "malformed attestation",
			method:     http.MethodPost,
			body:       `{"sessionId":"some-session","credential":{"bogus":true}}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/registration/finish", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.RegistrationFinish(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var errResp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
			assert.Equal(t, tt.wantCode, errResp.Error)
		})
	}
}

// registerOverHTTP drives a complete registration ceremony through the
// handler and returns the finish response.
func registerOverHTTP(t *testing.T, h *Handler, username string, auth *virtualwebauthn.Authenticator, cred *virtualwebauthn.Credential) RegistrationFinishResponse {
	t.Helper()

	startBody, _ := json.Marshal(RegistrationStartRequest{Username: username})
	req := httptest.NewRequest(http.MethodPost, "/registration/start", bytes.NewReader(startBody))
	rec := httptest.NewRecorder()
	h.RegistrationStart(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var start RegistrationStartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&start))

	optionsJSON, err := json.Marshal(start.CreationOptions.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestation := virtualwebauthn.CreateAttestationResponse(testRP, *auth, *cred, *parsedOptions)

	finishBody, _ := json.Marshal(RegistrationFinishRequest{
		SessionID:  start.SessionID,
		Credential: json.RawMessage(attestation),
	})
	req = httptest.NewRequest(http.MethodPost, "/registration/finish", bytes.NewReader(finishBody))
	rec = httptest.NewRecorder()
	h.RegistrationFinish(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "finish response: %s", rec.Body.String())

	var finish RegistrationFinishResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&finish))
	auth.AddCredential(*cred)
	return finish
}

// loginOverHTTP drives a discoverable login ceremony through the handler,
// returning the recorder for status inspection.
func loginOverHTTP(t *testing.T, h *Handler, auth virtualwebauthn.Authenticator, cred *virtualwebauthn.Credential) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/discoverable/start", nil)
	rec := httptest.NewRecorder()
	h.DiscoverableStart(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var start DiscoverableStartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&start))
	require.NotEmpty(t, start.SessionID)

	optionsJSON, err := json.Marshal(start.RequestOptions.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)
	assertion := virtualwebauthn.CreateAssertionResponse(testRP, auth, *cred, *parsedOptions)

	finishBody, _ := json.Marshal(DiscoverableFinishRequest{
		SessionID:  start.SessionID,
		Credential: json.RawMessage(assertion),
	})
	req = httptest.NewRequest(http.MethodPost, "/discoverable/finish", bytes.NewReader(finishBody))
	rec = httptest.NewRecorder()
	h.DiscoverableFinish(rec, req)
	return rec
}

func TestHandler_FullRegistrationAndLogin(t *testing.T) {
	h := newTestHandler(t)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	finish := registerOverHTTP(t, h, "alice@example.com", &authenticator, &credential)
	assert.NotEmpty(t, finish.UserID)
	assert.NotEmpty(t, finish.Token)

	// Discoverable login needs the resident credential to carry the user
	// handle the server assigned.
	userHandle, err := passkey.DecodeID(finish.UserID)
	require.NoError(t, err)
	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: userHandle,
	})
	discoverable.AddCredential(credential)

	credential.Counter++
	rec := loginOverHTTP(t, h, discoverable, &credential)
	require.Equal(t, http.StatusOK, rec.Code, "login response: %s", rec.Body.String())

	var login DiscoverableFinishResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&login))
	assert.Equal(t, finish.UserID, login.UserID)
	assert.NotEmpty(t, login.Token)
}

func TestHandler_RegistrationSessionReplay(t *testing.T) {
	h := newTestHandler(t)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	startBody, _ := json.Marshal(RegistrationStartRequest{Username: "replay@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/registration/start", bytes.NewReader(startBody))
	rec := httptest.NewRecorder()
	h.RegistrationStart(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var start RegistrationStartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&start))

	optionsJSON, _ := json.Marshal(start.CreationOptions.Response)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestation := virtualwebauthn.CreateAttestationResponse(testRP, authenticator, credential, *parsedOptions)

	finishBody, _ := json.Marshal(RegistrationFinishRequest{
		SessionID:  start.SessionID,
		Credential: json.RawMessage(attestation),
	})

	req = httptest.NewRequest(http.MethodPost, "/registration/finish", bytes.NewReader(finishBody))
	rec = httptest.NewRecorder()
	h.RegistrationFinish(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// The same finish a second time: the session is spent.
	req = httptest.NewRequest(http.MethodPost, "/registration/finish", bytes.NewReader(finishBody))
	rec = httptest.NewRecorder()
	h.RegistrationFinish(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, ErrorCodeSessionConsumed, errResp.Error)
}

func TestHandler_UnknownSession(t *testing.T) {
	h := newTestHandler(t)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// Produce a syntactically valid attestation against a real session,
	// then submit it with a session ID that does not exist.
	startBody, _ := json.Marshal(RegistrationStartRequest{Username: "ghost@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/registration/start", bytes.NewReader(startBody))
	rec := httptest.NewRecorder()
	h.RegistrationStart(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var start RegistrationStartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&start))
	optionsJSON, _ := json.Marshal(start.CreationOptions.Response)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)
	attestation := virtualwebauthn.CreateAttestationResponse(testRP, authenticator, credential, *parsedOptions)

	finishBody, _ := json.Marshal(RegistrationFinishRequest{
		SessionID:  "does-not-exist",
		Credential: json.RawMessage(attestation),
	})
	req = httptest.NewRequest(http.MethodPost, "/registration/finish", bytes.NewReader(finishBody))
	rec = httptest.NewRecorder()
	h.RegistrationFinish(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, ErrorCodeInvalidSession, errResp.Error)
}

func TestHandler_UnknownCredentialMapsToVerificationFailed(t *testing.T) {
	h := newTestHandler(t)

	// A credential the server has never seen must produce the same error
	// code as a bad signature, so probing cannot distinguish the cases.
	stray := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: []byte("stray"),
	})
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	stray.AddCredential(credential)

	rec := loginOverHTTP(t, h, stray, &credential)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, ErrorCodeVerificationFailed, errResp.Error)
}

func TestHandler_StaleSignCount(t *testing.T) {
	h := newTestHandler(t)

	authenticator := virtualwebauthn.NewAuthenticator()
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	finish := registerOverHTTP(t, h, "cloned@example.com", &authenticator, &credential)

	userHandle, err := passkey.DecodeID(finish.UserID)
	require.NoError(t, err)
	discoverable := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: userHandle,
	})
	discoverable.AddCredential(credential)

	credential.Counter = 5
	rec := loginOverHTTP(t, h, discoverable, &credential)
	require.Equal(t, http.StatusOK, rec.Code)

	// Repeating counter 5 is a clone signal, reported with its own code.
	rec = loginOverHTTP(t, h, discoverable, &credential)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, ErrorCodeStaleSignCount, errResp.Error)
}
