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
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// Handler provides HTTP handlers for passkey ceremonies. These handlers
// can be mounted on any HTTP router.
type Handler struct {
	service *passkey.Service
	logger  *slog.Logger
}

// NewHandler creates a new passkey HTTP handler.
func NewHandler(service *passkey.Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// RegistrationStart handles POST /registration/start.
func (h *Handler) RegistrationStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req RegistrationStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "username is required")
		return
	}

	options, sessionID, err := h.service.BeginRegistration(r.Context(), req.Username, req.DisplayName)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, RegistrationStartResponse{
		CreationOptions: options,
		SessionID:       sessionID,
	})
}

// RegistrationFinish handles POST /registration/finish.
func (h *Handler) RegistrationFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req RegistrationFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "session id is required")
		return
	}
	if len(req.Credential) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "credential is required")
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBytes(req.Credential)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	result, err := h.service.FinishRegistration(r.Context(), req.SessionID, response)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, RegistrationFinishResponse{
		UserID: result.UserID,
		Token:  result.Token,
	})
}

// DiscoverableStart handles POST /discoverable/start.
func (h *Handler) DiscoverableStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	options, sessionID, err := h.service.BeginDiscoverableLogin(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, DiscoverableStartResponse{
		RequestOptions: options,
		SessionID:      sessionID,
	})
}

// DiscoverableFinish handles POST /discoverable/finish.
func (h *Handler) DiscoverableFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req DiscoverableFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "session id is required")
		return
	}
	if len(req.Credential) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "credential is required")
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBytes(req.Credential)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	result, err := h.service.FinishDiscoverableLogin(r.Context(), req.SessionID, response)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, DiscoverableFinishResponse{
		UserID: result.UserID,
		Token:  result.Token,
	})
}

// handleServiceError maps ceremony errors to HTTP responses. Expired and
// missing sessions produce the same response, and an unknown credential is
// indistinguishable from a failed verification, so replies never reveal
// whether an account or session ever existed.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case passkey.IsSessionNotFound(err), passkey.IsSessionExpired(err):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidSession, "session not found or expired")
	case passkey.IsSessionConsumed(err):
		h.writeError(w, http.StatusConflict, ErrorCodeSessionConsumed, "session already consumed")
	case passkey.IsStaleSignCount(err):
		h.writeError(w, http.StatusUnauthorized, ErrorCodeStaleSignCount, "signature counter did not advance")
	case passkey.IsVerificationFailed(err), errors.Is(err, passkey.ErrUnknownCredential):
		h.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")
	case passkey.IsCredentialConflict(err):
		h.writeError(w, http.StatusConflict, ErrorCodeCredentialConflict, "credential already registered")
	case passkey.IsTransient(err):
		h.writeError(w, http.StatusServiceUnavailable, ErrorCodeUnavailable, "service temporarily unavailable")
	default:
		h.logger.Error("ceremony failed",
			"path", r.URL.Path,
			"error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
