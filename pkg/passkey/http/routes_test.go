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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMount(t *testing.T) {
	h := newTestHandler(t)

	r := chi.NewRouter()
	r.Route("/auth/passkeys", func(r chi.Router) {
		Mount(r, h)
	})

	body, _ := json.Marshal(RegistrationStartRequest{Username: "mounted@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/auth/passkeys/registration/start", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/passkeys/discoverable/start", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unregistered path.
	req = httptest.NewRequest(http.MethodPost, "/auth/passkeys/unknown", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMountStdlib(t *testing.T) {
	h := newTestHandler(t)

	mux := http.NewServeMux()
	MountStdlib(mux, "/auth/passkeys", h)

	req := httptest.NewRequest(http.MethodPost, "/auth/passkeys/discoverable/start", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Handlers reject wrong methods themselves.
	req = httptest.NewRequest(http.MethodGet, "/auth/passkeys/discoverable/start", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutes(t *testing.T) {
	h := newTestHandler(t)

	routes := h.Routes()
	require.Len(t, routes, 4)

	paths := make(map[string]bool)
	for _, route := range routes {
		assert.Equal(t, http.MethodPost, route.Method)
		assert.NotNil(t, route.Handler)
		paths[route.Path] = true
	}
	assert.True(t, paths["/registration/start"])
	assert.True(t, paths["/registration/finish"])
	assert.True(t, paths["/discoverable/start"])
	assert.True(t, paths["/discoverable/finish"])
}
