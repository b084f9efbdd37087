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
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount mounts the ceremony routes on a chi router.
//
// Example:
//
//	handler := passkeyhttp.NewHandler(svc)
//	r.Route("/auth/passkeys", func(r chi.Router) {
//	    passkeyhttp.Mount(r, handler)
//	})
func Mount(r chi.Router, h *Handler) {
	r.Post("/registration/start", h.RegistrationStart)
	r.Post("/registration/finish", h.RegistrationFinish)
	r.Post("/discoverable/start", h.DiscoverableStart)
	r.Post("/discoverable/finish", h.DiscoverableFinish)
}

// MountStdlib mounts the ceremony routes on a stdlib http.ServeMux. The
// prefix should not include a trailing slash. Method checking is done in
// the handlers.
func MountStdlib(mux *http.ServeMux, prefix string, h *Handler) {
	mux.HandleFunc(prefix+"/registration/start", h.RegistrationStart)
	mux.HandleFunc(prefix+"/registration/finish", h.RegistrationFinish)
	mux.HandleFunc(prefix+"/discoverable/start", h.DiscoverableStart)
	mux.HandleFunc(prefix+"/discoverable/finish", h.DiscoverableFinish)
}

// RouteEntry represents a single route with its method, path, and handler.
type RouteEntry struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes returns the route table for manual mounting on other frameworks.
func (h *Handler) Routes() []RouteEntry {
	return []RouteEntry{
		{Method: "POST", Path: "/registration/start", Handler: h.RegistrationStart},
		{Method: "POST", Path: "/registration/finish", Handler: h.RegistrationFinish},
		{Method: "POST", Path: "/discoverable/start", Handler: h.DiscoverableStart},
		{Method: "POST", Path: "/discoverable/finish", Handler: h.DiscoverableFinish},
	}
}
