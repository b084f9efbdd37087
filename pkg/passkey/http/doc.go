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

// Package http provides composable HTTP handlers for the passkey ceremony
// service. The handlers can be mounted on a chi router or any stdlib mux:
//
//	handler := passkeyhttp.NewHandler(svc)
//	r.Route("/auth/passkeys", func(r chi.Router) {
//	    passkeyhttp.Mount(r, handler)
//	})
//
// Endpoints:
//
//	POST {base}/registration/start   {username, displayName} -> {creationOptions, sessionId}
//	POST {base}/registration/finish  {sessionId, credential} -> {userId, token}
//	POST {base}/discoverable/start   {}                      -> {requestOptions, sessionId}
//	POST {base}/discoverable/finish  {sessionId, credential} -> {userId, token}
//
// Error responses carry a stable machine-readable code plus a generic
// message. Protocol failures and transient store failures map to different
// codes so clients only retry the transient class.
package http
