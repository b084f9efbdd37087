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

// Package passkey implements server-side WebAuthn (passkey) ceremonies
// for passwordless authentication.
//
// The package wraps the go-webauthn/webauthn verification primitives and
// provides:
//   - A ceremony engine (Service) for registration and discoverable login
//   - Pluggable storage interfaces for ceremony sessions and credentials
//   - A capability interface for an external identity directory
//   - In-memory storage implementations for development and testing
//   - Optional token issuance, audit events and Prometheus metrics
//
// # Architecture
//
//  1. Ceremony layer (Service) - challenge issuance and response verification
//  2. Storage layer (SessionStore, CredentialStore) - pluggable persistence
//  3. Directory layer (Directory) - external account directory boundary
//  4. HTTP layer (pkg/passkey/http) - composable HTTP handlers
//
// # Session lifecycle
//
// Every ceremony attempt creates a Session holding the challenge and
// expected verification context. A session is consumed exactly once by the
// finish call; the SessionStore guarantees a single winner under concurrent
// finish attempts, which is the replay-prevention crux of the design. A
// failed verification leaves the session consumed, so a client must restart
// with a fresh start call.
//
// # Usage
//
//	svc, err := passkey.NewService(passkey.ServiceParams{
//	    Config: &passkey.Config{
//	        RPID:          "example.com",
//	        RPDisplayName: "Example Corp",
//	        RPOrigins:     []string{"https://example.com"},
//	    },
//	    Sessions:    passkey.NewMemorySessionStore(),
//	    Credentials: passkey.NewMemoryCredentialStore(),
//	    Directory:   passkey.NewMemoryDirectory(),
//	})
//
// For production, back the stores with Redis and SQLite (see
// internal/storage) or implement the interfaces against your own database.
//
// Note: WebAuthn requires HTTPS for all operations. Browsers will only
// expose the WebAuthn API in secure contexts.
package passkey
