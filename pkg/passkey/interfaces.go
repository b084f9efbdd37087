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
	"context"
)

// SessionStore persists in-flight ceremony sessions. Implementations must
// be safe for concurrent use across process instances: all coordination
// between ceremony invocations happens through this store.
type SessionStore interface {
	// Create stores a new pending session. Returns ErrSessionExists if the
	// ID is already present.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by its ID without changing its state.
	// Returns ErrSessionNotFound if the session is absent or expired, even
	// when the physical record still exists.
	Get(ctx context.Context, id string) (*Session, error)

	// Consume atomically transitions a pending session to consumed and
	// returns it. Under concurrent callers presenting the same ID, exactly
	// one call succeeds; the rest fail with ErrSessionConsumed. Returns
	// ErrSessionNotFound for absent sessions and ErrSessionExpired for
	// records past their expiry. Never retried automatically on transient
	// failure: a timeout here could mask a successful consumption.
	Consume(ctx context.Context, id string) (*Session, error)
}

// CredentialStore persists registered credentials. Credentials are created
// at registration finish and their sign counter advances on each successful
// authentication; this core never deletes them.
type CredentialStore interface {
	// Put stores a new credential. Returns ErrCredentialConflict if the
	// credential ID is already registered.
	Put(ctx context.Context, cred *Credential) error

	// GetByID retrieves a credential by its ID.
	// Returns ErrUnknownCredential if the credential does not exist.
	GetByID(ctx context.Context, credID []byte) (*Credential, error)

	// ListByUser retrieves all credentials owned by a user. Returns an
	// empty slice when the user has none.
	ListByUser(ctx context.Context, userID string) ([]*Credential, error)

	// UpdateSignCount conditionally advances a credential's counter.
	// The update succeeds iff newCount > the stored counter, or both are
	// zero (authenticators without counters report zero forever).
	// A non-advancing counter fails with ErrStaleSignCount and leaves the
	// stored value unchanged; it is never clamped or auto-corrected.
	UpdateSignCount(ctx context.Context, credID []byte, newCount uint32) error
}

// Directory is the capability interface to the external identity
// directory. The ceremony engine treats the directory as opaque:
// idempotent on lookup, racy on create. Two concurrent creations of the
// same username must resolve to a single surviving identity inside the
// adapter; the registration ceremony tolerates a create conflict by
// retrying the lookup once.
type Directory interface {
	// FindUser resolves a username to its user ID.
	// Returns ErrUserNotFound when no account exists.
	FindUser(ctx context.Context, username string) (string, error)

	// CreateUser creates an account for username with the proposed user ID
	// and returns the surviving ID. Returns ErrUserExists when the
	// username is already taken.
	CreateUser(ctx context.Context, username, userID string) (string, error)
}

// TokenIssuer optionally mints a session-establishing token after a
// successful ceremony. When unset, the service returns the bare user ID.
type TokenIssuer interface {
	// IssueToken creates a token asserting the given user identity.
	IssueToken(ctx context.Context, userID string) (string, error)
}
