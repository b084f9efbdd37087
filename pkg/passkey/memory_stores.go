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
	"sync"
	"time"
)

// MemorySessionStore is an in-memory implementation of SessionStore. It is
// the reference for the single-consumption semantics and is intended for
// development and testing; production deployments should use an external
// store so ceremonies survive process restarts.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    func() time.Time
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
		clock:    time.Now,
	}
}

// SetClock overrides the store's time source, for tests.
func (s *MemorySessionStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Create stores a new pending session.
func (s *MemorySessionStore) Create(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return ErrSessionExists
	}
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

// Get retrieves a session without changing its state. Expired sessions are
// reported as not found even though the record may still be present.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Expired(s.clock()) {
		return nil, ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

// Consume atomically transitions a pending session to consumed. The state
// check and transition happen under one lock, so concurrent callers on the
// same ID see exactly one winner.
func (s *MemorySessionStore) Consume(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Expired(s.clock()) {
		return nil, ErrSessionExpired
	}
	if sess.State == SessionConsumed {
		return nil, ErrSessionConsumed
	}

	sess.State = SessionConsumed
	copied := *sess
	return &copied, nil
}

// Count returns the number of sessions physically present, including
// consumed and expired records that have not been reaped.
func (s *MemorySessionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reap removes expired and consumed records and returns how many were
// dropped. Expiry is lazy, so running the reaper is optional.
func (s *MemorySessionStore) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) || sess.State == SessionConsumed {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartReaper runs Reap on the given interval until the context is
// canceled.
func (s *MemorySessionStore) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Reap()
			}
		}
	}()
}

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
type MemoryCredentialStore struct {
	mu     sync.Mutex
	byID   map[string]*Credential
	byUser map[string][]string
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:   make(map[string]*Credential),
		byUser: make(map[string][]string),
	}
}

// Put stores a new credential. Credential IDs are unique globally, not
// just per user, to prevent cross-account collisions.
func (s *MemoryCredentialStore) Put(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := EncodeID(cred.ID)
	if _, ok := s.byID[key]; ok {
		return ErrCredentialConflict
	}
	copied := *cred
	s.byID[key] = &copied
	s.byUser[cred.UserID] = append(s.byUser[cred.UserID], key)
	return nil
}

// GetByID retrieves a credential by its ID.
func (s *MemoryCredentialStore) GetByID(ctx context.Context, credID []byte) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[EncodeID(credID)]
	if !ok {
		return nil, ErrUnknownCredential
	}
	copied := *cred
	return &copied, nil
}

// ListByUser retrieves all credentials owned by a user.
func (s *MemoryCredentialStore) ListByUser(ctx context.Context, userID string) ([]*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.byUser[userID]
	creds := make([]*Credential, 0, len(keys))
	for _, key := range keys {
		if cred, ok := s.byID[key]; ok {
			copied := *cred
			creds = append(creds, &copied)
		}
	}
	return creds, nil
}

// UpdateSignCount conditionally advances a credential's counter. The
// compare and the write happen under one lock; a counter that did not
// advance fails with ErrStaleSignCount and leaves the stored value
// untouched.
func (s *MemoryCredentialStore) UpdateSignCount(ctx context.Context, credID []byte, newCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[EncodeID(credID)]
	if !ok {
		return ErrUnknownCredential
	}
	if newCount <= cred.SignCount && (newCount != 0 || cred.SignCount != 0) {
		return ErrStaleSignCount
	}
	cred.SignCount = newCount
	cred.LastUsedAt = time.Now().UTC()
	return nil
}

// Count returns the total number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// MemoryDirectory is an in-memory implementation of Directory, useful for
// tests and single-node development. A production deployment points this
// interface at its real account directory.
type MemoryDirectory struct {
	mu    sync.Mutex
	users map[string]string // username -> user ID
}

// NewMemoryDirectory creates a new in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users: make(map[string]string),
	}
}

// FindUser resolves a username to its user ID.
func (d *MemoryDirectory) FindUser(ctx context.Context, username string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, ok := d.users[username]
	if !ok {
		return "", ErrUserNotFound
	}
	return userID, nil
}

// CreateUser creates an account under the proposed user ID. The check and
// insert happen under one lock, so concurrent creations of the same
// username resolve to a single surviving identity.
func (d *MemoryDirectory) CreateUser(ctx context.Context, username, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[username]; ok {
		return "", ErrUserExists
	}
	d.users[username] = userID
	return userID, nil
}
