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

// Package sqlitestore persists passkey credentials and the username
// directory in SQLite.
//
// The sign counter lives in its own column and is advanced with a
// conditional UPDATE, so a regressed counter never overwrites a newer one
// even when two logins race on the same credential.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	credential_id TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	payload       TEXT NOT NULL,
	sign_count    INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	last_used_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_credentials_user_id ON credentials(user_id);

CREATE TABLE IF NOT EXISTS users (
	user_id    TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
`

// Store implements passkey.CredentialStore and passkey.Directory on a
// single SQLite database.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. Use ":memory:" for an in-process database.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent use of in-memory databases.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports store reachability, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Put inserts a new credential. The credential ID is unique across all
// users; a duplicate reports ErrCredentialConflict.
func (s *Store) Put(ctx context.Context, cred *passkey.Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (credential_id, user_id, payload, sign_count, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		passkey.EncodeID(cred.ID), cred.UserID, string(payload), cred.SignCount,
		s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return passkey.ErrCredentialConflict
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetByID retrieves a credential by its raw credential ID.
func (s *Store) GetByID(ctx context.Context, id []byte) (*passkey.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, sign_count, last_used_at FROM credentials WHERE credential_id = ?`,
		passkey.EncodeID(id))
	return s.scanCredential(row)
}

// ListByUser returns all credentials registered to a user. An unknown
// user yields an empty slice, not an error.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*passkey.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, sign_count, last_used_at FROM credentials WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*passkey.Credential
	for rows.Next() {
		cred, err := s.scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// UpdateSignCount advances the stored sign counter. The counter only
// moves forward; the lone exception is an authenticator that does not
// implement counters and reports zero forever. A regressed or repeated
// counter reports ErrStaleSignCount and leaves the row untouched.
func (s *Store) UpdateSignCount(ctx context.Context, id []byte, newCount uint32) error {
	encoded := passkey.EncodeID(id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials
		 SET sign_count = ?2, last_used_at = ?3
		 WHERE credential_id = ?1
		   AND (sign_count < ?2 OR (sign_count = 0 AND ?2 = 0))`,
		encoded, newCount, s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a missing credential from a stale counter.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE credential_id = ?`, encoded).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return passkey.ErrUnknownCredential
	}
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	return passkey.ErrStaleSignCount
}

// FindUser resolves a username to its user ID.
func (s *Store) FindUser(ctx context.Context, username string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM users WHERE username = ?`, username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", passkey.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query user: %w", err)
	}
	return userID, nil
}

// CreateUser inserts a new user record. When the username already exists
// the surviving record's ID is returned along with ErrUserExists, so a
// racing caller can adopt the winner's identity.
func (s *Store) CreateUser(ctx context.Context, username, userID string) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, created_at) VALUES (?, ?, ?)`,
		userID, username, s.clock().UTC().Format(time.RFC3339Nano))
	if err == nil {
		return userID, nil
	}
	if !isUniqueViolation(err) {
		return "", fmt.Errorf("insert user: %w", err)
	}

	existing, lookupErr := s.FindUser(ctx, username)
	if lookupErr != nil {
		return "", passkey.ErrUserExists
	}
	return existing, passkey.ErrUserExists
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanCredential(row rowScanner) (*passkey.Credential, error) {
	var (
		payload    string
		signCount  uint32
		lastUsedAt sql.NullString
	)
	if err := row.Scan(&payload, &signCount, &lastUsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrUnknownCredential
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	var cred passkey.Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	// The column is authoritative; the JSON payload holds the count at
	// registration time.
	cred.SignCount = signCount
	if lastUsedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastUsedAt.String); err == nil {
			cred.LastUsedAt = t
		}
	}
	return &cred, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
