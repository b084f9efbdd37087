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

// Package redisstore implements the passkey SessionStore on Redis.
//
// Sessions are stored as JSON values under a TTL so expiry needs no active
// reaper; Redis drops the key and an expired session reads as absent.
// Consumption is a Lua script, executed atomically by Redis, that marks a
// consumed flag alongside the payload: under concurrent consumers of the
// same session exactly one call reads the payload before the flag is set.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "passkey:session:"

	// consumedSentinel is returned by the consume script when the session
	// was already redeemed.
	consumedSentinel = "__consumed__"
)

// consumeScript atomically redeems a session. KEYS[1] is the payload key,
// KEYS[2] the consumed marker. The marker inherits the payload's remaining
// TTL so both expire together.
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return false
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return '` + consumedSentinel + `'
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	ttl = 60000
end
redis.call('SET', KEYS[2], '1', 'PX', ttl)
return raw
`)

// SessionStore is a Redis-backed implementation of passkey.SessionStore.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// Option customizes a SessionStore.
type Option func(*SessionStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *SessionStore) { s.prefix = prefix }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *SessionStore) { s.clock = clock }
}

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client redis.UniversalClient, opts ...Option) *SessionStore {
	s := &SessionStore{
		client: client,
		prefix: defaultPrefix,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new pending session under the configured TTL.
func (s *SessionStore) Create(ctx context.Context, session *passkey.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ttl := session.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	ok, err := s.client.SetNX(ctx, s.payloadKey(session.ID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return passkey.ErrSessionExists
	}
	return nil
}

// Get retrieves a session without consuming it. A key that Redis has
// already expired reads as not found, as does one past its recorded
// expiry that the server clock has not yet caught up with.
func (s *SessionStore) Get(ctx context.Context, id string) (*passkey.Session, error) {
	raw, err := s.client.Get(ctx, s.payloadKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, passkey.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess, err := s.decode(raw)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.clock()) {
		return nil, passkey.ErrSessionNotFound
	}

	consumed, err := s.client.Exists(ctx, s.markerKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session marker: %w", err)
	}
	if consumed > 0 {
		sess.State = passkey.SessionConsumed
	}
	return sess, nil
}

// Consume atomically redeems a session. Exactly one caller wins; the rest
// see ErrSessionConsumed.
func (s *SessionStore) Consume(ctx context.Context, id string) (*passkey.Session, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.payloadKey(id), s.markerKey(id)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, passkey.ErrSessionNotFound
		}
		return nil, fmt.Errorf("consume session: %w", err)
	}

	raw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("consume session: unexpected script result %T", res)
	}
	if raw == consumedSentinel {
		return nil, passkey.ErrSessionConsumed
	}

	sess, err := s.decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	// Redis TTL normally removes expired records before we get here; this
	// guards against clock drift between the server and Redis.
	if sess.Expired(s.clock()) {
		return nil, passkey.ErrSessionExpired
	}
	sess.State = passkey.SessionConsumed
	return sess, nil
}

// Ping reports store reachability, for health checks.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) decode(raw []byte) (*passkey.Session, error) {
	var sess passkey.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) payloadKey(id string) string {
	return s.prefix + id
}

func (s *SessionStore) markerKey(id string) string {
	return s.prefix + id + ":consumed"
}
