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

package redisstore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// newTestStore connects to the Redis instance named by PASSKEY_TEST_REDIS_ADDR.
// Tests are skipped when no instance is available.
func newTestStore(t *testing.T) *SessionStore {
	t.Helper()

	addr := os.Getenv("PASSKEY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PASSKEY_TEST_REDIS_ADDR not set; skipping Redis session store tests")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err(), "redis at %s unreachable", addr)

	// Per-test key prefix so parallel runs do not collide.
	return NewSessionStore(client, WithPrefix("passkey:test:"+uuid.NewString()+":"))
}

func newTestSession(ttl time.Duration) *passkey.Session {
	now := time.Now()
	return &passkey.Session{
		ID:        uuid.NewString(),
		Kind:      passkey.SessionKindRegistration,
		State:     passkey.SessionPending,
		Username:  "redis@example.com",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(time.Minute)
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, passkey.SessionKindRegistration, got.Kind)
	assert.Equal(t, passkey.SessionPending, got.State)
	assert.Equal(t, "redis@example.com", got.Username)

	err = store.Create(ctx, sess)
	assert.ErrorIs(t, err, passkey.ErrSessionExists)
}

func TestSessionStore_GetUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, passkey.ErrSessionNotFound)
}

func TestSessionStore_ExpiryByTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(100 * time.Millisecond)
	require.NoError(t, store.Create(ctx, sess))

	time.Sleep(200 * time.Millisecond)

	_, err := store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, passkey.ErrSessionNotFound)

	_, err = store.Consume(ctx, sess.ID)
	assert.ErrorIs(t, err, passkey.ErrSessionNotFound)
}

func TestSessionStore_ConsumeOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := newTestSession(time.Minute)
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Consume(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, passkey.SessionConsumed, got.State)

	_, err = store.Consume(ctx, sess.ID)
	assert.ErrorIs(t, err, passkey.ErrSessionConsumed)

	// The consumed state is visible to readers too.
	read, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, passkey.SessionConsumed, read.State)
}

func TestSessionStore_ConcurrentConsume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	sess := newTestSession(time.Minute)
	require.NoError(t, store.Create(ctx, sess))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		consumed int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Consume(ctx, sess.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case assert.ErrorIs(t, err, passkey.ErrSessionConsumed):
				consumed++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one caller may redeem a session")
	assert.Equal(t, workers-1, consumed)
}
