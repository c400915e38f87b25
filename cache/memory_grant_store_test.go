package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/toolgate"
	"go.pilab.hu/toolgate/cache"
	"go.pilab.hu/toolgate/internal/clock"
)

var epoch = time.Date(2025, 1, 3, 3, 8, 6, 0, time.UTC)

func newGrant(token string, created time.Time) *toolgate.Grant {
	return &toolgate.Grant{
		ID:          "grant-" + token,
		Fingerprint: toolgate.HashToken(token),
		ToolID:      "tool-1",
		ToolName:    "Jira",
		ToolURL:     "https://jira.example.com",
		LoginURL:    "https://jira.example.com/login",
		Credentials: &toolgate.Credentials{Username: "a", Password: "b"},
		CreatedAt:   created,
		ExpiresAt:   created.Add(toolgate.DefaultGrantTTL),
	}
}

func TestMemoryGrantStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(epoch)
	store := cache.NewMemoryGrantStore(4, cache.WithClock(clk))
	defer store.Close()

	g := newGrant("tok", epoch)
	require.NoError(t, store.Put(ctx, g))

	got, err := store.Consume(ctx, g.Fingerprint)
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	assert.Equal(t, "a", got.Credentials.Username)

	_, err = store.Consume(ctx, g.Fingerprint)
	assert.ErrorIs(t, err, toolgate.ErrAlreadyUsed)

	// The caller's copy must not alias store state.
	got.Credentials.Username = "mutated"
	peek, ok := store.Peek(g.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, "a", peek.Credentials.Username)
	assert.True(t, peek.Consumed)
}

func TestMemoryGrantStore_UnknownFingerprint(t *testing.T) {
	store := cache.NewMemoryGrantStore(0)
	defer store.Close()

	_, err := store.Consume(context.Background(), toolgate.HashToken("never-issued"))
	assert.ErrorIs(t, err, toolgate.ErrInvalidToken)
}

func TestMemoryGrantStore_ExpiredIsDeleted(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(epoch)
	store := cache.NewMemoryGrantStore(4, cache.WithClock(clk))
	defer store.Close()

	g := newGrant("tok", epoch)
	require.NoError(t, store.Put(ctx, g))

	clk.Advance(301 * time.Second)

	_, err := store.Consume(ctx, g.Fingerprint)
	assert.ErrorIs(t, err, toolgate.ErrExpired)
	assert.Equal(t, 0, store.Count(ctx))

	_, err = store.Consume(ctx, g.Fingerprint)
	assert.ErrorIs(t, err, toolgate.ErrInvalidToken)
}

func TestMemoryGrantStore_ExpiryBoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(epoch)
	store := cache.NewMemoryGrantStore(4, cache.WithClock(clk))
	defer store.Close()

	g := newGrant("tok", epoch)
	require.NoError(t, store.Put(ctx, g))

	clk.Set(g.ExpiresAt)
	_, err := store.Consume(ctx, g.Fingerprint)
	assert.ErrorIs(t, err, toolgate.ErrExpired)
}

func TestMemoryGrantStore_DuplicateFingerprint(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(epoch)
	store := cache.NewMemoryGrantStore(4, cache.WithClock(clk))
	defer store.Close()

	require.NoError(t, store.Put(ctx, newGrant("tok", epoch)))
	assert.ErrorIs(t, store.Put(ctx, newGrant("tok", epoch)), toolgate.ErrGrantExists)

	// An expired occupant may be replaced.
	clk.Advance(10 * time.Minute)
	assert.NoError(t, store.Put(ctx, newGrant("tok", clk.Now())))
}

func TestMemoryGrantStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryGrantStore(8, cache.WithClock(clock.NewManual(epoch)))
	defer store.Close()

	g := newGrant("contended", epoch)
	require.NoError(t, store.Put(ctx, g))

	const workers = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Consume(ctx, g.Fingerprint)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, toolgate.ErrAlreadyUsed):
				used++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, used)
	assert.Equal(t, 1, store.Count(ctx))

	peek, ok := store.Peek(g.Fingerprint)
	require.True(t, ok)
	assert.True(t, peek.Consumed)
}

func TestMemoryGrantStore_SweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(epoch)
	store := cache.NewMemoryGrantStore(4, cache.WithClock(clk))
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(ctx, newGrant(fmt.Sprintf("old-%d", i), epoch)))
	}
	clk.Advance(3 * time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(ctx, newGrant(fmt.Sprintf("new-%d", i), clk.Now())))
	}

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing is expired yet")

	// Old grants expire exactly at epoch+5m.
	clk.Set(epoch.Add(toolgate.DefaultGrantTTL))
	n, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, store.Count(ctx))

	for i := 0; i < 3; i++ {
		_, ok := store.Peek(toolgate.HashToken(fmt.Sprintf("new-%d", i)))
		assert.True(t, ok)
	}

	n, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryGrantStore_SweepDuringConsume(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(epoch)
	store := cache.NewMemoryGrantStore(2, cache.WithClock(clk))
	defer store.Close()

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, store.Put(ctx, newGrant(fmt.Sprintf("t-%d", i), epoch)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := store.Consume(ctx, toolgate.HashToken(fmt.Sprintf("t-%d", i)))
			if err != nil && !toolgate.IsRedemptionError(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = store.Sweep(ctx)
		}
	}()
	wg.Wait()

	// Nothing was expired, so the sweep must not have removed anything.
	assert.Equal(t, n, store.Count(ctx))
}

func TestMemoryGrantStore_OnlyFingerprintIsKept(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryGrantStore(4, cache.WithClock(clock.NewManual(epoch)))
	defer store.Close()

	token, err := toolgate.GenerateToken()
	require.NoError(t, err)
	g := newGrant(token, epoch)
	require.NoError(t, store.Put(ctx, g))

	keys := store.Fingerprints()
	require.Len(t, keys, 1)
	assert.NotEqual(t, token, keys[0])
	assert.Equal(t, toolgate.HashToken(token), keys[0])

	// Hashing the fingerprint again does not lead back to the grant.
	_, err = store.Consume(ctx, toolgate.HashToken(keys[0]))
	assert.ErrorIs(t, err, toolgate.ErrInvalidToken)

	peek, ok := store.Peek(keys[0])
	require.True(t, ok)
	assert.NotContains(t, fmt.Sprintf("%+v", *peek), token)
}

func TestMemoryGrantStore_Closed(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryGrantStore(1)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Put(ctx, newGrant("x", epoch)), toolgate.ErrStoreClosed)
	_, err := store.Consume(ctx, "x")
	assert.ErrorIs(t, err, toolgate.ErrStoreClosed)
}
