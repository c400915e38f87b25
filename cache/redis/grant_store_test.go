package redis_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/toolgate"
	"go.pilab.hu/toolgate/cache/redis"
	"go.pilab.hu/toolgate/internal/clock"
	"go.pilab.hu/toolgate/internal/crypto"
)

var epoch = time.Date(2025, 1, 3, 3, 8, 6, 0, time.UTC)

func setupStore(t *testing.T, opts ...redis.Option) (*redis.GrantStore, *miniredis.Miniredis, *clock.Manual) {
	t.Helper()

	mr := miniredis.RunT(t)
	mr.SetTime(epoch)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	clk := clock.NewManual(epoch)

	store := redis.NewGrantStore(client, "toolgate", append([]redis.Option{redis.WithClock(clk)}, opts...)...)
	t.Cleanup(func() { _ = store.Close() })

	return store, mr, clk
}

func newGrant(token string) *toolgate.Grant {
	return &toolgate.Grant{
		ID:          "grant-" + token,
		Fingerprint: toolgate.HashToken(token),
		ToolID:      "tool-1",
		ToolName:    "Jira",
		ToolURL:     "https://jira.example.com",
		LoginURL:    "https://jira.example.com/login",
		Requester:   toolgate.Requester{UserID: "u1", Email: "u1@example.com"},
		Credentials: &toolgate.Credentials{Username: "a", Password: "b", UsernameField: "uid"},
		Delivery:    toolgate.DeliveryForm,
		CreatedAt:   epoch,
		ExpiresAt:   epoch.Add(toolgate.DefaultGrantTTL),
	}
}

func TestGrantStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store, _, _ := setupStore(t)

	g := newGrant("tok")
	require.NoError(t, store.Put(ctx, g))

	got, err := store.Consume(ctx, g.Fingerprint)
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, g.LoginURL, got.LoginURL)
	assert.Equal(t, toolgate.DeliveryForm, got.Delivery)
	require.NotNil(t, got.Credentials)
	assert.Equal(t, "a", got.Credentials.Username)
	assert.Equal(t, "uid", got.Credentials.UsernameField)
	assert.True(t, g.ExpiresAt.Equal(got.ExpiresAt))

	_, err = store.Consume(ctx, g.Fingerprint)
	assert.ErrorIs(t, err, toolgate.ErrAlreadyUsed)
}

func TestGrantStore_Unknown(t *testing.T) {
	store, _, _ := setupStore(t)

	_, err := store.Consume(context.Background(), toolgate.HashToken("nope"))
	assert.ErrorIs(t, err, toolgate.ErrInvalidToken)
}

func TestGrantStore_Expired(t *testing.T) {
	ctx := context.Background()
	store, mr, clk := setupStore(t)

	g := newGrant("tok")
	require.NoError(t, store.Put(ctx, g))

	clk.Advance(301 * time.Second)

	_, err := store.Consume(ctx, g.Fingerprint)
	assert.ErrorIs(t, err, toolgate.ErrExpired)
	assert.False(t, mr.Exists("toolgate:grant:"+g.Fingerprint))

	_, err = store.Consume(ctx, g.Fingerprint)
	assert.ErrorIs(t, err, toolgate.ErrInvalidToken)
}

func TestGrantStore_KeyOutlivesGrantBriefly(t *testing.T) {
	ctx := context.Background()
	store, mr, _ := setupStore(t)

	g := newGrant("tok")
	require.NoError(t, store.Put(ctx, g))

	ttl := mr.TTL("toolgate:grant:" + g.Fingerprint)
	assert.Greater(t, ttl, toolgate.DefaultGrantTTL)

	mr.FastForward(ttl)
	assert.False(t, mr.Exists("toolgate:grant:"+g.Fingerprint))
	assert.Equal(t, 0, store.Count(ctx))
}

func TestGrantStore_DuplicateFingerprint(t *testing.T) {
	ctx := context.Background()
	store, _, clk := setupStore(t)

	require.NoError(t, store.Put(ctx, newGrant("tok")))
	assert.ErrorIs(t, store.Put(ctx, newGrant("tok")), toolgate.ErrGrantExists)

	clk.Advance(toolgate.DefaultGrantTTL)
	g := newGrant("tok")
	g.CreatedAt = clk.Now()
	g.ExpiresAt = clk.Now().Add(toolgate.DefaultGrantTTL)
	assert.NoError(t, store.Put(ctx, g))
}

func TestGrantStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store, _, _ := setupStore(t)

	g := newGrant("contended")
	require.NoError(t, store.Put(ctx, g))

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(ctx, g.Fingerprint)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, toolgate.ErrAlreadyUsed):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestGrantStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store, _, clk := setupStore(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Put(ctx, newGrant(fmt.Sprintf("old-%d", i))))
	}
	clk.Advance(2 * time.Minute)
	fresh := newGrant("fresh")
	fresh.CreatedAt = clk.Now()
	fresh.ExpiresAt = clk.Now().Add(toolgate.DefaultGrantTTL)
	require.NoError(t, store.Put(ctx, fresh))
	assert.Equal(t, 5, store.Count(ctx))

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Set(epoch.Add(toolgate.DefaultGrantTTL))
	n, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, store.Count(ctx))

	_, err = store.Consume(ctx, fresh.Fingerprint)
	assert.NoError(t, err)
}

func TestGrantStore_SealedPayload(t *testing.T) {
	ctx := context.Background()
	sealer, err := crypto.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	store, mr, _ := setupStore(t, redis.WithSealer(sealer))

	g := newGrant("tok")
	g.Credentials.Password = "hunter2-secret"
	require.NoError(t, store.Put(ctx, g))

	raw := mr.HGet("toolgate:grant:"+g.Fingerprint, "payload")
	assert.True(t, strings.HasPrefix(raw, crypto.SealedPrefix))
	assert.NotContains(t, raw, "hunter2-secret")

	got, err := store.Consume(ctx, g.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "hunter2-secret", got.Credentials.Password)
}

func TestGrantStore_SealedPayloadWithoutSealer(t *testing.T) {
	ctx := context.Background()
	sealer, err := crypto.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	mr.SetTime(epoch)
	clk := clock.NewManual(epoch)

	writer := redis.NewGrantStore(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "toolgate",
		redis.WithClock(clk), redis.WithSealer(sealer))
	reader := redis.NewGrantStore(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "toolgate",
		redis.WithClock(clk))
	defer writer.Close()
	defer reader.Close()

	g := newGrant("tok")
	require.NoError(t, writer.Put(ctx, g))

	_, err = reader.Consume(ctx, g.Fingerprint)
	assert.Error(t, err)
}
