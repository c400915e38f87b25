package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/toolgate"
	"go.pilab.hu/toolgate/internal/clock"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 32

// grantEntry is one stored grant. The grant itself is immutable after Put;
// the consumed flag is the only mutable state and only changes by CAS.
type grantEntry struct {
	grant    *toolgate.Grant
	consumed atomic.Bool
}

type shard struct {
	mu     sync.RWMutex
	grants map[string]*grantEntry
}

// MemoryGrantStore implements toolgate.GrantStore with a sharded map.
// Fingerprints are spread over shards so unrelated grants never contend on
// the same lock.
type MemoryGrantStore struct {
	shards []*shard
	mask   uint64
	clock  clock.Clock
	closed atomic.Bool
}

// MemoryOption configures a MemoryGrantStore.
type MemoryOption func(*MemoryGrantStore)

// WithClock sets the clock used for expiry decisions.
func WithClock(c clock.Clock) MemoryOption {
	return func(s *MemoryGrantStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewMemoryGrantStore creates an in-memory grant store. shards is rounded up
// to a power of two; values below one mean DefaultShards.
func NewMemoryGrantStore(shards int, opts ...MemoryOption) *MemoryGrantStore {
	if shards < 1 {
		shards = DefaultShards
	}
	n := 1
	for n < shards {
		n <<= 1
	}

	s := &MemoryGrantStore{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		clock:  clock.Real{},
	}
	for i := range s.shards {
		s.shards[i] = &shard{grants: make(map[string]*grantEntry)}
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *MemoryGrantStore) shardFor(fingerprint string) *shard {
	return s.shards[xxhash.Sum64String(fingerprint)&s.mask]
}

// Put implements toolgate.GrantStore.Put.
func (s *MemoryGrantStore) Put(ctx context.Context, grant *toolgate.Grant) error {
	if s.closed.Load() {
		return toolgate.ErrStoreClosed
	}

	entry := &grantEntry{grant: grant.Clone()}
	entry.consumed.Store(grant.Consumed)

	sh := s.shardFor(grant.Fingerprint)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.grants[grant.Fingerprint]; ok && !existing.grant.ExpiredAt(s.clock.Now()) {
		return toolgate.ErrGrantExists
	}
	sh.grants[grant.Fingerprint] = entry

	log.Ctx(ctx).Debug().
		Str("fingerprint", toolgate.ShortFingerprint(grant.Fingerprint)).
		Time("expires_at", grant.ExpiresAt).
		Msg("grant stored")

	return nil
}

// Consume implements toolgate.GrantStore.Consume.
func (s *MemoryGrantStore) Consume(ctx context.Context, fingerprint string) (*toolgate.Grant, error) {
	if s.closed.Load() {
		return nil, toolgate.ErrStoreClosed
	}

	sh := s.shardFor(fingerprint)

	// The read lock keeps Sweep and the expired-delete below out while the
	// consumed flag is flipped; concurrent consumers race only on the CAS.
	sh.mu.RLock()
	entry, ok := sh.grants[fingerprint]
	if !ok {
		sh.mu.RUnlock()
		return nil, toolgate.ErrInvalidToken
	}
	if entry.grant.ExpiredAt(s.clock.Now()) {
		sh.mu.RUnlock()
		s.deleteEntry(sh, fingerprint, entry)
		return nil, toolgate.ErrExpired
	}
	if !entry.consumed.CompareAndSwap(false, true) {
		sh.mu.RUnlock()
		return nil, toolgate.ErrAlreadyUsed
	}
	sh.mu.RUnlock()

	grant := entry.grant.Clone()
	grant.Consumed = true

	log.Ctx(ctx).Debug().
		Str("fingerprint", toolgate.ShortFingerprint(fingerprint)).
		Msg("grant consumed")

	return grant, nil
}

// deleteEntry removes fingerprint only if it still maps to entry.
func (s *MemoryGrantStore) deleteEntry(sh *shard, fingerprint string, entry *grantEntry) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if current, ok := sh.grants[fingerprint]; ok && current == entry {
		delete(sh.grants, fingerprint)
	}
}

// Sweep implements toolgate.GrantStore.Sweep.
func (s *MemoryGrantStore) Sweep(_ context.Context) (int, error) {
	now := s.clock.Now()
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for fp, entry := range sh.grants {
			if entry.grant.ExpiredAt(now) {
				delete(sh.grants, fp)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	return removed, nil
}

// Count implements toolgate.GrantStore.Count.
func (s *MemoryGrantStore) Count(_ context.Context) int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.grants)
		sh.mu.RUnlock()
	}
	return total
}

// Peek returns a copy of the grant stored under fingerprint without
// consuming it. It exists for diagnostics and tests.
func (s *MemoryGrantStore) Peek(fingerprint string) (*toolgate.Grant, bool) {
	sh := s.shardFor(fingerprint)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	entry, ok := sh.grants[fingerprint]
	if !ok {
		return nil, false
	}
	grant := entry.grant.Clone()
	grant.Consumed = entry.consumed.Load()
	return grant, true
}

// Fingerprints lists every stored key.
func (s *MemoryGrantStore) Fingerprints() []string {
	var keys []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for fp := range sh.grants {
			keys = append(keys, fp)
		}
		sh.mu.RUnlock()
	}
	return keys
}

// Close marks the store closed and drops every grant.
func (s *MemoryGrantStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.grants = make(map[string]*grantEntry)
		sh.mu.Unlock()
	}
	return nil
}

var _ toolgate.GrantStore = (*MemoryGrantStore)(nil)
