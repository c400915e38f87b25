package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/toolgate"
	"go.pilab.hu/toolgate/internal/clock"
	"go.pilab.hu/toolgate/internal/crypto"
)

// expiredGrace keeps an expired grant around long enough for a late
// redemption to be told "expired" instead of "invalid".
const expiredGrace = time.Minute

const scanBatch = 100

// putScript creates the grant hash unless a live grant owns the key.
// KEYS[1] grant key; ARGV: now ms, expires ms, payload, key deadline ms.
var putScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
  if exp and tonumber(ARGV[1]) < exp then
    return 0
  end
  redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[2], 'consumed', '0', 'payload', ARGV[3])
redis.call('PEXPIREAT', KEYS[1], ARGV[4])
return 1
`)

// consumeScript is the whole validate-and-consume step.
// Returns {1, payload} on success, {0} unknown, {-1} expired (deleted),
// {-2} already consumed.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {0}
end
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if exp == nil or tonumber(ARGV[1]) >= exp then
  redis.call('DEL', KEYS[1])
  return {-1}
end
if redis.call('HGET', KEYS[1], 'consumed') == '1' then
  return {-2}
end
redis.call('HSET', KEYS[1], 'consumed', '1')
return {1, redis.call('HGET', KEYS[1], 'payload')}
`)

// sweepScript deletes KEYS[1] if it expired at ARGV[1].
var sweepScript = redis.NewScript(`
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if exp and tonumber(ARGV[1]) >= exp then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// GrantStore implements toolgate.GrantStore on Redis. Every state change
// runs as one Lua script, so consumption is atomic across broker instances.
type GrantStore struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
	sealer *crypto.Sealer
}

// Option configures a GrantStore.
type Option func(*GrantStore)

// WithClock sets the clock used for expiry decisions.
func WithClock(c clock.Clock) Option {
	return func(s *GrantStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSealer encrypts grant payloads before they are written.
func WithSealer(sealer *crypto.Sealer) Option {
	return func(s *GrantStore) {
		s.sealer = sealer
	}
}

// NewGrantStore creates a new [GrantStore] instance.
func NewGrantStore(client redis.UniversalClient, prefix string, opts ...Option) *GrantStore {
	s := &GrantStore{
		client: client,
		prefix: prefix,
		clock:  clock.Real{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// redisKey returns the Redis key for a given fingerprint.
func (s *GrantStore) redisKey(fingerprint string) string {
	return fmt.Sprintf("%s:grant:%s", s.prefix, fingerprint)
}

func (s *GrantStore) encode(grant *toolgate.Grant) (string, error) {
	data, err := json.Marshal(grant)
	if err != nil {
		return "", fmt.Errorf("failed to marshal grant: %w", err)
	}
	if s.sealer == nil {
		return string(data), nil
	}
	return s.sealer.Seal(data)
}

func (s *GrantStore) decode(payload string) (*toolgate.Grant, error) {
	data := []byte(payload)
	if crypto.IsSealed(payload) {
		if s.sealer == nil {
			return nil, errors.New("grant payload is sealed but no sealer is configured")
		}
		opened, err := s.sealer.Open(payload)
		if err != nil {
			return nil, err
		}
		data = opened
	}
	var grant toolgate.Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	return &grant, nil
}

// Put implements toolgate.GrantStore.Put.
func (s *GrantStore) Put(ctx context.Context, grant *toolgate.Grant) error {
	stored := grant.Clone()
	stored.Consumed = false

	payload, err := s.encode(stored)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	created, err := putScript.Run(ctx, s.client,
		[]string{s.redisKey(grant.Fingerprint)},
		now.UnixMilli(),
		grant.ExpiresAt.UnixMilli(),
		payload,
		grant.ExpiresAt.Add(expiredGrace).UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to store grant in Redis: %w", err)
	}
	if created == 0 {
		return toolgate.ErrGrantExists
	}

	log.Ctx(ctx).Debug().
		Str("fingerprint", toolgate.ShortFingerprint(grant.Fingerprint)).
		Msg("grant stored in redis")

	return nil
}

// Consume implements toolgate.GrantStore.Consume.
func (s *GrantStore) Consume(ctx context.Context, fingerprint string) (*toolgate.Grant, error) {
	res, err := consumeScript.Run(ctx, s.client,
		[]string{s.redisKey(fingerprint)},
		s.clock.Now().UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to consume grant in Redis: %w", err)
	}
	if len(res) == 0 {
		return nil, errors.New("empty reply from consume script")
	}

	status, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected consume status %T", res[0])
	}

	switch status {
	case 0:
		return nil, toolgate.ErrInvalidToken
	case -1:
		return nil, toolgate.ErrExpired
	case -2:
		return nil, toolgate.ErrAlreadyUsed
	case 1:
	default:
		return nil, fmt.Errorf("unexpected consume status %d", status)
	}

	if len(res) < 2 {
		return nil, errors.New("consume script returned no payload")
	}
	payload, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", res[1])
	}

	grant, err := s.decode(payload)
	if err != nil {
		return nil, err
	}
	grant.Consumed = true

	return grant, nil
}

// scan calls fn for every grant key under the prefix.
func (s *GrantStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	pattern := s.redisKey("*")

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan grants: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Sweep implements toolgate.GrantStore.Sweep.
func (s *GrantStore) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now().UnixMilli()
	removed := 0

	err := s.scan(ctx, func(keys []string) error {
		for _, key := range keys {
			n, err := sweepScript.Run(ctx, s.client, []string{key}, now).Int()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return fmt.Errorf("failed to sweep %s: %w", key, err)
			}
			removed += n
		}
		return nil
	})

	return removed, err
}

// Count implements toolgate.GrantStore.Count.
func (s *GrantStore) Count(ctx context.Context) int {
	count := 0
	err := s.scan(ctx, func(keys []string) error {
		count += len(keys)
		return nil
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to count grants")
	}
	return count
}

// Close closes the underlying client.
func (s *GrantStore) Close() error {
	return s.client.Close()
}

var _ toolgate.GrantStore = (*GrantStore)(nil)
