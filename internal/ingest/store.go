package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps the receiver's idempotency state.
type Store interface {
	// Claim reserves eventID; false means it was already seen.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets a claim whose event was not applied.
	Release(ctx context.Context, eventID string) error
	// Advance records version for entityID unless a newer one was already applied.
	Advance(ctx context.Context, entityID, version int64) (bool, error)
}

// advanceScript sets KEYS[1] to ARGV[1] unless the stored value is greater.
var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

type redisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore keys claims as {prefix}ingest:event:{id} with ttl and versions as
// {prefix}ingest:version:{entity}.
func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *redisStore) eventKey(id string) string { return s.prefix + "ingest:event:" + id }

func (s *redisStore) versionKey(entityID int64) string {
	return s.prefix + "ingest:version:" + strconv.FormatInt(entityID, 10)
}

func (s *redisStore) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.eventKey(eventID), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

func (s *redisStore) Release(ctx context.Context, eventID string) error {
	return s.rdb.Del(ctx, s.eventKey(eventID)).Err()
}

func (s *redisStore) Advance(ctx context.Context, entityID, version int64) (bool, error) {
	n, err := advanceScript.Run(ctx, s.rdb, []string{s.versionKey(entityID)}, version).Int()
	if err != nil {
		return false, fmt.Errorf("advance entity %d: %w", entityID, err)
	}
	return n == 1, nil
}

// MemoryStore is a process-local Store. Claims never expire.
type MemoryStore struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	versions map[int64]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[string]struct{}{}, versions: map[int64]int64{}}
}

func (m *MemoryStore) Claim(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}

func (m *MemoryStore) Advance(_ context.Context, entityID, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.versions[entityID]; ok && cur > version {
		return false, nil
	}
	m.versions[entityID] = version
	return true, nil
}

// Version returns the last applied version of entityID.
func (m *MemoryStore) Version(entityID int64) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[entityID]
	return v, ok
}
