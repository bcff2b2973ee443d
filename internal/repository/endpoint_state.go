package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// EndpointStateRepository persists runtime endpoint flags so a toggle survives restarts
// and is shared by every instance of the service.
type EndpointStateRepository interface {
	SetActive(ctx context.Context, name string, active bool) error
	LoadActive(ctx context.Context) (map[string]bool, error)
	SetLastSync(ctx context.Context, name string, at time.Time) error
	LoadLastSync(ctx context.Context) (map[string]time.Time, error)
}

type redisEndpointState struct {
	rdb       *redis.Client
	activeKey string
	syncKey   string
}

// NewRedisEndpointState stores flags in two hashes: {prefix}endpoints:active and {prefix}endpoints:last_sync.
func NewRedisEndpointState(rdb *redis.Client, prefix string) EndpointStateRepository {
	return &redisEndpointState{
		rdb:       rdb,
		activeKey: prefix + "endpoints:active",
		syncKey:   prefix + "endpoints:last_sync",
	}
}

func (r *redisEndpointState) SetActive(ctx context.Context, name string, active bool) error {
	v := "0"
	if active {
		v = "1"
	}
	return r.rdb.HSet(ctx, r.activeKey, name, v).Err()
}

func (r *redisEndpointState) LoadActive(ctx context.Context) (map[string]bool, error) {
	raw, err := r.rdb.HGetAll(ctx, r.activeKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(raw))
	for name, v := range raw {
		out[name] = v == "1"
	}
	return out, nil
}

func (r *redisEndpointState) SetLastSync(ctx context.Context, name string, at time.Time) error {
	return r.rdb.HSet(ctx, r.syncKey, name, strconv.FormatInt(at.UnixNano(), 10)).Err()
}

func (r *redisEndpointState) LoadLastSync(ctx context.Context) (map[string]time.Time, error) {
	raw, err := r.rdb.HGetAll(ctx, r.syncKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(raw))
	for name, v := range raw {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[name] = time.Unix(0, ns).UTC()
	}
	return out, nil
}
