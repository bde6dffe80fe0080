package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "garland:stats"

// RedisStore counts targets in Redis, one key per target under a
// configurable prefix. Counters survive process restarts and are shared
// by every process pointing at the same instance.
type RedisStore struct {
	client *redis.Client
	prefix string
	// ttl applies to per-target keys on each increment; zero means the
	// counters never expire.
	ttl time.Duration

	ownsClient bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithClient uses an existing Redis client instead of dialing addr.
// The caller keeps ownership; Close will not close it.
func WithClient(client *redis.Client) RedisOption {
	return func(s *RedisStore) {
		s.client = client
		s.ownsClient = false
	}
}

// WithKeyPrefix overrides the key prefix for counter keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithTTL sets an expiry refreshed on every increment.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore connects to Redis at addr and verifies the connection
// with a ping before returning. Pass WithClient to reuse a client, in
// which case addr is ignored.
func NewRedisStore(addr string, opts ...RedisOption) (*RedisStore, error) {
	s := &RedisStore{
		prefix:     defaultKeyPrefix,
		ownsClient: true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = redis.NewClient(&redis.Options{Addr: addr})
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		if s.ownsClient {
			s.client.Close()
		}
		return nil, fmt.Errorf("stats: ping redis %s: %w", addr, err)
	}

	return s, nil
}

// Close releases the connection when this store dialed it itself.
func (s *RedisStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) key(target string) string {
	return s.prefix + ":" + target
}

// Incr adds one to the target's counter, refreshing the TTL if one is
// configured.
func (s *RedisStore) Incr(ctx context.Context, target string) error {
	key := s.key(target)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stats: incr %s: %w", target, err)
	}
	return nil
}

// Get returns the target's current count. A missing key is 0.
func (s *RedisStore) Get(ctx context.Context, target string) (int64, error) {
	n, err := s.client.Get(ctx, s.key(target)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stats: get %s: %w", target, err)
	}
	return n, nil
}

// Snapshot scans the prefix and fetches every counter in one MGET.
func (s *RedisStore) Snapshot(ctx context.Context) (map[string]int64, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stats: scan counters: %w", err)
	}

	out := make(map[string]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("stats: mget counters: %w", err)
	}

	for i, raw := range vals {
		str, ok := raw.(string)
		if !ok {
			continue // key expired between SCAN and MGET
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stats: counter %s holds %q: %w", keys[i], str, err)
		}
		out[strings.TrimPrefix(keys[i], s.prefix+":")] = n
	}

	return out, nil
}
