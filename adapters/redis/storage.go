package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"learnkit/core"
	"learnkit/leaderboard"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"LEARNKIT_REDIS_ADDR"`
	Password     string        `json:"password" env:"LEARNKIT_REDIS_PASSWORD"`
	DB           int           `json:"db" env:"LEARNKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size" env:"LEARNKIT_REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" env:"LEARNKIT_REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `json:"dial_timeout" env:"LEARNKIT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"LEARNKIT_REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"LEARNKIT_REDIS_WRITE_TIMEOUT"`
	// StatsTTL bounds how long a cached aggregate may be served without a write.
	StatsTTL time.Duration `json:"stats_ttl" env:"LEARNKIT_REDIS_STATS_TTL"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		StatsTTL:     5 * time.Minute,
	}
}

// StatsBackend is the durable store behind the cache.
type StatsBackend interface {
	GetStats(ctx context.Context, user core.UserID) (core.StatsAggregate, error)
	UpsertStats(ctx context.Context, st core.StatsAggregate) error
	ListStatsUsers(ctx context.Context) ([]core.UserID, error)
}

// StatsCache is a read-through, write-through cache of stats aggregates in front of
// a durable backend. It also keeps a sorted set of total XP for the leaderboard.
// Data structure:
// - user:{user_id}:stats -> JSON blob of StatsAggregate (TTL)
// - leaderboard:xp -> sorted set of user ids scored by total XP
type StatsCache struct {
	client  *redis.Client
	backend StatsBackend
	ttl     time.Duration
}

// New connects to Redis and wraps backend.
func New(config Config, backend StatsBackend) (*StatsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, backend, config.StatsTTL), nil
}

// NewWithClient creates a StatsCache using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, backend StatsBackend, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = DefaultConfig().StatsTTL
	}
	return &StatsCache{client: client, backend: backend, ttl: ttl}
}

// Close closes the Redis connection
func (c *StatsCache) Close() error {
	return c.client.Close()
}

const leaderboardKey = "leaderboard:xp"

func userStatsKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:stats", userID)
}

// storeStatsScript writes the cached aggregate and its leaderboard score atomically.
var storeStatsScript = redis.NewScript(`
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
	return 1
`)

// GetStats serves from cache, falling back to the backend and repopulating on a miss.
func (c *StatsCache) GetStats(ctx context.Context, userID core.UserID) (core.StatsAggregate, error) {
	if st, err := c.cached(ctx, userID); err == nil {
		return st, nil
	}

	st, err := c.backend.GetStats(ctx, userID)
	if err != nil {
		return core.StatsAggregate{}, err
	}

	// Update cache (best-effort); keep it synchronous for determinism.
	ctxCache, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	_ = c.store(ctxCache, st)

	return st, nil
}

// UpsertStats writes through to the backend first; the cache is only refreshed
// after the durable write succeeded.
func (c *StatsCache) UpsertStats(ctx context.Context, st core.StatsAggregate) error {
	if err := c.backend.UpsertStats(ctx, st); err != nil {
		return err
	}
	if err := c.store(ctx, st); err != nil {
		// A stale entry must not outlive a successful write.
		c.client.Del(ctx, userStatsKey(st.UserID))
	}
	return nil
}

func (c *StatsCache) ListStatsUsers(ctx context.Context) ([]core.UserID, error) {
	return c.backend.ListStatsUsers(ctx)
}

// Invalidate drops a user's cached aggregate.
func (c *StatsCache) Invalidate(ctx context.Context, userID core.UserID) error {
	return c.client.Del(ctx, userStatsKey(userID)).Err()
}

// Top returns up to n users ordered by total XP, highest first.
func (c *StatsCache) Top(ctx context.Context, n int) ([]leaderboard.Entry, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive", core.ErrValidation)
	}
	zs, err := c.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	out := make([]leaderboard.Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, leaderboard.Entry{User: core.UserID(member), TotalXP: int64(z.Score), Rank: len(out) + 1})
	}
	return out, nil
}

// Seed rebuilds the cached aggregates and the leaderboard set from the backend.
// It returns how many users were loaded.
func (c *StatsCache) Seed(ctx context.Context) (int, error) {
	users, err := c.backend.ListStatsUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}
	n := 0
	for _, u := range users {
		st, err := c.backend.GetStats(ctx, u)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("loading stats for %s: %w", u, err)
		}
		if err := c.store(ctx, st); err != nil {
			return n, fmt.Errorf("caching stats for %s: %w", u, err)
		}
		n++
	}
	return n, nil
}

func (c *StatsCache) cached(ctx context.Context, userID core.UserID) (core.StatsAggregate, error) {
	data, err := c.client.Get(ctx, userStatsKey(userID)).Bytes()
	if err != nil {
		return core.StatsAggregate{}, err
	}
	var st core.StatsAggregate
	if err := json.Unmarshal(data, &st); err != nil {
		return core.StatsAggregate{}, err
	}
	return st, nil
}

func (c *StatsCache) store(ctx context.Context, st core.StatsAggregate) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	keys := []string{userStatsKey(st.UserID), leaderboardKey}
	return storeStatsScript.Run(ctx, c.client, keys, data, c.ttl.Milliseconds(), st.TotalXP, string(st.UserID)).Err()
}
