package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/approval-service/internal/config"
)

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Only the holder's token may extend or release the lease.
var (
	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
)

// Lease is a TTL-bound exclusive claim on a Redis key.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLease prepares a lease on key; nothing is acquired until TryAcquire.
func (r *Redis) NewLease(key string, ttl time.Duration) *Lease {
	var client *redis.Client
	if r != nil {
		client = r.Client
	}
	return &Lease{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// TryAcquire takes the lease when it is free or already ours.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	if l.client == nil {
		return false, errors.New("redis client not configured")
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return l.Renew(ctx)
}

// Renew extends the TTL if the lease is still held.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	if l.client == nil {
		return false, errors.New("redis client not configured")
	}
	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Release drops the lease if still held.
func (l *Lease) Release(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
