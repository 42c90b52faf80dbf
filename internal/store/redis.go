package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"keyserve/internal/config"
)

// RedisStore implements Store on a Redis client. Hash records map onto Redis
// hashes, identity markers onto plain strings with TTL, and batch deletes
// onto a single pipelined round trip.
type RedisStore struct {
	client *redis.Client
}

// Connect initializes a Redis client from URL or host:port input.
// Supporting both formats keeps local/dev and container config paths simple.
func Connect(cfg config.RedisConfig) (*RedisStore, error) {
	if strings.HasPrefix(cfg.Addr, "redis://") {
		opt, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt.DialTimeout = cfg.DialTimeout
		opt.ReadTimeout = cfg.ReadTimeout
		opt.WriteTimeout = cfg.WriteTimeout
		return &RedisStore{client: redis.NewClient(opt)}, nil
	}
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})}, nil
}

// NewRedisStore wraps an existing client, used by tests against miniredis-style servers
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) ReadRecord(ctx context.Context, key string) (map[string]string, error) {
	data, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (s *RedisStore) WriteRecord(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

func (s *RedisStore) DeleteRecords(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if len(keys) == 1 {
		return s.client.Del(ctx, keys[0]).Result()
	}

	// One DEL per key in a single pipelined round trip. The pipeline is not
	// a transaction, but deletes are idempotent so partial application is safe.
	cmds, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range keys {
			p.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, cmd := range cmds {
		if del, ok := cmd.(*redis.IntCmd); ok {
			removed += del.Val()
		}
	}
	return removed, nil
}

func (s *RedisStore) MarkerExists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// activateScript performs the conditional unused -> used transition server
// side. Evaluated atomically by Redis, so two concurrent activations of the
// same key cannot both observe "unused". KEYS[1] is the record, KEYS[2] the
// optional identity marker; ARGV[1] is the marker TTL in seconds followed by
// field/value pairs to set on the record.
var activateScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'validation_status')
if status ~= 'unused' then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if KEYS[2] ~= '' then
  redis.call('SET', KEYS[2], '1', 'EX', tonumber(ARGV[1]))
end
return 1
`)

func (s *RedisStore) ActivateIfUnused(ctx context.Context, recordKey string, fields map[string]string, markerKey string, markerTTL time.Duration) (bool, error) {
	args := make([]interface{}, 0, len(fields)*2+1)
	args = append(args, int64(markerTTL.Seconds()))
	for k, v := range fields {
		args = append(args, k, v)
	}
	n, err := activateScript.Run(ctx, s.client, []string{recordKey, markerKey}, args...).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) ScanRecords(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client connections
func (s *RedisStore) Close() error {
	return s.client.Close()
}
