package kv

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const streamField = "payload"

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore maps every primitive onto the native Redis command.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL parses a redis:// URL and checks connectivity.
func NewRedisStoreFromURL(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) EnsureCounter(ctx context.Context, key string, baseline int64) (bool, error) {
	return s.client.SetNX(ctx, key, baseline, 0).Result()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) Counter(ctx context.Context, key string) (int64, bool, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Push(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	args := lo.Map(values, func(v []byte, _ int) any { return v })
	return s.client.RPush(ctx, key, args...).Err()
}

// PopN pipelines n single-entry pops; each pop is atomic on its own.
func (s *RedisStore) PopN(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for range n {
			pipe.LPop(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([][]byte, 0, n)
	for _, cmd := range cmds {
		value, err := cmd.(*redis.StringCmd).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, value)
	}
	return out, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	values, err := s.client.LRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	return lo.Map(values, func(v string, _ int) []byte { return []byte(v) }), nil
}

func (s *RedisStore) Trim(ctx context.Context, key string, n int) error {
	if n <= 0 {
		return nil
	}
	return s.client.LTrim(ctx, key, int64(n), -1).Err()
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.client.SAdd(ctx, key, lo.ToAnySlice(members)...).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.client.SRem(ctx, key, lo.ToAnySlice(members)...).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(members)
	return members, nil
}

func (s *RedisStore) XAdd(ctx context.Context, stream string, payload []byte) (string, error) {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{streamField: string(payload)},
	}).Result()
}

// XRead reads from after inclusive and drops the cursor entry itself, which
// keeps it compatible with servers that lack exclusive ranges.
func (s *RedisStore) XRead(ctx context.Context, stream, after string, count int) ([]Entry, error) {
	if count <= 0 {
		return nil, nil
	}

	start := after
	if after == StreamOrigin {
		start = "-"
	}

	msgs, err := s.client.XRangeN(ctx, stream, start, "+", int64(count+1)).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == after {
			continue
		}
		payload, _ := msg.Values[streamField].(string)
		entries = append(entries, Entry{ID: msg.ID, Payload: []byte(payload)})
		if len(entries) == count {
			break
		}
	}
	return entries, nil
}

func (s *RedisStore) Lock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, token, ttl).Result()
}

func (s *RedisStore) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, s.client, []string{key}, token).Err()
}
