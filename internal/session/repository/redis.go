package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johndoe6345789/pyracms-core/internal/session/domain"
)

// Session hashes expire with the session (PEXPIREAT); the per-user index is a
// sorted set scored by creation time and is pruned lazily.
const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "user_id", ARGV[2], "created_at", ARGV[3], "expires_at", ARGV[4])
redis.call("PEXPIREAT", KEYS[1], ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[5])
return 1
`

const invalidateSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local revoked = redis.call("HGET", KEYS[1], "revoked_at")
if revoked and revoked ~= "" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return 1
`

var (
	createSessionLua     = redis.NewScript(createSessionScript)
	invalidateSessionLua = redis.NewScript(invalidateSessionScript)
)

// RedisStore is a Store shared between service instances through Redis. It
// needs a single-node client: the create script touches a session key and a
// user index key that live in different cluster slots, and Sweep scans the
// whole keyspace.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore that namespaces its keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pyracms"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) sessionKey(key string) string {
	return s.prefix + ":session:" + key
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":user-sessions:" + userID
}

func (s *RedisStore) Create(ctx context.Context, sess *domain.Session) error {
	res, err := createSessionLua.Run(ctx, s.redis,
		[]string{s.sessionKey(sess.Key), s.userKey(sess.UserID)},
		sess.ID,
		sess.UserID,
		sess.CreatedAt.UnixMilli(),
		sess.ExpiresAt.UnixMilli(),
		sess.Key,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res == 0 {
		return ErrSessionConflict
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.sessionKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeSession(key, fields)
}

func (s *RedisStore) Invalidate(ctx context.Context, key string, at time.Time) error {
	err := invalidateSessionLua.Run(ctx, s.redis, []string{s.sessionKey(key)}, at.UnixMilli()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	userKey := s.userKey(userID)
	keys, err := s.redis.ZRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(keys) == 0 {
		return []*domain.Session{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.sessionKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]*domain.Session, 0, len(keys))
	var stale []any
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, keys[i])
			continue
		}
		sess, err := decodeSession(keys[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	sortOldestFirst(out)
	return out, nil
}

// Sweep walks the user indexes, deleting sessions whose expiry has passed and
// index entries whose session hash Redis already expired. Only sessions
// deleted by Sweep itself are counted.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.redis.Scan(ctx, 0, s.prefix+":user-sessions:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		keys, err := s.redis.ZRange(ctx, userKey, 0, -1).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, k := range keys {
			exp, err := s.redis.HGet(ctx, s.sessionKey(k), "expires_at").Int64()
			switch {
			case errors.Is(err, redis.Nil):
				// hash already gone
			case err != nil:
				return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			case exp > now.UnixMilli():
				continue
			default:
				if err := s.redis.Del(ctx, s.sessionKey(k)).Err(); err != nil {
					return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
				}
				removed++
			}
			if err := s.redis.ZRem(ctx, userKey, k).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return removed, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func decodeSession(key string, fields map[string]string) (*domain.Session, error) {
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt created_at for session", ErrStoreUnavailable)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt expires_at for session", ErrStoreUnavailable)
	}
	sess := &domain.Session{
		ID:        fields["id"],
		Key:       key,
		UserID:    fields["user_id"],
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
	}
	if v := fields["revoked_at"]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt revoked_at for session", ErrStoreUnavailable)
		}
		at := time.UnixMilli(ms).UTC()
		sess.RevokedAt = &at
	}
	return sess, nil
}
