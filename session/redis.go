package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyAccess  = "authToken"
	keyRefresh = "refreshToken"
	keyUser    = "user"
)

// RedisStore persists the session in Redis under three keys sharing a prefix:
// <prefix>:authToken, <prefix>:refreshToken and <prefix>:user.
//
//	Performance: Load is 1 MGET; Save is 1 MULTI/EXEC; Clear is 1 DEL.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a [RedisStore]. prefix namespaces the keys (one
// namespace per client instance); ttl bounds key lifetime, zero means no expiry.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "authclient"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

// Load reads all three keys in one round trip. Missing keys are absent fields.
func (s *RedisStore) Load(ctx context.Context) (Session, error) {
	vals, err := s.redis.MGet(ctx, s.key(keyAccess), s.key(keyRefresh), s.key(keyUser)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) != 3 {
		return Session{}, ErrCorruptSession
	}

	var out Session
	out.AccessToken = redisString(vals[0])
	out.RefreshToken = redisString(vals[1])
	if user := redisString(vals[2]); user != "" {
		if !json.Valid([]byte(user)) {
			return Session{}, ErrCorruptSession
		}
		out.User = json.RawMessage(user)
	}
	return out, nil
}

// Save writes the session atomically. Absent fields delete their keys so a
// stale refresh token or user payload never survives a Save.
func (s *RedisStore) Save(ctx context.Context, sess Session) error {
	if !sess.Valid() {
		return ErrInvalidSession
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.setOrDel(ctx, pipe, keyAccess, sess.AccessToken)
		s.setOrDel(ctx, pipe, keyRefresh, sess.RefreshToken)
		s.setOrDel(ctx, pipe, keyUser, string(sess.User))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Clear deletes all three keys with one DEL.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key(keyAccess), s.key(keyRefresh), s.key(keyUser)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping measures one Redis round trip.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *RedisStore) setOrDel(ctx context.Context, pipe redis.Pipeliner, name, value string) {
	if value == "" {
		pipe.Del(ctx, s.key(name))
		return
	}
	pipe.Set(ctx, s.key(name), value, s.ttl)
}

func redisString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

var _ Store = (*RedisStore)(nil)
