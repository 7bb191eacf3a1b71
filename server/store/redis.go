/******************************************************************************
 *
 *  Description :
 *
 *    Redis-backed session store. Records are JSON objects written by the
 *    session-issuing system under "<prefix>:session:<token>" or
 *    "<prefix>:<user>:<token>" depending on the key scheme. The key layout
 *    is shared with external systems, do not change it.
 *
 *****************************************************************************/
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "symple"

// RedisConfig is the "store" section of the config file for type "redis".
type RedisConfig struct {
	Addr     string `json:"redis_addr"`
	Password string `json:"redis_password"`
	DB       int    `json:"redis_db"`
	// Key tokens as "<prefix>:<user>:<token>" instead of "<prefix>:session:<token>".
	KeyByUser bool   `json:"key_by_user"`
	Prefix    string `json:"key_prefix"`
}

type redisStore struct {
	client    *redis.Client
	prefix    string
	keyByUser bool
}

// NewRedis connects a session store to redis.
func NewRedis(config *RedisConfig) (Sessions, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisStore{client: client, prefix: prefix, keyByUser: config.KeyByUser}, nil
}

// NewRedisWithClient wraps an existing client. Used in tests.
func NewRedisWithClient(client *redis.Client, keyByUser bool) Sessions {
	return &redisStore{client: client, prefix: defaultKeyPrefix, keyByUser: keyByUser}
}

func (s *redisStore) key(user, token string) string {
	if s.keyByUser {
		return s.prefix + ":" + user + ":" + token
	}
	return s.prefix + ":session:" + token
}

func (s *redisStore) Get(ctx context.Context, user, token string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(user, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeRecord(raw)
}

func (s *redisStore) Touch(ctx context.Context, user, token string, ttl time.Duration) error {
	ok, err := s.client.ExpireAt(ctx, s.key(user, token), time.Now().Add(ttl)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		// Key is already gone. Not fatal, the caller decides what to do.
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
