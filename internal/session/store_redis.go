package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"bankanalysis/ratio-server/internal/auth"
)

// RedisStore shares the session table between server processes. Each token
// key holds the JSON principal; a per-user set indexes that user's tokens.
// Keys carry no TTL: a token lives until it is removed.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = "ratio:sess:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) tokenKey(token string) string { return s.prefix + "tok:" + token }

func (s *RedisStore) userKey(userID int64) string {
	return s.prefix + "user:" + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) Put(ctx context.Context, token string, p auth.Principal) error {
	if token == "" {
		return fmt.Errorf("session token is required")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode principal: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(token), b, 0)
		pipe.SAdd(ctx, s.userKey(p.UserID), token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, token string) (auth.Principal, bool, error) {
	b, err := s.rdb.Get(ctx, s.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return auth.Principal{}, false, nil
		}
		return auth.Principal{}, false, fmt.Errorf("load session: %w", err)
	}
	var p auth.Principal
	if err := json.Unmarshal(b, &p); err != nil {
		return auth.Principal{}, false, fmt.Errorf("decode session: %w", err)
	}
	return p, true, nil
}

func (s *RedisStore) RemoveByToken(ctx context.Context, token string) (auth.Principal, bool, error) {
	p, ok, err := s.Get(ctx, token)
	if err != nil || !ok {
		return auth.Principal{}, false, err
	}
	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, s.tokenKey(token))
		pipe.SRem(ctx, s.userKey(p.UserID), token)
		return nil
	})
	if err != nil {
		return auth.Principal{}, false, fmt.Errorf("remove session: %w", err)
	}
	// Another process may have removed it between Get and Del.
	if deleted.Val() == 0 {
		return auth.Principal{}, false, nil
	}
	return p, true, nil
}

// RemoveAllOfPrincipal reports only token keys that still existed; index
// members left behind by another process are dropped without being counted.
func (s *RedisStore) RemoveAllOfPrincipal(ctx context.Context, userID int64) (int, error) {
	tokens, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		keys = append(keys, s.tokenKey(t))
	}
	var deleted *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, s.userKey(userID))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove user sessions: %w", err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// Count scans the token keyspace; it is meant for metrics, not hot paths.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+"tok:*", 256).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
