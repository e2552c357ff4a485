package credential

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors the KV key families into Redis string keys under a
// prefix. Used by deployments that share one credential pool between
// gateway replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "kiro2api:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Kind() string { return KindRedis }

func (s *RedisStore) Close() error { return s.client.Close() }

// Ping checks connectivity at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return storeErr(KindRedis, "ping", s.client.Ping(ctx).Err())
}

func (s *RedisStore) loadFamily(ctx context.Context, bases []string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, base := range bases {
		patterns := []string{s.prefix + base, s.prefix + base + ":*"}
		for _, pattern := range patterns {
			iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
			for iter.Next(ctx) {
				fullKey := iter.Val()
				key := fullKey[len(s.prefix):]
				if !isTokenKey(key) && !isRegistrationFamily(key) {
					continue
				}
				if _, dup := out[key]; dup {
					continue
				}
				value, err := s.client.Get(ctx, fullKey).Bytes()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					return nil, err
				}
				out[key] = value
			}
			if err := iter.Err(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func isRegistrationFamily(key string) bool {
	for _, base := range RegistrationKeys {
		if key == base || tokenKeySuffix(key, base) != "" {
			return true
		}
	}
	return false
}

func (s *RedisStore) LoadAll(ctx context.Context) ([]*Record, error) {
	tokens, err := s.loadFamily(ctx, TokenKeys)
	if err != nil {
		return nil, storeErr(KindRedis, "load token keys", err)
	}
	registrations, err := s.loadFamily(ctx, RegistrationKeys)
	if err != nil {
		return nil, storeErr(KindRedis, "load registration keys", err)
	}
	recs, err := assembleRecords(tokens, registrations)
	if err != nil {
		return nil, storeErr(KindRedis, "parse", err)
	}
	return recs, nil
}

func (s *RedisStore) LoadByKey(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr(KindRedis, "load "+key, err)
	}

	rec, err := parseTokenPayload(key, raw)
	if err != nil {
		return nil, storeErr(KindRedis, "parse "+key, err)
	}
	for _, regKey := range registrationCandidates(key) {
		regRaw, err := s.client.Get(ctx, s.prefix+regKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, storeErr(KindRedis, "load registration "+regKey, err)
		}
		if reg, err := parseRegistrationPayload(regRaw); err == nil {
			rec.ClientID = reg.ClientID
			rec.ClientSecret = reg.ClientSecret
			if rec.SSORegion == "" {
				rec.SSORegion = reg.Region
			}
			break
		}
	}
	rec.DetectMechanism()
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	fullKey := s.prefix + rec.Key
	exists, err := s.client.Exists(ctx, fullKey).Result()
	if err != nil {
		return storeErr(KindRedis, "save "+rec.Key, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	payload, err := encodeTokenPayload(rec)
	if err != nil {
		return storeErr(KindRedis, "encode "+rec.Key, err)
	}
	if err := s.client.Set(ctx, fullKey, payload, 0).Err(); err != nil {
		return storeErr(KindRedis, "save "+rec.Key, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
