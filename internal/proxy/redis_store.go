package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps artifacts in Redis. The retention policy is the key TTL:
// once it lapses, retrieval reports ErrNotFound exactly as for an unknown
// GUID.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore connects to redisURL. Zero retention stores artifacts
// without expiry.
func NewRedisStore(redisURL string, retention time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		prefix:    "proxy:",
		retention: retention,
	}, nil
}

func (s *RedisStore) key(guid string) string {
	return s.prefix + guid
}

func (s *RedisStore) Put(ctx context.Context, artifact Artifact) error {
	jsonData, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := s.client.Set(ctx, s.key(artifact.GUID), jsonData, s.retention).Err(); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, guid string) (Artifact, error) {
	jsonData, err := s.client.Get(ctx, s.key(guid)).Result()
	if err == redis.Nil {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("lookup artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal([]byte(jsonData), &artifact); err != nil {
		return Artifact{}, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return artifact, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
