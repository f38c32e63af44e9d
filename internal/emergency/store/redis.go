// internal/emergency/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the record under a single key. SET and DEL are atomic on
// the server, which gives the no-partial-record guarantee for free.
type RedisStore struct {
	client *redis.Client
	key    string
	logger logger.Logger
}

func NewRedisStore(client *redis.Client, key string, log logger.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
		logger: log.WithFields(map[string]interface{}{"store": "redis"}),
	}
}

func (s *RedisStore) Load(ctx context.Context) (*models.EmergencyRecord, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}

	record, err := decodeRecord(raw)
	if err != nil {
		s.logger.Warn("purging corrupt emergency record", map[string]interface{}{
			"key":   s.key,
			"error": err.Error(),
		})
		_ = s.client.Del(ctx, s.key).Err()
		return nil, nil
	}
	return record, nil
}

func (s *RedisStore) Save(ctx context.Context, record *models.EmergencyRecord) error {
	if record == nil {
		return fmt.Errorf("refusing to save nil record")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}
