package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/langchou/scalegazer/internal/models"
)

const defaultRedisPrefix = "scalegazer:snapshot:"

// RedisSnapshotStore 基于 Redis 的快照存储
type RedisSnapshotStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 表示不过期
}

// NewRedisSnapshotStore 连接 Redis 并创建快照存储
func NewRedisSnapshotStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisSnapshotStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisSnapshotStore{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    ttl,
	}, nil
}

func (s *RedisSnapshotStore) key(deviceID string) string {
	return s.prefix + deviceID
}

// Save 覆盖保存快照
func (s *RedisSnapshotStore) Save(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.DeviceID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load 读取快照
func (s *RedisSnapshotStore) Load(ctx context.Context, deviceID string) (*models.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Delete 删除快照
func (s *RedisSnapshotStore) Delete(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, s.key(deviceID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Close 关闭连接
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
