package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/scalegazer/internal/models"
)

// ErrSnapshotNotFound 没有保存过该设备的快照
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore 最新快照存储，只保留每台设备最近一次成功轮询的数据
type SnapshotStore interface {
	Save(ctx context.Context, snap *models.Snapshot) error
	Load(ctx context.Context, deviceID string) (*models.Snapshot, error)
	Delete(ctx context.Context, deviceID string) error
}

// PostgresSnapshotStore 基于 PostgreSQL 的快照存储
type PostgresSnapshotStore struct {
	db *DB
}

// NewPostgresSnapshotStore 创建快照仓库
func NewPostgresSnapshotStore(db *DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// Save 覆盖保存快照
func (r *PostgresSnapshotStore) Save(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query := `
		INSERT INTO scale_snapshots (device_id, device_name, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id) DO UPDATE SET
			device_name = EXCLUDED.device_name,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, snap.DeviceID, snap.DeviceName, data, snap.UpdatedAt); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load 读取快照
func (r *PostgresSnapshotStore) Load(ctx context.Context, deviceID string) (*models.Snapshot, error) {
	query := `SELECT data FROM scale_snapshots WHERE device_id = $1`

	var data []byte
	if err := r.db.Pool.QueryRow(ctx, query, deviceID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
func (r *PostgresSnapshotStore) Delete(ctx context.Context, deviceID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM scale_snapshots WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// MemoryStore 进程内快照存储
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

// Save 保存快照（序列化后存储，避免与调用方共享 map）
func (s *MemoryStore) Save(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	s.mu.Lock()
	s.snaps[snap.DeviceID] = data
	s.mu.Unlock()
	return nil
}

// Load 读取快照
func (s *MemoryStore) Load(ctx context.Context, deviceID string) (*models.Snapshot, error) {
	s.mu.RLock()
	data, ok := s.snaps[deviceID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSnapshotNotFound
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Delete 删除快照
func (s *MemoryStore) Delete(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	delete(s.snaps, deviceID)
	s.mu.Unlock()
	return nil
}
