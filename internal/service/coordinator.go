package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/langchou/scalegazer/internal/api/tuya"
	"github.com/langchou/scalegazer/internal/models"
	"github.com/langchou/scalegazer/internal/repository"
	"github.com/langchou/scalegazer/internal/scale"
)

// ErrRefreshFailed 一次刷新整体失败
var ErrRefreshFailed = errors.New("refresh failed")

// ErrCoordinatorClosed 协调器已关闭
var ErrCoordinatorClosed = errors.New("coordinator closed")

// RefreshTimeout 一次共享刷新的时间上限
const RefreshTimeout = 2 * time.Minute

// RefreshError 刷新失败，同时匹配 ErrRefreshFailed 与底层错误
type RefreshError struct {
	DeviceID string
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh device %s: %v", e.DeviceID, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrRefreshFailed, e.Err}
}

// UpdateListener 刷新结果回调，成功时 err 为 nil，失败时 snap 为 nil
type UpdateListener func(deviceID string, snap *models.Snapshot, err error)

// Coordinator 单台设备的数据协调器
// 调用数据源、整理为按用户的读数，并保留最近一次成功结果
type Coordinator struct {
	deviceID   string
	name       string
	source     tuya.Source
	normalizer *scale.Normalizer
	store      repository.SnapshotStore
	logger     *zap.Logger
	now        func() time.Time

	flight   singleflight.Group
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu          sync.RWMutex
	data        *models.Snapshot
	info        *tuya.DeviceInfo
	lastErr     error
	lastAttempt time.Time
	listeners   []UpdateListener
	closed      bool
}

// NewCoordinator 创建协调器，store 可以为 nil
func NewCoordinator(
	deviceID, name string,
	source tuya.Source,
	normalizer *scale.Normalizer,
	store repository.SnapshotStore,
	logger *zap.Logger,
	now func() time.Time,
) *Coordinator {
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ctx:        ctx,
		cancel:     cancel,
		deviceID:   deviceID,
		name:       name,
		source:     source,
		normalizer: normalizer,
		store:      store,
		logger:     logger.With(zap.String("device_id", deviceID)),
		now:        now,
	}
}

// DeviceID 设备 ID
func (c *Coordinator) DeviceID() string {
	return c.deviceID
}

// OnUpdate 注册刷新回调
func (c *Coordinator) OnUpdate(l UpdateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Data 最近一次成功的快照，没有时为 nil
func (c *Coordinator) Data() *models.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// LastError 最近一次刷新的错误，成功后清空
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Readings 最近一次成功快照中的全部读数
func (c *Coordinator) Readings() []scale.Reading {
	return c.Data().Readings()
}

// Seed 从存储中恢复上次的快照作为初始数据
func (c *Coordinator) Seed(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	snap, err := c.store.Load(ctx, c.deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	// 读数按当前的传感器表重新生成
	records := make(map[string]scale.Record, len(snap.Users))
	for userID, u := range snap.Users {
		records[userID] = u.Record
	}
	restored := c.buildSnapshot(records, snap.UpdatedAt)

	c.mu.Lock()
	if c.data == nil {
		c.data = restored
	}
	c.mu.Unlock()

	c.logger.Info("Restored last known snapshot",
		zap.Time("updated_at", snap.UpdatedAt),
		zap.Int("users", len(restored.Users)))
	return nil
}

// Refresh 执行一次刷新；同一设备并发调用共享同一次执行
// ctx 取消只让本次调用返回，共享的刷新继续为其他调用方运行
func (c *Coordinator) Refresh(ctx context.Context) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := c.flight.DoChan(c.deviceID, func() (interface{}, error) {
		return c.sharedRefresh(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("Joined in-flight refresh")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Snapshot), nil
	}
}

// sharedRefresh 脱离发起者的取消，只受 RefreshTimeout 与 Close 约束
func (c *Coordinator) sharedRefresh(caller context.Context) (*models.Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(caller), RefreshTimeout)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	return c.refresh(ctx)
}

// Close 取消进行中的刷新，等它结束后再关闭数据源
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.inflight.Wait()
	return c.source.Close()
}

func (c *Coordinator) refresh(ctx context.Context) (*models.Snapshot, error) {
	started := c.now()

	c.mu.Lock()
	c.lastAttempt = started
	needInfo := c.info == nil
	c.mu.Unlock()

	if needInfo {
		c.loadDeviceInfo(ctx)
	}

	records, err := c.source.Fetch(ctx)
	if err != nil {
		refreshErr := &RefreshError{DeviceID: c.deviceID, Err: err}

		c.mu.Lock()
		c.lastErr = refreshErr
		c.mu.Unlock()

		c.logger.Error("Error communicating with Tuya API", zap.Error(err))
		c.notify(nil, refreshErr)
		return nil, refreshErr
	}

	snap := c.buildSnapshot(records, c.now())

	c.mu.Lock()
	c.data = snap
	c.lastErr = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(ctx, snap); err != nil {
			c.logger.Warn("Failed to persist snapshot", zap.Error(err))
		}
	}

	c.logger.Info("Scale data refreshed",
		zap.Int("users", len(snap.Users)),
		zap.Duration("took", c.now().Sub(started)))

	c.notify(snap, nil)
	return snap, nil
}

// loadDeviceInfo 设备信息只用于展示，失败不影响刷新
func (c *Coordinator) loadDeviceInfo(ctx context.Context) {
	info, err := c.source.DeviceInfo(ctx)
	if err != nil {
		c.logger.Warn("Failed to get device info", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.info = info
	if c.name == "" && info.Name != "" {
		c.name = info.Name
	}
	c.mu.Unlock()
}

// buildSnapshot 按用户生成读数
func (c *Coordinator) buildSnapshot(records map[string]scale.Record, updatedAt time.Time) *models.Snapshot {
	c.mu.RLock()
	name := c.name
	c.mu.RUnlock()

	snap := &models.Snapshot{
		DeviceID:   c.deviceID,
		DeviceName: name,
		UpdatedAt:  updatedAt,
		Users:      make(map[string]*models.UserData, len(records)),
	}

	for userID, rec := range records {
		nickname := rec.String(scale.KeyNickname)
		snap.Users[userID] = &models.UserData{
			UserID:   userID,
			Nickname: nickname,
			Record:   rec,
			Readings: c.normalizer.Readings(c.deviceID, userID, nickname, rec),
		}
	}
	return snap
}

func (c *Coordinator) notify(snap *models.Snapshot, err error) {
	c.mu.RLock()
	listeners := make([]UpdateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		l(c.deviceID, snap, err)
	}
}

// Device 设备概况
func (c *Coordinator) Device(interval time.Duration) models.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dev := models.Device{
		ID:           c.deviceID,
		Name:         c.name,
		Mode:         string(c.source.Mode()),
		ScanInterval: interval.String(),
	}
	if c.info != nil {
		dev.ProductName = c.info.ProductName
		online := c.info.Online
		dev.Online = &online
	}
	if c.data != nil {
		updated := c.data.UpdatedAt
		dev.LastUpdate = &updated
		dev.Users = len(c.data.Users)
	}
	if !c.lastAttempt.IsZero() {
		attempt := c.lastAttempt
		dev.LastAttempt = &attempt
	}
	if c.lastErr != nil {
		dev.LastError = c.lastErr.Error()
	}
	return dev
}

// UserIDs 当前快照中的用户，按 ID 排序
func (c *Coordinator) UserIDs() []string {
	snap := c.Data()
	if snap == nil {
		return nil
	}
	ids := make([]string, 0, len(snap.Users))
	for id := range snap.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
