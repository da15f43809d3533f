package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/scalegazer/internal/api/tuya"
	"github.com/langchou/scalegazer/internal/config"
	"github.com/langchou/scalegazer/internal/models"
	"github.com/langchou/scalegazer/internal/repository"
	"github.com/langchou/scalegazer/internal/scale"
)

// ErrDeviceNotFound 设备未配置
var ErrDeviceNotFound = errors.New("device not found")

// SourceFactory 根据凭证创建数据源
type SourceFactory func(creds tuya.Credentials) (tuya.Source, error)

// entry 一台已配置设备的运行状态
type entry struct {
	dev    config.DeviceConfig
	coord  *Coordinator
	cancel context.CancelFunc
	done   chan struct{}
}

// ScaleService 设备生命周期与定时刷新
// 每台设备一个协调器、一个数据源，互不共享
type ScaleService struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     repository.SnapshotStore
	newSource SourceFactory
	now       func() time.Time

	mu          sync.RWMutex
	entries     map[string]*entry
	order       []string
	subscribers []chan *models.Snapshot
	running     bool
	runCtx      context.Context
}

// NewScaleService 创建服务，store 可以为 nil
func NewScaleService(cfg *config.Config, logger *zap.Logger, store repository.SnapshotStore) *ScaleService {
	svc := &ScaleService{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	svc.newSource = func(creds tuya.Credentials) (tuya.Source, error) {
		return tuya.NewSource(creds, logger, tuya.WithTimeout(cfg.RequestTimeout))
	}
	return svc
}

// SetSourceFactory 替换数据源构造（测试用）
func (s *ScaleService) SetSourceFactory(f SourceFactory) {
	s.newSource = f
}

// SetClock 替换时钟
func (s *ScaleService) SetClock(now func() time.Time) {
	s.now = now
}

// Setup 配置一台设备；服务已运行时立即开始轮询
func (s *ScaleService) Setup(ctx context.Context, dev config.DeviceConfig) (*Coordinator, error) {
	dev.ScanInterval = config.ClampScanInterval(dev.ScanInterval)

	s.mu.RLock()
	_, exists := s.entries[dev.DeviceID]
	s.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("device %s already configured", dev.DeviceID)
	}

	source, err := s.newSource(dev.Credentials)
	if err != nil {
		return nil, fmt.Errorf("create source for %s: %w", dev.DeviceID, err)
	}

	normalizer := scale.NewNormalizer(s.logger, dev.Birthdate, s.now)
	coord := NewCoordinator(dev.DeviceID, dev.Name, source, normalizer, s.store, s.logger, s.now)
	coord.OnUpdate(s.onUpdate)

	if err := coord.Seed(ctx); err != nil {
		s.logger.Warn("Failed to restore snapshot", zap.String("device_id", dev.DeviceID), zap.Error(err))
	}

	e := &entry{dev: dev, coord: coord}

	s.mu.Lock()
	if _, exists := s.entries[dev.DeviceID]; exists {
		s.mu.Unlock()
		_ = coord.Close()
		return nil, fmt.Errorf("device %s already configured", dev.DeviceID)
	}
	s.entries[dev.DeviceID] = e
	s.order = append(s.order, dev.DeviceID)
	running, runCtx := s.running, s.runCtx
	s.mu.Unlock()

	s.logger.Info("Configured scale",
		zap.String("device_id", dev.DeviceID),
		zap.String("name", dev.Name),
		zap.String("mode", string(source.Mode())),
		zap.Duration("scan_interval", dev.ScanInterval))

	if running {
		if _, err := coord.Refresh(runCtx); err != nil {
			s.logger.Warn("Initial refresh failed", zap.String("device_id", dev.DeviceID), zap.Error(err))
		}
		s.startLoop(runCtx, e)
	}
	return coord, nil
}

// Start 首次刷新全部设备，然后为每台设备启动轮询
func (s *ScaleService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Scale service already running, skipping start")
		return nil
	}
	s.running = true
	s.runCtx = ctx
	entries := s.snapshotEntries()
	s.mu.Unlock()

	s.logger.Info("Starting scale service", zap.Int("devices", len(entries)))

	// 不同设备互不影响，首次刷新并发进行；失败保留已恢复的快照
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if _, err := e.coord.Refresh(gctx); err != nil {
				s.logger.Warn("Initial refresh failed", zap.String("device_id", e.dev.DeviceID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}

	for _, e := range entries {
		s.startLoop(ctx, e)
	}

	s.logger.Info("Scale service started, polling loops running")
	return nil
}

// Stop 停止全部轮询并释放数据源
func (s *ScaleService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	s.mu.Unlock()

	s.logger.Info("Stopping scale service")
	for _, id := range ids {
		s.stopLoop(id)
	}

	// 进行中的刷新会回调 onUpdate，关闭协调器时不能持有锁
	s.mu.RLock()
	entries := s.snapshotEntries()
	s.mu.RUnlock()
	for _, e := range entries {
		if err := e.coord.Close(); err != nil {
			s.logger.Warn("Failed to close source", zap.String("device_id", e.dev.DeviceID), zap.Error(err))
		}
	}

	s.mu.Lock()
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	s.mu.Unlock()

	s.logger.Info("Scale service stopped")
}

// Unload 卸载设备：停止轮询，等待进行中的刷新结束后丢弃 token/会话
func (s *ScaleService) Unload(deviceID string) error {
	s.stopLoop(deviceID)

	s.mu.Lock()
	e, ok := s.entries[deviceID]
	if ok {
		delete(s.entries, deviceID)
		for i, id := range s.order {
			if id == deviceID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return ErrDeviceNotFound
	}
	if err := e.coord.Close(); err != nil {
		return fmt.Errorf("close source: %w", err)
	}
	s.logger.Info("Unloaded scale", zap.String("device_id", deviceID))
	return nil
}

// Subscribe 订阅快照更新
func (s *ScaleService) Subscribe() <-chan *models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *models.Snapshot, 10)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Coordinator 获取设备协调器
func (s *ScaleService) Coordinator(deviceID string) (*Coordinator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[deviceID]
	if !ok {
		return nil, false
	}
	return e.coord, true
}

// Devices 全部设备概况，按配置顺序
func (s *ScaleService) Devices() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]models.Device, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		devices = append(devices, e.coord.Device(e.dev.ScanInterval))
	}
	return devices
}

// Snapshots 全部设备的最新快照
func (s *ScaleService) Snapshots() []*models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]*models.Snapshot, 0, len(s.order))
	for _, id := range s.order {
		if snap := s.entries[id].coord.Data(); snap != nil {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

// RefreshNow 立即刷新，与定时刷新共享同一次执行
func (s *ScaleService) RefreshNow(ctx context.Context, deviceID string) (*models.Snapshot, error) {
	coord, ok := s.Coordinator(deviceID)
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return coord.Refresh(ctx)
}

// snapshotEntries 调用方需持有锁
func (s *ScaleService) snapshotEntries() []*entry {
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	return entries
}

func (s *ScaleService) startLoop(ctx context.Context, e *entry) {
	loopCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	s.mu.Unlock()

	go s.pollLoop(loopCtx, e, done)
}

func (s *ScaleService) stopLoop(deviceID string) {
	s.mu.Lock()
	e, ok := s.entries[deviceID]
	var cancel context.CancelFunc
	var done chan struct{}
	if ok {
		cancel, done = e.cancel, e.done
		e.cancel, e.done = nil, nil
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// pollLoop 按间隔刷新；上一次刷新结束前不会开始下一次
func (s *ScaleService) pollLoop(ctx context.Context, e *entry, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.dev.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.coord.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("Scheduled refresh failed, keeping last known data",
					zap.String("device_id", e.dev.DeviceID),
					zap.Error(err))
			}
		}
	}
}

// onUpdate 成功的刷新推送给订阅者
func (s *ScaleService) onUpdate(deviceID string, snap *models.Snapshot, err error) {
	if err != nil || snap == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// 跳过慢消费者
		}
	}
}
