package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/scalegazer/internal/api/tuya"
	"github.com/langchou/scalegazer/internal/config"
	"github.com/langchou/scalegazer/internal/repository"
)

func testDevice(id string) config.DeviceConfig {
	return config.DeviceConfig{
		Name:         "Scale " + id,
		ScanInterval: time.Second,
		Credentials: tuya.Credentials{
			AccessID:     "id",
			AccessSecret: "secret",
			DeviceID:     id,
			Birthdate:    "2000-06-15",
			Sex:          1,
		},
	}
}

func newTestService(t *testing.T, sources map[string]*fakeSource) *ScaleService {
	t.Helper()
	svc := NewScaleService(&config.Config{RequestTimeout: time.Second}, zap.NewNop(), repository.NewMemoryStore())
	svc.SetClock(clock)
	svc.SetSourceFactory(func(creds tuya.Credentials) (tuya.Source, error) {
		src, ok := sources[creds.DeviceID]
		if !ok {
			return nil, errors.New("no fake source")
		}
		return src, nil
	})
	t.Cleanup(svc.Stop)
	return svc
}

func TestScaleServiceStart(t *testing.T) {
	good := newFakeSource(aliceRecords())
	bad := newFakeSource(nil)
	bad.set(nil, &tuya.Error{Kind: tuya.KindAuth, Op: "get_token"})
	svc := newTestService(t, map[string]*fakeSource{"dev1": good, "dev2": bad})

	ctx := context.Background()
	_, err := svc.Setup(ctx, testDevice("dev1"))
	require.NoError(t, err)
	_, err = svc.Setup(ctx, testDevice("dev2"))
	require.NoError(t, err)

	updates := svc.Subscribe()

	// 单台设备失败不影响其他设备
	require.NoError(t, svc.Start(ctx))

	select {
	case snap := <-updates:
		assert.Equal(t, "dev1", snap.DeviceID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot update")
	}

	devices := svc.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "dev1", devices[0].ID)
	assert.Equal(t, config.MinScanInterval.String(), devices[0].ScanInterval)
	assert.Empty(t, devices[0].LastError)
	assert.Equal(t, "dev2", devices[1].ID)
	assert.NotEmpty(t, devices[1].LastError)

	snaps := svc.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "dev1", snaps[0].DeviceID)

	// 重复启动无副作用
	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, 1, good.fetchCount())
}

func TestScaleServiceSetupErrors(t *testing.T) {
	svc := newTestService(t, map[string]*fakeSource{"dev1": newFakeSource(aliceRecords())})
	ctx := context.Background()

	_, err := svc.Setup(ctx, testDevice("dev1"))
	require.NoError(t, err)

	_, err = svc.Setup(ctx, testDevice("dev1"))
	assert.ErrorContains(t, err, "already configured")

	_, err = svc.Setup(ctx, testDevice("unknown"))
	assert.Error(t, err)
	_, ok := svc.Coordinator("unknown")
	assert.False(t, ok)
}

func TestScaleServiceSetupWhileRunning(t *testing.T) {
	src := newFakeSource(aliceRecords())
	svc := newTestService(t, map[string]*fakeSource{"dev1": src})

	require.NoError(t, svc.Start(context.Background()))

	coord, err := svc.Setup(context.Background(), testDevice("dev1"))
	require.NoError(t, err)
	assert.NotNil(t, coord.Data())
	assert.Equal(t, 1, src.fetchCount())
}

func TestScaleServiceRefreshNow(t *testing.T) {
	src := newFakeSource(aliceRecords())
	svc := newTestService(t, map[string]*fakeSource{"dev1": src})
	ctx := context.Background()

	_, err := svc.RefreshNow(ctx, "dev1")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = svc.Setup(ctx, testDevice("dev1"))
	require.NoError(t, err)

	snap, err := svc.RefreshNow(ctx, "dev1")
	require.NoError(t, err)
	assert.Contains(t, snap.Users, "1")

	src.set(nil, errors.New("boom"))
	_, err = svc.RefreshNow(ctx, "dev1")
	assert.ErrorIs(t, err, ErrRefreshFailed)

	coord, _ := svc.Coordinator("dev1")
	assert.Same(t, snap, coord.Data())
}

func TestScaleServiceRestoresSnapshot(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	first := NewScaleService(&config.Config{}, zap.NewNop(), store)
	first.SetClock(clock)
	first.SetSourceFactory(func(creds tuya.Credentials) (tuya.Source, error) {
		return newFakeSource(aliceRecords()), nil
	})
	_, err := first.Setup(ctx, testDevice("dev1"))
	require.NoError(t, err)
	_, err = first.RefreshNow(ctx, "dev1")
	require.NoError(t, err)

	failing := newFakeSource(nil)
	failing.set(nil, errors.New("cloud down"))
	second := NewScaleService(&config.Config{}, zap.NewNop(), store)
	second.SetClock(clock)
	second.SetSourceFactory(func(creds tuya.Credentials) (tuya.Source, error) {
		return failing, nil
	})
	coord, err := second.Setup(ctx, testDevice("dev1"))
	require.NoError(t, err)

	require.NotNil(t, coord.Data())
	assert.Equal(t, "Alice", coord.Data().Users["1"].Nickname)
}

func TestScaleServiceUnload(t *testing.T) {
	src := newFakeSource(aliceRecords())
	svc := newTestService(t, map[string]*fakeSource{"dev1": src})
	ctx := context.Background()

	_, err := svc.Setup(ctx, testDevice("dev1"))
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	require.NoError(t, svc.Unload("dev1"))
	assert.True(t, src.isClosed())
	_, ok := svc.Coordinator("dev1")
	assert.False(t, ok)
	assert.Empty(t, svc.Devices())

	assert.ErrorIs(t, svc.Unload("dev1"), ErrDeviceNotFound)
}

func TestScaleServiceUnloadWaitsForManualRefresh(t *testing.T) {
	src := newFakeSource(aliceRecords())
	svc := newTestService(t, map[string]*fakeSource{"dev1": src})
	ctx := context.Background()

	_, err := svc.Setup(ctx, testDevice("dev1"))
	require.NoError(t, err)

	src.started = make(chan struct{}, 1)
	src.release = make(chan struct{})
	refreshErr := make(chan error, 1)
	go func() {
		_, err := svc.RefreshNow(ctx, "dev1")
		refreshErr <- err
	}()
	<-src.started

	require.NoError(t, svc.Unload("dev1"))
	assert.True(t, src.isClosed())
	assert.False(t, src.wasClosedMidFetch())

	select {
	case err := <-refreshErr:
		assert.ErrorIs(t, err, ErrRefreshFailed)
	case <-time.After(time.Second):
		t.Fatal("manual refresh did not return")
	}
}

func TestScaleServiceStop(t *testing.T) {
	src := newFakeSource(aliceRecords())
	svc := newTestService(t, map[string]*fakeSource{"dev1": src})
	ctx := context.Background()

	_, err := svc.Setup(ctx, testDevice("dev1"))
	require.NoError(t, err)
	updates := svc.Subscribe()
	require.NoError(t, svc.Start(ctx))
	<-updates

	svc.Stop()
	assert.True(t, src.isClosed())

	_, open := <-updates
	assert.False(t, open)
}
