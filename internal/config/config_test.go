package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/scalegazer/internal/api/tuya"
)

// clearEnv 清空会影响 Load 的环境变量
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DEBUG", "SNAPSHOT_STORE", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"REQUEST_TIMEOUT", "SCAN_INTERVAL", "DEVICES_FILE",
		"TUYA_ACCESS_ID", "TUYA_ACCESS_SECRET", "TUYA_DEVICE_ID", "TUYA_ENDPOINT", "TUYA_REGION",
		"SCALE_BIRTHDATE", "SCALE_SEX", "TUYA_USERNAME", "TUYA_PASSWORD", "TUYA_COUNTRY_CODE",
		"TUYA_APP_SCHEMA", "SCALE_NAME",
	} {
		t.Setenv(key, "")
	}
}

func TestClampScanInterval(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, DefaultScanInterval},
		{-time.Second, DefaultScanInterval},
		{10 * time.Second, MinScanInterval},
		{30 * time.Second, 30 * time.Second},
		{5 * time.Minute, 5 * time.Minute},
		{3600 * time.Second, 3600 * time.Second},
		{2 * time.Hour, MaxScanInterval},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampScanInterval(tt.in), "in %s", tt.in)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "4000", cfg.ServerPort)
	assert.False(t, cfg.Debug)
	assert.Equal(t, StoreMemory, cfg.SnapshotStore)
	assert.Equal(t, tuya.DefaultTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultScanInterval, cfg.ScanInterval)
	assert.Empty(t, cfg.Devices)
}

func TestLoadSingleDeviceFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TUYA_ACCESS_ID", "id")
	t.Setenv("TUYA_ACCESS_SECRET", "secret")
	t.Setenv("TUYA_DEVICE_ID", "dev1")
	t.Setenv("TUYA_REGION", "eu")
	t.Setenv("SCALE_BIRTHDATE", "1985-03-02")
	t.Setenv("SCALE_SEX", "2")
	t.Setenv("SCAN_INTERVAL", "10s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 1)

	dev := cfg.Devices[0]
	assert.Equal(t, "dev1", dev.DeviceID)
	assert.Equal(t, "Smart Scale dev1", dev.Name)
	assert.Equal(t, "eu", dev.Region)
	assert.Equal(t, "1985-03-02", dev.Birthdate)
	assert.Equal(t, 2, dev.Sex)
	assert.Equal(t, MinScanInterval, dev.ScanInterval)
	assert.Equal(t, tuya.ModeSelfSigned, dev.Mode())
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("SNAPSHOT_STORE", "sqlite")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsIncompleteDevice(t *testing.T) {
	clearEnv(t)
	t.Setenv("TUYA_DEVICE_ID", "dev1")

	_, err := Load()
	assert.ErrorContains(t, err, "access_id")
}

func TestLoadDevicesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
devices:
  - name: Bathroom
    device_id: dev1
    access_id: id
    access_secret: secret
    region: eu
    birthdate: "1990-01-01"
    sex: 2
    scan_interval: 5m
  - device_id: dev2
    access_id: id
    access_secret: secret
    username: alice@example.com
    password: hunter2
    scan_interval: 2h
`), 0o600))
	t.Setenv("DEVICES_FILE", path)
	t.Setenv("SCAN_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 2)

	first := cfg.Devices[0]
	assert.Equal(t, "Bathroom", first.Name)
	assert.Equal(t, 5*time.Minute, first.ScanInterval)
	assert.Equal(t, "eu", first.Region)
	assert.Equal(t, 2, first.Sex)
	assert.Equal(t, tuya.ModeSelfSigned, first.Mode())

	second := cfg.Devices[1]
	assert.Equal(t, "Smart Scale dev2", second.Name)
	assert.Equal(t, MaxScanInterval, second.ScanInterval)
	assert.Equal(t, tuya.ModeAccountLogin, second.Mode())
	assert.Equal(t, tuya.DefaultAppSchema, second.AppSchema)
}

func TestNormalizeDevicesRejectsDuplicates(t *testing.T) {
	dev := DeviceConfig{Credentials: tuya.Credentials{AccessID: "id", AccessSecret: "s", DeviceID: "dev1"}}

	_, err := normalizeDevices([]DeviceConfig{dev, dev}, DefaultScanInterval)
	assert.ErrorContains(t, err, "duplicate device_id dev1")
}

func TestNormalizeDevicesUsesDefaultInterval(t *testing.T) {
	dev := DeviceConfig{Credentials: tuya.Credentials{AccessID: "id", AccessSecret: "s", DeviceID: "dev1"}}

	out, err := normalizeDevices([]DeviceConfig{dev}, 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, out[0].ScanInterval)
	assert.Equal(t, tuya.DefaultBirthdate, out[0].Birthdate)
}

func TestLoadDevicesMissingFile(t *testing.T) {
	_, err := LoadDevices(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
