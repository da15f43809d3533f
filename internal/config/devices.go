package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/langchou/scalegazer/internal/api/tuya"
)

// DeviceConfig 一台秤的配置项
type DeviceConfig struct {
	Name             string        `yaml:"name"`
	ScanInterval     time.Duration `yaml:"scan_interval"`
	tuya.Credentials `yaml:",inline"`
}

type devicesFile struct {
	Devices []DeviceConfig `yaml:"devices"`
}

// LoadDevices 读取 YAML 设备文件
//
//	devices:
//	  - name: Bathroom
//	    device_id: 6c...
//	    access_id: ...
//	    access_secret: ...
//	    region: eu
//	    birthdate: 1990-01-01
//	    sex: 1
//	    scan_interval: 5m
func LoadDevices(path string) ([]DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}

	var file devicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode devices file: %w", err)
	}
	return file.Devices, nil
}

// normalizeDevices 补默认值并校验，设备 ID 不可重复
func normalizeDevices(devices []DeviceConfig, defaultInterval time.Duration) ([]DeviceConfig, error) {
	seen := make(map[string]bool, len(devices))
	out := make([]DeviceConfig, 0, len(devices))

	for i, dev := range devices {
		dev.Credentials = dev.Credentials.WithDefaults()
		if err := dev.Credentials.Validate(); err != nil {
			return nil, fmt.Errorf("device #%d: %w", i+1, err)
		}
		if seen[dev.DeviceID] {
			return nil, fmt.Errorf("device #%d: duplicate device_id %s", i+1, dev.DeviceID)
		}
		seen[dev.DeviceID] = true

		if dev.Name == "" {
			dev.Name = "Smart Scale " + dev.DeviceID
		}
		if dev.ScanInterval == 0 {
			dev.ScanInterval = defaultInterval
		}
		dev.ScanInterval = ClampScanInterval(dev.ScanInterval)
		out = append(out, dev)
	}
	return out, nil
}
