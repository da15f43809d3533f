package scale

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// 体型分类 0-4
var bodyTypeLabels = []string{
	"Underweight",
	"Normal",
	"Overweight",
	"Obese",
	"Severely Obese",
}

// Reading 归一化后的单项读数
type Reading struct {
	UniqueID    string `json:"unique_id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Value       any    `json:"value"` // nil 表示未知
	Unit        string `json:"unit,omitempty"`
	Icon        string `json:"icon"`
	DeviceClass string `json:"device_class,omitempty"`
}

// Normalizer 把不同 API 版本的记录解析为统一读数
type Normalizer struct {
	logger    *zap.Logger
	birthdate string
	now       func() time.Time
}

// NewNormalizer 创建 Normalizer，birthdate 为空时不提供 physical_age
func NewNormalizer(logger *zap.Logger, birthdate string, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		logger:    logger,
		birthdate: birthdate,
		now:       now,
	}
}

// Lookup 按顺序探测：记录字段、记录别名、分析报告字段、分析报告别名
func Lookup(desc SensorDescriptor, rec Record) (any, bool) {
	if v, ok := lookupField(rec, desc); ok {
		return v, true
	}
	if report := rec.Report(); report != nil {
		return lookupField(report, desc)
	}
	return nil, false
}

func lookupField(rec Record, desc SensorDescriptor) (any, bool) {
	if v, ok := rec.Get(desc.Key); ok {
		return v, true
	}
	for _, alias := range desc.Aliases {
		if v, ok := rec.Get(alias); ok {
			return v, true
		}
	}
	return nil, false
}

// Resolve 解析单个传感器的值，不存在时返回 false（不是错误）
func (n *Normalizer) Resolve(desc SensorDescriptor, rec Record) (any, bool) {
	if desc.Conversion == ConvertAge {
		if n.birthdate == "" || rec == nil {
			return nil, false
		}
		return AgeOrDefault(n.logger, n.birthdate, n.now()), true
	}

	raw, ok := Lookup(desc, rec)
	if !ok {
		return nil, false
	}

	switch desc.Conversion {
	case ConvertBodyType:
		return BodyTypeLabel(raw), true
	case ConvertTimestamp:
		ts, ok := EpochMillis(raw)
		if !ok {
			return nil, false
		}
		return ts, true
	}
	return raw, true
}

// Readings 为一个用户生成全部传感器读数
func (n *Normalizer) Readings(deviceID, userID, nickname string, rec Record) []Reading {
	readings := make([]Reading, 0, len(sensors))
	for _, desc := range sensors {
		value, _ := n.Resolve(desc, rec)
		readings = append(readings, Reading{
			UniqueID:    UniqueID(deviceID, userID, desc.Key),
			Key:         desc.Key,
			Name:        DisplayName(desc, userID, nickname),
			Value:       value,
			Unit:        desc.Unit,
			Icon:        desc.Icon,
			DeviceClass: desc.DeviceClass,
		})
	}
	return readings
}

// BodyTypeLabel 体型编码转文字；越界为 "Unknown (n)"，非数字原样返回
func BodyTypeLabel(raw any) any {
	code, ok := toInt(raw)
	if !ok {
		return raw
	}
	if code >= 0 && int(code) < len(bodyTypeLabels) {
		return bodyTypeLabels[code]
	}
	return fmt.Sprintf("Unknown (%v)", raw)
}

// EpochMillis 毫秒时间戳转 UTC 时间
func EpochMillis(raw any) (time.Time, bool) {
	ms, ok := toInt(raw)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// UniqueID 读数唯一标识 device[_user]_key
func UniqueID(deviceID, userID, key string) string {
	if userID == "" {
		return deviceID + "_" + key
	}
	return deviceID + "_" + userID + "_" + key
}

// DisplayName 展示名称，优先使用昵称
func DisplayName(desc SensorDescriptor, userID, nickname string) string {
	who := nickname
	if who == "" {
		who = userID
	}
	if who == "" {
		return desc.Name
	}
	return fmt.Sprintf("%s (%s)", desc.Name, who)
}
