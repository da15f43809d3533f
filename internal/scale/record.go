package scale

import (
	"encoding/json"
	"strconv"
	"strings"
)

// 原始记录字段
const (
	KeyID             = "id"
	KeyUserID         = "user_id"
	KeyNickName       = "nick_name"
	KeyNickname       = "nickname"
	KeyHeight         = "height"
	KeyWeight         = "weight"
	KeyWeightRaw      = "wegith" // 云端历史记录中的原始拼写
	KeyResistance     = "body_r"
	KeyCreateTime     = "create_time"
	KeyAnalysisReport = "analysis_report"
)

// Record 一条称重记录（云端原始字段）
// 不同 API 版本字段不一致，因此保留为 map，由 Normalizer 统一解析
type Record map[string]any

// Get 获取非空字段
func (r Record) Get(key string) (any, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// String 以字符串形式读取字段
func (r Record) String(key string) string {
	v, ok := r.Get(key)
	if !ok {
		return ""
	}
	return stringify(v)
}

// Float 按顺序读取第一个可解析为数字的字段，都没有时返回 0
func (r Record) Float(keys ...string) float64 {
	for _, key := range keys {
		v, ok := r.Get(key)
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return 0
}

// UserID 记录所属用户
func (r Record) UserID() string {
	return r.String(KeyUserID)
}

// Nickname 用户昵称，兼容 nick_name / nickname
func (r Record) Nickname() string {
	if name := r.String(KeyNickName); name != "" {
		return name
	}
	return r.String(KeyNickname)
}

// Height 身高 (cm)
func (r Record) Height() float64 {
	return r.Float(KeyHeight)
}

// Weight 体重 (kg)
func (r Record) Weight() float64 {
	return r.Float(KeyWeightRaw, KeyWeight)
}

// Resistance 返回可用于体成分分析的阻抗值
func (r Record) Resistance() (string, bool) {
	raw := strings.TrimSpace(r.String(KeyResistance))
	if raw == "" || raw == "0" {
		return "", false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == 0 {
		return "", false
	}
	return raw, true
}

// Report 嵌套的分析报告，没有时返回 nil
func (r Record) Report() Record {
	v, ok := r.Get(KeyAnalysisReport)
	if !ok {
		return nil
	}
	switch report := v.(type) {
	case Record:
		return report
	case map[string]any:
		return Record(report)
	}
	return nil
}

// Clone 浅拷贝，分析报告单独复制
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	if report := r.Report(); report != nil {
		out[KeyAnalysisReport] = report.Clone()
	}
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}

// toInt 整数解析：字符串必须是整数字面量，数字类型向零截断
func toInt(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		return int64(val), true
	case float32:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return i, err == nil
	}
	return 0, false
}
