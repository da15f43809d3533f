package tuya

import "github.com/langchou/scalegazer/internal/scale"

// DeviceInfo 设备基础信息
type DeviceInfo struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	UID         string       `json:"uid"`
	Category    string       `json:"category"`
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	Model       string       `json:"model"`
	Online      bool         `json:"online"`
	Icon        string       `json:"icon"`
	TimeZone    string       `json:"time_zone"`
	ActiveTime  int64        `json:"active_time"`
	UpdateTime  int64        `json:"update_time"`
	Status      []StatusItem `json:"status,omitempty"`
}

// StatusItem 设备数据点
type StatusItem struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// ScaleUser 秤上的一个用户
type ScaleUser struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// RecordQuery 历史记录查询参数
type RecordQuery struct {
	StartTime int64  // 毫秒，0 表示不限
	Limit     int    // 默认 10
	UserID    string // 客户端过滤
}

// AnalysisInput 体成分分析请求体，字段顺序即 JSON 顺序
type AnalysisInput struct {
	Height     float64 `json:"height"`
	Weight     float64 `json:"weight"`
	Age        int     `json:"age"`
	Sex        int     `json:"sex"`
	Resistance string  `json:"resistance"`
}

// historyResult 历史记录接口 result 字段
type historyResult struct {
	Records []scale.Record `json:"records"`
	Total   int            `json:"total"`
	HasMore bool           `json:"has_more"`
}
