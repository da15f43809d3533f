package models

import (
	"sort"
	"time"

	"github.com/langchou/scalegazer/internal/scale"
)

// Device 已配置的秤
type Device struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Mode         string     `json:"mode"` // self_signed, account_login
	ProductName  string     `json:"product_name,omitempty"`
	Online       *bool      `json:"online,omitempty"`
	ScanInterval string     `json:"scan_interval"`
	LastUpdate   *time.Time `json:"last_update,omitempty"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Users        int        `json:"users"`
}

// Snapshot 最近一次成功轮询的结果，每次成功后整体替换
type Snapshot struct {
	DeviceID   string               `json:"device_id"`
	DeviceName string               `json:"device_name"`
	UpdatedAt  time.Time            `json:"updated_at"`
	Users      map[string]*UserData `json:"users"`
}

// UserData 单个用户的最新记录与读数
type UserData struct {
	UserID   string          `json:"user_id"`
	Nickname string          `json:"nickname,omitempty"`
	Record   scale.Record    `json:"record"`
	Readings []scale.Reading `json:"readings"`
}

// Readings 展开全部用户的读数
func (s *Snapshot) Readings() []scale.Reading {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Users))
	for id := range s.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []scale.Reading
	for _, id := range ids {
		out = append(out, s.Users[id].Readings...)
	}
	return out
}
