package tuya

import (
	"context"

	"go.uber.org/zap"

	"github.com/langchou/scalegazer/internal/scale"
)

// DeviceUserKey 设备级读数（不区分用户）使用的 key
const DeviceUserKey = ""

// Source 秤数据源，两种认证方式的统一抽象
type Source interface {
	// Authenticate 获取 token 或建立会话
	Authenticate(ctx context.Context) error
	// Fetch 返回 user_id -> 最新记录
	Fetch(ctx context.Context) (map[string]scale.Record, error)
	// DeviceInfo 设备元数据
	DeviceInfo(ctx context.Context) (*DeviceInfo, error)
	Mode() Mode
	// Close 丢弃 token / 会话
	Close() error
}

var (
	_ Source = (*Client)(nil)
	_ Source = (*SessionClient)(nil)
)

// NewSource 根据凭证字段选择实现
func NewSource(creds Credentials, logger *zap.Logger, opts ...Option) (Source, error) {
	creds = creds.WithDefaults()
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	if creds.Mode() == ModeAccountLogin {
		return NewSessionClient(creds, logger, opts...), nil
	}
	return NewClient(creds, logger, opts...), nil
}
