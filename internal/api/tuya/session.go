package tuya

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/scalegazer/internal/scale"
	"github.com/langchou/scalegazer/internal/state"
)

const loginPath = "/v1.0/iot-01/associated-users/actions/authorized-login"

// loginRequest App 账号授权登录请求体
type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"` // md5 hex
	CountryCode string `json:"country_code"`
	Schema      string `json:"schema"`
}

// SessionClient 账号登录方式的秤客户端
// 调用前必须先建立会话；认证失败时作废会话、重连后重试一次
type SessionClient struct {
	creds     Credentials
	transport *transport
	session   *state.Session
	token     *Token
	now       func() time.Time
	logger    *zap.Logger
}

// NewSessionClient 创建账号登录客户端
func NewSessionClient(creds Credentials, logger *zap.Logger, opts ...Option) *SessionClient {
	o := buildOptions(opts)
	creds = creds.WithDefaults()

	c := &SessionClient{
		creds:  creds,
		now:    o.now,
		logger: logger.With(zap.String("device_id", creds.DeviceID)),
	}
	c.transport = newTransport(creds.BaseURL(), NewSigner(creds.AccessID, creds.AccessSecret), o.timeout, o.now, c.logger)
	c.session = state.NewSession(creds.DeviceID, func(deviceID, from, to string) {
		c.logger.Info("Session state changed", zap.String("from", from), zap.String("to", to))
	})

	c.logger.Info("Initialized Tuya scale client",
		zap.String("mode", string(ModeAccountLogin)),
		zap.String("endpoint", creds.BaseURL()),
		zap.String("app_schema", creds.AppSchema))

	return c
}

// Connected 会话是否已建立
func (c *SessionClient) Connected() bool {
	return c.session.Connected() && c.token.Valid(c.now())
}

// Connect 使用 App 账号登录建立会话
func (c *SessionClient) Connect(ctx context.Context) error {
	const op = "connect"

	sum := md5.Sum([]byte(c.creds.Password))
	body := loginRequest{
		Username:    c.creds.Username,
		Password:    hex.EncodeToString(sum[:]),
		CountryCode: c.creds.CountryCode,
		Schema:      c.creds.AppSchema,
	}

	env, err := c.transport.do(ctx, op, http.MethodPost, loginPath, nil, body, "")
	if err != nil {
		if IsKind(err, KindTransport) {
			return err
		}
		return &Error{Kind: KindAuth, Op: op, Msg: "login rejected", Cause: err}
	}
	if !env.hasResult() {
		return &Error{Kind: KindAuth, Op: op, Msg: "response missing result"}
	}

	var result tokenResult
	if err := env.decodeResult(&result); err != nil {
		return &Error{Kind: KindAuth, Op: op, Msg: "decode login result", Cause: err}
	}
	if result.AccessToken == "" {
		return &Error{Kind: KindAuth, Op: op, Msg: "empty access_token"}
	}

	c.token = result.token(c.now())
	if err := c.session.MarkConnected(); err != nil {
		return fmt.Errorf("mark session connected: %w", err)
	}
	return nil
}

// Authenticate 未连接时建立会话
func (c *SessionClient) Authenticate(ctx context.Context) error {
	if c.Connected() {
		return nil
	}
	// token 过期但状态仍为已连接时先作废
	c.invalidate()
	return c.Connect(ctx)
}

func (c *SessionClient) invalidate() {
	c.token = nil
	if err := c.session.Invalidate(); err != nil {
		c.logger.Warn("Failed to invalidate session", zap.Error(err))
	}
}

// request 会话内请求，失败时重连并重试一次
func (c *SessionClient) request(ctx context.Context, op, method, path string, params map[string]string, body any) (*envelope, error) {
	var env *envelope
	err := Retry(ctx, MaxAttempts, func(ctx context.Context, attempt int) error {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
		var err error
		env, err = c.transport.do(ctx, op, method, path, params, body, c.token.AccessToken)
		return err
	}, func(attempt int, err error) {
		c.logger.Warn("Tuya session request failed, reconnecting",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		c.invalidate()
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// GetDeviceStatus 获取设备数据点并展开为 code -> value
func (c *SessionClient) GetDeviceStatus(ctx context.Context, deviceID string) (map[string]any, error) {
	const op = "get_device_status"

	env, err := c.request(ctx, op, http.MethodGet, fmt.Sprintf("/v1.0/devices/%s/status", deviceID), nil, nil)
	if err != nil {
		return nil, err
	}
	if !env.hasResult() {
		return nil, &Error{Kind: KindData, Op: op, Msg: "response missing result"}
	}

	var items []StatusItem
	if err := env.decodeResult(&items); err != nil {
		return nil, newError(KindData, op, "decode status", err)
	}

	status := make(map[string]any, len(items))
	for _, item := range items {
		if item.Code == "" {
			continue
		}
		status[item.Code] = item.Value
	}
	return status, nil
}

// GetDeviceInfo 获取设备信息
func (c *SessionClient) GetDeviceInfo(ctx context.Context, deviceID string) (*DeviceInfo, error) {
	return getDeviceInfo(ctx, deviceID, c.request)
}

// Fetch 数据源入口：单一设备级读数集，用户 key 为空
func (c *SessionClient) Fetch(ctx context.Context) (map[string]scale.Record, error) {
	status, err := c.GetDeviceStatus(ctx, c.creds.DeviceID)
	if err != nil {
		return nil, err
	}
	return map[string]scale.Record{DeviceUserKey: scale.Record(status)}, nil
}

// DeviceInfo 数据源入口：当前设备信息
func (c *SessionClient) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	return c.GetDeviceInfo(ctx, c.creds.DeviceID)
}

// Mode 认证方式
func (c *SessionClient) Mode() Mode {
	return ModeAccountLogin
}

// Close 断开会话
func (c *SessionClient) Close() error {
	c.invalidate()
	return nil
}
