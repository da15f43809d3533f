package tuya

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/scalegazer/internal/scale"
)

const (
	defaultRecordLimit = 10
	userScanLimit      = 100
)

// Option 客户端可选配置
type Option func(*options)

type options struct {
	timeout time.Duration
	now     func() time.Time
}

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock 替换时钟（签名时间戳、token 过期、年龄计算）
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{timeout: DefaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Client 自签名方式的秤客户端
// 每个请求独立签名，唯一的可变状态是 token
type Client struct {
	creds     Credentials
	transport *transport
	tokens    *TokenCache
	now       func() time.Time
	logger    *zap.Logger
}

// NewClient 创建自签名客户端
func NewClient(creds Credentials, logger *zap.Logger, opts ...Option) *Client {
	o := buildOptions(opts)
	creds = creds.WithDefaults()

	c := &Client{
		creds:  creds,
		now:    o.now,
		logger: logger.With(zap.String("device_id", creds.DeviceID)),
	}
	c.transport = newTransport(creds.BaseURL(), NewSigner(creds.AccessID, creds.AccessSecret), o.timeout, o.now, c.logger)
	c.tokens = NewTokenCache(c.fetchToken, o.now)

	c.logger.Info("Initialized Tuya scale client",
		zap.String("mode", string(ModeSelfSigned)),
		zap.String("region", creds.Region),
		zap.String("endpoint", creds.BaseURL()))

	return c
}

// fetchToken 无 token 签名请求令牌接口
func (c *Client) fetchToken(ctx context.Context) (*Token, error) {
	const op = "get_token"

	env, err := c.transport.do(ctx, op, http.MethodGet, "/v1.0/token", map[string]string{"grant_type": "1"}, nil, "")
	if err != nil {
		if IsKind(err, KindTransport) {
			return nil, err
		}
		return nil, &Error{Kind: KindAuth, Op: op, Msg: "token request rejected", Cause: err}
	}
	if !env.hasResult() {
		return nil, &Error{Kind: KindAuth, Op: op, Msg: "response missing result"}
	}

	var result tokenResult
	if err := env.decodeResult(&result); err != nil {
		return nil, &Error{Kind: KindAuth, Op: op, Msg: "decode token", Cause: err}
	}
	if result.AccessToken == "" {
		return nil, &Error{Kind: KindAuth, Op: op, Msg: "empty access_token"}
	}

	c.logger.Debug("Obtained access token", zap.Int64("expire_time", result.ExpireTime))
	return result.token(c.now()), nil
}

// Authenticate 确保持有有效 token
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.tokens.Get(ctx)
	return err
}

// request 带 token 的请求，认证/传输失败时作废 token 并重试一次
func (c *Client) request(ctx context.Context, op, method, path string, params map[string]string, body any) (*envelope, error) {
	var env *envelope
	err := Retry(ctx, MaxAttempts, func(ctx context.Context, attempt int) error {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return err
		}
		env, err = c.transport.do(ctx, op, method, path, params, body, token)
		return err
	}, func(attempt int, err error) {
		c.logger.Warn("Tuya request failed, refreshing token and retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		c.tokens.Invalidate()
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// GetDeviceInfo 获取设备信息
func (c *Client) GetDeviceInfo(ctx context.Context, deviceID string) (*DeviceInfo, error) {
	return getDeviceInfo(ctx, deviceID, c.request)
}

type requestFunc func(ctx context.Context, op, method, path string, params map[string]string, body any) (*envelope, error)

func getDeviceInfo(ctx context.Context, deviceID string, do requestFunc) (*DeviceInfo, error) {
	const op = "get_device_info"

	env, err := do(ctx, op, http.MethodGet, "/v1.0/devices/"+deviceID, nil, nil)
	if err != nil {
		return nil, err
	}
	if !env.hasResult() {
		return nil, &Error{Kind: KindData, Op: op, Msg: "response missing result"}
	}

	var info DeviceInfo
	if err := env.decodeResult(&info); err != nil {
		return nil, newError(KindData, op, "decode device", err)
	}
	return &info, nil
}

// GetScaleRecords 获取历史称重记录，按云端返回顺序（最新在前）
func (c *Client) GetScaleRecords(ctx context.Context, deviceID string, q RecordQuery) ([]scale.Record, error) {
	const op = "get_scale_records"

	limit := q.Limit
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	params := map[string]string{
		"page_size": strconv.Itoa(limit),
		"page_no":   "1",
	}
	if q.StartTime > 0 {
		params["start_time"] = strconv.FormatInt(q.StartTime, 10)
	}

	env, err := c.request(ctx, op, http.MethodGet, fmt.Sprintf("/v1.0/scales/%s/datas/history", deviceID), params, nil)
	if err != nil {
		return nil, err
	}

	// result 不是对象时视为没有记录
	if !env.hasResult() || !bytes.HasPrefix(bytes.TrimSpace(env.Result), []byte("{")) {
		return nil, nil
	}

	var result historyResult
	if err := env.decodeResult(&result); err != nil {
		return nil, newError(KindData, op, "decode records", err)
	}

	if q.UserID == "" {
		return result.Records, nil
	}

	filtered := make([]scale.Record, 0, len(result.Records))
	for _, rec := range result.Records {
		if rec.UserID() == q.UserID {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

// GetScaleUsers 从最近 100 条记录中提取用户，保留首次出现的昵称
func (c *Client) GetScaleUsers(ctx context.Context, deviceID string) ([]ScaleUser, error) {
	records, err := c.GetScaleRecords(ctx, deviceID, RecordQuery{Limit: userScanLimit})
	if err != nil {
		return nil, err
	}
	return ExtractUsers(records), nil
}

// ExtractUsers 按出现顺序去重，排除空和 "0"
func ExtractUsers(records []scale.Record) []ScaleUser {
	seen := make(map[string]bool)
	var users []ScaleUser
	for _, rec := range records {
		userID := rec.UserID()
		if strings.TrimSpace(userID) == "" || userID == "0" || seen[userID] {
			continue
		}
		seen[userID] = true
		users = append(users, ScaleUser{UserID: userID, Nickname: rec.Nickname()})
	}
	return users
}

// GetAnalysisReport 请求体成分分析报告，仅在阻抗有效时有意义
func (c *Client) GetAnalysisReport(ctx context.Context, deviceID string, in AnalysisInput) (scale.Record, error) {
	const op = "get_analysis_report"

	env, err := c.request(ctx, op, http.MethodPost, fmt.Sprintf("/v1.0/scales/%s/analysis-reports", deviceID), nil, in)
	if err != nil {
		return nil, err
	}
	if !env.hasResult() {
		return scale.Record{}, nil
	}

	var report scale.Record
	if err := env.decodeResult(&report); err != nil {
		return nil, newError(KindData, op, "decode analysis report", err)
	}
	return report, nil
}

// GetLatestData 每个用户的最新记录，附带分析报告和昵称
func (c *Client) GetLatestData(ctx context.Context, deviceID string) (map[string]scale.Record, error) {
	users, err := c.GetScaleUsers(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("get scale users: %w", err)
	}
	if len(users) == 0 {
		c.logger.Warn("No users found for this scale device")
		return map[string]scale.Record{}, nil
	}

	result := make(map[string]scale.Record, len(users))
	for _, user := range users {
		records, err := c.GetScaleRecords(ctx, deviceID, RecordQuery{Limit: defaultRecordLimit, UserID: user.UserID})
		if err != nil {
			return nil, fmt.Errorf("get records for user %s: %w", user.UserID, err)
		}
		if len(records) == 0 {
			continue
		}

		latest := records[0].Clone()
		if report := c.enrich(ctx, deviceID, user.UserID, records); report != nil {
			latest[scale.KeyAnalysisReport] = report
		}
		latest[scale.KeyNickname] = user.Nickname
		result[user.UserID] = latest
	}

	return result, nil
}

// SelectEnrichmentSource 最近一条带有效阻抗的记录，没有则取最新记录
func SelectEnrichmentSource(records []scale.Record) scale.Record {
	for _, rec := range records {
		if _, ok := rec.Resistance(); ok {
			return rec
		}
	}
	if len(records) == 0 {
		return nil
	}
	return records[0]
}

// enrich 获取分析报告，失败只记录日志，不影响其他用户
func (c *Client) enrich(ctx context.Context, deviceID, userID string, records []scale.Record) scale.Record {
	source := SelectEnrichmentSource(records)
	if source == nil {
		return nil
	}

	resistance, ok := source.Resistance()
	height, weight := source.Height(), source.Weight()
	if !ok || height <= 0 || weight <= 0 {
		return nil
	}

	in := AnalysisInput{
		Height:     height,
		Weight:     weight,
		Age:        scale.AgeOrDefault(c.logger, c.creds.Birthdate, c.now()),
		Sex:        c.creds.Sex,
		Resistance: resistance,
	}

	report, err := c.GetAnalysisReport(ctx, deviceID, in)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		c.logger.Warn("Could not fetch analysis report",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil
	}
	return report
}

// Fetch 数据源入口：按用户返回最新记录
func (c *Client) Fetch(ctx context.Context) (map[string]scale.Record, error) {
	return c.GetLatestData(ctx, c.creds.DeviceID)
}

// DeviceInfo 数据源入口：当前设备信息
func (c *Client) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	return c.GetDeviceInfo(ctx, c.creds.DeviceID)
}

// Mode 认证方式
func (c *Client) Mode() Mode {
	return ModeSelfSigned
}

// Close 丢弃 token
func (c *Client) Close() error {
	c.tokens.Invalidate()
	return nil
}
