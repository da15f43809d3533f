package tuya

import (
	"context"
	"time"
)

// TokenSafetyMargin 提前刷新的安全余量，避免请求途中过期
const TokenSafetyMargin = 60 * time.Second

// Token 访问令牌，只存在内存中
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UID          string    `json:"uid,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid 检查 token 是否仍可使用
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-TokenSafetyMargin))
}

// tokenResult 令牌接口 result 字段
type tokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireTime   int64  `json:"expire_time"` // 秒
	UID          string `json:"uid"`
}

func (r tokenResult) token(now time.Time) *Token {
	return &Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		UID:          r.UID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Duration(r.ExpireTime) * time.Second),
	}
}

// TokenCache 缓存当前 token，过期或作废后通过 fetch 整体替换
// 同一客户端的刷新不会并发，调用方负责串行化
type TokenCache struct {
	token *Token
	fetch func(ctx context.Context) (*Token, error)
	now   func() time.Time
}

// NewTokenCache 创建 token 缓存
func NewTokenCache(fetch func(ctx context.Context) (*Token, error), now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{fetch: fetch, now: now}
}

// Get 返回有效 token，必要时重新获取
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if c.token.Valid(c.now()) {
		return c.token.AccessToken, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		c.token = nil
		return "", err
	}
	c.token = token
	return token.AccessToken, nil
}

// Current 当前缓存的 token，可能为 nil
func (c *TokenCache) Current() *Token {
	return c.token
}

// Invalidate 作废缓存的 token
func (c *TokenCache) Invalidate() {
	c.token = nil
}
