package tuya

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

const (
	KindTransport Kind = "transport" // 网络/超时/非 2xx，重试一次
	KindAuth      Kind = "auth"      // 凭证或 token 失效，重新认证后重试一次
	KindAPI       Kind = "api"       // 结构完整的业务错误，不重试
	KindData      Kind = "data"      // 成功响应但缺少预期字段，不重试
)

// 令牌/会话失效类错误码
var authErrorCodes = map[int]bool{
	1010: true, // token invalid
	1011: true, // token expired
	1012: true, // token status invalid
}

// IsAuthCode 判断错误码是否属于认证失效类
func IsAuthCode(code int) bool {
	return authErrorCodes[code]
}

// Error 云端 API 错误
type Error struct {
	Kind  Kind
	Op    string
	Code  int
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s:%s]", e.Kind, e.Op)
	if e.Code != 0 {
		msg += fmt.Sprintf(" code=%d", e.Code)
	}
	if e.Msg != "" {
		msg += " " + e.Msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable 是否允许重试（传输类和认证类）
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindAuth
}

func newError(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Cause: cause}
}

// IsKind 检查错误链中是否包含指定分类
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// isRetryable 只有带分类的传输/认证错误才重试
func isRetryable(err error) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Retryable()
	}
	return false
}
