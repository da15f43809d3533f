package tuya

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultTimeout 单次请求超时
const DefaultTimeout = 15 * time.Second

// envelope 通用响应结构
type envelope struct {
	Success *bool           `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
}

func (e *envelope) ok() bool {
	if e.Success != nil {
		return *e.Success
	}
	return e.Code == 0
}

func (e *envelope) hasResult() bool {
	return len(e.Result) > 0 && !bytes.Equal(e.Result, []byte("null"))
}

// decodeResult 解析 result，数字保留为 json.Number
func (e *envelope) decodeResult(v any) error {
	dec := json.NewDecoder(bytes.NewReader(e.Result))
	dec.UseNumber()
	return dec.Decode(v)
}

// transport 签名 HTTP 请求，只执行一次，不负责重试
type transport struct {
	http   *resty.Client
	signer *Signer
	now    func() time.Time
	logger *zap.Logger
}

func newTransport(baseURL string, signer *Signer, timeout time.Duration, now func() time.Time, logger *zap.Logger) *transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0). // 重试由 Retry 统一控制
		SetHeader("Accept", "application/json")

	return &transport{
		http:   client,
		signer: signer,
		now:    now,
		logger: logger,
	}
}

// do 签名并发送请求，按响应归类错误
func (t *transport) do(ctx context.Context, op, method, path string, params map[string]string, body any, token string) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, newError(KindData, op, "encode body", err)
		}
	}

	// 每次请求重新生成时间戳和签名
	sig := t.signer.Sign(method, path, params, payload, token, t.now())

	req := t.http.R().
		SetContext(ctx).
		SetHeader("client_id", t.signer.AccessID()).
		SetHeader("t", sig.Timestamp).
		SetHeader("sign", sig.Sign).
		SetHeader("sign_method", SignMethod)
	if token != "" {
		req.SetHeader("access_token", token)
	}
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	t.logger.Debug("Tuya request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", sig.CanonicalPath))

	resp, err := req.Execute(method, sig.CanonicalPath)
	if err != nil {
		return nil, newError(KindTransport, op, "request failed", err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, &Error{Kind: KindAuth, Op: op, Msg: fmt.Sprintf("status=%d body=%s", resp.StatusCode(), resp.String())}
	case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
		return nil, &Error{Kind: KindTransport, Op: op, Msg: fmt.Sprintf("status=%d body=%s", resp.StatusCode(), resp.String())}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, newError(KindData, op, "decode response", err)
	}

	if !env.ok() {
		kind := KindAPI
		if IsAuthCode(env.Code) {
			kind = KindAuth
		}
		return nil, &Error{Kind: kind, Op: op, Code: env.Code, Msg: env.Msg}
	}

	return &env, nil
}
