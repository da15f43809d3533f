package tuya

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SignMethod 签名算法
const SignMethod = "HMAC-SHA256"

// Signature 单次请求的签名结果
type Signature struct {
	Sign          string
	Timestamp     string
	CanonicalPath string
}

// Signer 请求签名器
type Signer struct {
	accessID     string
	accessSecret string
}

// NewSigner 创建签名器
func NewSigner(accessID, accessSecret string) *Signer {
	return &Signer{accessID: accessID, accessSecret: accessSecret}
}

// AccessID 返回 client_id
func (s *Signer) AccessID() string {
	return s.accessID
}

// Sign 对请求签名
// token 为空时生成获取 token 所用的签名（消息中不含 token 段）
func (s *Signer) Sign(method, path string, params map[string]string, body []byte, token string, now time.Time) Signature {
	canonicalPath := CanonicalPath(path, params)

	digest := sha256.Sum256(body)
	stringToSign := method + "\n" + hex.EncodeToString(digest[:]) + "\n\n" + canonicalPath

	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	message := s.accessID + token + timestamp + stringToSign

	mac := hmac.New(sha256.New, []byte(s.accessSecret))
	mac.Write([]byte(message))

	return Signature{
		Sign:          strings.ToUpper(hex.EncodeToString(mac.Sum(nil))),
		Timestamp:     timestamp,
		CanonicalPath: canonicalPath,
	}
}

// CanonicalPath 生成按 key 排序的 path?query
// 值原样拼接，不做 URL 编码，签名与实际请求必须一致
func CanonicalPath(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return path + "?" + strings.Join(pairs, "&")
}
