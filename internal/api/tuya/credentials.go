package tuya

import (
	"fmt"
	"strings"
)

// 默认值
const (
	DefaultRegion      = "us"
	DefaultBirthdate   = "1990-01-01"
	DefaultSex         = 1
	DefaultCountryCode = "1"
	DefaultAppSchema   = "tuyaSmart"
)

// Regions 数据中心与 OpenAPI 地址
var Regions = map[string]string{
	"us":   "https://openapi.tuyaus.com",
	"us-e": "https://openapi-ueaz.tuyaus.com",
	"eu":   "https://openapi.tuyaeu.com",
	"eu-w": "https://openapi-weaz.tuyaeu.com",
	"cn":   "https://openapi.tuyacn.com",
	"in":   "https://openapi.tuyain.com",
}

// Mode 认证方式
type Mode string

const (
	ModeSelfSigned   Mode = "self_signed"   // 每次请求自行签名
	ModeAccountLogin Mode = "account_login" // 先用 App 账号登录建立会话
)

// Credentials 设备接入凭证，客户端生命周期内不可变
type Credentials struct {
	AccessID     string `yaml:"access_id" json:"-"`
	AccessSecret string `yaml:"access_secret" json:"-"`
	DeviceID     string `yaml:"device_id" json:"device_id"`
	Endpoint     string `yaml:"endpoint" json:"endpoint,omitempty"`

	// 自签名方式
	Region    string `yaml:"region" json:"region,omitempty"`
	Birthdate string `yaml:"birthdate" json:"-"`
	Sex       int    `yaml:"sex" json:"-"`

	// 账号登录方式
	Username    string `yaml:"username" json:"-"`
	Password    string `yaml:"password" json:"-"`
	CountryCode string `yaml:"country_code" json:"-"`
	AppSchema   string `yaml:"app_schema" json:"-"`
}

// Mode 根据已填写的字段选择认证方式
func (c Credentials) Mode() Mode {
	if c.Username != "" {
		return ModeAccountLogin
	}
	return ModeSelfSigned
}

// WithDefaults 补全可选字段
func (c Credentials) WithDefaults() Credentials {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Sex == 0 {
		c.Sex = DefaultSex
	}
	if c.Mode() == ModeSelfSigned && c.Birthdate == "" {
		c.Birthdate = DefaultBirthdate
	}
	if c.Mode() == ModeAccountLogin {
		if c.CountryCode == "" {
			c.CountryCode = DefaultCountryCode
		}
		if c.AppSchema == "" {
			c.AppSchema = DefaultAppSchema
		}
	}
	return c
}

// Validate 校验必填字段
func (c Credentials) Validate() error {
	var missing []string
	if c.AccessID == "" {
		missing = append(missing, "access_id")
	}
	if c.AccessSecret == "" {
		missing = append(missing, "access_secret")
	}
	if c.DeviceID == "" {
		missing = append(missing, "device_id")
	}
	if c.Mode() == ModeAccountLogin && c.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	if c.Endpoint == "" && c.Region != "" {
		if _, ok := Regions[c.Region]; !ok {
			return fmt.Errorf("unknown region %q", c.Region)
		}
	}
	if c.Sex != 0 && c.Sex != 1 && c.Sex != 2 {
		return fmt.Errorf("invalid sex %d", c.Sex)
	}
	return nil
}

// BaseURL OpenAPI 地址，显式 endpoint 优先，其次按区域
func (c Credentials) BaseURL() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}
	if endpoint, ok := Regions[c.Region]; ok {
		return endpoint
	}
	return Regions[DefaultRegion]
}
