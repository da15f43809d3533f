package scale

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultAge 生日缺失或无法解析时使用的年龄
	DefaultAge = 30

	// BirthdateLayout 生日格式 YYYY-MM-DD
	BirthdateLayout = "2006-01-02"
)

// Age 计算 today 当天的周岁
func Age(birthdate string, today time.Time) (int, error) {
	birthdate = strings.TrimSpace(birthdate)
	if birthdate == "" {
		return 0, fmt.Errorf("empty birthdate")
	}

	birth, err := time.Parse(BirthdateLayout, birthdate)
	if err != nil {
		return 0, fmt.Errorf("parse birthdate %q: %w", birthdate, err)
	}

	age := today.Year() - birth.Year()
	if today.Month() < birth.Month() || (today.Month() == birth.Month() && today.Day() < birth.Day()) {
		age--
	}
	return age, nil
}

// AgeOrDefault 计算年龄，失败时记录警告并返回 DefaultAge
func AgeOrDefault(logger *zap.Logger, birthdate string, today time.Time) int {
	age, err := Age(birthdate, today)
	if err != nil {
		logger.Warn("Invalid birthdate, using default age",
			zap.String("birthdate", birthdate),
			zap.Int("default_age", DefaultAge),
			zap.Error(err))
		return DefaultAge
	}
	return age
}
