package tuya

import "context"

// MaxAttempts 单个调用最多尝试次数（首次 + 一次重试）
const MaxAttempts = 2

// Retry 有界重试
// 仅传输类与认证类错误会重试；每次重试前调用 onRetry 作废本地 token/会话
func Retry(ctx context.Context, attempts int, op func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error)) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt == attempts || !isRetryable(err) || ctx.Err() != nil {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return err
}
