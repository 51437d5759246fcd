package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig содержит конфигурацию повторных попыток
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryFunc представляет функцию для повторной попытки
type RetryFunc func(ctx context.Context) error

// NotifyFunc вызывается перед каждой повторной попыткой
type NotifyFunc func(attempt int, delay time.Duration, err error)

// WithRetry выполняет функцию с экспоненциальной задержкой между попытками
func WithRetry(ctx context.Context, config RetryConfig, operation RetryFunc) error {
	return WithRetryNotify(ctx, config, operation, nil)
}

// WithRetryNotify то же, что WithRetry, но сообщает о каждой неудачной попытке
func WithRetryNotify(ctx context.Context, config RetryConfig, operation RetryFunc, notify NotifyFunc) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	attempt := 0
	var lastErr error
	err := backoff.RetryNotify(
		func() error {
			attempt++
			lastErr = operation(ctx)
			return lastErr
		},
		newBackOff(ctx, config),
		func(err error, delay time.Duration) {
			if notify != nil {
				notify(attempt, delay, err)
			}
		},
	)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempt, lastErr)
}

// Permanent помечает ошибку как не требующую повтора
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func newBackOff(ctx context.Context, config RetryConfig) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = config.InitialDelay
	exp.MaxInterval = config.MaxDelay
	exp.Multiplier = config.Multiplier
	exp.MaxElapsedTime = 0
	if !config.Jitter {
		exp.RandomizationFactor = 0
	}
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(config.MaxAttempts-1)), ctx)
}
