package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/user/reelshelf/internal/logger"
	"golang.org/x/time/rate"
)

// Limited 在调用前按速率等待，ctx 取消时返回 ProviderError
type Limited struct {
	next    Client
	limiter *rate.Limiter
}

// NewLimited perMinute <= 0 时不限速，直接返回 next
func NewLimited(next Client, perMinute int) Client {
	if perMinute <= 0 {
		return next
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *Limited) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", &ProviderError{Provider: "ratelimit", Message: "rate limit wait aborted", Err: err}
	}
	return l.next.Complete(ctx, systemPrompt, userPrompt)
}

// Breaker 连续失败达到阈值后熔断，熔断期间快速失败
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker[string]
}

// NewBreaker maxFailures <= 0 时不启用熔断
func NewBreaker(next Client, name string, maxFailures int, cooldown time.Duration, log *logger.Logger) Client {
	if maxFailures <= 0 {
		return next
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("llm circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		// 调用方主动取消不算上游故障
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[string](settings)}
}

func (b *Breaker) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	text, err := b.cb.Execute(func() (string, error) {
		return b.next.Complete(ctx, systemPrompt, userPrompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &ProviderError{Provider: "breaker", Message: "llm circuit open", Err: err}
	}
	return text, err
}
