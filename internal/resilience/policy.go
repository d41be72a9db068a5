package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/envgraph/internal/config"
)

// Policy combines a rate limiter, a circuit breaker and retries for one
// remote service. Any of the three may be nil or zero to disable it.
type Policy struct {
	Limiter *rate.Limiter
	Breaker *CircuitBreaker
	Retry   RetryConfig
}

// FromImageryConfig builds the policy for the imagery service.
func FromImageryConfig(cfg config.ImageryConfig, clock clockwork.Clock) *Policy {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	p := &Policy{Retry: DefaultRetryConfig()}
	p.Retry.Clock = clock
	p.Retry.OnRetry = RetryLogger("imagery", "reduce")
	if cfg.MaxRetries >= 0 {
		p.Retry.MaxAttempts = cfg.MaxRetries + 1
	}
	if cfg.RateLimit > 0 {
		p.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}
	if cfg.BreakerTrips > 0 {
		p.Breaker = NewCircuitBreaker(BreakerConfig{
			FailureThreshold: cfg.BreakerTrips,
			ResetTimeout:     time.Duration(cfg.BreakerResetMS) * time.Millisecond,
			Clock:            clock,
			OnStateChange: func(from, to CircuitState) {
				zap.L().Warn("imagery circuit breaker changed state",
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}
	return p
}

// Call runs fn under p. Each attempt waits for the limiter and passes
// through the breaker. An open circuit is not retried.
func Call[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}

	retry := p.Retry
	shouldRetry := retry.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, ErrCircuitOpen) && shouldRetry(err)
	}

	return Retry(ctx, retry, func(ctx context.Context) (T, error) {
		var zero T
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return zero, eris.Wrap(err, "resilience: rate limit wait")
			}
		}
		if p.Breaker == nil {
			return fn(ctx)
		}
		if err := p.Breaker.allow(); err != nil {
			return zero, err
		}
		val, err := fn(ctx)
		p.Breaker.record(err)
		return val, err
	})
}
