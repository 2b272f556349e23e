package backend

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// RateLimited spaces calls to b so that at most perMinute requests start per
// minute. A non-positive perMinute returns b unchanged.
func RateLimited(b Backend, perMinute int) Backend {
	if perMinute <= 0 {
		return b
	}
	interval := time.Minute / time.Duration(perMinute)
	return keepReset(&rateLimited{Backend: b, limiter: rate.NewLimiter(rate.Every(interval), 1)}, b)
}

type rateLimited struct {
	Backend
	limiter *rate.Limiter
}

func (r *rateLimited) PredictPreferences(ctx context.Context, texts []string, ids []int) (Prediction, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Prediction{}, ctxErr
		}
		return Prediction{}, &BackendError{Backend: r.Name(), Err: err}
	}
	return r.Backend.PredictPreferences(ctx, texts, ids)
}

// WithBreaker stops calling b for cooldown once threshold consecutive calls
// have failed; calls made while the breaker is open fail with a
// *BackendError. A zero threshold returns b unchanged.
func WithBreaker(b Backend, threshold uint32, cooldown time.Duration, logger zerolog.Logger) Backend {
	if threshold == 0 {
		return b
	}
	settings := gobreaker.Settings{
		Name:        b.Name(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return keepReset(&breaker{Backend: b, cb: gobreaker.NewCircuitBreaker[Prediction](settings)}, b)
}

type breaker struct {
	Backend
	cb *gobreaker.CircuitBreaker[Prediction]
}

func (c *breaker) PredictPreferences(ctx context.Context, texts []string, ids []int) (Prediction, error) {
	pred, err := c.cb.Execute(func() (Prediction, error) {
		return c.Backend.PredictPreferences(ctx, texts, ids)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Prediction{}, &BackendError{Backend: c.Name(), Err: err}
	}
	return pred, err
}

// resettable forwards Reset to the wrapped backend, so a decorated backend
// is a Resetter exactly when the backend it wraps is one.
type resettable struct {
	Backend
	resetter Resetter
}

func (r resettable) Reset() {
	r.resetter.Reset()
}

func keepReset(decorated, inner Backend) Backend {
	if resetter, ok := inner.(Resetter); ok {
		return resettable{Backend: decorated, resetter: resetter}
	}
	return decorated
}
