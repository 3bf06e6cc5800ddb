package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// statusRetryable reports whether a status is worth another attempt.
func statusRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// breakerCountsAsSuccess keeps definitive client errors (e.g. 404 on a
// cycle that was never published) from tripping the breaker.
func breakerCountsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var te *weather.TransportError
	return errors.As(err, &te) && te.StatusCode != 0 && !te.Retryable
}

// doRequestWithResilience executes the HTTP request with retries, exponential
// backoff and a circuit breaker. accept decides which statuses are returned
// to the caller as a response rather than an error; the caller owns the body.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
	accept func(status int) bool,
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)
		target := req.URL.String()

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, &weather.TransportError{URL: target, Err: execErr, Retryable: true}
			}
			if accept(resp.StatusCode) {
				return resp, nil
			}
			resp.Body.Close()
			return nil, &weather.TransportError{
				URL:        target,
				StatusCode: resp.StatusCode,
				Retryable:  statusRetryable(resp.StatusCode),
			}
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &weather.TransportError{URL: target, Err: fmt.Errorf("%w: %v", errCircuitOpen, err)}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !weather.IsRetryable(err) || attempt >= cfg.Backoff.MaxRetries {
			return nil, err
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}
