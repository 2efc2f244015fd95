package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// delay returns the wait before retry number attempt (0-based), capped at MaxInterval.
func (b BackoffConfig) delay(attempt int) time.Duration {
	d := b.InitialInterval << attempt
	if b.MaxInterval > 0 && (d > b.MaxInterval || d <= 0) {
		d = b.MaxInterval
	}
	return d
}

func (b BackoffConfig) validate() error {
	if b.MaxRetries < 0 || (b.MaxRetries > 0 && b.InitialInterval <= 0) {
		return errInvalidConfig
	}
	return nil
}

// RequestObserver receives one measurement per upstream HTTP exchange.
type RequestObserver interface {
	ObserveRequest(endpoint, outcome string, elapsed time.Duration)
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// newCircuitBreaker trips after five consecutive failures. Rejected requests (4xx) do not count.
func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errUnexpected)
		},
	})
}

// resilientClient sends requests through a shared circuit breaker and retries
// transport failures, 429 and 5xx with exponential backoff.
type resilientClient struct {
	http    *http.Client
	backoff BackoffConfig
	breaker *gobreaker.CircuitBreaker
}

// do executes the request built by build. Non-2xx responses are drained and closed
// before an error is returned, so callers only ever own successful bodies.
func (rc *resilientClient) do(ctx context.Context, build func(context.Context) (*http.Request, error)) (*http.Response, error) {
	if rc.http == nil {
		return nil, errNoHTTPClient
	}
	if err := rc.backoff.validate(); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		result, err := rc.breaker.Execute(func() (interface{}, error) {
			resp, err := rc.http.Do(req)
			if err != nil {
				return nil, err
			}
			if err := checkStatus(resp.StatusCode); err != nil {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
				resp.Body.Close()
				return nil, err
			}
			return resp, nil
		})
		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type %T from circuit breaker", result)
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if !retryable(err) || attempt >= rc.backoff.MaxRetries {
			return nil, err
		}

		timer := time.NewTimer(rc.backoff.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// retryable reports whether another attempt could succeed. Rejected requests never do.
func retryable(err error) bool {
	return !errors.Is(err, errUnexpected) && !errors.Is(err, context.Canceled)
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return errRateLimited
	case code >= 500:
		return fmt.Errorf("%w: %d", errServerError, code)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: %d", errUnexpected, code)
	}
	return nil
}
