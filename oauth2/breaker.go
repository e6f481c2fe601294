package oauth2

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around provider key fetches
type BreakerConfig struct {
	Name         string
	Timeout      time.Duration // how long the breaker stays open
	Interval     time.Duration // closed-state window for clearing counts
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		Timeout:      30 * time.Second,
		Interval:     60 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.5,
	}
}

// ErrBreakerOpen is returned while the breaker refuses requests
var ErrBreakerOpen = errors.New("identity provider unavailable (circuit open)")

// upstreamStatus marks a 5xx response as a failure without hiding the response
type upstreamStatus struct {
	resp *http.Response
}

func (e *upstreamStatus) Error() string {
	return fmt.Sprintf("identity provider returned %d", e.resp.StatusCode)
}

// BreakerTransport is an http.RoundTripper that stops calling an identity
// provider after repeated failures. Transport errors and 5xx responses count
// as failures.
type BreakerTransport struct {
	Base    http.RoundTripper
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func NewBreakerTransport(base http.RoundTripper, cfg BreakerConfig, logger *slog.Logger) *BreakerTransport {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:     cfg.Name,
		Interval: cfg.Interval,
		Timeout:  cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &BreakerTransport{
		Base:    base,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

func (t *BreakerTransport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.base().RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &upstreamStatus{resp: resp}
		}
		return resp, nil
	})

	var status *upstreamStatus
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &status):
		return status.resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return nil, err
}

// State reports the breaker state
func (t *BreakerTransport) State() gobreaker.State {
	return t.breaker.State()
}

// NewBreakerClient returns an http.Client for key fetches guarded by a breaker
func NewBreakerClient(cfg BreakerConfig, timeout time.Duration, logger *slog.Logger) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewBreakerTransport(http.DefaultTransport, cfg, logger),
	}
}
