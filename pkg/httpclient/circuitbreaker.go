package httpclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this breaker in metrics and logs.
	Name string

	// MaxRequests is the number of requests allowed in the half-open state.
	MaxRequests uint32

	// Interval clears the counts while closed. 0 never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio trips the breaker once failures/requests reaches it.
	FailureRatio float64

	// MinRequests is the minimum number of requests before FailureRatio applies.
	MinRequests uint32
}

// DefaultCircuitBreakerConfig returns defaults for a circuit breaker.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_http_circuit_breaker_state",
			Help: "Downstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	outboundRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_client_requests_total",
			Help: "Outbound HTTP requests by downstream and outcome",
		},
		[]string{"name", "outcome"},
	)
)

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerTransport is an http.RoundTripper guarded by a circuit breaker, so
// clients we do not construct, such as vendor SDKs, can be protected too.
//
// Network errors and 5xx responses count as failures. Every response with a
// status of 400 or above is returned as a *StatusError with its body
// consumed; 4xx responses never trip the breaker.
type BreakerTransport struct {
	base    http.RoundTripper
	breaker *gobreaker.CircuitBreaker[*http.Response]
	name    string
}

var _ http.RoundTripper = (*BreakerTransport)(nil)

// NewBreakerTransport wraps base with a breaker named by cfg.Name.
func NewBreakerTransport(base http.RoundTripper, cfg CircuitBreakerConfig, logger *slog.Logger) *BreakerTransport {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
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
			breakerState.WithLabelValues(name).Set(stateValue(to))
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &BreakerTransport{
		base:    base,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		name:    cfg.Name,
	}
}

// RoundTrip sends req through the breaker.
func (t *BreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, ParseResponseError(resp, t.name)
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outboundRequests.WithLabelValues(t.name, "circuit_open").Inc()
		return nil, fmt.Errorf("%s: %w", t.name, ErrCircuitOpen)
	case err != nil:
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			outboundRequests.WithLabelValues(t.name, "server_error").Inc()
		} else {
			outboundRequests.WithLabelValues(t.name, "network_error").Inc()
		}
		return nil, err
	case resp.StatusCode >= 400:
		outboundRequests.WithLabelValues(t.name, "client_error").Inc()
		return nil, ParseResponseError(resp, t.name)
	default:
		outboundRequests.WithLabelValues(t.name, "ok").Inc()
		return resp, nil
	}
}

// State returns the current state of the breaker.
func (t *BreakerTransport) State() gobreaker.State {
	return t.breaker.State()
}
