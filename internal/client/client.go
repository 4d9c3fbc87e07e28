package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/monitoring"
	"github.com/nimbusos/shell/internal/resilience"
)

var (
	// ErrNotFound marks a missing app, file, or setting.
	ErrNotFound = errors.New("not found")
	// ErrBackend marks a backend-side failure (5xx or refused envelope).
	ErrBackend = errors.New("backend error")
)

// Client talks to the OS backend REST API.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// New creates a production-ready backend client.
func New(cfg config.BackendConfig, log *logging.Logger, metrics *monitoring.Metrics) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryCount
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	restyClient := resty.NewWithClient(retryClient.StandardClient())
	restyClient.
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "NimbusShell/1.0")
	restyClient.JSONMarshal = sonic.Marshal
	restyClient.JSONUnmarshal = sonic.Unmarshal

	breaker := resilience.New("os-backend", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("backend breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		resty:   restyClient,
		limiter: rate.NewLimiter(rate.Inf, 0),
		breaker: breaker,
		metrics: metrics,
		log:     log.Component("client"),
	}
}

// SetRateLimit configures client-side rate limiting in requests/second.
func (c *Client) SetRateLimit(rps float64) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// BreakerState reports the circuit breaker state for diagnostics.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// do runs one request through the limiter and breaker and records metrics.
// Transport errors and 5xx responses count as breaker failures; 4xx do not.
func (c *Client) do(ctx context.Context, endpoint string, fn func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *resty.Response
	err := c.breaker.Do(func() error {
		r, err := fn(c.resty.R().SetContext(ctx))
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode() >= 500 {
			return fmt.Errorf("%w: %s returned %d", ErrBackend, endpoint, r.StatusCode())
		}
		return nil
	})

	if c.metrics != nil {
		status := "error"
		if resp != nil {
			status = strconv.Itoa(resp.StatusCode())
		}
		c.metrics.RecordBackendCall(endpoint, status, time.Since(start))
	}

	if err != nil {
		return resp, err
	}
	return resp, nil
}

// decode unwraps a JSON body into out, failing on malformed payloads.
func decode(resp *resty.Response, out interface{}) error {
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", resp.Request.URL, err)
	}
	return nil
}
