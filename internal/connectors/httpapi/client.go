// Package httpapi is the shared HTTP client behind every biomedical source:
// per-source rate limiting, a circuit breaker, bounded retries for transient
// failures, an optional response cache, and error classification.
package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/fentz26/pgxdash/internal/connectors"
	"github.com/fentz26/pgxdash/internal/logging"
	"github.com/fentz26/pgxdash/internal/metrics"
	"github.com/fentz26/pgxdash/internal/models"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 32 << 20

// Cache stores raw response bodies. *store.Store implements it.
type Cache interface {
	GetCached(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error)
	PutCached(ctx context.Context, key, source string, body []byte) error
}

// BreakerSettings configures the circuit breaker.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Options configures a Client.
type Options struct {
	Name         string
	BaseURL      string
	RateLimit    float64
	Burst        int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	UserAgent    string
	Breaker      BreakerSettings
	Cache        Cache
	CacheTTL     time.Duration

	// DefaultParams are added to every request, e.g. an API key.
	DefaultParams url.Values
	HTTPClient    *http.Client
}

// Client fetches from one upstream source.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*connectors.Response]
	log     zerolog.Logger
}

var _ connectors.Connector = (*Client)(nil)

// New creates a client for one source.
func New(opts Options) *Client {
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.Breaker.ConsecutiveFailures == 0 {
		opts.Breaker.ConsecutiveFailures = 5
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	c := &Client{
		opts:    opts,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, opts.Burst),
		log:     logging.WithComponent("httpapi").With().Str("source", opts.Name).Logger(),
	}

	metrics.CircuitBreakerState.WithLabelValues(opts.Name).Set(0)
	c.breaker = gobreaker.NewCircuitBreaker[*connectors.Response](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.Breaker.MaxRequests,
		Interval:    opts.Breaker.Interval,
		Timeout:     opts.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.Breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		// A missing record or a bad payload says nothing about the source's health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch models.KindOf(err) {
			case models.ErrorKindNotFound, models.ErrorKindMalformed, models.ErrorKindCancelled:
				return true
			}
			return false
		},
	})
	return c
}

// Name returns the source identifier.
func (c *Client) Name() string {
	return c.opts.Name
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Fetch GETs endpoint with params, consulting the cache first and retrying
// network errors and rate limiting with exponential backoff.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) (*connectors.Response, error) {
	fullURL := c.buildURL(endpoint, params)
	key := cacheKey(c.opts.Name, fullURL)

	if c.opts.Cache != nil && c.opts.CacheTTL > 0 {
		body, ok, err := c.opts.Cache.GetCached(ctx, key, c.opts.CacheTTL)
		if err != nil {
			c.log.Warn().Err(err).Msg("Cache read failed")
		} else if ok {
			metrics.APIRequestsTotal.WithLabelValues(c.opts.Name, "cache_hit").Inc()
			return &connectors.Response{Source: c.opts.Name, URL: fullURL, Status: http.StatusOK, Body: body, Cached: true}, nil
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.RetryBackoff
	policy.MaxElapsedTime = 0
	var b backoff.BackOff = policy
	if c.opts.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(c.opts.MaxRetries))
	}

	attempt := 0
	resp, err := backoff.RetryNotifyWithData(func() (*connectors.Response, error) {
		attempt++
		resp, err := c.attempt(ctx, fullURL)
		if err == nil {
			return resp, nil
		}
		if !models.KindOf(err).Retriable() || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Retrying request")
	})
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(c.opts.Name, string(models.KindOf(err))).Inc()
		return nil, err
	}
	metrics.APIRequestsTotal.WithLabelValues(c.opts.Name, "ok").Inc()

	if c.opts.Cache != nil && c.opts.CacheTTL > 0 {
		if err := c.opts.Cache.PutCached(ctx, key, c.opts.Name, resp.Body); err != nil {
			c.log.Warn().Err(err).Msg("Cache write failed")
		}
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, fullURL string) (*connectors.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		kind := models.ErrorKindNetwork
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = models.ErrorKindCancelled
		}
		return nil, backoff.Permanent(models.NewTaskError(kind, fmt.Errorf("%s: rate limiter: %w", c.opts.Name, err)))
	}

	resp, err := c.breaker.Execute(func() (*connectors.Response, error) {
		return c.do(ctx, fullURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// An open breaker fails fast without retries.
		return nil, backoff.Permanent(models.NewTaskError(models.ErrorKindNetwork,
			fmt.Errorf("%s: circuit breaker %s", c.opts.Name, err)))
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, fullURL string) (*connectors.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, models.NewTaskError(models.ErrorKindInternal, fmt.Errorf("build request: %w", err))
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	metrics.APIRequestDuration.WithLabelValues(c.opts.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransport(err)
	}

	if err := classifyStatus(c.opts.Name, res.StatusCode, body); err != nil {
		return nil, err
	}
	return &connectors.Response{Source: c.opts.Name, URL: fullURL, Status: res.StatusCode, Body: body}, nil
}

func (c *Client) buildURL(endpoint string, params url.Values) string {
	u := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		u = strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}
	q := url.Values{}
	for k, vs := range c.opts.DefaultParams {
		q[k] = append([]string(nil), vs...)
	}
	for k, vs := range params {
		q[k] = append(q[k], vs...)
	}
	if len(q) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + q.Encode()
}

func cacheKey(source, fullURL string) string {
	sum := sha256.Sum256([]byte(source + "\n" + fullURL))
	return hex.EncodeToString(sum[:])
}

func stateToFloat(state gobreaker.State) float64 {
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
