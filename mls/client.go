package mls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"brokerage/config"
	"brokerage/metrics"
)

const maxErrorBody = 4096

type Config struct {
	BaseURL       string
	Token         string
	OfficeID      string
	OfficeHeader  string
	AppNameHeader string
	AppName       string
	UserAgent     string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BreakerName    string
}

func ConfigFromRegion(regionID string, m config.MLSConfig) Config {
	return Config{
		BaseURL:       m.BaseURL,
		Token:         m.Token,
		OfficeID:      m.OfficeID,
		OfficeHeader:  m.OfficeHeader,
		AppNameHeader: m.AppNameHeader,
		AppName:       m.AppName,
		UserAgent:     m.UserAgent,
		MaxRetries:    m.MaxRetries,
		BreakerName:   "mls-" + regionID,
	}
}

// Page is one decoded OData response.
type Page struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
	Count    *int              `json:"@odata.count"`
}

// APIError is a non-2xx answer from the vendor.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("MLS API error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the vendor may succeed on a later attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Page]
}

func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid MLS base URL %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "mls"
	}

	c := &Client{cfg: cfg, base: base, http: httpClient}
	c.breaker = newBreaker(cfg.BreakerName)
	return c, nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker[*Page] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[*Page](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors mean the vendor is up; only outages count.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("MLS: circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// Get requests the first page of resource.
func (c *Client) Get(ctx context.Context, resource string, q Query) (*Page, error) {
	u := *c.base
	u.Path = u.Path + "/" + strings.TrimLeft(resource, "/")
	u.RawQuery = q.Values().Encode()
	return c.do(ctx, u.String())
}

// Next follows an @odata.nextLink. Relative links resolve against the base
// URL; links pointing at another host are refused so the token stays put.
func (c *Client) Next(ctx context.Context, nextLink string) (*Page, error) {
	ref, err := url.Parse(nextLink)
	if err != nil {
		return nil, fmt.Errorf("parse next link: %w", err)
	}
	dir := *c.base
	dir.Path += "/"
	u := dir.ResolveReference(ref)
	if !strings.EqualFold(u.Host, c.base.Host) {
		return nil, fmt.Errorf("next link host %q does not match %q", u.Host, c.base.Host)
	}
	return c.do(ctx, u.String())
}

func (c *Client) do(ctx context.Context, rawURL string) (*Page, error) {
	attempt := 0
	op := func() (*Page, error) {
		attempt++
		page, err := c.breaker.Execute(func() (*Page, error) {
			return c.fetch(ctx, rawURL)
		})
		if err == nil {
			return page, nil
		}
		if !retryable(ctx, err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialBackoff
	eb.MaxInterval = c.cfg.MaxBackoff
	eb.MaxElapsedTime = 0

	var policy backoff.BackOff = eb
	policy = backoff.WithMaxRetries(policy, uint64(max(c.cfg.MaxRetries, 0)))
	policy = backoff.WithContext(policy, ctx)

	notify := func(err error, wait time.Duration) {
		metrics.MLSRequests.WithLabelValues("retry").Inc()
		log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("MLS: request failed, retrying")
	}

	page, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.MLSRequests.WithLabelValues("rejected").Inc()
		} else {
			metrics.MLSRequests.WithLabelValues("failure").Inc()
		}
		return nil, err
	}
	metrics.MLSRequests.WithLabelValues("success").Inc()
	return page, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var decodeErr *decodeError
	return !errors.As(err, &decodeErr)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode MLS response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (c *Client) fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &decodeError{err: err}
	}
	return &page, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.OfficeHeader != "" && c.cfg.OfficeID != "" {
		req.Header.Set(c.cfg.OfficeHeader, c.cfg.OfficeID)
	}
	if c.cfg.AppNameHeader != "" && c.cfg.AppName != "" {
		req.Header.Set(c.cfg.AppNameHeader, c.cfg.AppName)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}
