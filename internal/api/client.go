// Package api provides a client for the storefront backend REST API.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ticker-storefront/internal/resilience"
)

// DefaultRetryBackoff is the delay before the first retry.
const DefaultRetryBackoff = 200 * time.Millisecond

// Client provides access to the storefront REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	breaker    *resilience.Breaker

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       zerolog.Nop(),
		maxRetries:   3,
		retryBackoff: DefaultRetryBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.breaker == nil {
		cfg := resilience.DefaultBreakerConfig()
		cfg.Trips = retryable
		c.breaker = resilience.NewBreaker(cfg)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "api").Logger()
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b
	}
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Breaker returns the circuit breaker guarding requests.
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}
