package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"github.com/ibeckermayer/tootrank/internal/metrics"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mastodon: %d %s", e.StatusCode, e.Message)
}

// ClientConfig tunes the HTTP transport.
type ClientConfig struct {
	TransportSettings *resty.TransportSettings
	Timeout           time.Duration
}

var DefaultConfig = &ClientConfig{
	TransportSettings: &resty.TransportSettings{
		DialerTimeout:         5 * time.Second,
		DialerKeepAlive:       30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	},
	Timeout: 30 * time.Second,
}

// Client talks to one Mastodon instance on behalf of one access token.
type Client struct {
	client  *resty.Client
	metrics *metrics.Metrics
	log     zerolog.Logger
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l.With().Str("component", "mastodon").Logger() }
}

// NewClient creates a client for instanceURL. cfg may be nil.
func NewClient(instanceURL, accessToken string, cfg *ClientConfig, opts ...Option) *Client {
	if cfg == nil {
		cfg = DefaultConfig
	}

	c := &Client{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}

	rc := resty.NewWithTransportSettings(cfg.TransportSettings).
		SetBaseURL(strings.TrimRight(instanceURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if accessToken != "" {
		rc.SetAuthToken(accessToken)
	}
	rc.AddResponseMiddleware(c.observe)

	c.client = rc
	return c
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) r(ctx context.Context) *resty.Request {
	return c.client.R().WithContext(ctx).SetError(&APIError{})
}

func (c *Client) observe(_ *resty.Client, res *resty.Response) error {
	path := res.Request.URL
	if u, err := url.Parse(res.Request.URL); err == nil {
		path = u.Path
	}
	c.metrics.APIRequest(res.Request.Method, path, res.StatusCode(), res.Duration())
	c.log.Debug().
		Str("method", res.Request.Method).
		Str("path", path).
		Int("status", res.StatusCode()).
		Dur("duration_ms", res.Duration()).
		Msg("api request")
	return nil
}

// check turns a non-2xx response into an *APIError.
func check(res *resty.Response) error {
	if !res.IsError() {
		return nil
	}
	apiErr, ok := res.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = res.StatusCode()
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(res.StatusCode())
	}
	return apiErr
}
