// Package http builds the outbound HTTP clients used to talk to the rules
// endpoint, the stream endpoint and webhook destinations.
package http

import (
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultBodyLimit caps how much of a non-streaming response body is read.
const DefaultBodyLimit = 1 << 20

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	// Timeout bounds the whole exchange including the body. Zero disables
	// it, which is required for long-lived streams.
	Timeout               time.Duration
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	DisableKeepAlives     bool
	Transport             http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:               30 * time.Second,
		DialTimeout:           20 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithConnectTimeout bounds dialing and waiting for response headers, but
// not reading the body.
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.DialTimeout = timeout
		c.ResponseHeaderTimeout = timeout
	}
}

// WithMaxIdleConnsPerHost sets the maximum number of idle connections per host
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConnsPerHost = max
	}
}

// WithoutKeepAlives disables keep-alives
func WithoutKeepAlives() ClientOption {
	return func(c *ClientConfig) {
		c.DisableKeepAlives = true
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()

	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			MaxIdleConns:          cfg.MaxIdleConns,
			MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			DisableKeepAlives:     cfg.DisableKeepAlives,
			ForceAttemptHTTP2:     true,
		}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// NewStreamingClient creates a client for long-lived responses: the
// connection phase is bounded by connectTimeout, the body is not.
func NewStreamingClient(connectTimeout time.Duration, opts ...ClientOption) *http.Client {
	base := []ClientOption{WithTimeout(0), WithConnectTimeout(connectTimeout)}
	return NewHTTPClient(append(base, opts...)...)
}

// ReadBody reads at most limit bytes of body. Anything past the limit is
// discarded so the connection can be reused.
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil {
		return data, err
	}
	_, _ = io.Copy(io.Discard, body)
	return data, nil
}
