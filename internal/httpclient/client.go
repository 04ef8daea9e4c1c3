package httpclient

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Config configures the HTTP client modelfetch uses to talk to model
// artifact hosts. It mirrors the teacher's HTTPClientConfig plus a
// bearer-token source for gated hosts.
type Config struct {
	Timeout       time.Duration
	KeepAliveTO   time.Duration
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string
	UserAgent     string
	Headers       map[string]string

	// TokenSource, when set, attaches "Authorization: Bearer <token>" to
	// every request — used for gated model repositories that require an
	// access token rather than an interactive OAuth exchange.
	TokenSource oauth2.TokenSource
}

// Doer is the minimal request interface that *Client satisfies.
// download.Deps holds a concrete *Client, not a Doer.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps *http.Client with modelfetch's header and auth policy.
type Client struct {
	http   *http.Client
	config Config
}

const defaultUserAgent = "modelfetch/1.0"

// New builds a Client from cfg, applying the teacher's defaults for
// timeouts and connection reuse.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.KeepAliveTO == 0 {
		cfg.KeepAliveTO = 90 * time.Second
	}
	transport := newTransport(cfg)
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if c.config.TokenSource != nil {
		token, err := c.config.TokenSource.Token()
		if err == nil && token != nil {
			token.SetAuthHeader(req)
		}
	}
	return c.http.Do(req)
}
