package httpclient

import (
	"net/http"
	"net/url"
)

// newTransport builds the teacher's connection-reuse-tuned transport:
// large idle pools, compression disabled so Content-Length accounting
// over the wire stays exact (spec.md §6 — "no body encoding is
// assumed"), and an optional proxy.
func newTransport(cfg Config) *http.Transport {
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KeepAliveTO,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
		MaxConnsPerHost:     0,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return transport
}
