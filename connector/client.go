package connector

import (
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ClientConfig tunes the transport shared by every call of one Connector.
type ClientConfig struct {
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	MaxIdleConns        int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	MaxRedirects        int
	InsecureSkipVerify  bool
}

// DefaultClientConfig returns the transport settings used when none are given.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		MaxRedirects:        10,
	}
}

// NewHTTPClient builds the *http.Client a Connector uses. The client has no
// overall timeout of its own: each call carries its deadline in its context.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test backends
	}

	client := &http.Client{Transport: transport}
	if cfg.MaxRedirects > 0 {
		maxRedirects := cfg.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects(maxRedirects)
			}
			return nil
		}
	}
	return client
}

// errTooManyRedirects mirrors the message net/http uses for its own limit.
type errTooManyRedirects int

func (e errTooManyRedirects) Error() string {
	return "stopped after " + strconv.Itoa(int(e)) + " redirects"
}
