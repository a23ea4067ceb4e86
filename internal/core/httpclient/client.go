// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const userAgent = "geoquery"

type options struct {
	timeout     time.Duration
	maxIdleHost int
}

type Option func(*options)

// WithTimeout bounds a whole request including the body read.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithMaxIdleConnsPerHost(n int) Option {
	return func(o *options) { o.maxIdleHost = n }
}

// NewOutbound creates a new outbound http client
func NewOutbound(opts ...Option) *http.Client {
	o := options{timeout: 30 * time.Second, maxIdleHost: 128}
	for _, f := range opts {
		f(&o)
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   o.maxIdleHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: uaTransport{next: transport},
		Timeout:   o.timeout,
	}
}

type uaTransport struct{ next http.RoundTripper }

func (t uaTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", userAgent)
	return t.next.RoundTrip(r)
}
