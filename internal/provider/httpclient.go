package provider

import (
	"net"
	"net/http"
	"time"
)

// SharedHTTPClient returns a pooled HTTP client shared by all providers.
// The pool is the only shared network resource between concurrent queries;
// per-call deadlines come from the request context, so the client itself
// carries no overall timeout.
func SharedHTTPClient(maxConns int) *http.Client {
	if maxConns <= 0 {
		maxConns = 10
	}
	transport := &http.Transport{
		MaxIdleConns:        2 * maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
