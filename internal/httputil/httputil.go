// Package httputil holds the shared outbound HTTP client construction for
// the collaborator APIs.
package httputil

import (
	"net"
	"net/http"
	"time"
)

// NewClient returns an HTTP client with bounded dial/TLS timeouts and a sane
// idle pool for the sequential collaborator call pattern.
func NewClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}
