// Package network provides the pre-configured HTTP client facade used for all streaming-host communication.
package network

import (
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/net/publicsuffix"
)

var (
	client     *http.Client
	clientOnce sync.Once
)

// Client returns the singleton HTTP client shared across the application.
// It carries a public-suffix-aware cookie jar and the Chrome-fingerprint TLS
// transport required to pass the DDoS-Guard front on the streaming host.
func Client() *http.Client {
	clientOnce.Do(func() {
		jar := lo.Must(cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}))
		client = &http.Client{
			Timeout:   time.Minute,
			Jar:       jar,
			Transport: newFingerprintTransport(),
		}
	})
	return client
}

// newPooledTransport initializes a tuned http.Transport with optimized pool and timeout parameters.
// It backs plain-HTTP requests and serves as the template for the fingerprinted transports.
func newPooledTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 100
	t.MaxConnsPerHost = 200
	t.IdleConnTimeout = 30 * time.Second
	t.ResponseHeaderTimeout = 30 * time.Second
	return t
}
