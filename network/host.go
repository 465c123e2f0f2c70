package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pahedl-app/pahedl/constant"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/log"
	"github.com/spf13/viper"
)

// Per-request deadlines. Control-plane requests (API, HTML pages) are short;
// media segments are allowed more time.
const (
	ControlTimeout = 30 * time.Second
	SegmentTimeout = 60 * time.Second
)

// Host is a thin facade over HTTP for one streaming-host base URL. Every
// request carries the process session cookie, a browser user agent, and a
// referer matching the base host.
type Host struct {
	base        string
	cookie      string
	client      *http.Client
	maxRetries  uint64
	backoffBase time.Duration
}

// Option customizes a Host.
type Option func(*Host)

// WithClient overrides the shared HTTP client; used by tests.
func WithClient(c *http.Client) Option {
	return func(h *Host) { h.client = c }
}

// WithRetryPolicy overrides the transient-failure retry budget and backoff base.
func WithRetryPolicy(retries uint64, base time.Duration) Option {
	return func(h *Host) {
		h.maxRetries = retries
		h.backoffBase = base
	}
}

// NewHost constructs a host client for the given base URL. The base is
// normalized to carry no trailing slash.
func NewHost(base string, opts ...Option) *Host {
	retries := viper.GetUint64(key.NetworkRetries)
	if retries == 0 {
		retries = 5
	}

	h := &Host{
		base:        strings.TrimRight(strings.TrimSpace(base), "/"),
		cookie:      SessionCookie(),
		client:      Client(),
		maxRetries:  retries,
		backoffBase: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Base returns the normalized base URL.
func (h *Host) Base() string {
	return h.base
}

// URL builds an absolute URL from a path relative to the base host.
func (h *Host) URL(path string, query url.Values) string {
	u := h.base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// GetJSON fetches an API endpoint relative to the base host and returns the
// response body.
func (h *Host) GetJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	body, _, err := h.get(ctx, h.URL(path, query), "application/json", "", ControlTimeout)
	return body, err
}

// GetHTML fetches an absolute URL with an HTML accept header and returns the
// response body.
func (h *Host) GetHTML(ctx context.Context, rawURL string) ([]byte, error) {
	body, _, err := h.get(ctx, rawURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", "", ControlTimeout)
	return body, err
}

// GetBytes fetches an absolute URL as raw bytes, optionally with a byte-range
// header. It returns the body and the server-reported total length, or -1
// when the length is unknown.
func (h *Host) GetBytes(ctx context.Context, rawURL, byteRange string) ([]byte, int64, error) {
	return h.get(ctx, rawURL, "*/*", byteRange, SegmentTimeout)
}

// ContentLength issues a HEAD request and returns the reported length, or -1
// when the server does not expose one. Used by resume to cross-check part files.
func (h *Host) ContentLength(ctx context.Context, rawURL string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, ControlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return -1, errs.Wrap(errs.NetworkError, err)
	}
	h.decorate(req, "*/*")

	resp, err := h.client.Do(req)
	if err != nil {
		return -1, errs.Wrap(errs.NetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return -1, errs.New(errs.NetworkError, "HEAD %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.ContentLength, nil
}

// get performs one retried GET. Transient failures (transport errors, 5xx,
// 429) are retried with bounded exponential backoff; other non-2xx statuses
// fail immediately.
func (h *Host) get(ctx context.Context, rawURL, accept, byteRange string, timeout time.Duration) ([]byte, int64, error) {
	var (
		body  []byte
		total int64 = -1
	)

	attempt := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		h.decorate(req, accept)
		if byteRange != "" {
			req.Header.Set("Range", "bytes="+byteRange)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if retryable(resp.StatusCode) {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}

		total = totalLength(resp)
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.backoffBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, h.maxRetries), ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, -1, errs.Wrap(errs.Cancelled, ctx.Err())
		}
		log.Warnf("GET %s failed: %v", rawURL, err)
		return nil, -1, errs.New(errs.NetworkError, "GET %s: %v", rawURL, err)
	}
	return body, total, nil
}

// decorate applies the headers the streaming host expects on every request.
func (h *Host) decorate(req *http.Request, accept string) {
	req.Header.Set("User-Agent", constant.UserAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Cookie", h.cookie)
	if h.base != "" {
		req.Header.Set("Referer", h.base)
	}
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// totalLength recovers the full resource length from a response, preferring
// the Content-Range total on partial responses.
func totalLength(resp *http.Response) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if n, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
				return n
			}
		}
	}
	return resp.ContentLength
}
