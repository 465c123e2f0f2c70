// Package network provides the pre-configured HTTP client facade used for all streaming-host communication.
//
// The transport in this file leverages refraction-networking/utls to emulate
// Chrome's TLS Client Hello signature. The streaming host sits behind
// DDoS-Guard, which rejects the standard Go TLS fingerprint; presenting a
// browser fingerprint together with the __ddg2_ session cookie is what keeps
// the host client usable without a real browser.
//
// Protocol negotiation: an HTTP/2 transport dialing through utls is tried
// first; when the handshake or request fails, the request transparently
// retries on an HTTP/1.1 transport with the same fingerprint.
package network

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

const dialTimeout = 30 * time.Second

// fingerprintTransport routes requests to an h2-over-utls transport with an
// HTTP/1.1 fallback, and to the plain pooled transport for non-TLS URLs.
type fingerprintTransport struct {
	h2    *http2.Transport
	h1    *http.Transport
	plain *http.Transport
}

func newFingerprintTransport() *fingerprintTransport {
	h1 := newPooledTransport()
	h1.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialFingerprintedH1(ctx, network, addr)
	}

	return &fingerprintTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialFingerprinted(ctx, network, addr)
			},
		},
		h1:    h1,
		plain: newPooledTransport(),
	}
}

func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	// Servers that only negotiate http/1.1 fail the h2 round trip; retry on
	// the H1 transport. Engine requests are GET so the body needs no rewind.
	fallback := req.Clone(req.Context())
	return t.h1.RoundTrip(fallback)
}

// dialFingerprinted creates a TLS connection mimicking Chrome's fingerprint,
// advertising both h2 and http/1.1 as a browser would.
func dialFingerprinted(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}, utls.HelloChrome_120)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// dialFingerprintedH1 is the fallback dialer forcing http/1.1 in ALPN for
// servers that reject the h2 preface.
func dialFingerprintedH1(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
	}, utls.HelloChrome_120)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}
