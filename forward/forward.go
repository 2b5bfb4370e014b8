// Package forward issues the rewritten upstream request. It never follows
// redirects itself, never asks for compressed responses, and streams SSE
// exchanges through chunk-by-chunk without buffering.
package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ddevcap/sso-adapter/proxyerr"
)

// Forwarder holds the shared, thread-safe HTTP clients used to reach
// upstreams. One process-wide Forwarder is built at startup and reused
// across every request: a bounded-timeout client for ordinary buffered
// calls, and a second with no total timeout for long-lived streams.
type Forwarder struct {
	client       *http.Client // bounded timeout, buffered request/response bodies
	streamClient *http.Client // no total timeout, used once SSE is confirmed
}

// New builds a Forwarder. Both clients disable automatic redirect following
// (a 3xx surfaces to the client with its Location intact) and disable
// compression negotiation on the transport, since Accept-Encoding is
// stripped from every outbound request anyway.
func New() *Forwarder {
	noRedirect := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				MaxIdleConnsPerHost:   16,
				DisableCompression:    true,
			},
			Timeout:       30 * time.Second,
			CheckRedirect: noRedirect,
		},
		streamClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 60 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 5 * time.Minute,
				MaxIdleConnsPerHost:   16,
				DisableCompression:    true,
			},
			Timeout:       0,
			CheckRedirect: noRedirect,
		},
	}
}

// Request is everything the Forwarder needs to issue the rewritten upstream
// call: the already-rewritten method, full target URL, headers, and body.
type Request struct {
	Method     string
	URL        string
	Headers    http.Header
	Body       []byte
	NormalHost string // non-empty only in Normal mode: upstream host to set as the outbound Host header
	WantSSE    bool   // true once dispatch.EvaluateSSE gated this exchange into streaming mode
}

// Do issues req and returns the upstream *http.Response with its body still
// open for the caller to classify (redirect / SSE / buffered) and read.
// Transport-level failures (refused connection, DNS, TLS, timeout) are
// translated to proxyerr.UpstreamTransport (-> 502).
func (f *Forwarder) Do(ctx context.Context, r Request) (*http.Response, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, proxyerr.RequestMalformed("forward: invalid target url %q: %v", r.URL, err)
	}

	var bodyReader io.Reader
	if len(r.Body) > 0 {
		bodyReader = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), bodyReader)
	if err != nil {
		return nil, proxyerr.RequestMalformed("forward: building request: %v", err)
	}
	req.Header = r.Headers.Clone()
	// Accept-Encoding is never forwarded upstream: the proxy refuses
	// compressed responses so the rewriter always sees plain bytes.
	req.Header.Del("Accept-Encoding")
	if r.NormalHost != "" {
		req.Host = r.NormalHost
	}

	client := f.client
	if r.WantSSE {
		client = f.streamClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, proxyerr.UpstreamTransport("forward: %s %s: %v", r.Method, r.URL, err)
	}
	return resp, nil
}

// IsRedirect reports whether resp is a 3xx the client should see verbatim
// rather than have rewritten.
func IsRedirect(resp *http.Response) bool {
	return resp.StatusCode >= 300 && resp.StatusCode < 400
}

// BufferBody reads and closes resp's body. Transport-level read failures
// (connection reset mid-body) are UpstreamTransport errors too.
func BufferBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, proxyerr.UpstreamTransport("forward: reading upstream body: %v", err)
	}
	return data, nil
}

// StreamSSE copies resp's body to w chunk by chunk, flushing after every
// write, so chunks reach the client in arrival order with no buffering
// beyond a single chunk. Content-Type is forced to text/event-stream.
func StreamSSE(ctx context.Context, w http.ResponseWriter, resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return proxyerr.UpstreamTransport("forward: reading sse stream: %v", readErr)
		}
	}
}
