// Package httpclient builds and executes single HTTP requests on behalf of
// virtual users, over a shared connection-pooled client.
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds each request unless overridden.
	DefaultTimeout = 30 * time.Second

	// TimeoutEnvVar optionally overrides DefaultTimeout (whole seconds).
	TimeoutEnvVar = "RMETER_HTTP_TIMEOUT_SECS"

	// MaxRedirects caps redirect following per request.
	MaxRedirects = 10

	// MaxAssertableBody caps the body handed to assertions and extractors.
	MaxAssertableBody = 1 << 20 // 1 MiB

	tcpDialTimeout       = 5 * time.Second
	tcpKeepAliveInterval = 30 * time.Second
	tlsHandshakeTimeout  = 5 * time.Second
	idleConnTimeout      = 90 * time.Second

	defaultUserAgent = "rmeter/1"
)

// Input is a fully resolved request ready to dispatch: no ${} placeholders
// remain in any field.
type Input struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	ContentType string
}

// Response is the raw outcome of one dispatch. On transport failure
// StatusCode is 0 and Error carries the cause; a result record is still
// produced downstream.
type Response struct {
	StatusCode int
	// Headers holds response headers with lowercased names.
	Headers map[string]string
	// Body is the response body truncated to MaxAssertableBody.
	Body []byte
	// SizeBytes is the full body length as received.
	SizeBytes int64
	// ElapsedMs is wall time from send to full body read (or to failure).
	ElapsedMs int64
	// Error is the transport failure description, empty on success.
	Error string
}

// Client dispatches requests over a shared http.Client with pooling sized
// for many concurrent virtual users.
type Client struct {
	hc *http.Client
}

// NewClient builds a dispatcher for up to maxConns concurrent virtual users.
// The per-request timeout is DefaultTimeout unless RMETER_HTTP_TIMEOUT_SECS
// is set.
func NewClient(maxConns int) *Client {
	if maxConns < 1 {
		maxConns = 1
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns * 2,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   tcpDialTimeout,
			KeepAlive: tcpKeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	return &Client{
		hc: &http.Client{
			Timeout:   timeoutFromEnv(),
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// timeoutFromEnv resolves the per-request timeout, preferring the env
// override when it parses to a positive number of seconds.
func timeoutFromEnv() time.Duration {
	if v := os.Getenv(TimeoutEnvVar); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return DefaultTimeout
}

// Dispatch sends exactly one request and returns its raw outcome. All
// failures are folded into the Response so the caller always gets a record.
func (c *Client) Dispatch(ctx context.Context, in *Input) *Response {
	start := time.Now()

	var bodyReader io.Reader
	if len(in.Body) > 0 {
		bodyReader = bytes.NewReader(in.Body)
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, in.URL, bodyReader)
	if err != nil {
		return &Response{
			ElapsedMs: time.Since(start).Milliseconds(),
			Error:     "failed to build request: " + err.Error(),
		}
	}

	for key, value := range in.Headers {
		req.Header.Set(key, value)
	}
	if in.ContentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", in.ContentType)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &Response{
			ElapsedMs: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}
	defer resp.Body.Close()

	body, size, err := readCapped(resp.Body, MaxAssertableBody)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return &Response{
			Headers:   lowerHeaders(resp.Header),
			ElapsedMs: elapsed,
			Error:     "failed to read response body: " + err.Error(),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    lowerHeaders(resp.Header),
		Body:       body,
		SizeBytes:  size,
		ElapsedMs:  elapsed,
	}
}

// readCapped reads the whole body, keeping at most cap bytes but counting
// everything so response sizes stay accurate.
func readCapped(r io.Reader, capBytes int64) ([]byte, int64, error) {
	var buf bytes.Buffer
	kept, err := io.CopyN(&buf, r, capBytes)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	total := kept
	if err == nil {
		// Body may be longer than the cap: drain the rest to count it.
		rest, err := io.Copy(io.Discard, r)
		if err != nil {
			return nil, 0, err
		}
		total += rest
	}
	return buf.Bytes(), total, nil
}

// lowerHeaders flattens response headers to a lowercased-name map.
func lowerHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}
