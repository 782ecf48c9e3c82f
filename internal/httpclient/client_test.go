package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDispatch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	c := NewClient(1)
	resp := c.Dispatch(context.Background(), &Input{Method: "GET", URL: server.URL})

	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if resp.SizeBytes != 5 {
		t.Errorf("expected size 5, got %d", resp.SizeBytes)
	}
	if resp.ElapsedMs < 0 {
		t.Errorf("elapsed must be non-negative, got %d", resp.ElapsedMs)
	}
}

func TestDispatch_HeadersLowercased(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "abc")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp := NewClient(1).Dispatch(context.Background(), &Input{Method: "GET", URL: server.URL})
	if resp.Headers["x-request-id"] != "abc" {
		t.Errorf("expected lowercased header names, got %v", resp.Headers)
	}
}

func TestDispatch_DefaultHeaders(t *testing.T) {
	var ua, accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	NewClient(1).Dispatch(context.Background(), &Input{Method: "GET", URL: server.URL})
	if ua != "rmeter/1" {
		t.Errorf("expected default User-Agent rmeter/1, got %q", ua)
	}
	if accept != "*/*" {
		t.Errorf("expected default Accept */*, got %q", accept)
	}
}

func TestDispatch_CallerHeadersWin(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	NewClient(1).Dispatch(context.Background(), &Input{
		Method:  "GET",
		URL:     server.URL,
		Headers: map[string]string{"User-Agent": "custom/2"},
	})
	if ua != "custom/2" {
		t.Errorf("caller User-Agent must not be overridden, got %q", ua)
	}
}

func TestDispatch_BodyAndContentType(t *testing.T) {
	var gotBody, gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	resp := NewClient(1).Dispatch(context.Background(), &Input{
		Method:      "POST",
		URL:         server.URL,
		Body:        []byte(`{"a":1}`),
		ContentType: "application/json",
	})
	if resp.StatusCode != 201 {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
	if gotBody != `{"a":1}` {
		t.Errorf("unexpected body %q", gotBody)
	}
	if gotType != "application/json" {
		t.Errorf("unexpected content type %q", gotType)
	}
}

func TestDispatch_TransportFailure(t *testing.T) {
	// A closed server guarantees a connection error.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	resp := NewClient(1).Dispatch(context.Background(), &Input{Method: "GET", URL: url})
	if resp.StatusCode != 0 {
		t.Errorf("expected status 0 on transport failure, got %d", resp.StatusCode)
	}
	if resp.Error == "" {
		t.Error("expected an error string")
	}
	if resp.ElapsedMs < 0 {
		t.Error("elapsed must still be measured")
	}
}

func TestDispatch_InvalidURL(t *testing.T) {
	resp := NewClient(1).Dispatch(context.Background(), &Input{Method: "GET", URL: "http://bad url with spaces"})
	if resp.StatusCode != 0 || resp.Error == "" {
		t.Errorf("expected build failure result, got %+v", resp)
	}
}

func TestDispatch_ContextCancellation(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	start := time.Now()
	resp := NewClient(1).Dispatch(ctx, &Input{Method: "GET", URL: server.URL})
	if resp.Error == "" {
		t.Error("expected an error from cancellation")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation must interrupt the request promptly")
	}
}

func TestDispatch_BodyCappedSizeExact(t *testing.T) {
	large := strings.Repeat("x", MaxAssertableBody+1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(large))
	}))
	defer server.Close()

	resp := NewClient(1).Dispatch(context.Background(), &Input{Method: "GET", URL: server.URL})
	if len(resp.Body) != MaxAssertableBody {
		t.Errorf("body must be capped at %d bytes, got %d", MaxAssertableBody, len(resp.Body))
	}
	if resp.SizeBytes != int64(len(large)) {
		t.Errorf("size must count the full body, got %d", resp.SizeBytes)
	}
}

func TestTimeoutFromEnv(t *testing.T) {
	t.Setenv(TimeoutEnvVar, "7")
	if d := timeoutFromEnv(); d != 7*time.Second {
		t.Errorf("expected 7s from env, got %s", d)
	}

	t.Setenv(TimeoutEnvVar, "not-a-number")
	if d := timeoutFromEnv(); d != DefaultTimeout {
		t.Errorf("invalid env must fall back to default, got %s", d)
	}
}

func TestRedirectsFollowedUpToCap(t *testing.T) {
	hops := 0
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hops < 3 {
			hops++
			http.Redirect(w, r, server.URL, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("final"))
	}))
	defer server.Close()

	resp := NewClient(1).Dispatch(context.Background(), &Input{Method: "GET", URL: server.URL})
	if resp.StatusCode != 200 || string(resp.Body) != "final" {
		t.Errorf("redirects should be followed, got status %d body %q", resp.StatusCode, resp.Body)
	}
}
