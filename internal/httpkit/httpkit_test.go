package httpkit

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient()
	if c.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", c.Timeout)
	}
}

func TestNewClient_CustomTimeout(t *testing.T) {
	c := NewClient(WithTimeout(5 * time.Second))
	if c.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", c.Timeout)
	}
}

func TestNewClient_DefaultUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	resp, err := NewClient().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "Furrow/") {
		t.Errorf("expected Furrow/ prefix, got %q", body)
	}
}

func TestNewClient_CustomUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	resp, err := NewClient(WithUserAgent("FieldBot/1.0")).Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "FieldBot/1.0" {
		t.Errorf("expected FieldBot/1.0, got %q", body)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"refused", syscall.ECONNREFUSED, true},
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"net unreachable in OpError", &net.OpError{Op: "dial", Err: syscall.ENETUNREACH}, true},
		{"reset is not retried", syscall.ECONNRESET, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type flakyTransport struct {
	failures int
	calls    int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func TestRetryTransport_RecoversAfterDialFailure(t *testing.T) {
	base := &flakyTransport{failures: 2}
	rt := &retryTransport{base: base, count: 3, delay: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip error: %v", err)
	}
	resp.Body.Close()
	if base.calls != 3 {
		t.Errorf("calls = %d, want 3", base.calls)
	}
}

func TestRetryTransport_GivesUp(t *testing.T) {
	base := &flakyTransport{failures: 10}
	rt := &retryTransport{base: base, count: 2, delay: time.Millisecond}

	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if base.calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", base.calls)
	}
}

func TestReadErrorBody_Truncates(t *testing.T) {
	rc := io.NopCloser(strings.NewReader(strings.Repeat("x", 100)))
	got := ReadErrorBody(rc, 10)
	if got != strings.Repeat("x", 10) {
		t.Errorf("ReadErrorBody = %q, want 10 x's", got)
	}
	if ReadErrorBody(nil, 10) != "" {
		t.Error("ReadErrorBody(nil) should be empty")
	}
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"north forty"}`))
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	if err := GetJSON(context.Background(), NewClient(), srv.URL+"/ok", &out); err != nil {
		t.Fatalf("GetJSON error: %v", err)
	}
	if out.Name != "north forty" {
		t.Errorf("Name = %q, want %q", out.Name, "north forty")
	}

	err := GetJSON(context.Background(), NewClient(), srv.URL+"/missing", &out)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", se.StatusCode)
	}
}
