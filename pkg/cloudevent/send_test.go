package cloudevent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendSetsProtocolHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	event := New("foldwarden.run.completed", "foldwarden", "tp53_r175h", "run-1", map[string]any{"status": "completed"})
	sender := NewSender(5 * time.Second)

	if err := sender.Send(context.Background(), server.URL, event, SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.Get("Content-Type") != "application/cloudevents+json" {
		t.Errorf("Content-Type = %q", got.Get("Content-Type"))
	}
	if got.Get("Ce-Specversion") != "1.0" {
		t.Errorf("Ce-Specversion = %q", got.Get("Ce-Specversion"))
	}
	if got.Get("Ce-Type") != "foldwarden.run.completed" {
		t.Errorf("Ce-Type = %q", got.Get("Ce-Type"))
	}
	if got.Get("Ce-Id") != "run-1" {
		t.Errorf("Ce-Id = %q", got.Get("Ce-Id"))
	}
	if got.Get("X-Signature-256") != "" {
		t.Error("unsigned send must not carry a signature header")
	}
}

func TestSendReturnsHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewSender(5 * time.Second)
	err := sender.Send(context.Background(), server.URL, New("t", "s", "sub", "id", nil), SendOptions{})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 502 {
		t.Fatalf("err = %v, want HTTPError{502}", err)
	}
}

func TestHTTPError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		statusCode int
		expected   string
	}{
		{400, "HTTP 400"},
		{404, "HTTP 404"},
		{500, "HTTP 500"},
		{503, "HTTP 503"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			err := &HTTPError{StatusCode: tt.statusCode}
			if err.Error() != tt.expected {
				t.Errorf("HTTPError{%d}.Error() = %q, want %q", tt.statusCode, err.Error(), tt.expected)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"400 Bad Request", &HTTPError{StatusCode: 400}, true},
		{"404 Not Found", &HTTPError{StatusCode: 404}, true},
		{"499 client error boundary", &HTTPError{StatusCode: 499}, true},
		{"500 Internal Server Error", &HTTPError{StatusCode: 500}, false},
		{"503 Service Unavailable", &HTTPError{StatusCode: 503}, false},
		{"399 not a client error", &HTTPError{StatusCode: 399}, false},
		{"non-HTTP error", context.DeadlineExceeded, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsClientError(tt.err); got != tt.expected {
				t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestSignatureFormat(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"test":"data"}`)

	sig := signature(payload, "secret-key")

	if len(sig) != 7+64 || sig[:7] != "sha256=" {
		t.Errorf("signature format wrong: %q", sig)
	}
	if sig != signature(payload, "secret-key") {
		t.Error("signature should be deterministic")
	}
	if sig == signature(payload, "different-key") {
		t.Error("different keys should produce different signatures")
	}
}
