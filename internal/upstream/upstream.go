// Package upstream is the shared HTTP plumbing for public bioinformatics
// services: one pooled client, per-host circuit breakers and bounded
// retries with exponential backoff. Callers identify the operator via
// the User-Agent contact, as the upstream usage policies request.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"foldwarden/internal/apperrors"
	"foldwarden/internal/version"
	"foldwarden/pkg/backoff"
	"foldwarden/pkg/circuitbreaker"
)

const maxAttempts = 3

// Client issues retrying GET/POST requests against public services.
type Client struct {
	httpc     *http.Client
	breakers  *circuitbreaker.Registry
	retry     backoff.Policy
	userAgent string
	logger    *slog.Logger
}

// New builds a client. The contact address goes into the User-Agent; an
// empty contact is allowed but discouraged by the upstream policies.
func New(contact string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	ua := "foldwarden/" + version.Version
	if contact != "" {
		ua += " (" + contact + ")"
	}
	return &Client{
		httpc: &http.Client{Timeout: 30 * time.Second},
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: 5,
			Cooldown:  30 * time.Second,
		}),
		retry:     backoff.Policy{Initial: 300 * time.Millisecond, Max: 5 * time.Second},
		userAgent: ua,
		logger:    logger.With("component", "upstream"),
	}
}

// Breakers exposes the per-host breaker registry for status reporting.
func (c *Client) Breakers() *circuitbreaker.Registry {
	return c.breakers
}

// Get fetches rawURL and returns the response body. A 404 maps to
// apperrors.ErrNotFound; 429 and 5xx responses are retried.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, "", nil)
}

// GetJSON fetches rawURL and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

// PostJSON sends payload as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, rawURL, "application/json", data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, payload []byte) ([]byte, error) {
	host := hostOf(rawURL)
	breaker := c.breakers.Get(host)

	var body []byte
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := breaker.Do(func() error {
			var reqBody io.Reader
			if payload != nil {
				reqBody = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
			if err != nil {
				return err
			}
			req.Header.Set("User-Agent", c.userAgent)
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}

			resp, err := c.httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				body = data
				return nil
			case resp.StatusCode == http.StatusNotFound:
				// Absence of a record is an answer, not an upstream fault.
				return apperrors.NotFound("resource", rawURL)
			default:
				return &StatusError{Code: resp.StatusCode, Host: host, Body: snippet(data)}
			}
		})
		if err == nil {
			return body, nil
		}
		// Keep the concrete upstream failure when the breaker opens
		// between attempts.
		if !errors.Is(err, circuitbreaker.ErrOpen) || lastErr == nil {
			lastErr = err
		}

		if !retryable(err) || attempt == maxAttempts {
			break
		}
		c.logger.Warn("Upstream request failed, retrying",
			"host", host,
			"attempt", attempt,
			"error", err)
		if err := backoff.Sleep(ctx, c.retry.Duration(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Code int
	Host string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Host, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Host, e.Code, e.Body)
}

// retryable reports whether another attempt could succeed: transport
// errors, 429 and 5xx qualify; open breakers, 404 and other 4xx do not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, apperrors.ErrNotFound) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

func snippet(data []byte) string {
	const limit = 200
	s := string(bytes.TrimSpace(data))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
