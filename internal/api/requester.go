// Package api is the low-level HTTP client for the Kiseki collector: bearer
// auth, JSON bodies, per-request timeout, and a transparent retry loop driven
// by the retry policy. Typed endpoint wrappers live in endpoints.go.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/kiseki/internal/auth"
	"github.com/ashita-ai/kiseki/internal/retry"
)

// Requester performs collector requests. Safe for concurrent use.
type Requester struct {
	baseURL string
	client  *http.Client
	tokens  *auth.TokenSource
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// NewRequester creates a Requester. The timeout (30s if zero) bounds each
// individual attempt, whether the caller supplied an httpClient or not; a nil
// httpClient gets a default client.
func NewRequester(baseURL string, tokens *auth.TokenSource, policy retry.Policy, timeout time.Duration, httpClient *http.Client, logger *slog.Logger) *Requester {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		tokens:  tokens,
		policy:  policy,
		timeout: timeout,
		logger:  logger,
	}
}

// Do performs one logical request, retrying retryable failures per the
// policy. dest, when non-nil, receives the decoded JSON response body.
func (r *Requester) Do(ctx context.Context, method, path string, body, dest any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.policy.Delay(attempt - 1)
			r.logger.Debug("api: retrying request",
				"method", method, "path", path, "attempt", attempt, "delay_ms", delay.Milliseconds())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = r.once(ctx, method, path, encoded, dest)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (r *Requester) once(ctx context.Context, method, path string, encoded []byte, dest any) error {
	// Each attempt carries its own deadline; the retry loop's sleeps run on
	// the caller's context, not this one.
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var bodyReader io.Reader
	if encoded != nil {
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := r.tokens.Token(ctx)
	if err != nil {
		return &Error{Method: method, URL: r.baseURL + path, Retryable: true, cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return &Error{
			Method:    method,
			URL:       r.baseURL + path,
			Retryable: retryableNetworkError(err),
			cause:     err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Method: method, URL: r.baseURL + path, Retryable: true, cause: err}
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{
			Method:     method,
			URL:        r.baseURL + path,
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
			Retryable:  r.policy.ShouldRetryStatus(resp.StatusCode),
		}
		var envelope errorEnvelope
		if jsonErr := json.Unmarshal(bodyBytes, &envelope); jsonErr == nil && envelope.Error.Message != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		} else {
			apiErr.Code = ""
			apiErr.Message = string(bodyBytes)
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

// errorEnvelope is the collector's standard error response wrapper.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// retryableNetworkError classifies transport-level failures: timeouts and
// cancelled-by-deadline requests are retryable, a caller-cancelled context
// is not.
func retryableNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection-level failures (refused, reset) come through as *url.Error
	// wrapping *net.OpError.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
