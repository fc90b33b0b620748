package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// Error codes returned in the code field of error bodies.
const (
	CodeRealtimeNotConfigured = "REALTIME_NOT_CONFIGURED"
)

// APIError represents an error response from syncd.
type APIError struct {
	StatusCode int
	Code       string // Machine-readable code from the body, if any
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sync api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	if e.Code == CodeRealtimeNotConfigured {
		return false
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// doRequest performs one HTTP request. body, when non-nil, is sent as JSON.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds.UserID != "" {
		req.Header.Set("X-User-ID", c.creds.UserID)
	}
	if c.creds.PairingToken != "" {
		req.Header.Set("X-Pairing-Token", c.creds.PairingToken)
	}
	if c.creds.GuestToken != "" {
		req.Header.Set("X-Guest-Token", c.creds.GuestToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
		var e ErrorResponse
		if json.Unmarshal(respBody, &e) == nil {
			if e.Error != "" {
				apiErr.Message = e.Error
			}
			apiErr.Code = e.Code
		}
		return nil, apiErr
	}

	return respBody, nil
}

// idempotent reports whether a request with method may be replayed after a
// failure the server may already have acted on.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// doWithRetry performs a request with exponential backoff retry. Only
// idempotent methods are retried; anything else is sent once.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff
	maxRetries := c.maxRetries
	if !idempotent(method) {
		maxRetries = 0
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		respBody, err := c.doRequest(ctx, method, path, query, body)
		if err == nil {
			return respBody, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	if maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// call performs a request with retries and decodes the response into result,
// which may be nil.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, result any) error {
	respBody, err := c.doWithRetry(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if result == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
