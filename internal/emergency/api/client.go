// internal/emergency/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	commonhttp "maternalhub-agent/internal/common/http"
	"maternalhub-agent/internal/common/logger"

	"github.com/google/uuid"
)

// TokenSource supplies the current bearer token. Returning "" means the
// caller is not authenticated.
type TokenSource func() string

// Client is the Maternal Hub emergency REST surface consumed by the agent.
type Client interface {
	SendAlert(ctx context.Context, req *AlertRequest) (*AlertResponse, error)
	GetStatus(ctx context.Context, emergencyID string) (*StatusResponse, error)
	Cancel(ctx context.Context, emergencyID string) error
}

// Endpoints resolves the three REST endpoints from an emergency id.
type Endpoints interface {
	AlertURL() string
	StatusURL(id string) string
	CancelURL(id string) string
}

type HTTPClient struct {
	http      *commonhttp.Client
	endpoints Endpoints
	token     TokenSource
	logger    logger.Logger
}

func NewHTTPClient(endpoints Endpoints, token TokenSource, timeout time.Duration, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		http:      commonhttp.NewClient(timeout),
		endpoints: endpoints,
		token:     token,
		logger:    log.WithFields(map[string]interface{}{"component": "hub-api"}),
	}
}

func (c *HTTPClient) SendAlert(ctx context.Context, req *AlertRequest) (*AlertResponse, error) {
	var out AlertResponse
	if err := c.doJSON(ctx, http.MethodPost, c.endpoints.AlertURL(), req, &out); err != nil {
		return nil, err
	}
	if out.EmergencyID == "" {
		return nil, fmt.Errorf("invalid response from server: no emergencyId received")
	}
	return &out, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, emergencyID string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, c.endpoints.StatusURL(emergencyID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, emergencyID string) error {
	return c.doJSON(ctx, http.MethodPost, c.endpoints.CancelURL(emergencyID), nil, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.DoWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug("hub request failed", map[string]interface{}{
			"method": method,
			"url":    url,
			"status": resp.StatusCode,
		})
		return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx reply from the hub, classified by status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hub returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IsAuthExpired reports a 401: keep local state, suspend polling.
func IsAuthExpired(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports a 404: the emergency no longer exists server-side.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// IsRateLimited reports a 429: skip the tick, never fatal.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// IsClientRejection reports any other 4xx, meaning the server refused the
// request for a non-transient reason.
func IsClientRejection(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500 &&
		se.StatusCode != http.StatusUnauthorized &&
		se.StatusCode != http.StatusNotFound &&
		se.StatusCode != http.StatusTooManyRequests
}
