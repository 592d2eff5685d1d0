// Package platform is the client of the device-management platform REST API:
// analytics queries, device listings, device commands and their status
// stream, and captured images.
package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"cityeye-service/internal/metrics"
	"cityeye-service/internal/model"
)

const (
	breakerName    = "platform-api"
	maxErrorBody   = 64 << 10
	maxImageBytes  = 16 << 20
	defaultTimeout = 15 * time.Second
)

var (
	ErrUnavailable   = errors.New("platform API unavailable")
	ErrImageTooLarge = fmt.Errorf("device image exceeds %d bytes", maxImageBytes)
)

// APIError is a non-2xx answer from the platform. Detail carries the
// server-provided message when there was one.
type APIError struct {
	Operation string
	Status    int
	Message   string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: platform returned %d: %s", e.Operation, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: platform returned %d", e.Operation, e.Status)
}

func (e *APIError) Detail() string {
	return e.Message
}

func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		// status streams live as long as their context
		stream: &http.Client{},
		log:    log,
	}

	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// 4xx answers are the caller's problem, not platform health
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return c
}

func (c *Client) QueryAnalytics(ctx context.Context, token string, req model.AnalyticsRequest) (*model.AnalyticsResponse, error) {
	var out model.AnalyticsResponse
	if err := c.doJSON(ctx, "query_analytics", http.MethodPost, "/api/analytics", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSolutionDevices(ctx context.Context, token, solutionID string) ([]model.Device, error) {
	var out []model.Device
	path := "/api/solutions/" + url.PathEscape(solutionID) + "/devices"
	if err := c.doJSON(ctx, "list_solution_devices", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDevice(ctx context.Context, token, deviceID string) (*model.Device, error) {
	var out model.Device
	path := "/api/devices/" + url.PathEscape(deviceID)
	if err := c.doJSON(ctx, "get_device", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendDeviceCommand(ctx context.Context, token, deviceID string, cmd model.DeviceCommand) (string, error) {
	var ack model.CommandAck
	path := "/api/devices/" + url.PathEscape(deviceID) + "/commands"
	if err := c.doJSON(ctx, "send_device_command", http.MethodPost, path, token, cmd, &ack); err != nil {
		return "", err
	}
	if ack.MessageID == "" {
		return "", fmt.Errorf("send_device_command: platform returned no message id")
	}
	return ack.MessageID, nil
}

func (c *Client) FetchDeviceImage(ctx context.Context, token, deviceID string) ([]byte, string, error) {
	path := "/api/devices/" + url.PathEscape(deviceID) + "/image"
	resp, err := c.execute(ctx, c.http, "fetch_device_image", http.MethodGet, path, token, nil, "image/*")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("fetch_device_image: read body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", ErrImageTooLarge
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path, token string, body, out interface{}) error {
	resp, err := c.execute(ctx, c.http, op, method, path, token, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// execute sends one request through the circuit breaker. On success the
// caller owns resp.Body.
func (c *Client) execute(ctx context.Context, client *http.Client, op, method, path, token string, body interface{}, accept string) (*http.Response, error) {
	start := time.Now()
	defer func() {
		metrics.PlatformRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		req, err := c.newRequest(ctx, method, path, token, body, accept)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			defer resp.Body.Close()
			return nil, &APIError{Operation: op, Status: resp.StatusCode, Message: readDetail(resp.Body)}
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.PlatformRequestsTotal.WithLabelValues(op, "rejected").Inc()
		c.log.Warn().Str("operation", op).Err(err).Msg("platform request rejected by circuit breaker")
		return nil, fmt.Errorf("%s: %w", op, ErrUnavailable)
	case err != nil:
		metrics.PlatformRequestsTotal.WithLabelValues(op, "failure").Inc()
		c.log.Debug().Str("operation", op).Err(err).Msg("platform request failed")
		return nil, err
	}

	metrics.PlatformRequestsTotal.WithLabelValues(op, "success").Inc()
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body interface{}, accept string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func readDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}

	if len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil && detail != "" {
			return detail
		}
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
