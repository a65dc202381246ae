// Package api is the REST client for the dashboard backend's device
// endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleetwatch/internal/auth"
	"fleetwatch/internal/models"
)

type Client struct {
	base   string
	tokens auth.TokenProvider
	client *http.Client
}

func NewClient(base string, tokens auth.TokenProvider) *Client {
	if tokens == nil {
		tokens = auth.Static("")
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		tokens: tokens,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListDevices returns every device visible to the caller. There is no
// single-device endpoint.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.getJSON(ctx, "/devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// ListMetrics returns the device's persisted samples, newest first.
func (c *Client) ListMetrics(ctx context.Context, deviceID string) ([]models.MetricSample, error) {
	var metrics []models.MetricSample
	if err := c.getJSON(ctx, "/devices/"+url.PathEscape(deviceID)+"/metrics", &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// ListMetricDetails returns the device's detail snapshots, newest first.
func (c *Client) ListMetricDetails(ctx context.Context, deviceID string) ([]models.DetailSnapshot, error) {
	var details []models.DetailSnapshot
	if err := c.getJSON(ctx, "/devices/"+url.PathEscape(deviceID)+"/metrics-detail", &details); err != nil {
		return nil, err
	}
	return details, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return &StatusError{Code: resp.StatusCode, Message: msg}
		}
		return &StatusError{Code: resp.StatusCode, Message: fmt.Sprintf("Request failed with %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusNoContent || len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// StatusError is a non-2xx response. Message is the response body when the
// backend sent one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}
