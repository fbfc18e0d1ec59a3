package syncqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultEndpoint is the telemetry batch path on the origin.
const DefaultEndpoint = "/api/driver/location/batch"

// APIError represents a non-2xx response from the telemetry endpoint.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("telemetry error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("telemetry error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("telemetry error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("telemetry error (%d)", e.Status)
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type batchRequest struct {
	Locations []json.RawMessage `json:"locations"`
}

// Client submits location batches to the origin.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient builds a telemetry client posting to endpoint under baseURL.
func NewClient(baseURL, endpoint, token string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid telemetry base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("telemetry base url must include scheme and host")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid telemetry endpoint: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	target := *base
	target.Path = base.Path + ref.Path
	target.RawQuery = ref.RawQuery
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: target.String(), token: token, httpClient: httpClient}, nil
}

// Endpoint returns the resolved submission URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// SubmitLocations posts one batch. Any 2xx status is success.
func (c *Client) SubmitLocations(ctx context.Context, batch []json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPost, batchRequest{Locations: batch})
}

func (c *Client) doJSON(ctx context.Context, method string, reqBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Code = payload.Code
			if apiErr.Code == "" {
				apiErr.Code = payload.Error
			}
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}
	return nil
}
