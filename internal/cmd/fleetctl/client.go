package fleetctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/titanfleet/fleet-agent/internal/platform/timeouts"
	agentapp "github.com/titanfleet/fleet-agent/internal/services/agent/app"
)

// APIError is a non-2xx reply from the agent's control routes.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e == nil {
		return "agent request failed"
	}
	if e.Code != "" {
		return fmt.Sprintf("agent returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("agent returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("agent returned %d", e.Status)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// controlClient calls the agent control routes.
type controlClient struct {
	baseURL    string
	httpClient *http.Client
}

func newControlClient(baseURL string, httpClient *http.Client) *controlClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeouts.ControlRequest}
	}
	return &controlClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/") + agentapp.ControlPrefix,
		httpClient: httpClient,
	}
}

// doJSON sends body (JSON-encoded unless it is already raw bytes) and
// decodes a 2xx reply into out.
func (c *controlClient) doJSON(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	var reader io.Reader
	switch value := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for name, values := range header {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach agent: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload errorResponse
		_ = json.Unmarshal(data, &payload)
		message := payload.Error
		if message == "" {
			message = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Code: payload.Code, Message: message}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
