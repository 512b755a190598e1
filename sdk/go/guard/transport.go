package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout bounds a single heartbeat round trip for transports
// created without a custom http.Client.
const DefaultHTTPTimeout = 5 * time.Second

// Report is the heartbeat payload sent for every admitted call.
type Report struct {
	AgentID  string         `json:"agent_id"`
	Cost     float64        `json:"cost"`
	IsZombie bool           `json:"is_zombie"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Reply is the policy engine's answer to an accepted heartbeat.
type Reply struct {
	Status           string  `json:"status"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// APIError is a non-200 answer from the policy engine. Receiving one means the
// engine was reachable.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("policy engine error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("policy engine error (%d): %s", e.StatusCode, e.Message)
}

// Transport delivers one heartbeat. Any error other than *APIError is treated
// as a transport failure.
type Transport interface {
	SendHeartbeat(ctx context.Context, report Report) (*Reply, error)
}

// HTTPTransport posts heartbeats to the policy engine REST API.
type HTTPTransport struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewHTTPTransport builds a transport for the engine at rawURL. When
// httpClient is nil a client with DefaultHTTPTimeout is used.
func NewHTTPTransport(rawURL string, httpClient *http.Client) (*HTTPTransport, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid policy engine url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid policy engine url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPTransport{baseURL: parsed, httpClient: httpClient}, nil
}

// SendHeartbeat implements Transport.
func (t *HTTPTransport) SendHeartbeat(ctx context.Context, report Report) (*Reply, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode heartbeat: %w", err)
	}
	rel := &url.URL{Path: path.Join(t.baseURL.Path, "/heartbeat")}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL.ResolveReference(rel).String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return nil, fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return nil, apiErr
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &reply, nil
}
