package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tagwerk/chiptrace/internal/model"
)

// HTTPClient implements ChipsClient using the chiptrace HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// SetDeviceID sets the scan-device identity sent as X-Device-ID on every
// request, so the server's device roster can track this reader.
func (c *HTTPClient) SetDeviceID(id string) {
	c.deviceID = id
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Chip lifecycle ---

func (c *HTTPClient) RegisterChip(ctx context.Context, req *RegisterChipRequest) (*model.Chip, error) {
	var chip model.Chip
	if err := c.doJSON(ctx, http.MethodPost, "/v1/chips", req, &chip); err != nil {
		return nil, err
	}
	return &chip, nil
}

func (c *HTTPClient) GetChip(ctx context.Context, id string) (*model.Chip, error) {
	var chip model.Chip
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chips/"+url.PathEscape(id), nil, &chip); err != nil {
		return nil, err
	}
	return &chip, nil
}

func (c *HTTPClient) ListChips(ctx context.Context, req *ListChipsRequest) (*ListChipsResponse, error) {
	q := url.Values{}
	if len(req.Status) > 0 {
		q.Set("status", strings.Join(req.Status, ","))
	}
	if req.CustomerRef != "" {
		q.Set("customer_ref", req.CustomerRef)
	}
	if req.OrderRef != "" {
		q.Set("order_ref", req.OrderRef)
	}
	if req.ControlPointRef != "" {
		q.Set("control_point_ref", req.ControlPointRef)
	}
	if req.UID != "" {
		q.Set("uid", req.UID)
	}
	if req.Sort != "" {
		q.Set("sort", req.Sort)
	}
	if req.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", req.Limit))
	}
	if req.Offset > 0 {
		q.Set("offset", fmt.Sprintf("%d", req.Offset))
	}

	path := "/v1/chips"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListChipsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetLedger(ctx context.Context, chipID string) (*LedgerResponse, error) {
	var resp LedgerResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chips/"+url.PathEscape(chipID)+"/ledger", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Transition(ctx context.Context, chipID string, req *TransitionRequest) (*model.Chip, error) {
	var chip model.Chip
	if err := c.doJSON(ctx, http.MethodPost, "/v1/chips/"+url.PathEscape(chipID)+"/transition", req, &chip); err != nil {
		return nil, err
	}
	return &chip, nil
}

func (c *HTTPClient) EncodeChip(ctx context.Context, chipID string, req *EncodeChipRequest) (*EncodeChipResponse, error) {
	var resp EncodeChipResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/chips/"+url.PathEscape(chipID)+"/encode", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Scan authentication ---

func (c *HTTPClient) VerifyScan(ctx context.Context, req *VerifyScanRequest) (*VerifyScanResponse, error) {
	var resp VerifyScanResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/scans/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Stock ---

func (c *HTTPClient) Allocate(ctx context.Context, req *AllocateRequest) (*AllocateResponse, error) {
	var resp AllocateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/allocations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Execution windows ---

func (c *HTTPClient) OpenExecution(ctx context.Context, req *OpenExecutionRequest) (*model.ExecutionWindow, error) {
	var win model.ExecutionWindow
	if err := c.doJSON(ctx, http.MethodPost, "/v1/executions", req, &win); err != nil {
		return nil, err
	}
	return &win, nil
}

func (c *HTTPClient) GetExecution(ctx context.Context, id string) (*model.ExecutionWindow, error) {
	var win model.ExecutionWindow
	if err := c.doJSON(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(id), nil, &win); err != nil {
		return nil, err
	}
	return &win, nil
}

func (c *HTTPClient) CloseExecution(ctx context.Context, id string, req *CloseExecutionRequest) (*model.ExecutionWindow, error) {
	var win model.ExecutionWindow
	if err := c.doJSON(ctx, http.MethodPost, "/v1/executions/"+url.PathEscape(id)+"/close", req, &win); err != nil {
		return nil, err
	}
	return &win, nil
}

func (c *HTTPClient) AbandonExecution(ctx context.Context, id string, req *AbandonExecutionRequest) (*model.ExecutionWindow, error) {
	var win model.ExecutionWindow
	if err := c.doJSON(ctx, http.MethodPost, "/v1/executions/"+url.PathEscape(id)+"/abandon", req, &win); err != nil {
		return nil, err
	}
	return &win, nil
}

// --- Fleet ---

func (c *HTTPClient) GetStats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetDeviceRoster(ctx context.Context) (*RosterResponse, error) {
	var resp RosterResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/devices/roster", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content — success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
