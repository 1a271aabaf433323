package proofsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal client for the proof operator API.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8087/v1.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     35 * time.Second,
	}
}

// SpoolSummary describes a spooled reward payload.
type SpoolSummary struct {
	ID          string  `json:"id"`
	FileID      string  `json:"file_id"`
	CreatedAt   string  `json:"created_at"`
	DrainedAt   *string `json:"drained_at"`
	ReplayingAt *string `json:"replaying_at"`
	Bytes       int     `json:"bytes"`
}

// SpoolEvent is one audit entry of a record.
type SpoolEvent struct {
	ID      int64           `json:"id"`
	TS      string          `json:"ts"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SpoolRecord is a spooled payload with its exact bytes.
type SpoolRecord struct {
	ID          string          `json:"id"`
	FileID      string          `json:"file_id"`
	CreatedAt   string          `json:"created_at"`
	DrainedAt   *string         `json:"drained_at"`
	ReplayingAt *string         `json:"replaying_at"`
	Payload     json.RawMessage `json:"payload"`
	History     []SpoolEvent    `json:"history"`
}

// SpoolList wraps the list response.
type SpoolList struct {
	Records []SpoolSummary `json:"records"`
	Pending int            `json:"pending"`
}

// ReplayResult is returned by a successful replay.
type ReplayResult struct {
	Status string       `json:"status"`
	Record SpoolSummary `json:"record"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Code returns the error envelope code, or "" if the body has none.
func (e *APIError) Code() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil {
		return ""
	}
	return env.Error.Code
}

// Health pings the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil)
}

// ListSpool lists pending records, or every record with includeDrained.
func (c *Client) ListSpool(ctx context.Context, includeDrained bool) (SpoolList, error) {
	endpoint := "spool"
	if includeDrained {
		endpoint += "?include_drained=true"
	}
	var resp SpoolList
	err := c.do(ctx, http.MethodGet, endpoint, &resp)
	return resp, err
}

// GetSpool fetches one record.
func (c *Client) GetSpool(ctx context.Context, id string) (SpoolRecord, error) {
	var resp SpoolRecord
	err := c.do(ctx, http.MethodGet, "spool/"+url.PathEscape(id), &resp)
	return resp, err
}

// ReplaySpool re-sends a record to the rewards ledger.
func (c *Client) ReplaySpool(ctx context.Context, id string) (ReplayResult, error) {
	var resp ReplayResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("spool/%s/replay", url.PathEscape(id)), &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, &bytes.Buffer{})
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
