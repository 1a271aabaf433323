package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tweetproof/internal/domain"
)

const (
	uniquePath   = "/v1/validator/unique"
	submitPath   = "/v1/validator/submit-validation"
	validatePath = "/v1/validator/validate-user"
)

// Client talks to the validator API: the uniqueness index, the rewards
// ledger and the profile check.
type Client struct {
	BaseURL       string
	APIKey        string
	HTTPClient    *http.Client
	UniqueTimeout time.Duration
	SubmitTimeout time.Duration
	UserTimeout   time.Duration
}

// New creates a client with the documented per-call timeouts.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		HTTPClient:    &http.Client{},
		UniqueTimeout: 10 * time.Second,
		SubmitTimeout: 30 * time.Second,
		UserTimeout:   10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("validator api error: status=%d body=%s", e.StatusCode, e.Body)
}

type uniqueRequest struct {
	TweetIDs []string `json:"tweetIds"`
	FileID   string   `json:"fileId"`
}

// CheckUnique reports, per id, whether the index has already credited it
// under fileID's lineage. An empty id list returns without a request.
func (c *Client) CheckUnique(ctx context.Context, ids []string, fileID string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	body, err := json.Marshal(uniqueRequest{TweetIDs: ids, FileID: fileID})
	if err != nil {
		return nil, err
	}
	var exists []bool
	if err := c.do(ctx, c.UniqueTimeout, uniquePath, body, &exists); err != nil {
		return nil, fmt.Errorf("check unique: %w", err)
	}
	if len(exists) != len(ids) {
		return nil, fmt.Errorf("check unique: index answered %d entries for %d ids", len(exists), len(ids))
	}
	out := make(map[string]bool, len(ids))
	for i, id := range ids {
		out[id] = exists[i]
	}
	return out, nil
}

// SubmitValidation posts an already-encoded reward submission. The body is
// sent as-is so a spooled copy is byte-identical to what was attempted.
func (c *Client) SubmitValidation(ctx context.Context, payload []byte) error {
	if err := c.do(ctx, c.SubmitTimeout, submitPath, payload, nil); err != nil {
		return fmt.Errorf("submit validation: %w", err)
	}
	return nil
}

type validateUserRequest struct {
	Handle        string `json:"handle"`
	WalletAddress string `json:"walletAddress"`
}

type validateUserResponse struct {
	UserValidated bool `json:"userValidated"`
}

// VerifyUser asks the validator whether handle belongs to the wallet.
func (c *Client) VerifyUser(ctx context.Context, user domain.UserData) (bool, error) {
	body, err := json.Marshal(validateUserRequest{Handle: user.Handle, WalletAddress: user.WalletAddress})
	if err != nil {
		return false, err
	}
	var resp validateUserResponse
	if err := c.do(ctx, c.UserTimeout, validatePath, body, &resp); err != nil {
		return false, fmt.Errorf("validate user: %w", err)
	}
	return resp.UserValidated, nil
}

func (c *Client) do(ctx context.Context, timeout time.Duration, endpoint string, body []byte, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	url := strings.TrimRight(c.BaseURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
