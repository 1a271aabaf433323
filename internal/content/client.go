package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"tweetproof/internal/domain"
)

const operation = "TweetResultsByRestIds"

// Client looks tweets up on the public GraphQL endpoint.
type Client struct {
	BaseURL     string
	QueryID     string
	BearerToken string
	Cookies     map[string]string
	HTTPClient  *http.Client
	Timeout     time.Duration
	BatchSize   int
}

// New creates a client with the documented 20s per-request timeout.
func New(baseURL, queryID, bearerToken string, cookies map[string]string) *Client {
	return &Client{
		BaseURL:     baseURL,
		QueryID:     queryID,
		BearerToken: bearerToken,
		Cookies:     cookies,
		HTTPClient:  &http.Client{},
		Timeout:     20 * time.Second,
		BatchSize:   100,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("content api error: status=%d body=%s", e.StatusCode, e.Body)
}

var defaultFeatures = map[string]bool{
	"creator_subscriptions_tweet_preview_api_enabled":                         true,
	"longform_notetweets_consumption_enabled":                                 true,
	"longform_notetweets_rich_text_read_enabled":                              true,
	"responsive_web_edit_tweet_api_enabled":                                   true,
	"responsive_web_graphql_exclude_directive_enabled":                        true,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
	"responsive_web_graphql_timeline_navigation_enabled":                      true,
	"tweet_awards_web_tipping_enabled":                                        false,
	"tweetypie_unmention_optimization_enabled":                                true,
	"view_counts_everywhere_api_enabled":                                      true,
	"verified_phone_label_enabled":                                            false,
	"standardized_nudges_misinfo":                                             true,
	"freedom_of_speech_not_reach_fetch_enabled":                               true,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
}

// Lookup fetches the live text of every id, batching requests. Ids the
// source reports as unavailable come back with Available=false.
func (c *Client) Lookup(ctx context.Context, ids []string) (map[string]domain.LiveTweet, error) {
	out := make(map[string]domain.LiveTweet, len(ids))
	size := c.BatchSize
	if size <= 0 {
		size = len(ids)
	}
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batch := ids[start:end]
		tweets, err := c.lookupBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, t := range tweets {
			out[t.TweetID] = t
		}
	}
	return out, nil
}

func (c *Client) lookupBatch(ctx context.Context, ids []string) ([]domain.LiveTweet, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	endpoint, err := c.endpoint(ids)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup %d tweets: %w", len(ids), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lookup %d tweets: %w", len(ids), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return parseResults(body, ids)
}

func (c *Client) endpoint(ids []string) (string, error) {
	variables, err := json.Marshal(map[string]any{
		"tweetIds":               ids,
		"withCommunity":          false,
		"includePromotedContent": false,
		"withVoice":              false,
	})
	if err != nil {
		return "", err
	}
	features, err := json.Marshal(defaultFeatures)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("variables", string(variables))
	q.Set("features", string(features))
	base := strings.TrimRight(c.BaseURL, "/")
	return fmt.Sprintf("%s/i/api/graphql/%s/%s?%s", base, url.PathEscape(c.QueryID), operation, q.Encode()), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if len(c.Cookies) > 0 {
		req.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	}
	if csrf, ok := c.Cookies["ct0"]; ok {
		req.Header.Set("X-Csrf-Token", csrf)
	}
	for name, value := range c.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// parseResults reads data.tweetResult, which is positionally aligned with
// the requested ids.
func parseResults(body []byte, ids []string) ([]domain.LiveTweet, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("lookup %d tweets: response is not json", len(ids))
	}
	results := gjson.GetBytes(body, "data.tweetResult")
	if !results.IsArray() {
		return nil, fmt.Errorf("lookup %d tweets: response has no data.tweetResult list", len(ids))
	}
	items := results.Array()
	if len(items) < len(ids) {
		return nil, fmt.Errorf("lookup %d tweets: source answered %d results", len(ids), len(items))
	}
	out := make([]domain.LiveTweet, 0, len(ids))
	for i, id := range ids {
		result := items[i].Get("result")
		if !result.Exists() || result.Get("__typename").String() == "TweetUnavailable" {
			out = append(out, domain.LiveTweet{TweetID: id})
			continue
		}
		text := result.Get("tweet.legacy.full_text")
		if !text.Exists() {
			text = result.Get("legacy.full_text")
		}
		if !text.Exists() {
			return nil, fmt.Errorf("lookup tweet %s: result has no full_text", id)
		}
		out = append(out, domain.LiveTweet{TweetID: id, Available: true, Text: text.String()})
	}
	return out, nil
}
