package articles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/retrain"
	"github.com/sirupsen/logrus"
)

// Client reads article text and stored summaries from the content service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

var _ retrain.ArticleStore = (*Client)(nil)

type articleResponse struct {
	ArticleID string `json:"article_id"`
	Text      string `json:"text"`
}

type summaryResponse struct {
	ArticleID string `json:"article_id"`
	Summary   string `json:"summary"`
}

func (c *Client) ArticleText(ctx context.Context, articleID string) (string, error) {
	var resp articleResponse
	if err := c.get(ctx, fmt.Sprintf("/articles/%s/text", url.PathEscape(articleID)), &resp); err != nil {
		return "", err
	}
	if resp.Text == "" {
		return "", fmt.Errorf("article %s has no text", articleID)
	}
	return resp.Text, nil
}

func (c *Client) Summary(ctx context.Context, articleID string) (string, error) {
	var resp summaryResponse
	if err := c.get(ctx, fmt.Sprintf("/articles/%s/summary", url.PathEscape(articleID)), &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

func (c *Client) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("article store: failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("article store: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("article store: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("article store: request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("article store: failed to unmarshal response: %w", err)
	}

	return nil
}
