package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/models"
	"github.com/feedloop-ai/newsbrief/internal/retrain"
	"github.com/sirupsen/logrus"
)

// Client submits training jobs to the training service and blocks until the
// run completes. The model internals are entirely the service's concern;
// this side only sees a run id and the resulting metrics.
type Client struct {
	baseURL    string
	family     models.Family
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, family models.Family, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		family:  family,
		httpClient: &http.Client{
			// Training runs are long; the context controls cancellation.
			Timeout: 0,
		},
		logger: logger,
	}
}

var _ retrain.Trainer = (*Client)(nil)

type trainRequest struct {
	Family   string            `json:"family"`
	Examples []trainingExample `json:"examples"`
}

type trainingExample struct {
	ArticleID        string `json:"article_id"`
	Text             string `json:"text"`
	Label            string `json:"label,omitempty"`
	ReferenceSummary string `json:"reference_summary,omitempty"`
}

type trainResponse struct {
	RunID   string             `json:"run_id"`
	Metrics map[string]float64 `json:"metrics"`
}

func (c *Client) Train(ctx context.Context, examples []retrain.Example) (*retrain.TrainOutcome, error) {
	req := trainRequest{
		Family:   string(c.family),
		Examples: make([]trainingExample, 0, len(examples)),
	}
	for _, e := range examples {
		req.Examples = append(req.Examples, trainingExample{
			ArticleID:        e.ArticleID,
			Text:             e.Text,
			Label:            e.Label,
			ReferenceSummary: e.ReferenceSummary,
		})
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("training client: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/train", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("training client: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.WithFields(logrus.Fields{
		"family":  c.family,
		"samples": len(examples),
	}).Info("Submitting training job")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("training client: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("training client: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("training client: run failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result trainResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("training client: failed to unmarshal response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"family":   c.family,
		"run_id":   result.RunID,
		"duration": time.Since(start).String(),
	}).Info("Training run completed")

	return &retrain.TrainOutcome{
		RunID:   result.RunID,
		Metrics: result.Metrics,
	}, nil
}
