package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Client talks to the model tracking server over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

var _ Registry = (*Client)(nil)

func (c *Client) ProductionVersion(ctx context.Context, family string) (*ModelVersion, error) {
	var version ModelVersion
	found, err := c.makeRequest(ctx, "GET", fmt.Sprintf("/models/%s/production", family), nil, &version)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &version, nil
}

func (c *Client) History(ctx context.Context, family string) ([]ModelVersion, error) {
	var versions []ModelVersion
	if _, err := c.makeRequestWithRetry(ctx, "GET", fmt.Sprintf("/models/%s/versions", family), nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

type registerRequest struct {
	RunID   string             `json:"run_id"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func (c *Client) Register(ctx context.Context, family, runID string, metrics map[string]float64) (*ModelVersion, error) {
	req := registerRequest{RunID: runID, Metrics: metrics}

	var version ModelVersion
	if _, err := c.makeRequest(ctx, "POST", fmt.Sprintf("/models/%s/versions", family), req, &version); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"family":  family,
		"run_id":  runID,
		"version": version.Version,
	}).Info("Registered new model version")

	return &version, nil
}

type transitionRequest struct {
	Stage           Stage `json:"stage"`
	ArchiveExisting bool  `json:"archive_existing"`
}

func (c *Client) Transition(ctx context.Context, family string, version int, stage Stage, archiveExisting bool) error {
	req := transitionRequest{Stage: stage, ArchiveExisting: archiveExisting}

	endpoint := fmt.Sprintf("/models/%s/versions/%d/transition", family, version)
	if _, err := c.makeRequest(ctx, "POST", endpoint, req, nil); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"family":  family,
		"version": version,
		"stage":   stage,
	}).Info("Transitioned model version")

	return nil
}

func (c *Client) RunMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	var metrics map[string]float64
	if _, err := c.makeRequestWithRetry(ctx, "GET", fmt.Sprintf("/runs/%s/metrics", runID), nil, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// makeRequest performs one HTTP round trip. The bool result reports whether
// the resource existed; a 404 is not an error for lookups that may legally
// come back empty.
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, payload interface{}, result interface{}) (bool, error) {
	url := c.baseURL + endpoint

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return false, fmt.Errorf("registry client: failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return false, fmt.Errorf("registry client: failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    url,
	}).Debug("Making registry request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("registry client: request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("registry client: failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("registry client: request failed with status %d: %s", resp.StatusCode, string(responseBody))
	}

	if result != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, result); err != nil {
			return false, fmt.Errorf("registry client: failed to unmarshal response: %w", err)
		}
	}

	return true, nil
}
