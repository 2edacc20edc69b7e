package registry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
	}
}

// makeRequestWithRetry retries idempotent reads against the tracking server.
// Writes (register, transition) are never retried here: the promotion state
// machine treats them as single attempts and surfaces failures to the caller.
func (c *Client) makeRequestWithRetry(ctx context.Context, method, endpoint string, payload interface{}, result interface{}) (bool, error) {
	config := DefaultRetryConfig()

	var found bool
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		found, lastErr = c.makeRequest(ctx, method, endpoint, payload, result)
		if lastErr == nil {
			return found, nil
		}

		if attempt == config.MaxRetries {
			break
		}

		delay := time.Duration(float64(config.BaseDelay) * math.Pow(1.5, float64(attempt)))
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		c.logger.WithFields(logrus.Fields{
			"attempt":  attempt + 1,
			"delay":    delay,
			"endpoint": endpoint,
			"error":    lastErr.Error(),
		}).Warn("Retrying registry request")

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}
	}

	return false, fmt.Errorf("registry client: request failed after %d retries: %w", config.MaxRetries, lastErr)
}
