package database

import (
	"context"
	"fmt"
	"time"

	"github.com/feedloop-ai/newsbrief/pkg/utils"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Lease is a redis-backed advisory lock with a TTL. Retraining pipelines
// acquire one per model family so that two overlapping cron invocations
// cannot both walk the train-evaluate-promote sequence.
type Lease struct {
	client *redis.Client
	logger *logrus.Logger
	token  string
}

func NewLease(client *redis.Client, logger *logrus.Logger) *Lease {
	return &Lease{
		client: client,
		logger: logger,
		token:  utils.GenerateRandomID(16),
	}
}

func leaseKey(name string) string {
	return fmt.Sprintf("lease:%s", name)
}

// Acquire attempts to take the named lease for ttl. Returns false when
// another holder already has it.
func (l *Lease) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKey(name), l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}

	if ok {
		l.logger.WithFields(logrus.Fields{
			"lease": name,
			"ttl":   ttl,
		}).Debug("Lease acquired")
	}

	return ok, nil
}

// releaseScript deletes the lease only when this holder still owns it, so an
// expired lease re-acquired by another run is never released from here.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Release gives the named lease back if this instance still holds it.
func (l *Lease) Release(ctx context.Context, name string) error {
	released, err := releaseScript.Run(ctx, l.client, []string{leaseKey(name)}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}

	if released == 0 {
		l.logger.WithField("lease", name).Warn("Lease already expired or taken over")
	}

	return nil
}
