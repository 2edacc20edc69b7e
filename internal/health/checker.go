package health

import (
	"fmt"
	"net/http"
	"time"

	"github.com/feedloop-ai/newsbrief/internal/database"
	"github.com/sirupsen/logrus"
)

// HealthChecker probes the dependencies the lifecycle service needs: the
// postgres ledger, redis, and the model tracking server.
type HealthChecker struct {
	dbManager   *database.Manager
	logger      *logrus.Logger
	registryURL string
}

func NewHealthChecker(dbManager *database.Manager, logger *logrus.Logger, registryURL string) *HealthChecker {
	return &HealthChecker{
		dbManager:   dbManager,
		logger:      logger,
		registryURL: registryURL,
	}
}

// ServiceHealth represents the health status of a service
type ServiceHealth struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	ResponseTime int    `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
	LastChecked  string `json:"last_checked"`
}

// OverallHealth represents the overall system health
type OverallHealth struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
	Uptime   string          `json:"uptime"`
}

func (h *HealthChecker) check(name string, probe func() error) ServiceHealth {
	start := time.Now()
	err := probe()
	responseTime := int(time.Since(start).Milliseconds())

	status := "healthy"
	errorMsg := ""
	if err != nil {
		status = "unhealthy"
		errorMsg = err.Error()
		h.logger.WithError(err).WithField("service", name).Error("Health check failed")
	}

	return ServiceHealth{
		Name:         name,
		Status:       status,
		ResponseTime: responseTime,
		Error:        errorMsg,
		LastChecked:  time.Now().Format(time.RFC3339),
	}
}

// CheckPostgreSQL checks the ledger database
func (h *HealthChecker) CheckPostgreSQL() ServiceHealth {
	return h.check("postgresql", h.dbManager.PingDatabase)
}

// CheckRedis checks the cache/lease store
func (h *HealthChecker) CheckRedis() ServiceHealth {
	return h.check("redis", h.dbManager.PingRedis)
}

// CheckRegistry checks the model tracking server
func (h *HealthChecker) CheckRegistry() ServiceHealth {
	return h.check("registry", func() error {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(h.registryURL + "/health")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil
	})
}

// CheckAll performs health checks on all services
func (h *HealthChecker) CheckAll() OverallHealth {
	services := []ServiceHealth{
		h.CheckPostgreSQL(),
		h.CheckRedis(),
		h.CheckRegistry(),
	}

	overallStatus := "healthy"
	for _, service := range services {
		if service.Status == "unhealthy" {
			overallStatus = "unhealthy"
			break
		}
	}

	return OverallHealth{
		Status:   overallStatus,
		Services: services,
		Uptime:   time.Since(startTime).String(),
	}
}

var startTime = time.Now()
