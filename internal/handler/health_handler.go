package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) HealthCheckResult

// Ready returns readiness check with dependencies. Checks run in parallel;
// with no checks the service is always ready.
func Ready(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]HealthCheckResult, len(checks))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, check := range checks {
			wg.Add(1)
			go func(name string, check HealthCheck) {
				defer wg.Done()
				result := check(ctx)
				mu.Lock()
				results[name] = result
				mu.Unlock()
			}(name, check)
		}
		wg.Wait()

		allHealthy := true
		for _, result := range results {
			if result.Status != "up" {
				allHealthy = false
			}
		}

		response := map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    results,
		}

		w.Header().Set("Content-Type", "application/json")
		if allHealthy {
			response["status"] = "ready"
			w.WriteHeader(http.StatusOK)
		} else {
			response["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}

// DatabaseCheck verifies database connectivity
func DatabaseCheck(db *sql.DB) HealthCheck {
	return func(ctx context.Context) HealthCheckResult {
		start := time.Now()
		err := db.PingContext(ctx)
		latency := time.Since(start)

		if err != nil {
			return HealthCheckResult{
				Status:    "down",
				LatencyMs: latency.Milliseconds(),
				Error:     err.Error(),
			}
		}

		stats := db.Stats()
		return HealthCheckResult{
			Status:    "up",
			LatencyMs: latency.Milliseconds(),
			Metadata: map[string]interface{}{
				"connections_open":   stats.OpenConnections,
				"connections_in_use": stats.InUse,
				"connections_idle":   stats.Idle,
				"max_open":           stats.MaxOpenConnections,
			},
		}
	}
}

// BrokerConn is the part of the RabbitMQ client the readiness probe needs
type BrokerConn interface {
	IsClosed() bool
}

// RabbitMQCheck verifies RabbitMQ connectivity
func RabbitMQCheck(rmq BrokerConn) HealthCheck {
	return func(ctx context.Context) HealthCheckResult {
		if rmq.IsClosed() {
			return HealthCheckResult{
				Status: "down",
				Error:  "connection closed",
			}
		}
		return HealthCheckResult{Status: "up"}
	}
}
