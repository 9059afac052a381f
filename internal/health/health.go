// Package health reports the reachability of the services ingestion depends on.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	connected    = "connected"
	disconnected = "disconnected"
)

// Response represents the JSON response from the health check endpoint.
type Response struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Timestamp    string            `json:"timestamp"`
}

// Checker is implemented by storage.QdrantStorage, metadata.Store and jobs.ProgressStore.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// Check probes every dependency in parallel within a 3-second budget.
func Check(ctx context.Context, checks map[string]Checker) Response {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	resp := Response{
		Status:       StatusHealthy,
		Dependencies: make(map[string]string, len(checks)),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, c := range checks {
		g.Go(func() error {
			state := connected
			if err := c.Health(ctx); err != nil {
				state = disconnected
			}
			mu.Lock()
			defer mu.Unlock()
			resp.Dependencies[name] = state
			if state == disconnected {
				resp.Status = StatusUnhealthy
			}
			return nil
		})
	}
	_ = g.Wait()
	return resp
}

// StatusCode is 200 when healthy and 503 otherwise.
func (r Response) StatusCode() int {
	if r.Status == StatusHealthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// NewHandler creates a plain net/http handler for /health.
func NewHandler(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := Check(r.Context(), checks)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode())
		json.NewEncoder(w).Encode(resp)
	}
}
