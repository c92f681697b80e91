// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/dealdesk/internal/reconciliation"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// DefaultTimeout bounds a single CheckAll call.
const DefaultTimeout = 2 * time.Second

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if statuses[i].Name == "" {
			statuses[i].Name = nc.name
		}
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// Handler serves the aggregate status: 200 when every subsystem is healthy,
// 503 otherwise.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, statuses := r.CheckAll(c.Request.Context())
		code, status := http.StatusOK, "ok"
		if !healthy {
			code, status = http.StatusServiceUnavailable, "degraded"
		}
		c.JSON(code, gin.H{"status": status, "checks": statuses})
	}
}

// Pinger is anything that can report whether its backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store checks that the persistence backend answers.
func Store(p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			return Status{Name: "store", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "store", Healthy: true}
	}
}

// ReportSource exposes the most recent reconciliation result.
// *reconciliation.Timer implements it.
type ReportSource interface {
	Running() bool
	Last() *reconciliation.Report
}

// Reconciliation reports the latest conservation check. An unbalanced
// ledger marks the service unhealthy; no report yet is fine.
func Reconciliation(t ReportSource) Checker {
	return func(context.Context) Status {
		st := Status{Name: "reconciliation", Healthy: true}
		if !t.Running() {
			st.Detail = "timer not running"
		}
		last := t.Last()
		if last == nil {
			return st
		}
		if !last.Balanced {
			st.Healthy = false
			st.Detail = fmt.Sprintf("unbalanced by %s at %s", last.Diff.String(), last.CheckedAt.Format(time.RFC3339))
		}
		return st
	}
}

// Backlog reports a queue as unhealthy once it holds more than max items.
func Backlog(name string, pending func() int, max int) Checker {
	return func(context.Context) Status {
		n := pending()
		return Status{Name: name, Healthy: n <= max, Detail: fmt.Sprintf("%d pending", n)}
	}
}
