// Package health aggregates the HealthCheck capability every provider
// adapter and state-store backend already exposes into one composite
// probe the engine façade can call. It is deliberately not an HTTP
// endpoint or a metrics exporter (both remain out of scope per
// spec.md §1) — just the shared vocabulary and a checker that calls
// into it, grounded in
// _examples/original_source/crates/llm-orchestrator-core/src/health.rs's
// HealthStatus/ComponentHealth/HealthCheck shapes.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the tri-state health classification a component reports.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is one component's most recent probe result.
type ComponentHealth struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	ResponseTime time.Duration `json:"-"`
	Error        string        `json:"error,omitempty"`
	LastChecked  time.Time     `json:"last_checked"`
}

// ResponseTimeMs is the wire representation of ResponseTime.
func (c ComponentHealth) ResponseTimeMs() int64 {
	return c.ResponseTime.Milliseconds()
}

// Checker is anything exposing the same capability-probe shape the
// provider and state-store interfaces already declare: a single
// context-scoped error-returning call.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// namedChecker pairs a Checker with the component name it reports
// under in the aggregate result.
type namedChecker struct {
	name    string
	checker Checker
}

// Aggregator runs a registered set of Checkers concurrently and
// combines them into one CheckResult. Grounded stylistically in the
// teacher's builder pattern (constructor-injected logger, fluent
// registration, one public Check entry point).
type Aggregator struct {
	mu       sync.Mutex
	checkers []namedChecker
	log      *logrus.Entry
}

// NewAggregator constructs an empty Aggregator.
func NewAggregator(log *logrus.Entry) *Aggregator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Aggregator{log: log}
}

// Register adds a named component to the aggregate probe.
func (a *Aggregator) Register(name string, checker Checker) *Aggregator {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers = append(a.checkers, namedChecker{name: name, checker: checker})
	return a
}

// CheckResult is the aggregate outcome of probing every registered
// component: Healthy only if every component reports Healthy,
// Unhealthy if every one does, Degraded otherwise.
type CheckResult struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Check probes every registered component concurrently and aggregates
// the results. Each probe receives a context bounded by the given
// timeout; a checker that returns the context's error is reported
// Unhealthy. Check waits for every probe to return, so a checker that
// ignores its context delays the whole aggregate.
func (a *Aggregator) Check(ctx context.Context, timeout time.Duration) CheckResult {
	a.mu.Lock()
	checkers := make([]namedChecker, len(a.checkers))
	copy(checkers, a.checkers)
	a.mu.Unlock()

	results := make(map[string]ComponentHealth, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, nc := range checkers {
		wg.Add(1)
		go func(nc namedChecker) {
			defer wg.Done()
			ch := a.probe(ctx, nc, timeout)
			mu.Lock()
			results[nc.name] = ch
			mu.Unlock()
		}(nc)
	}
	wg.Wait()

	return CheckResult{Status: aggregateStatus(results), Components: results, CheckedAt: time.Now().UTC()}
}

func (a *Aggregator) probe(ctx context.Context, nc namedChecker, timeout time.Duration) ComponentHealth {
	cctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := nc.checker.HealthCheck(cctx)
	elapsed := time.Since(start)

	ch := ComponentHealth{Name: nc.name, ResponseTime: elapsed, LastChecked: time.Now().UTC()}
	if err != nil {
		ch.Status = StatusUnhealthy
		ch.Error = err.Error()
		a.log.WithFields(logrus.Fields{"component": nc.name, "error": err.Error()}).Warn("health check failed")
		return ch
	}
	ch.Status = StatusHealthy
	return ch
}

func aggregateStatus(components map[string]ComponentHealth) Status {
	if len(components) == 0 {
		return StatusHealthy
	}
	healthy, unhealthy := 0, 0
	for _, c := range components {
		switch c.Status {
		case StatusHealthy:
			healthy++
		case StatusUnhealthy:
			unhealthy++
		}
	}
	switch {
	case unhealthy == 0:
		return StatusHealthy
	case healthy == 0:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}
