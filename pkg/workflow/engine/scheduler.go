package engine

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/dag"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

// notifier is a broadcast-to-all-waiters signal: the Go idiom for
// Tokio's Notify::notify_waiters(). Each call to wait() returns a
// channel that closes on the next broadcast; closing a channel wakes
// every current waiter, and a fresh channel is installed before the
// next wait begins, so no wakeup is ever missed (SPEC_FULL.md Design
// Notes addenda).
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

func (n *notifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.ch)
	n.ch = make(chan struct{})
}

// Scheduler dispatches every step of a DAG exactly once, respecting
// dependency order and a bounded-concurrency admission cap. Grounded in
// executor.rs's execute_inner/wait_for_dependencies event-driven model.
type Scheduler struct {
	graph          *dag.WorkflowDAG
	runtime        *Runtime
	maxConcurrency int
	log            *logrus.Entry

	completedMu sync.Mutex
	completed   map[string]struct{}
	notify      *notifier

	resultsMu sync.Mutex
	results   map[string]StepResult

	runningMu sync.Mutex
	running   int
}

// NewScheduler constructs a Scheduler over graph, seeding its completed
// set and result map from preResults (the restored step results on a
// resumed execution; nil for a fresh run).
func NewScheduler(graph *dag.WorkflowDAG, runtime *Runtime, maxConcurrency int, preResults map[string]StepResult, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	completed := make(map[string]struct{}, len(preResults))
	results := make(map[string]StepResult, len(preResults))
	for id, res := range preResults {
		completed[id] = struct{}{}
		results[id] = res
	}
	return &Scheduler{
		graph:          graph,
		runtime:        runtime,
		maxConcurrency: maxConcurrency,
		log:            log,
		completed:      completed,
		notify:         newNotifier(),
		results:        results,
	}
}

// RunningCount reports how many steps are currently dispatched (for
// testing the max_concurrency invariant from spec.md §8).
func (s *Scheduler) RunningCount() int {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.running
}

// Execute dispatches every step declared in workflow's steps, in the
// scheduler's bound DAG order, and returns once every reachable step
// has reached a terminal status.
func (s *Scheduler) Execute(ctx context.Context, steps []types.Step) (map[string]StepResult, error) {
	byID := make(map[string]types.Step, len(steps))
	for _, st := range steps {
		byID[st.ID] = st
	}

	var wg sync.WaitGroup
	var sem *semaphore.Weighted
	if s.maxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(s.maxConcurrency))
	}

	for _, stepID := range s.graph.ExecutionOrder() {
		step, ok := byID[stepID]
		if !ok {
			continue
		}

		if s.isCompleted(stepID) {
			// Pre-populated by a resumed execution: its outputs are
			// already in the context; it is not redispatched.
			continue
		}

		if err := s.waitForDependencies(ctx, step); err != nil {
			wg.Wait()
			return s.snapshotResults(), err
		}

		if s.runtime.ShouldSkip(step) {
			s.log.WithField("step_id", step.ID).Debug("skipping step: condition evaluated false")
			s.recordResult(step.ID, StepResult{StepID: step.ID, Status: StepSkipped, Outputs: map[string]interface{}{}})
			continue
		}

		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return s.snapshotResults(), err
			}
		}

		s.runningMu.Lock()
		s.running++
		s.runningMu.Unlock()

		wg.Add(1)
		go func(step types.Step) {
			defer wg.Done()
			defer func() {
				if sem != nil {
					sem.Release(1)
				}
				s.runningMu.Lock()
				s.running--
				s.runningMu.Unlock()
			}()

			result := s.runtime.ExecuteStep(ctx, step)
			s.recordResult(step.ID, result)
		}(step)
	}

	wg.Wait()
	return s.snapshotResults(), nil
}

// waitForDependencies blocks until every predecessor of step is in the
// completed set, re-checking after each broadcast. It subscribes to the
// next notification before reading completed, and holds no lock across
// the channel receive, so a completion that lands between the read and
// the receive still wakes it (spec.md §5).
func (s *Scheduler) waitForDependencies(ctx context.Context, step types.Step) error {
	deps := s.graph.Dependencies(step.ID)
	if len(deps) == 0 {
		return nil
	}
	for {
		wake := s.notify.wait()
		if s.allCompleted(deps) {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) allCompleted(ids []string) bool {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()
	for _, id := range ids {
		if _, ok := s.completed[id]; !ok {
			return false
		}
	}
	return true
}

func (s *Scheduler) isCompleted(id string) bool {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()
	_, ok := s.completed[id]
	return ok
}

func (s *Scheduler) markCompleted(id string) {
	s.completedMu.Lock()
	s.completed[id] = struct{}{}
	s.completedMu.Unlock()
	s.notify.broadcast()
}

func (s *Scheduler) recordResult(id string, result StepResult) {
	s.resultsMu.Lock()
	s.results[id] = result
	s.resultsMu.Unlock()
	s.markCompleted(id)
}

func (s *Scheduler) snapshotResults() map[string]StepResult {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	out := make(map[string]StepResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// CompletedIDs returns a copy of the scheduler's monotone completed set,
// for callers that need it after Execute returns (checkpointing,
// resumed-workflow bookkeeping).
func (s *Scheduler) CompletedIDs() map[string]struct{} {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()
	out := make(map[string]struct{}, len(s.completed))
	for k := range s.completed {
		out[k] = struct{}{}
	}
	return out
}
