package engine_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/engine"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

func TestEngine(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Workflow Engine Suite")
}

// mockLLMProvider returns a fixed string per model, optionally blocking
// on a shared barrier and counting calls/concurrency for the
// fan-out/concurrency-cap scenario.
type mockLLMProvider struct {
	mu          sync.Mutex
	calls       int
	running     int32
	maxRunning  int32
	barrier     chan struct{}
	blockUntil  int
	failUntilN  int
	failErr     error
	completedAt []time.Time
	startedAt   []time.Time
}

func newMockProvider() *mockLLMProvider { return &mockLLMProvider{} }

func (m *mockLLMProvider) Name() string { return "mock" }

func (m *mockLLMProvider) HealthCheck(ctx context.Context) error { return nil }

func (m *mockLLMProvider) Complete(ctx context.Context, req providers.CompletionRequest) (providers.CompletionResponse, error) {
	m.mu.Lock()
	m.calls++
	n := atomic.AddInt32(&m.running, 1)
	if n > m.maxRunning {
		m.maxRunning = n
	}
	m.startedAt = append(m.startedAt, time.Now())
	callNum := m.calls
	m.mu.Unlock()

	defer func() {
		atomic.AddInt32(&m.running, -1)
		m.mu.Lock()
		m.completedAt = append(m.completedAt, time.Now())
		m.mu.Unlock()
	}()

	if m.barrier != nil && callNum <= m.blockUntil {
		<-m.barrier
	}

	if m.failUntilN > 0 && callNum <= m.failUntilN {
		return providers.CompletionResponse{}, m.failErr
	}

	return providers.CompletionResponse{Text: "response-for-" + req.Model, Model: req.Model}, nil
}

func llmStep(id, prompt string, deps ...string) types.Step {
	return types.Step{
		ID:        id,
		Type:      types.StepTypeLLM,
		DependsOn: deps,
		Output:    []string{"text"},
		Config:    types.LLMStepConfig{Provider: "mock", Model: "m-" + id, Prompt: prompt},
	}
}

var _ = Describe("Engine.Execute", func() {
	It("runs a linear three-step LLM chain in dependency order", func() {
		w := types.New("linear")
		w.Steps = []types.Step{
			llmStep("step1", "hello"),
			llmStep("step2", "prev: {{ steps.step1.text }}", "step1"),
			llmStep("step3", "prev: {{ steps.step2.text }}", "step2"),
		}

		provider := newMockProvider()
		eng, err := engine.New(w, map[string]interface{}{})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(3))
		for _, id := range []string{"step1", "step2", "step3"} {
			Expect(results[id].Status).To(Equal(engine.StepCompleted))
		}
		step2Prompt, err := eng.Context().RenderTemplate(w.Steps[1].Config.(types.LLMStepConfig).Prompt)
		Expect(err).NotTo(HaveOccurred())
		Expect(step2Prompt).To(ContainSubstring("response-for-m-step1"))
	})

	It("bounds concurrency at max_concurrency while fanning out independent steps", func() {
		w := types.New("fanout")
		w.Steps = []types.Step{
			llmStep("a", "x"),
			llmStep("b", "x"),
			llmStep("c", "x"),
		}

		provider := newMockProvider()
		provider.barrier = make(chan struct{})
		provider.blockUntil = 2 // first two calls block until released

		eng, err := engine.New(w, map[string]interface{}{})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider).WithMaxConcurrency(2)

		done := make(chan map[string]engine.StepResult, 1)
		go func() {
			results, _ := eng.Execute(context.Background())
			done <- results
		}()

		Eventually(func() int32 { return atomic.LoadInt32(&provider.running) }, time.Second).Should(Equal(int32(2)))
		close(provider.barrier)

		var results map[string]engine.StepResult
		Eventually(done, time.Second).Should(Receive(&results))
		Expect(results).To(HaveLen(3))
		Expect(provider.maxRunning).To(BeNumerically("<=", 2))
	})

	It("skips a step whose condition evaluates false", func() {
		w := types.New("skip")
		w.Steps = []types.Step{
			{
				ID:        "only",
				Type:      types.StepTypeLLM,
				Condition: "{{ execute }} == 'true'",
				Output:    []string{"text"},
				Config:    types.LLMStepConfig{Provider: "mock", Model: "m", Prompt: "x"},
			},
		}
		provider := newMockProvider()
		eng, err := engine.New(w, map[string]interface{}{"execute": "false"})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results["only"].Status).To(Equal(engine.StepSkipped))
		Expect(results["only"].Outputs).To(BeEmpty())
		Expect(results["only"].Duration).To(BeZero())
		Expect(provider.calls).To(Equal(0))
	})

	It("executes normally when the condition evaluates true", func() {
		w := types.New("noskip")
		w.Steps = []types.Step{
			{
				ID:        "only",
				Type:      types.StepTypeLLM,
				Condition: "{{ execute }} == 'true'",
				Output:    []string{"text"},
				Config:    types.LLMStepConfig{Provider: "mock", Model: "m", Prompt: "x"},
			},
		}
		provider := newMockProvider()
		eng, err := engine.New(w, map[string]interface{}{"execute": "true"})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results["only"].Status).To(Equal(engine.StepCompleted))
		Expect(provider.calls).To(Equal(1))
	})

	It("exhausts retries against a provider that always rate-limits", func() {
		w := types.New("retry-exhaustion")
		maxAttempts := uint32(3)
		w.Steps = []types.Step{
			{
				ID:     "only",
				Type:   types.StepTypeLLM,
				Output: []string{"text"},
				Config: types.LLMStepConfig{Provider: "mock", Model: "m", Prompt: "x"},
				Retry: &types.RetryPolicy{
					MaxAttempts:    maxAttempts,
					Backoff:        types.BackoffExponential,
					InitialDelayMs: 10,
					MaxDelayMs:     100,
					Jitter:         false,
				},
			},
		}
		provider := newMockProvider()
		provider.failUntilN = 1000 // always fails
		provider.failErr = providers.NewRateLimitError()

		eng, err := engine.New(w, map[string]interface{}{})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)

		start := time.Now()
		results, err := eng.Execute(context.Background())
		elapsed := time.Since(start)

		Expect(err).NotTo(HaveOccurred())
		Expect(results["only"].Status).To(Equal(engine.StepFailed))
		Expect(provider.calls).To(Equal(int(maxAttempts) + 1))
		Expect(elapsed).To(BeNumerically(">=", 70*time.Millisecond))
	})

	It("rejects a cyclic workflow before any provider is consulted", func() {
		w := types.New("cyclic")
		w.Steps = []types.Step{
			llmStep("step1", "x", "step2"),
			llmStep("step2", "x", "step1"),
		}
		provider := newMockProvider()
		_, err := engine.New(w, map[string]interface{}{})
		Expect(err).To(HaveOccurred())
		Expect(provider.calls).To(Equal(0))
	})

	It("does not redispatch a step restored from a checkpoint", func() {
		w := types.New("resume")
		w.Steps = []types.Step{
			llmStep("step1", "x"),
			llmStep("step2", "prev: {{ steps.step1.text }}", "step1"),
		}
		provider := newMockProvider()

		preResults := map[string]engine.StepResult{
			"step1": {StepID: "step1", Status: engine.StepCompleted, Outputs: map[string]interface{}{"text": "response-for-m-step1"}},
		}
		snap := engine.WorkflowStateSnapshot{Inputs: map[string]interface{}{}, Steps: preResults}

		fromSnap, err := engine.NewFromSnapshot(w, snap)
		Expect(err).NotTo(HaveOccurred())
		fromSnap.WithProvider("mock", provider)

		results, err := fromSnap.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results["step1"].Status).To(Equal(engine.StepCompleted))
		Expect(results["step2"].Status).To(Equal(engine.StepCompleted))
		Expect(provider.calls).To(Equal(1)) // only step2 actually calls the provider
	})

	It("runs a Transform step against a registered function", func() {
		w := types.New("transform")
		w.Steps = []types.Step{
			llmStep("step1", "hello"),
			{
				ID:        "xform",
				Type:      types.StepTypeTransform,
				DependsOn: []string{"step1"},
				Output:    []string{"upper"},
				Config: types.TransformConfig{
					Function: "uppercase",
					Inputs:   []string{"step1"},
				},
			},
		}
		provider := newMockProvider()
		eng, err := engine.New(w, map[string]interface{}{})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)
		eng.WithTransform("uppercase", func(ctx context.Context, params, inputs map[string]interface{}) (map[string]interface{}, error) {
			in := inputs["step1"].(map[string]interface{})
			return map[string]interface{}{"upper": strings.ToUpper(in["text"].(string))}, nil
		})

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results["xform"].Status).To(Equal(engine.StepCompleted))
		Expect(results["xform"].Outputs["upper"]).To(Equal("RESPONSE-FOR-M-STEP1"))
	})

	It("fails a Transform step whose function is not registered", func() {
		w := types.New("transform-missing")
		w.Steps = []types.Step{
			{
				ID:     "xform",
				Type:   types.StepTypeTransform,
				Output: []string{"upper"},
				Config: types.TransformConfig{Function: "does-not-exist"},
			},
		}
		eng, err := engine.New(w, map[string]interface{}{})
		Expect(err).NotTo(HaveOccurred())

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results["xform"].Status).To(Equal(engine.StepFailed))
	})

	It("runs an Action step against a registered side-effecting function", func() {
		w := types.New("action")
		var invokedWith string
		w.Steps = []types.Step{
			{
				ID:     "notify",
				Type:   types.StepTypeAction,
				Output: []string{"sent"},
				Config: types.ActionConfig{
					Action: "send-notification",
					Params: map[string]interface{}{"channel": "ops"},
				},
			},
		}
		eng, err := engine.New(w, map[string]interface{}{})
		Expect(err).NotTo(HaveOccurred())
		eng.WithAction("send-notification", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			invokedWith = params["channel"].(string)
			return map[string]interface{}{"sent": true}, nil
		})

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results["notify"].Status).To(Equal(engine.StepCompleted))
		Expect(results["notify"].Outputs["sent"]).To(Equal(true))
		Expect(invokedWith).To(Equal("ops"))
	})

	It("dispatches a Parallel step's nested tasks and flattens their results", func() {
		w := types.New("parallel")
		w.Steps = []types.Step{
			{
				ID:     "fanout",
				Type:   types.StepTypeParallel,
				Output: []string{"a", "b"},
				Config: types.ParallelConfig{
					Tasks: []types.Step{
						llmStep("a", "x"),
						llmStep("b", "x"),
					},
				},
			},
		}
		provider := newMockProvider()
		eng, err := engine.New(w, map[string]interface{}{})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results["fanout"].Status).To(Equal(engine.StepCompleted))
		nested, ok := results["fanout"].Outputs["a"].(map[string]interface{})
		Expect(ok).To(BeTrue())
		Expect(nested["text"]).To(ContainSubstring("response-for-m-a"))
		Expect(provider.calls).To(Equal(2))
	})

	It("bounds a nested Parallel step's own fan-out at its max_concurrency", func() {
		w := types.New("nested-parallel-bound")
		cap := 1
		w.Steps = []types.Step{
			{
				ID:     "fanout",
				Type:   types.StepTypeParallel,
				Output: []string{"a", "b"},
				Config: types.ParallelConfig{
					Tasks: []types.Step{
						llmStep("a", "x"),
						llmStep("b", "x"),
					},
					MaxConcurrency: &cap,
				},
			},
		}
		provider := newMockProvider()
		provider.barrier = make(chan struct{})
		provider.blockUntil = 2
		close(provider.barrier) // nested calls should not block the test itself

		eng, err := engine.New(w, map[string]interface{}{})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results["fanout"].Status).To(Equal(engine.StepCompleted))
		Expect(provider.maxRunning).To(BeNumerically("<=", 1))
	})

	It("dispatches the matching Branch and skips the rest", func() {
		w := types.New("branch")
		w.Steps = []types.Step{
			{
				ID:     "route",
				Type:   types.StepTypeBranch,
				Output: []string{"chosen"},
				Config: types.BranchConfig{
					Condition: "{{ tier }}",
					Branches: map[string][]types.Step{
						"gold":   {llmStep("gold-step", "x")},
						"silver": {llmStep("silver-step", "x")},
					},
				},
			},
		}
		provider := newMockProvider()
		eng, err := engine.New(w, map[string]interface{}{"tier": "gold"})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results["route"].Status).To(Equal(engine.StepCompleted))
		Expect(results["route"].Outputs).To(HaveKey("gold-step"))
		Expect(results["route"].Outputs).NotTo(HaveKey("silver-step"))
		Expect(provider.calls).To(Equal(1))
	})

	It("returns an empty result when a Branch condition matches no declared branch", func() {
		w := types.New("branch-no-match")
		w.Steps = []types.Step{
			{
				ID:     "route",
				Type:   types.StepTypeBranch,
				Output: []string{"chosen"},
				Config: types.BranchConfig{
					Condition: "{{ tier }}",
					Branches: map[string][]types.Step{
						"gold": {llmStep("gold-step", "x")},
					},
				},
			},
		}
		provider := newMockProvider()
		eng, err := engine.New(w, map[string]interface{}{"tier": "bronze"})
		Expect(err).NotTo(HaveOccurred())
		eng.WithProvider("mock", provider)

		results, err := eng.Execute(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(results["route"].Status).To(Equal(engine.StepCompleted))
		Expect(results["route"].Outputs).To(BeEmpty())
		Expect(provider.calls).To(Equal(0))
	})
})
