package dag_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/dag"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

func TestDAG(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "WorkflowDAG Suite")
}

func llmStep(id string, deps ...string) types.Step {
	return types.Step{
		ID:        id,
		Type:      types.StepTypeLLM,
		DependsOn: deps,
		Output:    []string{"result"},
		Config:    types.LLMStepConfig{Provider: "mock", Model: "mock", Prompt: "x"},
	}
}

var _ = Describe("WorkflowDAG", func() {
	It("builds a simple linear chain", func() {
		w := types.New("linear")
		w.Steps = []types.Step{llmStep("a"), llmStep("b", "a"), llmStep("c", "b")}

		d, err := dag.FromWorkflow(w)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.ExecutionOrder()).To(Equal([]string{"a", "b", "c"}))
		Expect(d.RootNodes()).To(ConsistOf("a"))
	})

	It("allows independent parallel steps in any relative order", func() {
		w := types.New("parallel")
		w.Steps = []types.Step{llmStep("a"), llmStep("b"), llmStep("c", "a", "b")}

		d, err := dag.FromWorkflow(w)
		Expect(err).NotTo(HaveOccurred())
		order := d.ExecutionOrder()
		Expect(order).To(HaveLen(3))
		Expect(order[2]).To(Equal("c"))
		Expect(d.RootNodes()).To(ConsistOf("a", "b"))
	})

	It("rejects a cyclic dependency", func() {
		w := types.New("cyclic")
		w.Steps = []types.Step{llmStep("a", "b"), llmStep("b", "a")}

		_, err := dag.FromWorkflow(w)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a dependency on a non-existent step", func() {
		w := types.New("missing-dep")
		w.Steps = []types.Step{llmStep("a", "ghost")}

		_, err := dag.FromWorkflow(w)
		Expect(err).To(HaveOccurred())
	})

	It("computes dependencies and dependents", func() {
		w := types.New("deps")
		w.Steps = []types.Step{llmStep("a"), llmStep("b", "a"), llmStep("c", "a")}

		d, err := dag.FromWorkflow(w)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Dependencies("b")).To(ConsistOf("a"))
		Expect(d.Dependents("a")).To(ConsistOf("b", "c"))
	})

	Describe("Ready", func() {
		It("returns roots when nothing is completed", func() {
			w := types.New("ready")
			w.Steps = []types.Step{llmStep("a"), llmStep("b", "a")}
			d, err := dag.FromWorkflow(w)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Ready(map[string]struct{}{})).To(ConsistOf("a"))
		})

		It("returns downstream steps once predecessors complete", func() {
			w := types.New("ready2")
			w.Steps = []types.Step{llmStep("a"), llmStep("b", "a")}
			d, err := dag.FromWorkflow(w)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Ready(map[string]struct{}{"a": {}})).To(ConsistOf("b"))
		})

		It("excludes already-completed steps", func() {
			w := types.New("ready3")
			w.Steps = []types.Step{llmStep("a")}
			d, err := dag.FromWorkflow(w)
			Expect(err).NotTo(HaveOccurred())

			Expect(d.Ready(map[string]struct{}{"a": {}})).To(BeEmpty())
		})
	})
})
