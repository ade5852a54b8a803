package types_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

func TestTypes(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Workflow Types Suite")
}

var _ = Describe("Workflow", func() {
	It("creates a new workflow with defaults", func() {
		w := types.New("test-workflow")
		Expect(w.Name).To(Equal("test-workflow"))
		Expect(w.Version).To(Equal("1.0"))
		Expect(w.Steps).To(BeEmpty())
	})

	Describe("parsing from YAML", func() {
		It("parses a minimal LLM step workflow", func() {
			doc := []byte(`
name: "test-workflow"
version: "1.0"
steps:
  - id: "step1"
    type: "llm"
    provider: "openai"
    model: "gpt-4"
    prompt: "Hello {{ name }}"
    output: ["greeting"]
`)
			w, err := types.FromYAML(doc)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Name).To(Equal("test-workflow"))
			Expect(w.Steps).To(HaveLen(1))
			Expect(w.Steps[0].ID).To(Equal("step1"))
			Expect(w.Steps[0].Type).To(Equal(types.StepTypeLLM))

			cfg, ok := w.Steps[0].Config.(types.LLMStepConfig)
			Expect(ok).To(BeTrue())
			Expect(cfg.Provider).To(Equal("openai"))
			Expect(cfg.Prompt).To(Equal("Hello {{ name }}"))
		})

		It("round-trips through YAML -> parse -> serialize -> parse", func() {
			doc := []byte(`
name: "round-trip"
steps:
  - id: "step1"
    type: "embed"
    provider: "openai"
    model: "text-embedding-3"
    input: "{{ text }}"
    output: ["vector"]
`)
			w1, err := types.FromYAML(doc)
			Expect(err).NotTo(HaveOccurred())

			out, err := w1.ToYAML()
			Expect(err).NotTo(HaveOccurred())

			w2, err := types.FromYAML(out)
			Expect(err).NotTo(HaveOccurred())
			Expect(w2.Name).To(Equal(w1.Name))
			Expect(w2.Steps).To(HaveLen(1))
			Expect(w2.Steps[0].ID).To(Equal("step1"))
		})
	})

	Describe("validation", func() {
		It("rejects an empty workflow", func() {
			w := types.New("test")
			Expect(w.Validate()).To(HaveOccurred())
		})

		It("accepts a workflow with one valid step", func() {
			w := types.New("test")
			w.Steps = append(w.Steps, types.Step{
				ID:     "step1",
				Type:   types.StepTypeLLM,
				Output: []string{"result"},
				Config: types.LLMStepConfig{Provider: "openai", Model: "gpt-4", Prompt: "test"},
			})
			Expect(w.Validate()).NotTo(HaveOccurred())
		})

		It("rejects duplicate step ids", func() {
			w := types.New("test")
			step := types.Step{
				ID:     "step1",
				Type:   types.StepTypeLLM,
				Config: types.LLMStepConfig{Provider: "openai", Model: "gpt-4", Prompt: "test"},
			}
			w.Steps = append(w.Steps, step, step)
			Expect(w.Validate()).To(HaveOccurred())
		})

		It("rejects dependencies on non-existent steps", func() {
			w := types.New("test")
			w.Steps = append(w.Steps, types.Step{
				ID:        "step1",
				Type:      types.StepTypeLLM,
				DependsOn: []string{"nonexistent"},
				Config:    types.LLMStepConfig{Provider: "openai", Model: "gpt-4", Prompt: "test"},
			})
			Expect(w.Validate()).To(HaveOccurred())
		})
	})

	Describe("RetryPolicy defaults", func() {
		It("applies the documented default policy", func() {
			p := types.DefaultRetryPolicy()
			Expect(p.MaxAttempts).To(Equal(uint32(3)))
			Expect(p.Backoff).To(Equal(types.BackoffExponential))
			Expect(p.Jitter).To(BeTrue())
			Expect(p.Multiplier).To(Equal(2.0))
		})

		It("normalizes an unset multiplier to 2.0", func() {
			p := types.RetryPolicy{MaxAttempts: 5, Backoff: types.BackoffExponential}
			p.Normalize()
			Expect(p.Multiplier).To(Equal(2.0))
		})

		It("honors an explicit multiplier wire key", func() {
			doc := []byte(`
name: "retry-multiplier"
steps:
  - id: "step1"
    type: "llm"
    provider: "openai"
    model: "gpt-4"
    prompt: "hi"
    output: ["text"]
    retry:
      max_attempts: 4
      backoff: "exponential"
      initial_delay_ms: 50
      max_delay_ms: 1000
      multiplier: 3.0
      jitter: false
`)
			w, err := types.FromYAML(doc)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Steps[0].Retry).NotTo(BeNil())
			Expect(w.Steps[0].Retry.Multiplier).To(Equal(3.0))
		})

		It("round-trips an explicit multiplier through serialize/parse", func() {
			w := types.New("round-trip-multiplier")
			mult := 1.5
			w.Steps = append(w.Steps, types.Step{
				ID:     "step1",
				Type:   types.StepTypeLLM,
				Output: []string{"text"},
				Config: types.LLMStepConfig{Provider: "openai", Model: "gpt-4", Prompt: "hi"},
				Retry:  &types.RetryPolicy{MaxAttempts: 2, Backoff: types.BackoffExponential, MultiplierOverride: &mult},
			})
			w.Steps[0].Retry.Normalize()

			out, err := w.ToYAML()
			Expect(err).NotTo(HaveOccurred())

			w2, err := types.FromYAML(out)
			Expect(err).NotTo(HaveOccurred())
			Expect(w2.Steps[0].Retry.Multiplier).To(Equal(1.5))
		})
	})
})
