package providers_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers"
)

func TestProviders(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Providers Suite")
}

type mockLLM struct{ name string }

func (m *mockLLM) Name() string { return m.name }
func (m *mockLLM) HealthCheck(ctx context.Context) error { return nil }
func (m *mockLLM) Complete(ctx context.Context, req providers.CompletionRequest) (providers.CompletionResponse, error) {
	return providers.CompletionResponse{Text: "mock response for " + req.Model, Model: req.Model}, nil
}

var _ = Describe("Registry", func() {
	It("registers and looks up a provider by name", func() {
		reg := providers.NewRegistry[providers.LLMProvider]()
		reg.Register("mock", &mockLLM{name: "mock"})

		p, err := reg.Get("mock")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Name()).To(Equal("mock"))
	})

	It("errors on an unregistered name", func() {
		reg := providers.NewRegistry[providers.LLMProvider]()
		_, err := reg.Get("missing")
		Expect(err).To(HaveOccurred())
	})

	It("lists every registered name", func() {
		reg := providers.NewRegistry[providers.LLMProvider]()
		reg.Register("a", &mockLLM{name: "a"})
		reg.Register("b", &mockLLM{name: "b"})
		Expect(reg.Names()).To(ConsistOf("a", "b"))
	})
})

var _ = Describe("Error classification", func() {
	It("classifies rate limit, timeout, http, and provider-specific errors as retryable", func() {
		Expect(providers.NewRateLimitError().IsRetryable()).To(BeTrue())
		Expect(providers.NewTimeoutError().IsRetryable()).To(BeTrue())
		Expect(providers.NewHTTPError("boom").IsRetryable()).To(BeTrue())
		Expect(providers.NewProviderSpecificError("boom").IsRetryable()).To(BeTrue())
	})

	It("classifies auth, invalid-request, serialization, and unknown as non-retryable", func() {
		Expect(providers.NewAuthError("nope").IsRetryable()).To(BeFalse())
		Expect(providers.NewInvalidRequestError("nope").IsRetryable()).To(BeFalse())
		Expect(providers.NewSerializationError("nope").IsRetryable()).To(BeFalse())
		Expect(providers.NewUnknownError("nope").IsRetryable()).To(BeFalse())
	})
})
