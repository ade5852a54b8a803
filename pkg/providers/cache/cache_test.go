package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers/cache"
)

func TestCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Provider Cache Suite")
}

type stubLLM struct {
	calls int
	resp  providers.CompletionResponse
	err   error
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) HealthCheck(ctx context.Context) error { return nil }

func (s *stubLLM) Complete(ctx context.Context, req providers.CompletionRequest) (providers.CompletionResponse, error) {
	s.calls++
	return s.resp, s.err
}

type stubEmbedder struct {
	calls int
	resp  providers.EmbeddingResponse
	err   error
}

func (s *stubEmbedder) Name() string { return "stub" }

func (s *stubEmbedder) HealthCheck(ctx context.Context) error { return nil }

func (s *stubEmbedder) MaxBatchSize() int { return 96 }

func (s *stubEmbedder) Embed(ctx context.Context, req providers.EmbeddingRequest) (providers.EmbeddingResponse, error) {
	s.calls++
	return s.resp, s.err
}

var _ = Describe("Cache-aside decorators", func() {
	var (
		server *miniredis.Miniredis
		rdb    *redis.Client
		c      *cache.Cache
	)

	BeforeEach(func() {
		var err error
		server, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		rdb = redis.NewClient(&redis.Options{Addr: server.Addr()})
		c = cache.New(rdb, time.Minute, nil)
	})

	AfterEach(func() {
		_ = rdb.Close()
		server.Close()
	})

	Describe("LLMProvider", func() {
		It("calls through on a cache miss and caches the response", func() {
			inner := &stubLLM{resp: providers.CompletionResponse{Text: "hello", Model: "gpt"}}
			wrapped := cache.NewLLMProvider(inner, c)
			req := providers.CompletionRequest{Model: "gpt", Prompt: "hi"}

			resp, err := wrapped.Complete(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Text).To(Equal("hello"))
			Expect(inner.calls).To(Equal(1))

			resp2, err := wrapped.Complete(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp2.Text).To(Equal("hello"))
			Expect(inner.calls).To(Equal(1)) // second call served from cache
		})

		It("does not cache an error response", func() {
			inner := &stubLLM{err: providers.NewRateLimitError()}
			wrapped := cache.NewLLMProvider(inner, c)
			req := providers.CompletionRequest{Model: "gpt", Prompt: "hi"}

			_, err := wrapped.Complete(context.Background(), req)
			Expect(err).To(HaveOccurred())

			_, err = wrapped.Complete(context.Background(), req)
			Expect(err).To(HaveOccurred())
			Expect(inner.calls).To(Equal(2)) // no cache entry written on failure
		})

		It("distinguishes requests by prompt", func() {
			inner := &stubLLM{resp: providers.CompletionResponse{Text: "hello", Model: "gpt"}}
			wrapped := cache.NewLLMProvider(inner, c)

			_, err := wrapped.Complete(context.Background(), providers.CompletionRequest{Model: "gpt", Prompt: "hi"})
			Expect(err).NotTo(HaveOccurred())
			_, err = wrapped.Complete(context.Background(), providers.CompletionRequest{Model: "gpt", Prompt: "bye"})
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.calls).To(Equal(2))
		})

		It("falls through to the provider when the cache entry expired", func() {
			inner := &stubLLM{resp: providers.CompletionResponse{Text: "hello", Model: "gpt"}}
			wrapped := cache.NewLLMProvider(inner, c)
			req := providers.CompletionRequest{Model: "gpt", Prompt: "hi"}

			_, err := wrapped.Complete(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.calls).To(Equal(1))

			server.FastForward(2 * time.Minute)

			_, err = wrapped.Complete(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.calls).To(Equal(2))
		})
	})

	Describe("EmbeddingProvider", func() {
		It("calls through on a cache miss and caches the response", func() {
			inner := &stubEmbedder{resp: providers.EmbeddingResponse{Embeddings: [][]float32{{0.1, 0.2}}, Model: "embed-1"}}
			wrapped := cache.NewEmbeddingProvider(inner, c)
			req := providers.EmbeddingRequest{Model: "embed-1", Input: []string{"text"}}

			resp, err := wrapped.Embed(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Embeddings).To(HaveLen(1))
			Expect(inner.calls).To(Equal(1))

			_, err = wrapped.Embed(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(inner.calls).To(Equal(1))
		})

		It("delegates MaxBatchSize and Name to the wrapped provider", func() {
			inner := &stubEmbedder{}
			wrapped := cache.NewEmbeddingProvider(inner, c)
			Expect(wrapped.MaxBatchSize()).To(Equal(96))
			Expect(wrapped.Name()).To(Equal("stub"))
		})
	})
})
