package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/retry"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

func TestRetry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retry Executor Suite")
}

var _ = Describe("RetryPolicy", func() {
	It("applies the documented defaults", func() {
		p := types.DefaultRetryPolicy()
		Expect(p.MaxAttempts).To(Equal(uint32(3)))
		Expect(p.InitialDelay).To(Equal(100 * time.Millisecond))
		Expect(p.MaxDelay).To(Equal(30 * time.Second))
		Expect(p.Jitter).To(BeTrue())
		Expect(p.IsEnabled()).To(BeTrue())
	})

	It("a zero max_attempts policy is disabled", func() {
		p := types.RetryPolicy{MaxAttempts: 0}
		Expect(p.IsEnabled()).To(BeFalse())
	})
})

var _ = Describe("Executor", func() {
	It("succeeds on the first attempt without retrying", func() {
		policy := types.RetryPolicy{MaxAttempts: 3, Backoff: types.BackoffExponential,
			InitialDelayMs: 10, MaxDelayMs: 100, Jitter: false}
		ex := retry.New(policy, nil)

		calls := 0
		result, err := ex.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			calls++
			return 42, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(42))
		Expect(calls).To(Equal(1))
	})

	It("retries on a retryable error and eventually succeeds", func() {
		policy := types.RetryPolicy{MaxAttempts: 3, Backoff: types.BackoffExponential,
			InitialDelayMs: 1, MaxDelayMs: 10, Jitter: false}
		ex := retry.New(policy, nil)

		calls := 0
		result, err := ex.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, apperrors.NewProviderError("test", errors.New("transient failure"))
			}
			return 42, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(42))
		Expect(calls).To(Equal(3))
	})

	It("gives up after the maximum number of attempts", func() {
		policy := types.RetryPolicy{MaxAttempts: 2, Backoff: types.BackoffExponential,
			InitialDelayMs: 1, MaxDelayMs: 10, Jitter: false}
		ex := retry.New(policy, nil)

		calls := 0
		_, err := ex.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, apperrors.NewProviderError("test", errors.New("always fails"))
		})

		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(3)) // initial attempt + 2 retries
	})

	It("does not retry a non-retryable error", func() {
		policy := types.RetryPolicy{MaxAttempts: 5, Backoff: types.BackoffExponential,
			InitialDelayMs: 1, MaxDelayMs: 10, Jitter: false}
		ex := retry.New(policy, nil)

		calls := 0
		_, err := ex.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, apperrors.NewValidationError("bad input")
		})

		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("passes the current attempt number through ExecuteWithInfo", func() {
		policy := types.RetryPolicy{MaxAttempts: 3, Backoff: types.BackoffExponential,
			InitialDelayMs: 1, MaxDelayMs: 10, Jitter: false}
		ex := retry.New(policy, nil)

		var seenAttempts []uint32
		_, err := ex.ExecuteWithInfo(context.Background(), func(ctx context.Context, attempt uint32) (interface{}, error) {
			seenAttempts = append(seenAttempts, attempt)
			if attempt < 2 {
				return nil, apperrors.NewProviderError("test", errors.New("retry me"))
			}
			return "ok", nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(seenAttempts).To(Equal([]uint32{0, 1, 2}))
	})

	It("respects context cancellation while waiting between retries", func() {
		policy := types.RetryPolicy{MaxAttempts: 5, Backoff: types.BackoffConstant,
			InitialDelayMs: 50, MaxDelayMs: 50, Jitter: false}
		ex := retry.New(policy, nil)

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()

		_, err := ex.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, apperrors.NewProviderError("test", errors.New("keep failing"))
		})

		Expect(err).To(HaveOccurred())
	})
})
