package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/health"
)

func TestHealth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Health Aggregator Suite")
}

type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(ctx context.Context) error { return s.err }

var _ = Describe("Aggregator", func() {
	It("reports healthy when every component succeeds", func() {
		agg := health.NewAggregator(nil)
		agg.Register("a", stubChecker{}).Register("b", stubChecker{})

		result := agg.Check(context.Background(), time.Second)
		Expect(result.Status).To(Equal(health.StatusHealthy))
		Expect(result.Components).To(HaveLen(2))
	})

	It("reports degraded when some but not all components fail", func() {
		agg := health.NewAggregator(nil)
		agg.Register("ok", stubChecker{}).Register("bad", stubChecker{err: errors.New("down")})

		result := agg.Check(context.Background(), time.Second)
		Expect(result.Status).To(Equal(health.StatusDegraded))
		Expect(result.Components["bad"].Status).To(Equal(health.StatusUnhealthy))
		Expect(result.Components["ok"].Status).To(Equal(health.StatusHealthy))
	})

	It("reports unhealthy when every component fails", func() {
		agg := health.NewAggregator(nil)
		agg.Register("bad", stubChecker{err: errors.New("down")})

		result := agg.Check(context.Background(), time.Second)
		Expect(result.Status).To(Equal(health.StatusUnhealthy))
	})

	It("reports healthy with no registered components", func() {
		agg := health.NewAggregator(nil)
		result := agg.Check(context.Background(), time.Second)
		Expect(result.Status).To(Equal(health.StatusHealthy))
		Expect(result.Components).To(BeEmpty())
	})
})
