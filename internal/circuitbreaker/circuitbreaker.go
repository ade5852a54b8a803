// Package circuitbreaker wraps provider calls in a sony/gobreaker
// circuit breaker, so a failing LLM/embedding/vector-search provider
// stops receiving new requests for a cooldown period instead of piling
// up timeouts under load.
//
// Grounded stylistically in
// _examples/jordigilh-kubernaut/pkg/orchestration/dependency's
// hand-rolled breaker (named-instance construction, failure-rate
// threshold, GetState/GetName accessors, logrus-entry logging); the
// underlying state machine here is the real sony/gobreaker library per
// the domain stack, not a reimplementation.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
)

// Config configures a Breaker. Zero values fall back to this package's
// defaults: MaxRequests 5, Interval 60s, Timeout 30s, FailureThreshold 0.5.
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
}

func (c Config) applyDefaults() Config {
	if c.MaxRequests == 0 {
		c.MaxRequests = 5
	}
	if c.Interval == 0 {
		c.Interval = 60 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 0.5
	}
	return c
}

// Breaker wraps a gobreaker.CircuitBreaker with the app's error
// classification. The trip decision is this package's own ReadyToTrip,
// a failure-ratio check over gobreaker's Counts.
type Breaker struct {
	cb  *gobreaker.CircuitBreaker
	log *logrus.Entry
}

// New constructs a Breaker that opens once at least 5 requests have
// been observed and the fraction of failures reaches cfg.FailureThreshold.
func New(cfg Config, log *logrus.Entry) *Breaker {
	cfg = cfg.applyDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	entry := log.WithField("circuit", cfg.Name)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			entry.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), log: entry}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string { return b.cb.Name() }

// State reports the breaker's current state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Counts reports the breaker's current rolling counters.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }

// Execute runs fn through the breaker, translating gobreaker's own
// open-circuit sentinel into the engine's ConcurrencyLimitExceeded
// error kind so the retry executor treats an open breaker the same way
// it treats provider backpressure: retryable, with backoff.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		b.log.WithError(err).Debug("circuit breaker rejected call")
		return nil, apperrors.NewConcurrencyLimitError()
	}
	return result, err
}
