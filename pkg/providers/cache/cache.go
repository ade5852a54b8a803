// Package cache decorates an LLMProvider/EmbeddingProvider with a
// Redis-backed response cache keyed by a hash of (provider, model,
// rendered request), so repeated steps across workflow runs (or
// retried steps within one run) skip the round trip to the upstream
// model when an identical request was already answered.
//
// Grounded in the domain stack's redis/go-redis/v9 dependency; tested
// against alicebob/miniredis/v2 per SPEC_FULL.md's test tooling section.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers"
)

// Cache is a thin Redis client wrapper used by both decorator types
// below.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *logrus.Entry
}

// New constructs a Cache bound to an existing Redis client.
func New(rdb *redis.Client, ttl time.Duration, log *logrus.Entry) *Cache {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(namespace, provider, model string, payload interface{}) string {
	body, _ := json.Marshal(payload)
	sum := sha256.Sum256(body)
	return fmt.Sprintf("llm-orchestrator:%s:%s:%s:%s", namespace, provider, model, hex.EncodeToString(sum[:]))
}

func (c *Cache) get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Debug("cache read failed; falling through to provider")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.WithError(err).Warn("cache entry unmarshal failed; discarding")
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).Warn("cache entry marshal failed; not caching")
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("cache write failed")
	}
}

// LLMProvider decorates a providers.LLMProvider with cache-aside reads
// and writes on Complete.
type LLMProvider struct {
	inner providers.LLMProvider
	cache *Cache
}

// NewLLMProvider wraps inner with cache-aside behavior.
func NewLLMProvider(inner providers.LLMProvider, cache *Cache) *LLMProvider {
	return &LLMProvider{inner: inner, cache: cache}
}

var _ providers.LLMProvider = (*LLMProvider)(nil)

func (p *LLMProvider) Name() string { return p.inner.Name() }

func (p *LLMProvider) HealthCheck(ctx context.Context) error { return p.inner.HealthCheck(ctx) }

// Complete checks the cache before delegating to the wrapped provider,
// and stores a fresh response afterward.
func (p *LLMProvider) Complete(ctx context.Context, req providers.CompletionRequest) (providers.CompletionResponse, error) {
	key := cacheKey("completion", p.inner.Name(), req.Model, req)

	var cached providers.CompletionResponse
	if p.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	resp, err := p.inner.Complete(ctx, req)
	if err != nil {
		return resp, err
	}
	p.cache.set(ctx, key, resp)
	return resp, nil
}

// EmbeddingProvider decorates a providers.EmbeddingProvider with
// cache-aside reads and writes on Embed.
type EmbeddingProvider struct {
	inner providers.EmbeddingProvider
	cache *Cache
}

// NewEmbeddingProvider wraps inner with cache-aside behavior.
func NewEmbeddingProvider(inner providers.EmbeddingProvider, cache *Cache) *EmbeddingProvider {
	return &EmbeddingProvider{inner: inner, cache: cache}
}

var _ providers.EmbeddingProvider = (*EmbeddingProvider)(nil)

func (p *EmbeddingProvider) Name() string { return p.inner.Name() }

func (p *EmbeddingProvider) HealthCheck(ctx context.Context) error { return p.inner.HealthCheck(ctx) }

func (p *EmbeddingProvider) MaxBatchSize() int { return p.inner.MaxBatchSize() }

// Embed checks the cache before delegating to the wrapped provider, and
// stores a fresh response afterward.
func (p *EmbeddingProvider) Embed(ctx context.Context, req providers.EmbeddingRequest) (providers.EmbeddingResponse, error) {
	key := cacheKey("embedding", p.inner.Name(), req.Model, req)

	var cached providers.EmbeddingResponse
	if p.cache.get(ctx, key, &cached) {
		return cached, nil
	}

	resp, err := p.inner.Embed(ctx, req)
	if err != nil {
		return resp, err
	}
	p.cache.set(ctx, key, resp)
	return resp, nil
}
