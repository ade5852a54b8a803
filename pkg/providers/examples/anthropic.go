// Package examples provides concrete provider adapters kept outside
// the engine's core import graph: the engine depends only on
// pkg/providers' interfaces, and a deployment wires in whichever of
// these (or its own) adapters it needs via the façade's WithProvider
// family. Grounded in the domain stack's anthropics/anthropic-sdk-go
// and aws-sdk-go-v2/service/bedrockruntime dependencies, both of which
// also appear in the teacher repo's own go.mod.
package examples

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/circuitbreaker"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers"
)

// AnthropicProvider implements providers.LLMProvider against the
// Anthropic Messages API, with calls to Messages.New protected by a
// circuit breaker so a degraded upstream stops receiving new requests
// for a cooldown window instead of piling up timeouts.
type AnthropicProvider struct {
	client  anthropic.Client
	name    string
	breaker *circuitbreaker.Breaker
}

// NewAnthropicProvider constructs a provider registered under name
// (the identifier workflow LLM steps declare as their `provider`
// field), authenticating with apiKey.
func NewAnthropicProvider(name, apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		name:    name,
		breaker: circuitbreaker.New(circuitbreaker.Config{Name: "anthropic:" + name}, nil),
	}
}

var _ providers.LLMProvider = (*AnthropicProvider)(nil)

func (p *AnthropicProvider) Name() string { return p.name }

// Complete sends req as a single-turn user message, applying system
// and temperature only when set.
func (p *AnthropicProvider) Complete(ctx context.Context, req providers.CompletionRequest) (providers.CompletionResponse, error) {
	maxTokens := int64(1024)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}

	result, err := p.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return p.client.Messages.New(ctx, params)
	})
	if err != nil {
		return providers.CompletionResponse{}, providers.NewProviderSpecificError(fmt.Sprintf("%s: %v", p.name, err))
	}
	msg := result.(*anthropic.Message)

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	var tokensUsed *uint32
	total := uint32(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	tokensUsed = &total

	return providers.CompletionResponse{
		Text:       text,
		Model:      string(msg.Model),
		TokensUsed: tokensUsed,
		Metadata: map[string]interface{}{
			"stop_reason":    string(msg.StopReason),
			"input_tokens":   msg.Usage.InputTokens,
			"output_tokens":  msg.Usage.OutputTokens,
			"anthropic_id":   msg.ID,
		},
	}, nil
}

// HealthCheck issues a minimal completion request to confirm the API
// key and network path are functional.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return providers.NewProviderSpecificError(fmt.Sprintf("%s: health check failed: %v", p.name, err))
	}
	return nil
}
