package examples

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/circuitbreaker"
	"github.com/globalbusinessadvisors/llm-orchestrator/pkg/providers"
)

// BedrockProvider implements providers.LLMProvider against Amazon
// Bedrock's InvokeModel API using the Anthropic Claude Messages request
// shape Bedrock exposes for claude-3-family models. InvokeModel calls
// run through a circuit breaker so a degraded region stops receiving
// new requests for a cooldown window.
type BedrockProvider struct {
	client  *bedrockruntime.Client
	name    string
	breaker *circuitbreaker.Breaker
}

// bedrockMessagesRequest is the wire shape Bedrock's Anthropic-family
// models accept via InvokeModel.
type bedrockMessagesRequest struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	System           string                   `json:"system,omitempty"`
	Temperature      *float64                 `json:"temperature,omitempty"`
	Messages         []bedrockMessagesContent `json:"messages"`
}

type bedrockMessagesContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockMessagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewBedrockProvider constructs a provider registered under name,
// loading AWS credentials and region from the default credential chain
// (environment, shared config, IAM role).
func NewBedrockProvider(ctx context.Context, name, region string) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, providers.NewProviderSpecificError(fmt.Sprintf("%s: failed to load AWS config: %v", name, err))
	}
	return &BedrockProvider{
		client:  bedrockruntime.NewFromConfig(cfg),
		name:    name,
		breaker: circuitbreaker.New(circuitbreaker.Config{Name: "bedrock:" + name}, nil),
	}, nil
}

var _ providers.LLMProvider = (*BedrockProvider)(nil)

func (p *BedrockProvider) Name() string { return p.name }

// Complete invokes req.Model (a Bedrock model id, e.g.
// "anthropic.claude-3-5-sonnet-20241022-v2:0") with a single user turn.
func (p *BedrockProvider) Complete(ctx context.Context, req providers.CompletionRequest) (providers.CompletionResponse, error) {
	maxTokens := 1024
	if req.MaxTokens != nil {
		maxTokens = int(*req.MaxTokens)
	}

	body := bedrockMessagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           req.System,
		Messages:         []bedrockMessagesContent{{Role: "user", Content: req.Prompt}},
	}
	if req.Temperature != nil {
		t := float64(*req.Temperature)
		body.Temperature = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return providers.CompletionResponse{}, providers.NewSerializationError(err.Error())
	}

	result, err := p.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(req.Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        payload,
		})
	})
	if err != nil {
		return providers.CompletionResponse{}, providers.NewProviderSpecificError(fmt.Sprintf("%s: %v", p.name, err))
	}
	out := result.(*bedrockruntime.InvokeModelOutput)

	var resp bedrockMessagesResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return providers.CompletionResponse{}, providers.NewSerializationError(err.Error())
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	tokens := uint32(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	return providers.CompletionResponse{
		Text:       text,
		Model:      req.Model,
		TokensUsed: &tokens,
		Metadata: map[string]interface{}{
			"stop_reason":   resp.StopReason,
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	}, nil
}

// HealthCheck issues a minimal InvokeModel call against a fast, cheap
// model id to confirm credentials and network path are functional.
func (p *BedrockProvider) HealthCheck(ctx context.Context) error {
	one := uint32(1)
	_, err := p.Complete(ctx, providers.CompletionRequest{
		Model:     "anthropic.claude-3-haiku-20240307-v1:0",
		Prompt:    "ping",
		MaxTokens: &one,
	})
	if err != nil {
		return providers.NewProviderSpecificError(fmt.Sprintf("%s: health check failed: %v", p.name, err))
	}
	return nil
}
