package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
	"github.com/scottwelch968/Spork-V2-sub003/internal/pricing"
)

// OpenAIClient is a Completer backed by any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client  *openai.Client
	pricing *pricing.Calculator
}

// NewOpenAIClient creates a client for the given API key and optional
// base URL (empty uses the provider default).
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		pricing: pricing.Default(),
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []model.Message, modelID string) (*model.CompletionResult, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    stripProviderPrefix(modelID),
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return nil, classify(err, modelID)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model %s returned no choices", model.ErrUpstreamCallFailed, modelID)
	}

	usage := model.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return &model.CompletionResult{
		Text:  resp.Choices[0].Message.Content,
		Model: modelID,
		Usage: usage,
		Cost:  c.pricing.TotalCost(modelID, usage.PromptTokens, usage.CompletionTokens),
	}, nil
}

func (c *OpenAIClient) CompleteStream(ctx context.Context, messages []model.Message, modelID string, onDelta func(string)) (*model.CompletionResult, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    stripProviderPrefix(modelID),
		Messages: toOpenAIMessages(messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	})
	if err != nil {
		return nil, classify(err, modelID)
	}
	defer stream.Close()

	var text strings.Builder
	var usage model.Usage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classify(err, modelID)
		}
		if len(chunk.Choices) > 0 {
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				text.WriteString(delta)
				if onDelta != nil {
					onDelta(delta)
				}
			}
		}
		if chunk.Usage != nil {
			usage = model.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}

	return &model.CompletionResult{
		Text:  text.String(),
		Model: modelID,
		Usage: usage,
		Cost:  c.pricing.TotalCost(modelID, usage.PromptTokens, usage.CompletionTokens),
	}, nil
}

func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// stripProviderPrefix removes a "provider/" prefix from catalog model IDs;
// the upstream API expects the bare model name.
func stripProviderPrefix(modelID string) string {
	if idx := strings.LastIndex(modelID, "/"); idx >= 0 {
		return modelID[idx+1:]
	}
	return modelID
}

// classify wraps provider errors so the queue can tell transient failures
// from permanent ones. Invalid-request responses are permanent; everything
// else (rate limits, 5xx, network) is retryable.
func classify(err error, modelID string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 429 {
		return fmt.Errorf("model %s rejected request: %w", modelID, err)
	}
	return fmt.Errorf("%w: model %s: %v", model.ErrUpstreamCallFailed, modelID, err)
}
