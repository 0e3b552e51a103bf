package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIResponder generates replies via the OpenAI chat completion API.
type OpenAIResponder struct {
	client      *openai.Client
	model       string
	temperature float64
	logger      *zap.Logger
}

func NewOpenAIResponder(apiKey, model string, temperature float64, logger *zap.Logger) *OpenAIResponder {
	return &OpenAIResponder{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

func (r *OpenAIResponder) Complete(ctx context.Context, prompt, message string, maxLength int) (Reply, error) {
	resp, err := r.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: r.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: prompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: message,
				},
			},
			MaxTokens:   maxLength,
			Temperature: float32(r.temperature),
		},
	)
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return Reply{}, fmt.Errorf("chat completion returned empty content")
	}

	// The API reports no confidence; use finish reason as a coarse proxy.
	confidence := 0.9
	if choice.FinishReason != openai.FinishReasonStop {
		confidence = 0.7
	}
	return Reply{Text: text, Confidence: confidence}, nil
}

// Ping issues a minimal completion to verify credentials and connectivity.
func (r *OpenAIResponder) Ping(ctx context.Context) bool {
	_, err := r.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: r.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: "ping"},
			},
			MaxTokens: 1,
		},
	)
	if err != nil {
		r.logger.Error("AI liveness probe failed", zap.Error(err))
		return false
	}
	return true
}
