package provider

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/petasbytes/go-chat/internal/config"
	"github.com/petasbytes/go-chat/memory"
)

// maxRetries bounds SDK retries on connection errors and 5xx answers. A chat
// turn that fails should surface quickly rather than back off for long.
const maxRetries = 1

// openAIBackend speaks the chat-completions protocol to any OpenAI-compatible
// server (vLLM, llama.cpp, Ollama, hosted APIs).
type openAIBackend struct {
	client openai.Client
	model  config.Model
	logger *slog.Logger
}

func newOpenAIBackend(m config.Model, o options) *openAIBackend {
	opts := []option.RequestOption{
		option.WithBaseURL(m.APIBase),
		option.WithMaxRetries(maxRetries),
	}
	if m.APIKey != "" {
		opts = append(opts, option.WithAPIKey(m.APIKey))
	} else {
		// Local servers usually ignore the key but the SDK still sends one.
		opts = append(opts, option.WithAPIKey("EMPTY"))
	}
	if m.Parameters.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(m.Parameters.Timeout))
	}
	if o.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(o.httpClient))
	}
	return &openAIBackend{
		client: openai.NewClient(opts...),
		model:  m,
		logger: o.logger.With("provider", string(m.Provider), "model", m.ModelName),
	}
}

func (b *openAIBackend) StreamCompletion(ctx context.Context, msgs []memory.Message) Stream {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(b.model.ModelName),
		Messages:    openAIMessages(msgs),
		Temperature: openai.Float(b.model.Parameters.Temperature),
	}
	if b.model.Parameters.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(b.model.Parameters.MaxTokens))
	}
	b.logger.Debug("stream request", "messages", len(msgs))

	src := b.client.Chat.Completions.NewStreaming(ctx, params)
	return newTextStream(src, func(chunk openai.ChatCompletionChunk) string {
		if len(chunk.Choices) == 0 {
			return ""
		}
		return chunk.Choices[0].Delta.Content
	}, b.logger)
}

// Ping lists models; servers without a models endpoint report ModelNotFound.
func (b *openAIBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Models.List(ctx); err != nil {
		return Classify(err)
	}
	return nil
}

func openAIMessages(msgs []memory.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case memory.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case memory.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
