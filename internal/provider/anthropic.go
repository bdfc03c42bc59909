package provider

import (
	"context"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/petasbytes/go-chat/internal/config"
	"github.com/petasbytes/go-chat/memory"
)

type anthropicBackend struct {
	client anthropic.Client
	model  config.Model
	logger *slog.Logger
}

func newAnthropicBackend(m config.Model, o options) *anthropicBackend {
	opts := []option.RequestOption{option.WithMaxRetries(maxRetries)}
	// An empty key leaves the SDK reading ANTHROPIC_API_KEY.
	if m.APIKey != "" {
		opts = append(opts, option.WithAPIKey(m.APIKey))
	}
	if m.APIBase != "" {
		opts = append(opts, option.WithBaseURL(m.APIBase))
	}
	if m.Parameters.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(m.Parameters.Timeout))
	}
	if o.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(o.httpClient))
	}
	return &anthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  m,
		logger: o.logger.With("provider", string(m.Provider), "model", m.ModelName),
	}
}

func (b *anthropicBackend) StreamCompletion(ctx context.Context, msgs []memory.Message) Stream {
	system, conv := anthropicMessages(msgs)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model.ModelName),
		MaxTokens:   int64(b.model.Parameters.MaxTokens),
		Messages:    conv,
		Temperature: anthropic.Float(b.model.Parameters.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	b.logger.Debug("stream request", "messages", len(conv))

	src := b.client.Messages.NewStreaming(ctx, params)
	return newTextStream(src, func(ev anthropic.MessageStreamEventUnion) string {
		switch e := ev.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if d, ok := e.Delta.AsAny().(anthropic.TextDelta); ok {
				return d.Text
			}
		}
		return ""
	}, b.logger)
}

func (b *anthropicBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return Classify(err)
	}
	return nil
}

// anthropicMessages splits system messages into the top-level system prompt.
// The API requires the conversation to open with a user turn, so assistant
// messages left at the front by windowing are skipped.
func anthropicMessages(msgs []memory.Message) (string, []anthropic.MessageParam) {
	var system []string
	conv := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case memory.RoleSystem:
			system = append(system, m.Content)
		case memory.RoleAssistant:
			if len(conv) == 0 {
				continue
			}
			conv = append(conv, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			conv = append(conv, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(system, "\n\n"), conv
}
