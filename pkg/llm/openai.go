package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
)

// OpenAIConfig configures the reasoning-first provider.
type OpenAIConfig struct {
	APIKey string
	Model  string
}

// OpenAI streams token-at-a-time deltas.
type OpenAI struct {
	api   openai.Client
	model string
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates the OpenAI driver.
func NewOpenAI(cfg *OpenAIConfig) (*OpenAI, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: OpenAI API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAI{
		api:   openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model: model,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) buildMessages(req *StreamRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	return msgs
}

// Stream opens a streaming chat completion.
func (o *OpenAI) Stream(ctx context.Context, req *StreamRequest) (Stream, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: o.buildMessages(req),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	return &openaiStream{inner: o.api.Chat.Completions.NewStreaming(ctx, params)}, nil
}

// Complete runs a low-temperature non-streaming call.
func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.1),
	})
	if err != nil {
		return "", fmt.Errorf("llm: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type openaiStream struct {
	inner *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) Recv() (Token, error) {
	for s.inner.Next() {
		chunk := s.inner.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return Token{Text: content}, nil
		}
	}
	if err := s.inner.Err(); err != nil {
		return Token{}, err
	}
	return Token{}, io.EOF
}

func (s *openaiStream) Close() error {
	return s.inner.Close()
}
