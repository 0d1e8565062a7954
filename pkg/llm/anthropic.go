package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

// thinkingBudgetTokens is the reasoning budget when the chain-of-thought
// flag is set.
const thinkingBudgetTokens = 16000

// AnthropicConfig configures the thinking-mode provider.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// Anthropic streams content and thought deltas on separate channels.
type Anthropic struct {
	api   anthropic.Client
	model string
}

var _ Provider = (*Anthropic)(nil)

// NewAnthropic creates the Claude driver.
func NewAnthropic(cfg *AnthropicConfig) (*Anthropic, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: Anthropic API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &Anthropic{
		api:   anthropic.NewClient(anthropicoption.WithAPIKey(cfg.APIKey)),
		model: model,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) buildParams(req *StreamRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.model
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxOutputTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudgetTokens)
	}
	return params
}

// Stream opens a streaming message.
func (a *Anthropic) Stream(ctx context.Context, req *StreamRequest) (Stream, error) {
	return &anthropicStream{inner: a.api.Messages.NewStreaming(ctx, a.buildParams(req))}, nil
}

// Complete runs a non-streaming message and concatenates the text blocks.
func (a *Anthropic) Complete(ctx context.Context, system, user string) (string, error) {
	params := a.buildParams(&StreamRequest{
		System:          system,
		Messages:        []Message{{Role: RoleUser, Content: user}},
		MaxOutputTokens: 2048,
	})

	resp, err := a.api.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: message failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}
	return sb.String(), nil
}

type anthropicStream struct {
	inner interface {
		Next() bool
		Current() anthropic.MessageStreamEventUnion
		Err() error
		Close() error
	}
}

func (s *anthropicStream) Recv() (Token, error) {
	for s.inner.Next() {
		event := s.inner.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				return Token{Text: delta.Text}, nil
			case anthropic.ThinkingDelta:
				return Token{Thought: delta.Thinking}, nil
			}
		}
	}
	if err := s.inner.Err(); err != nil {
		return Token{}, err
	}
	return Token{}, io.EOF
}

func (s *anthropicStream) Close() error {
	return s.inner.Close()
}
