package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiConfig configures the cached-context provider.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Gemini streams part-list chunks and is the only driver that honors
// CachedContent.
type Gemini struct {
	client *genai.Client
	model  string
}

var _ Provider = (*Gemini)(nil)

// NewGemini creates the Gemini driver over a shared client.
func NewGemini(ctx context.Context, cfg *GeminiConfig) (*Gemini, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash-001"
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Client exposes the shared genai client for the context-cache manager.
func (g *Gemini) Client() *genai.Client { return g.client }

func (g *Gemini) generativeModel(req *StreamRequest) *genai.GenerativeModel {
	name := req.Model
	if name == "" {
		name = g.model
	}

	model := g.client.GenerativeModel(name)
	if req.CachedContent != "" {
		model.CachedContentName = req.CachedContent
	} else if req.System != "" {
		// System instruction lives inside the cache when one is attached.
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxOutputTokens))
	}
	return model
}

// Stream opens a streaming chat with the full history replayed.
func (g *Gemini) Stream(ctx context.Context, req *StreamRequest) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("llm: at least one message is required")
	}

	model := g.generativeModel(req)
	session := model.StartChat()

	history := req.Messages[:len(req.Messages)-1]
	last := req.Messages[len(req.Messages)-1]

	session.History = make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	iter := session.SendMessageStream(ctx, genai.Text(last.Content))
	return &geminiStream{iter: iter}, nil
}

// Complete runs a single-shot generation.
func (g *Gemini) Complete(ctx context.Context, system, user string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", fmt.Errorf("llm: generation failed: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String(), nil
}

// geminiStream flattens part-list chunks into single tokens.
type geminiStream struct {
	iter    *genai.GenerateContentResponseIterator
	pending []string
}

func (s *geminiStream) Recv() (Token, error) {
	for {
		if len(s.pending) > 0 {
			text := s.pending[0]
			s.pending = s.pending[1:]
			return Token{Text: text}, nil
		}

		resp, err := s.iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				return Token{}, io.EOF
			}
			return Token{}, err
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if text, ok := part.(genai.Text); ok && string(text) != "" {
					s.pending = append(s.pending, string(text))
				}
			}
		}
	}
}

func (s *geminiStream) Close() error { return nil }
