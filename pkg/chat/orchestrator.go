package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"lexmx-backend/pkg/citations"
	"lexmx-backend/pkg/llm"
	llmcache "lexmx-backend/pkg/llm/cache"
	"lexmx-backend/pkg/models"
	"lexmx-backend/pkg/search/contextbuilder"
)

const (
	// CacheMarker signals to the client that the cached corpus answered.
	CacheMarker = "<!--CACHE:ACTIVE-->"

	// attached-content markers the frontend wraps uploads with.
	docMarker       = "[DOCUMENTO ADJUNTO]"
	sentenciaMarker = "[SENTENCIA ADJUNTA]"

	// maxSentenciaChars truncates attached judicial decisions in history.
	maxSentenciaChars = 80000

	// largeDocumentChars: above this an attachment disables the cache path
	// (corpus + document + history could exceed the provider window).
	largeDocumentChars = 50000
)

// TurnRequest is one chat turn, assembled by the handler.
type TurnRequest struct {
	Messages        []llm.Message
	Bundle          *contextbuilder.Bundle
	Entidad         string
	EnableReasoning bool
	EnableGenio     bool
	SentenciaMode   bool
}

// Turn is a prepared streaming turn.
type Turn struct {
	selection llm.Selection
	request   *llm.StreamRequest
	docIDMap  map[string]*models.Document
	cached    bool
}

// ModelLabel reports the chosen model for the X-Model-Used header.
func (t *Turn) ModelLabel() string { return t.selection.Label }

// ThinkingMode reports whether the chain-of-thought flag is active.
func (t *Turn) ThinkingMode() bool { return t.selection.Thinking }

// Orchestrator composes messages, selects the model and streams the answer.
type Orchestrator struct {
	selector *llm.Selector
	cache    *llmcache.Manager
}

// NewOrchestrator wires the streaming orchestrator.
func NewOrchestrator(selector *llm.Selector, cacheManager *llmcache.Manager) *Orchestrator {
	return &Orchestrator{selector: selector, cache: cacheManager}
}

func hasMarker(messages []llm.Message, marker string) bool {
	for _, m := range messages {
		if strings.Contains(m.Content, marker) {
			return true
		}
	}
	return false
}

func hasLargeAttachment(messages []llm.Message) bool {
	for _, m := range messages {
		if len(m.Content) > largeDocumentChars && (strings.Contains(m.Content, docMarker) || strings.Contains(m.Content, sentenciaMarker)) {
			return true
		}
	}
	return false
}

// detectMode resolves the system-prompt mode from the request shape.
func detectMode(req *TurnRequest) Mode {
	switch {
	case req.SentenciaMode || hasMarker(req.Messages, sentenciaMarker):
		return ModeSentencia
	case hasMarker(req.Messages, docMarker):
		return ModeDocAnalysis
	default:
		return ModeGeneral
	}
}

// truncateSentencias caps attached judicial decisions so history fits the
// provider window.
func truncateSentencias(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		if len(m.Content) > maxSentenciaChars && strings.Contains(m.Content, sentenciaMarker) {
			m.Content = m.Content[:maxSentenciaChars] + "\n[...sentencia truncada...]"
		}
		out[i] = m
	}
	return out
}

// Prepare selects the model and composes the final message list. Order
// matters: system prompt, inventory directive, state instruction, retrieved
// context, doc-id cheat sheet, then the client history.
func (o *Orchestrator) Prepare(ctx context.Context, req *TurnRequest) (*Turn, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("chat: at least one message is required")
	}

	mode := detectMode(req)
	largeDoc := hasLargeAttachment(req.Messages)

	cacheName := ""
	if req.EnableGenio && o.cache != nil && mode != ModeSentencia && !largeDoc {
		name, err := o.cache.GetOrCreate(ctx)
		if err != nil {
			log.Printf("[CHAT] cache unavailable, continuing without: %v", err)
		} else {
			cacheName = name
		}
	}

	selection := o.selector.Select(llm.SelectorInput{
		SentenciaMode:    mode == ModeSentencia,
		ThinkingMode:     req.EnableReasoning || mode == ModeDocAnalysis,
		CacheName:        cacheName,
		HasLargeDocument: largeDoc,
	})
	if selection.CachedContent != "" && o.cache != nil {
		selection.Model = o.cache.Model()
	}

	var preamble strings.Builder
	preamble.WriteString(inventoryDirective)
	preamble.WriteString("\n\n")
	if req.Entidad != "" {
		preamble.WriteString(statePrimacyInstruction(req.Entidad))
		preamble.WriteString("\n\n")
	}
	if req.Bundle != nil && req.Bundle.Context != "" {
		preamble.WriteString(contextHeader)
		preamble.WriteString("\n")
		preamble.WriteString(req.Bundle.Context)
		preamble.WriteString("\n")
		preamble.WriteString(req.Bundle.Inventory)
	}

	history := truncateSentencias(req.Messages)
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: preamble.String()})
	messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: "Entendido. Responderé con base en el contexto jurídico recuperado, citando cada fuente como [Doc ID: <id>]."})
	messages = append(messages, history...)

	docIDMap := map[string]*models.Document{}
	if req.Bundle != nil {
		docIDMap = req.Bundle.DocIDMap
	}

	return &Turn{
		selection: selection,
		request: &llm.StreamRequest{
			Model:           selection.Model,
			System:          systemPrompt(mode),
			Messages:        messages,
			MaxOutputTokens: selection.MaxOutputTokens,
			Thinking:        selection.Thinking,
			CachedContent:   selection.CachedContent,
		},
		docIDMap: docIDMap,
		cached:   selection.CachedContent != "",
	}, nil
}

type flusher interface{ Flush() error }

func write(w io.Writer, s string) {
	if s == "" {
		return
	}
	if _, err := io.WriteString(w, s); err != nil {
		return
	}
	if f, ok := w.(flusher); ok {
		_ = f.Flush()
	}
}

// Stream runs the prepared turn, forwarding tokens to w as they arrive and
// finishing with the citation trailer. LLM failures surface inline; the
// trailer is emitted best-effort on every path.
func (o *Orchestrator) Stream(ctx context.Context, turn *Turn, w io.Writer) {
	if turn.cached {
		write(w, CacheMarker)
	}

	var (
		visible  strings.Builder
		thoughts int
	)

	stream, err := turn.selection.Provider.Stream(ctx, turn.request)
	if err != nil {
		write(w, fmt.Sprintf("❌ Error: %v", err))
		o.finish(w, visible.String(), turn.docIDMap)
		return
	}
	defer stream.Close()

	for {
		token, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				log.Printf("[CHAT] stream error after %d chars: %v", visible.Len(), err)
				write(w, fmt.Sprintf("\n❌ Error: %v", err))
			}
			break
		}
		if token.Thought != "" {
			thoughts += len(token.Thought)
			continue
		}
		visible.WriteString(token.Text)
		write(w, token.Text)
	}

	// The provider can burn the whole budget on hidden reasoning.
	if visible.Len() == 0 && thoughts > 0 {
		log.Printf("[CHAT] empty visible output after %d thought chars, emitting continue fallback", thoughts)
		write(w, continueFallback)
	}

	o.finish(w, visible.String(), turn.docIDMap)
}

// finish validates citations and emits the trailer as the last bytes.
func (o *Orchestrator) finish(w io.Writer, text string, docIDMap map[string]*models.Document) {
	result := citations.Validate(text, docIDMap)
	write(w, "\n"+citations.BuildTrailer(result, docIDMap))

	if result.InvalidCount > 0 {
		log.Printf("[CHAT] %d invalid citation(s) of %d", result.InvalidCount, result.TotalCount)
	}
}
