package llm

import "log"

const (
	maxTokensDefault  = 32000
	maxTokensThinking = 50000
)

// SelectorInput describes the turn for model selection.
type SelectorInput struct {
	// SentenciaMode routes judicial-decision analysis to the reasoning-first
	// provider.
	SentenciaMode bool

	// ThinkingMode is set when documents are attached or the turn is a
	// drafting task.
	ThinkingMode bool

	// CacheName is the active context cache, empty when none is valid.
	CacheName string

	// HasLargeDocument suppresses the cache path: corpus + document +
	// history could exceed the provider's context window.
	HasLargeDocument bool
}

// Selection is the resolved model choice for one turn.
type Selection struct {
	Provider        Provider
	Model           string // empty uses the driver default
	MaxOutputTokens int
	Thinking        bool
	CachedContent   string
	Label           string // reported in X-Model-Used
}

// Selector picks among the configured providers in the priority order of the
// orchestrator. Any provider may be nil; selection falls through.
type Selector struct {
	OpenAI    Provider
	Anthropic Provider
	Gemini    Provider
}

// Select resolves the provider, model flags and output budget for a turn.
func (s *Selector) Select(in SelectorInput) Selection {
	if in.SentenciaMode && s.OpenAI != nil {
		return Selection{
			Provider:        s.OpenAI,
			MaxOutputTokens: maxTokensDefault,
			Label:           "openai-reasoning",
		}
	}

	if in.ThinkingMode && s.Anthropic != nil {
		return Selection{
			Provider:        s.Anthropic,
			MaxOutputTokens: maxTokensThinking,
			Thinking:        true,
			Label:           "claude-thinking",
		}
	}

	if in.CacheName != "" && !in.HasLargeDocument && s.Gemini != nil {
		return Selection{
			Provider:        s.Gemini,
			MaxOutputTokens: maxTokensDefault,
			CachedContent:   in.CacheName,
			Label:           "gemini-cached",
		}
	}

	if s.Anthropic != nil {
		return Selection{Provider: s.Anthropic, MaxOutputTokens: maxTokensDefault, Label: "claude"}
	}
	if s.Gemini != nil {
		return Selection{Provider: s.Gemini, MaxOutputTokens: maxTokensDefault, Label: "gemini"}
	}

	log.Printf("[LLM] no preferred provider available, using openai")
	return Selection{Provider: s.OpenAI, MaxOutputTokens: maxTokensDefault, Label: "openai"}
}

// Utility returns the provider used for planner calls: the cheapest
// configured one.
func (s *Selector) Utility() Provider {
	if s.Gemini != nil {
		return s.Gemini
	}
	if s.OpenAI != nil {
		return s.OpenAI
	}
	return s.Anthropic
}
