package models

import (
	"lexmx-backend/pkg/llm"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages            []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Estado              string        `json:"estado" validate:"omitempty,max=50"`
	TopK                int           `json:"top_k" validate:"omitempty,min=1,max=80"`
	EnableReasoning     bool          `json:"enable_reasoning"`
	EnableGenioJuridico bool          `json:"enable_genio_juridico"`
	UserID              string        `json:"user_id" validate:"omitempty,max=100"`
	Materia             string        `json:"materia" validate:"omitempty,oneof=penal civil mercantil laboral administrativo fiscal familiar constitucional procesal agrario"`
	Fuero               string        `json:"fuero" validate:"omitempty,oneof=constitucional federal estatal"`
}

// ChatMessage is one turn of client-supplied history.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// LastUserMessage returns the content of the most recent user turn, or "".
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ToLLMMessages converts the history to the provider-neutral shape.
func (r *ChatRequest) ToLLMMessages() []llm.Message {
	out := make([]llm.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	return out
}
