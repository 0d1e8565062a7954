package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexmx-backend/pkg/llm"
	"lexmx-backend/pkg/models"
	"lexmx-backend/pkg/search/contextbuilder"
)

// scriptedStream replays canned tokens then EOF (or a terminal error).
type scriptedStream struct {
	tokens []llm.Token
	err    error
}

func (s *scriptedStream) Recv() (llm.Token, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return llm.Token{}, s.err
		}
		return llm.Token{}, io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedProvider struct {
	name      string
	stream    *scriptedStream
	streamErr error
	lastReq   *llm.StreamRequest
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Stream(_ context.Context, req *llm.StreamRequest) (llm.Stream, error) {
	p.lastReq = req
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	return p.stream, nil
}

func (p *scriptedProvider) Complete(context.Context, string, string) (string, error) {
	return "", nil
}

func newOrchestrator(p llm.Provider) *Orchestrator {
	return NewOrchestrator(&llm.Selector{Anthropic: p}, nil)
}

func bundleWith(ids ...string) *contextbuilder.Bundle {
	docs := make([]*models.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, &models.Document{ID: id, Ref: "Art. 1", Silo: models.SiloFederal, Texto: "t"})
	}
	return contextbuilder.Assemble(docs, "", nil)
}

func TestPrepare_RequiresMessages(t *testing.T) {
	o := newOrchestrator(&scriptedProvider{name: "anthropic"})
	_, err := o.Prepare(context.Background(), &TurnRequest{})
	assert.Error(t, err)
}

func TestPrepare_MessageCompositionOrder(t *testing.T) {
	p := &scriptedProvider{name: "anthropic", stream: &scriptedStream{}}
	o := newOrchestrator(p)

	turn, err := o.Prepare(context.Background(), &TurnRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "¿plazo de apelación?"}},
		Bundle:   bundleWith("d1"),
		Entidad:  "QUERETARO",
	})
	require.NoError(t, err)

	preamble := turn.request.Messages[0].Content
	posInventory := strings.Index(preamble, "Corpus disponible")
	posState := strings.Index(preamble, "QUERETARO")
	posContext := strings.Index(preamble, "CONTEXTO JURÍDICO RECUPERADO:")
	posCheatSheet := strings.Index(preamble, "IDs de documentos disponibles")

	require.True(t, posInventory >= 0 && posState >= 0 && posContext >= 0 && posCheatSheet >= 0)
	assert.Less(t, posInventory, posState)
	assert.Less(t, posState, posContext)
	assert.Less(t, posContext, posCheatSheet)

	last := turn.request.Messages[len(turn.request.Messages)-1]
	assert.Equal(t, "¿plazo de apelación?", last.Content)
}

func TestStream_TrailerIsLastBytes(t *testing.T) {
	p := &scriptedProvider{name: "anthropic", stream: &scriptedStream{tokens: []llm.Token{
		{Text: "Conforme al artículo 1 "},
		{Text: "[Doc ID: d1]."},
	}}}
	o := newOrchestrator(p)

	turn, err := o.Prepare(context.Background(), &TurnRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "pregunta"}},
		Bundle:   bundleWith("d1"),
	})
	require.NoError(t, err)

	var out strings.Builder
	o.Stream(context.Background(), turn, &out)

	body := out.String()
	assert.Contains(t, body, "Conforme al artículo 1")
	assert.Equal(t, 1, strings.Count(body, "<!-- CITATION_META:"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "-->"), "trailer is the last bytes")
	assert.Contains(t, body, `"valid":1`)
	assert.NotContains(t, body, CacheMarker)
}

func TestStream_InvalidCitationReported(t *testing.T) {
	p := &scriptedProvider{name: "anthropic", stream: &scriptedStream{tokens: []llm.Token{
		{Text: "[Doc ID: 00000000-0000-0000-0000-000000000000]"},
	}}}
	o := newOrchestrator(p)

	turn, err := o.Prepare(context.Background(), &TurnRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
		Bundle:   bundleWith("d1"),
	})
	require.NoError(t, err)

	var out strings.Builder
	o.Stream(context.Background(), turn, &out)

	assert.Contains(t, out.String(), `"invalid_ids":["00000000-0000-0000-0000-000000000000"]`)
	assert.Contains(t, out.String(), "Fuente no verificada")
}

func TestStream_ThoughtsNotForwarded(t *testing.T) {
	p := &scriptedProvider{name: "anthropic", stream: &scriptedStream{tokens: []llm.Token{
		{Thought: "pensando en secreto"},
		{Text: "respuesta visible"},
	}}}
	o := newOrchestrator(p)

	turn, _ := o.Prepare(context.Background(), &TurnRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
	})

	var out strings.Builder
	o.Stream(context.Background(), turn, &out)

	assert.NotContains(t, out.String(), "pensando en secreto")
	assert.Contains(t, out.String(), "respuesta visible")
}

func TestStream_EmptyOutputGuard(t *testing.T) {
	p := &scriptedProvider{name: "anthropic", stream: &scriptedStream{tokens: []llm.Token{
		{Thought: "solo razonamiento"},
	}}}
	o := newOrchestrator(p)

	turn, _ := o.Prepare(context.Background(), &TurnRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
	})

	var out strings.Builder
	o.Stream(context.Background(), turn, &out)

	assert.Contains(t, out.String(), continueFallback)
	assert.Contains(t, out.String(), `"total":0`)
}

func TestStream_ProviderErrorSurfacesInline(t *testing.T) {
	p := &scriptedProvider{name: "anthropic", streamErr: errors.New("rate limited")}
	o := newOrchestrator(p)

	turn, _ := o.Prepare(context.Background(), &TurnRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "q"}},
	})

	var out strings.Builder
	o.Stream(context.Background(), turn, &out)

	assert.Contains(t, out.String(), "❌ Error: rate limited")
	assert.Contains(t, out.String(), "<!-- CITATION_META:", "trailer still emitted")
}

func TestDetectMode(t *testing.T) {
	assert.Equal(t, ModeSentencia, detectMode(&TurnRequest{SentenciaMode: true, Messages: []llm.Message{{Content: "x"}}}))
	assert.Equal(t, ModeSentencia, detectMode(&TurnRequest{Messages: []llm.Message{{Content: "[SENTENCIA ADJUNTA] texto"}}}))
	assert.Equal(t, ModeDocAnalysis, detectMode(&TurnRequest{Messages: []llm.Message{{Content: "[DOCUMENTO ADJUNTO] contrato"}}}))
	assert.Equal(t, ModeGeneral, detectMode(&TurnRequest{Messages: []llm.Message{{Content: "hola"}}}))
}

func TestTruncateSentencias(t *testing.T) {
	long := "[SENTENCIA ADJUNTA]" + strings.Repeat("x", maxSentenciaChars+100)
	out := truncateSentencias([]llm.Message{{Role: llm.RoleUser, Content: long}})
	assert.Less(t, len(out[0].Content), len(long))
	assert.Contains(t, out[0].Content, "sentencia truncada")

	short := []llm.Message{{Role: llm.RoleUser, Content: "corta"}}
	assert.Equal(t, "corta", truncateSentencias(short)[0].Content)
}
