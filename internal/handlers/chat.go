package handlers

import (
	"bufio"
	"context"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"lexmx-backend/internal/models"
	"lexmx-backend/pkg/chat"
	"lexmx-backend/pkg/monitoring"
	"lexmx-backend/pkg/quota"
	"lexmx-backend/pkg/search"
	"lexmx-backend/pkg/search/contextbuilder"
	"lexmx-backend/pkg/security"
)

const retrievalTimeout = 60 * time.Second

// Retriever is the retrieval surface the chat handler depends on.
type Retriever interface {
	Retrieve(ctx context.Context, req *search.Request) (*search.Result, error)
}

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	retriever Retriever
	orch      *chat.Orchestrator
	quota     *quota.Store
	collector *monitoring.Collector
	validate  *validator.Validate
}

// NewChatHandler creates the chat handler.
func NewChatHandler(retriever Retriever, orch *chat.Orchestrator, quotaStore *quota.Store, collector *monitoring.Collector) *ChatHandler {
	return &ChatHandler{
		retriever: retriever,
		orch:      orch,
		quota:     quotaStore,
		collector: collector,
		validate:  validator.New(),
	}
}

// Chat handles POST /chat: gates, retrieval and the streamed answer.
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	if h.collector != nil {
		h.collector.CountRequest()
	}

	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.NewInputRejected("Cuerpo de la solicitud inválido."))
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.NewInputRejected("La solicitud no cumple el esquema esperado."))
	}

	lastUser := req.LastUserMessage()
	if lastUser == "" {
		return c.Status(fiber.StatusBadRequest).JSON(models.NewInputRejected("Se requiere al menos un mensaje de usuario."))
	}

	// Attached-document bodies are stripped before any scan; they
	// legitimately contain words the patterns would flag.
	scanText := security.StripAttachedDocuments(lastUser)

	query, reason := security.Sanitize(scanText)
	if reason != "" {
		return c.Status(fiber.StatusBadRequest).JSON(models.NewInputRejected(reason))
	}

	matches := security.Scan(query)
	if security.HasCritical(matches) {
		return c.Status(fiber.StatusForbidden).JSON(models.NewSecurityBlocked())
	}
	security.Audit(req.UserID, matches)

	// Block check, quota consumption and retrieval run concurrently; the
	// retrieval result is discarded when a gate rejects.
	ctx, cancel := context.WithTimeout(c.Context(), retrievalTimeout)
	defer cancel()

	var (
		blocked     bool
		quotaResult *quota.Result
		result      *search.Result
		retrieveErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		blocked = h.quota.IsBlocked(gctx, req.UserID)
		return nil
	})
	g.Go(func() error {
		quotaResult = h.quota.ConsumeQuery(gctx, req.UserID)
		return nil
	})
	g.Go(func() error {
		result, retrieveErr = h.retriever.Retrieve(gctx, &search.Request{
			Query:   query,
			Estado:  req.Estado,
			Fuero:   req.Fuero,
			Materia: req.Materia,
			TopK:    req.TopK,
		})
		return nil
	})
	_ = g.Wait()

	if blocked {
		return c.Status(fiber.StatusForbidden).JSON(models.NewAccountSuspended())
	}
	if quotaResult != nil && !quotaResult.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(models.NewQuotaExceeded(quotaResult.Used, quotaResult.Limit, quotaResult.SubscriptionType))
	}
	if retrieveErr != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "La búsqueda de contexto falló: "+retrieveErr.Error())
	}

	bundle := contextbuilder.Assemble(result.Documents, result.Entidad, result.MultiEstados)

	turn, err := h.orch.Prepare(ctx, &chat.TurnRequest{
		Messages:        req.ToLLMMessages(),
		Bundle:          bundle,
		Entidad:         result.Entidad,
		EnableReasoning: req.EnableReasoning,
		EnableGenio:     req.EnableGenioJuridico,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	c.Set(fiber.HeaderContentType, "text/event-stream; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")
	c.Set("X-Model-Used", turn.ModelLabel())
	if turn.ThinkingMode() {
		c.Set("X-Thinking-Mode", "on")
	} else {
		c.Set("X-Thinking-Mode", "off")
	}

	// The stream body writer outlives this handler; it gets its own context
	// cancelled when the client goes away mid-stream.
	streamCtx, streamCancel := context.WithCancel(context.Background())
	orch := h.orch
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer streamCancel()
		orch.Stream(streamCtx, turn, &cancelingWriter{w: w, cancel: streamCancel})
	})
	return nil
}

// cancelingWriter cancels the stream context as soon as the client
// connection stops accepting bytes. In-flight retrieval work is left to run
// to completion elsewhere; only the LLM stream is torn down.
type cancelingWriter struct {
	w      *bufio.Writer
	cancel context.CancelFunc
}

func (cw *cancelingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if err != nil {
		cw.cancel()
	}
	return n, err
}

func (cw *cancelingWriter) Flush() error {
	if err := cw.w.Flush(); err != nil {
		cw.cancel()
		return err
	}
	return nil
}

var _ io.Writer = (*cancelingWriter)(nil)
