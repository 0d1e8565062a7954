package handlers

import (
	"context"
	"fmt"
	"log"

	"lexmx-backend/internal/config"
	"lexmx-backend/pkg/chat"
	"lexmx-backend/pkg/llm"
	llmcache "lexmx-backend/pkg/llm/cache"
	"lexmx-backend/pkg/monitoring"
	"lexmx-backend/pkg/quota"
	"lexmx-backend/pkg/search"
	"lexmx-backend/pkg/search/client"
	"lexmx-backend/pkg/search/embedding"
	"lexmx-backend/pkg/search/planner"
	"lexmx-backend/pkg/search/rerank"
	"lexmx-backend/pkg/search/silos"
	"lexmx-backend/pkg/storage"
)

// Handlers bundles the HTTP handlers and the shared clients behind them.
type Handlers struct {
	Chat      *ChatHandler
	Documents *DocumentHandler
	Health    *HealthHandler
	Genio     *GenioHandler

	store client.Store
}

// New wires every shared client and handler from configuration. Clients are
// process-wide and reentrant; teardown happens once via Close.
func New(cfg *config.Config) (*Handlers, error) {
	ctx := context.Background()

	store, err := client.NewQdrant(&client.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
		UseTLS: cfg.Qdrant.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vector store: %w", err)
	}

	collections, err := store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	log.Printf("[INIT] %d collection(s) available", len(collections))

	dense, err := embedding.NewDenseClient(&embedding.DenseConfig{
		APIKey: cfg.Embedding.APIKey,
		Model:  cfg.Embedding.Model,
	})
	if err != nil {
		return nil, err
	}

	// The BM25 statistics file loads in the background; queries arriving
	// before it is ready degrade to dense-only.
	bm25 := embedding.NewBM25Encoder(cfg.BM25.ModelPath)
	bm25.Start(ctx)

	selector := &llm.Selector{}
	if cfg.AI.OpenAI.APIKey != "" {
		if p, err := llm.NewOpenAI(&llm.OpenAIConfig{APIKey: cfg.AI.OpenAI.APIKey, Model: cfg.AI.OpenAI.Model}); err == nil {
			selector.OpenAI = p
		} else {
			log.Printf("[INIT] OpenAI provider unavailable: %v", err)
		}
	}
	if cfg.AI.Claude.APIKey != "" {
		if p, err := llm.NewAnthropic(&llm.AnthropicConfig{APIKey: cfg.AI.Claude.APIKey, Model: cfg.AI.Claude.Model}); err == nil {
			selector.Anthropic = p
		} else {
			log.Printf("[INIT] Anthropic provider unavailable: %v", err)
		}
	}

	var gemini *llm.Gemini
	if cfg.AI.Gemini.APIKey != "" {
		gemini, err = llm.NewGemini(ctx, &llm.GeminiConfig{APIKey: cfg.AI.Gemini.APIKey, Model: cfg.AI.Gemini.Model})
		if err != nil {
			log.Printf("[INIT] Gemini provider unavailable: %v", err)
		} else {
			selector.Gemini = gemini
		}
	}

	var cacheManager *llmcache.Manager
	if gemini != nil {
		cacheManager = llmcache.NewManager(gemini.Client(), llmcache.Config{
			Model:        cfg.Cache.Model,
			CorpusDir:    cfg.Cache.CorpusDir,
			TTL:          cfg.Cache.TTL,
			DailyCreates: cfg.Cache.DailyCreates,
		})
		// Startup only deletes orphans, never creates.
		go cacheManager.CleanupOnStartup(ctx)
	}

	utility := selector.Utility()
	pipeline := search.NewPipeline(
		store,
		silos.NewRouter(collections),
		dense,
		bm25,
		planner.NewAgent(utility),
		planner.NewHyde(utility),
		rerank.NewClient(&rerank.Config{URL: cfg.Rerank.URL, APIKey: cfg.Rerank.APIKey, Model: cfg.Rerank.Model}),
	)

	resolver, err := storage.NewPDFResolver(ctx, &storage.Config{
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		CDNDomain: cfg.Storage.CDNDomain,
	})
	if err != nil {
		return nil, err
	}

	quotaStore := quota.NewStore(&quota.Config{URL: cfg.Quota.SupabaseURL, ServiceKey: cfg.Quota.ServiceKey})
	orchestrator := chat.NewOrchestrator(selector, cacheManager)
	collector := monitoring.NewCollector()

	return &Handlers{
		Chat:      NewChatHandler(pipeline, orchestrator, quotaStore, collector),
		Documents: NewDocumentHandler(store, collections, resolver),
		Health:    NewHealthHandler(collector, bm25, len(collections)),
		Genio:     NewGenioHandler(cacheManager, quotaStore),
		store:     store,
	}, nil
}

// Close releases the shared network clients.
func (h *Handlers) Close() error {
	return h.store.Close()
}
