package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clerk/internal/cart"
	"github.com/ent0n29/clerk/internal/catalog"
	"github.com/ent0n29/clerk/internal/chat"
	"github.com/ent0n29/clerk/internal/config"
	"github.com/ent0n29/clerk/internal/httpapi"
	"github.com/ent0n29/clerk/internal/llm"
	"github.com/ent0n29/clerk/internal/observability"
	"github.com/ent0n29/clerk/internal/prompt"
	"github.com/ent0n29/clerk/internal/session"
	"github.com/ent0n29/clerk/internal/tools"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Store
	Catalog  *catalog.Cache
	Chat     *chat.Service
	Prompts  *prompt.Settings
	Metrics  *observability.Metrics
	Logger   *logrus.Logger

	// Cleanup releases external resources such as the catalog database pool.
	Cleanup func() error
}

// Build wires the service from cfg. It fails when the catalog cannot be
// loaded; the assistant never starts with an empty shop.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	source, err := catalog.NewSource(ctx, catalog.SourceConfig{
		FeedURL:      cfg.CatalogFeedURL,
		DatabaseURL:  cfg.CatalogDatabaseURL,
		FetchTimeout: cfg.CatalogFetchTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog source init failed: %w", err)
	}
	closeSource := func() error {
		if c, ok := source.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}

	products, err := catalog.Load(ctx, source)
	if err != nil {
		_ = closeSource()
		return nil, fmt.Errorf("catalog load failed: %w", err)
	}
	log.WithFields(logrus.Fields{
		"source":   source.Name(),
		"products": products.Len(),
	}).Info("catalog loaded")

	prompts, err := prompt.NewSettings(cfg.SystemPrompt)
	if err != nil {
		_ = closeSource()
		return nil, err
	}

	sessions := session.NewStore(cfg.SessionTTL, prompts)
	sessions.SetCreateHook(func(id string) {
		metrics.ConversationEvent("created")
		metrics.SetActiveConversations(sessions.Len())
	})
	sessions.SetExpireHook(func(id string) {
		metrics.ConversationEvent("expired")
		metrics.SetActiveConversations(sessions.Len())
		log.WithField("conversation_id", id).Debug("conversation expired")
	})

	carts, err := cart.NewManager(sessions, products)
	if err != nil {
		_ = closeSource()
		return nil, err
	}
	dispatcher, err := tools.NewDispatcher(products, carts)
	if err != nil {
		_ = closeSource()
		return nil, err
	}

	chatModel, err := llm.NewChatModel(ctx, llm.Config{
		Provider:      cfg.LLMProvider,
		MaxRetries:    cfg.LLMMaxRetries,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		ArkAPIKey:     cfg.ArkAPIKey,
		ArkModel:      cfg.ArkModel,
		ArkBaseURL:    cfg.ArkBaseURL,
	})
	if err != nil {
		_ = closeSource()
		return nil, fmt.Errorf("chat model init failed: %w", err)
	}

	svc, err := chat.NewService(sessions, chatModel, dispatcher, chat.Options{
		MaxToolRounds: cfg.MaxToolRounds,
		Tools:         tools.Definitions(),
		Metrics:       metrics,
		Logger:        log,
	})
	if err != nil {
		_ = closeSource()
		return nil, err
	}
	log.WithField("provider", svc.Provider()).Info("chat model ready")

	api := httpapi.New(cfg, httpapi.Dependencies{
		Chat:    svc,
		Prompts: prompts,
		Carts:   carts,
		Catalog: products,
		Metrics: metrics,
		Logger:  log,
	})

	cleanup := func() error {
		var errs []string
		if err := closeSource(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Catalog:  products,
		Chat:     svc,
		Prompts:  prompts,
		Metrics:  metrics,
		Logger:   log,
		Cleanup:  cleanup,
	}, nil
}
