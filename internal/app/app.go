package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/api"
	"github.com/hyperifyio/deepresearch/internal/budget"
	"github.com/hyperifyio/deepresearch/internal/cache"
	"github.com/hyperifyio/deepresearch/internal/fetch"
	"github.com/hyperifyio/deepresearch/internal/orchestrator"
	"github.com/hyperifyio/deepresearch/internal/provider"
	"github.com/hyperifyio/deepresearch/internal/robots"
	"github.com/hyperifyio/deepresearch/internal/scheduler"
	"github.com/hyperifyio/deepresearch/internal/search"
	"github.com/hyperifyio/deepresearch/internal/store"
)

// App composes every component into a runnable HTTP server.
type App struct {
	cfg    Config
	store  *store.MongoStore
	server *http.Server
}

// New builds an App from cfg: it connects to the configured Store, builds
// the Provider variant cfg.LLMProvider names, and wires Fetcher/Scheduler/
// Searcher/Orchestrator/API, following the sequential preflight-then-serve
// shape `internal/app/app.go`'s New/Run draws from.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.DefaultCtx > 2000 {
		budget.RegisterContextOverride(cfg.DefaultModel, cfg.DefaultCtx)
	}
	if cfg.ReasonCtx > 2000 {
		budget.RegisterContextOverride(cfg.ReasonModel, cfg.ReasonCtx)
	}

	st, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := st.VerifyIntegrity(ctx); err != nil {
		log.Warn().Err(err).Msg("app: startup integrity scan reported an error")
	}

	httpClient := newHighThroughputHTTPClient(cfg.SSLVerify)

	var llmCache *cache.LLMCache
	var httpCache *cache.HTTPCache
	if cfg.CacheDir != "" {
		if cfg.CacheMaxAge > 0 {
			if n, err := cache.PurgeHTTPCacheByAge(cfg.CacheDir, cfg.CacheMaxAge); err == nil && n > 0 {
				log.Info().Int("removed", n).Msg("app: purged expired http cache entries")
			}
			if n, err := cache.PurgeLLMCacheByAge(cfg.CacheDir, cfg.CacheMaxAge); err == nil && n > 0 {
				log.Info().Int("removed", n).Msg("app: purged expired llm cache entries")
			}
		}
		llmCache = &cache.LLMCache{Dir: cfg.CacheDir}
		httpCache = &cache.HTTPCache{Dir: cfg.CacheDir}
	}

	var llm provider.Provider
	switch cfg.LLMProvider {
	case "local":
		local := provider.NewLocal(cfg.LocalBaseURL, cfg.LLMAPIKey, cfg.DefaultModel)
		local.Cache = llmCache
		llm = local
	default:
		oc := provider.NewOpenAICompatible(cfg.OpenAIBaseURL, cfg.LLMAPIKey, cfg.DefaultModel, cfg.FallbackModel, cfg.RequestsPerMinute)
		oc.Cache = llmCache
		llm = oc
	}

	searcher := &search.SearxNG{
		BaseURL:    cfg.SearchBaseURL,
		HTTPClient: httpClient,
		UserAgent:  cfg.UserAgent,
		MaxResults: cfg.SearchMaxResults,
	}

	sched := scheduler.New(cfg.ConcurrentLimit, cfg.CoolDown)

	fetcher := &fetch.Fetcher{
		Config: fetch.Config{
			UseReader:           cfg.UseReader,
			ReaderBaseURL:       cfg.ReaderBaseURL,
			ReaderAPIKey:        cfg.ReaderAPIKey,
			BrowseLite:          cfg.BrowseLite,
			MaxHTMLLength:       cfg.MaxHTMLLength,
			MaxEvalTime:         cfg.MaxEvalTime,
			PDFMaxPages:         cfg.PDFMaxPages,
			PDFMaxFilesize:      cfg.PDFMaxFilesize,
			PDFTimeout:          cfg.PDFTimeout,
			PDFExtractorPath:    cfg.PDFExtractorPath,
			UserAgent:           cfg.UserAgent,
			HTMLToMarkdownModel: cfg.DefaultModel,
		},
		HTTP:      &fetch.Client{HTTPClient: httpClient, UserAgent: cfg.UserAgent, MaxAttempts: 1, PerRequestTimeout: 20 * time.Second, Cache: httpCache},
		Robots:    &robots.Manager{HTTPClient: httpClient, UserAgent: cfg.UserAgent, Cache: httpCache},
		Provider:  llm,
		Scheduler: sched,
	}

	orch := orchestrator.New(orchestrator.Deps{
		Provider:  llm,
		Searcher:  searcher,
		Fetcher:   fetcher,
		Scheduler: sched,
		Store:     st,
	})

	handler := api.New(api.Deps{
		Orchestrator: orch,
		Store:        st,
		DefaultModel: cfg.DefaultModel,
		ReasonModel:  cfg.ReasonModel,
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &App{
		cfg:   cfg,
		store: st,
		server: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled, at which
// point it shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.server.Addr).Msg("app: listening")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the Store connection.
func (a *App) Close(ctx context.Context) error {
	return a.store.Close(ctx)
}
