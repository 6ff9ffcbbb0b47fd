package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/app"
	"github.com/hyperifyio/deepresearch/internal/cache"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		addr             string
		llmProvider      string
		defaultModel     string
		reasonModel      string
		localBaseURL     string
		openAIBaseURL    string
		llmAPIKey        string
		fallbackModel    string
		requestsPerMin   int
		searchBaseURL    string
		concurrentLimit  int
		mongoURI         string
		dbName           string
		cacheDir         string
		cacheMaxAge      time.Duration
		cacheClear       bool
		verbose          bool
	)

	flag.StringVar(&addr, "addr", ":8080", "HTTP listen address")
	flag.StringVar(&llmProvider, "llm.provider", os.Getenv("LLM_PROVIDER"), "local or openai_compatible")
	flag.StringVar(&defaultModel, "llm.default-model", os.Getenv("LLM_DEFAULT_MODEL"), "Default model identifier")
	flag.StringVar(&reasonModel, "llm.reason-model", os.Getenv("LLM_REASON_MODEL"), "Reasoning model identifier")
	flag.StringVar(&localBaseURL, "llm.local-base-url", os.Getenv("LLM_LOCAL_BASE_URL"), "Local model server base URL")
	flag.StringVar(&openAIBaseURL, "llm.openai-base-url", os.Getenv("LLM_OPENAI_BASE_URL"), "OpenAI-compatible base URL")
	flag.StringVar(&llmAPIKey, "llm.api-key", os.Getenv("LLM_API_KEY"), "API key for the LLM backend")
	flag.StringVar(&fallbackModel, "llm.fallback-model", os.Getenv("LLM_FALLBACK_MODEL"), "Fallback model used after an empty/rate/context error")
	flag.IntVar(&requestsPerMin, "ratelimit.requests-per-minute", 0, "Sliding-window request cap; <=0 disables")
	flag.StringVar(&searchBaseURL, "search.base-url", os.Getenv("SEARCH_BASE_URL"), "Meta-search endpoint base URL")
	flag.IntVar(&concurrentLimit, "fetch.concurrent-limit", 4, "Global fetch concurrency")
	flag.StringVar(&mongoURI, "persistence.mongo-uri", os.Getenv("PERSISTENCE_MONGO_URI"), "MongoDB connection URI")
	flag.StringVar(&dbName, "persistence.db-name", os.Getenv("PERSISTENCE_DB_NAME"), "MongoDB database name")
	flag.StringVar(&cacheDir, "cache.dir", os.Getenv("CACHE_DIR"), "On-disk cache directory for HTTP bodies and LLM responses; empty disables")
	flag.DurationVar(&cacheMaxAge, "cache.maxAge", 0, "Max age for cache entries before startup purge (e.g. 24h); 0 disables")
	flag.BoolVar(&cacheClear, "cache.clear", false, "Clear the cache directory before starting")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := app.Config{
		Addr:              addr,
		LLMProvider:       llmProvider,
		DefaultModel:      defaultModel,
		ReasonModel:       reasonModel,
		LocalBaseURL:      localBaseURL,
		OpenAIBaseURL:     openAIBaseURL,
		LLMAPIKey:         llmAPIKey,
		FallbackModel:     fallbackModel,
		RequestsPerMinute: requestsPerMin,
		SearchBaseURL:     searchBaseURL,
		ConcurrentLimit:   concurrentLimit,
		MongoURI:          mongoURI,
		DBName:            dbName,
		CacheDir:          cacheDir,
		CacheMaxAge:       cacheMaxAge,
		Verbose:           verbose,
	}
	app.ApplyEnvToConfig(&cfg)

	if cacheClear && cfg.CacheDir != "" {
		if err := cache.ClearDir(cfg.CacheDir); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.CacheDir).Msg("deepresearch: clear cache")
		}
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("deepresearch: fatal error")
	}
}

func run(cfg app.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	return a.Run(ctx)
}
