package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values (set via flags) take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("ADDR")
	}

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = os.Getenv("LLM_PROVIDER")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = os.Getenv("LLM_DEFAULT_MODEL")
	}
	if cfg.ReasonModel == "" {
		cfg.ReasonModel = os.Getenv("LLM_REASON_MODEL")
	}
	if cfg.LocalBaseURL == "" {
		cfg.LocalBaseURL = os.Getenv("LLM_LOCAL_BASE_URL")
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = os.Getenv("LLM_OPENAI_BASE_URL")
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = os.Getenv("LLM_FALLBACK_MODEL")
	}
	if cfg.DefaultCtx == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("LLM_DEFAULT_CTX"))); err == nil {
			cfg.DefaultCtx = n
		}
	}
	if cfg.ReasonCtx == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("LLM_REASON_CTX"))); err == nil {
			cfg.ReasonCtx = n
		}
	}

	if cfg.RequestsPerMinute == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("RATELIMIT_REQUESTS_PER_MINUTE"))); err == nil {
			cfg.RequestsPerMinute = n
		}
	}

	if cfg.SearchBaseURL == "" {
		v := os.Getenv("SEARCH_BASE_URL")
		if v == "" {
			v = os.Getenv("SEARXNG_URL")
		}
		cfg.SearchBaseURL = v
	}
	if cfg.SearchMaxResults == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("SEARCH_MAX_RESULTS"))); err == nil && n > 0 {
			cfg.SearchMaxResults = n
		}
	}

	if cfg.ConcurrentLimit == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("FETCH_CONCURRENT_LIMIT"))); err == nil && n > 0 {
			cfg.ConcurrentLimit = n
		}
	}
	if cfg.CoolDown == 0 {
		if s := os.Getenv("FETCH_COOL_DOWN"); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				cfg.CoolDown = d
			}
		}
	}
	if cfg.ReaderBaseURL == "" {
		cfg.ReaderBaseURL = os.Getenv("FETCH_READER_BASE_URL")
	}
	if cfg.ReaderAPIKey == "" {
		cfg.ReaderAPIKey = os.Getenv("FETCH_READER_API_KEY")
	}
	if cfg.MaxHTMLLength == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("FETCH_MAX_HTML_LENGTH"))); err == nil && n > 0 {
			cfg.MaxHTMLLength = n
		}
	}
	if cfg.MaxEvalTime == 0 {
		if s := os.Getenv("FETCH_MAX_EVAL_TIME"); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				cfg.MaxEvalTime = d
			}
		}
	}

	if cfg.PDFMaxPages == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("PDF_MAX_PAGES"))); err == nil && n > 0 {
			cfg.PDFMaxPages = n
		}
	}
	if cfg.PDFMaxFilesize == 0 {
		if n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv("PDF_MAX_FILESIZE")), 10, 64); err == nil && n > 0 {
			cfg.PDFMaxFilesize = n
		}
	}
	if cfg.PDFTimeout == 0 {
		if s := os.Getenv("PDF_TIMEOUT"); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				cfg.PDFTimeout = d
			}
		}
	}
	if cfg.PDFExtractorPath == "" {
		cfg.PDFExtractorPath = os.Getenv("PDF_EXTRACTOR_PATH")
	}

	if cfg.MongoURI == "" {
		cfg.MongoURI = os.Getenv("PERSISTENCE_MONGO_URI")
	}
	if cfg.DBName == "" {
		cfg.DBName = os.Getenv("PERSISTENCE_DB_NAME")
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = os.Getenv("CACHE_DIR")
	}
	if cfg.CacheMaxAge == 0 {
		if s := os.Getenv("CACHE_MAX_AGE"); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				cfg.CacheMaxAge = d
			}
		}
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = os.Getenv("USER_AGENT")
	}

	setBool := func(dst *bool, envKey string) {
		if *dst {
			return
		}
		if s := strings.ToLower(strings.TrimSpace(os.Getenv(envKey))); s != "" {
			if s == "1" || s == "true" || s == "yes" || s == "on" {
				*dst = true
			}
		}
	}
	setBool(&cfg.UseReader, "FETCH_USE_READER")
	setBool(&cfg.BrowseLite, "FETCH_BROWSE_LITE")
	setBool(&cfg.SSLVerify, "SSL_VERIFY")
	setBool(&cfg.Verbose, "VERBOSE")
}

// ApplyEnvOverrides forcefully overrides cfg fields with environment
// variables when the corresponding env var is set. ApplyEnvToConfig fills
// gaps; this one wins over whatever is already there.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = v
	}
	if v := os.Getenv("LLM_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := os.Getenv("LLM_REASON_MODEL"); v != "" {
		cfg.ReasonModel = v
	}
	if v := os.Getenv("LLM_LOCAL_BASE_URL"); v != "" {
		cfg.LocalBaseURL = v
	}
	if v := os.Getenv("LLM_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_FALLBACK_MODEL"); v != "" {
		cfg.FallbackModel = v
	}
	if v := os.Getenv("PERSISTENCE_MONGO_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("PERSISTENCE_DB_NAME"); v != "" {
		cfg.DBName = v
	}

	setBool := func(dst *bool, envKey string) {
		if s := strings.ToLower(strings.TrimSpace(os.Getenv(envKey))); s != "" {
			switch s {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}
	setBool(&cfg.UseReader, "FETCH_USE_READER")
	setBool(&cfg.BrowseLite, "FETCH_BROWSE_LITE")
	setBool(&cfg.SSLVerify, "SSL_VERIFY")
	setBool(&cfg.Verbose, "VERBOSE")
}
