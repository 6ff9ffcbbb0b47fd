package app

import "testing"

func TestApplyEnvToConfig_FillsOnlyEmptyFields(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "local")
	t.Setenv("LLM_DEFAULT_MODEL", "from-env")
	t.Setenv("SEARCH_BASE_URL", "http://searx.example")
	t.Setenv("FETCH_COOL_DOWN", "2s")
	t.Setenv("PDF_MAX_FILESIZE", "1048576")
	t.Setenv("FETCH_USE_READER", "true")

	cfg := Config{DefaultModel: "already-set"}
	ApplyEnvToConfig(&cfg)

	if cfg.LLMProvider != "local" {
		t.Fatalf("LLMProvider = %q, want local", cfg.LLMProvider)
	}
	if cfg.DefaultModel != "already-set" {
		t.Fatalf("DefaultModel was overwritten: %q", cfg.DefaultModel)
	}
	if cfg.SearchBaseURL != "http://searx.example" {
		t.Fatalf("SearchBaseURL = %q", cfg.SearchBaseURL)
	}
	if cfg.CoolDown.Seconds() != 2 {
		t.Fatalf("CoolDown = %v, want 2s", cfg.CoolDown)
	}
	if cfg.PDFMaxFilesize != 1048576 {
		t.Fatalf("PDFMaxFilesize = %d", cfg.PDFMaxFilesize)
	}
	if !cfg.UseReader {
		t.Fatalf("UseReader = false, want true")
	}
}

func TestApplyEnvToConfig_SearxNGURLFallback(t *testing.T) {
	t.Setenv("SEARXNG_URL", "http://legacy-searx.example")

	cfg := Config{}
	ApplyEnvToConfig(&cfg)

	if cfg.SearchBaseURL != "http://legacy-searx.example" {
		t.Fatalf("SearchBaseURL = %q, want legacy SEARXNG_URL fallback", cfg.SearchBaseURL)
	}
}

func TestApplyEnvOverrides_ForcesOverEverything(t *testing.T) {
	t.Setenv("LLM_DEFAULT_MODEL", "override-model")
	t.Setenv("SSL_VERIFY", "false")

	cfg := Config{DefaultModel: "flag-value", SSLVerify: true}
	ApplyEnvOverrides(&cfg)

	if cfg.DefaultModel != "override-model" {
		t.Fatalf("DefaultModel = %q, want env override", cfg.DefaultModel)
	}
	if cfg.SSLVerify {
		t.Fatalf("SSLVerify = true, want env override to false")
	}
}

func TestApplyEnvToConfig_NilIsNoop(t *testing.T) {
	ApplyEnvToConfig(nil)
	ApplyEnvOverrides(nil)
}
