package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRetrievalDefaults(t *testing.T) {
	t.Setenv("FUSION_MODE", "")
	t.Setenv("FUSION_RRF_K", "")
	t.Setenv("RETRIEVAL_TOP_K", "")
	t.Setenv("FUSION_WEIGHT_BM25", "")
	t.Setenv("RERANK_TOP_N", "")

	cfg := Load()
	if cfg.FusionMode != "rrf" {
		t.Fatalf("expected default fusion mode rrf, got %q", cfg.FusionMode)
	}
	if cfg.FusionRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.FusionRRFK)
	}
	if cfg.RetrievalTopK != 5 {
		t.Fatalf("expected default top k 5, got %d", cfg.RetrievalTopK)
	}
	if cfg.FusionWeightBM25 != 0.4 {
		t.Fatalf("expected default bm25 weight 0.4, got %v", cfg.FusionWeightBM25)
	}
	if cfg.RerankTopN != 4 {
		t.Fatalf("expected default rerank top n 4, got %d", cfg.RerankTopN)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("FUSION_MODE", "weighted")
	t.Setenv("FUSION_WEIGHT_BM25", "0.25")
	t.Setenv("CACHE_TTL_HOURS", "24")
	t.Setenv("NATS_ENABLED", "true")
	t.Setenv("LLM_RATE_LIMIT_PER_SECOND", "2.5")

	cfg := Load()
	if cfg.FusionMode != "weighted" {
		t.Fatalf("expected fusion mode override, got %q", cfg.FusionMode)
	}
	if cfg.FusionWeightBM25 != 0.25 {
		t.Fatalf("expected bm25 weight 0.25, got %v", cfg.FusionWeightBM25)
	}
	if cfg.CacheTTLHours != 24 {
		t.Fatalf("expected cache ttl 24, got %d", cfg.CacheTTLHours)
	}
	if !cfg.NATSEnabled {
		t.Fatalf("expected nats enabled")
	}
	if cfg.RateLimitPerSecond != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.RateLimitPerSecond)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("RETRIEVAL_TOP_K", "cinco")
	t.Setenv("FUSION_WEIGHT_BM25", "quase metade")

	cfg := Load()
	if cfg.RetrievalTopK != 5 {
		t.Fatalf("expected fallback top k 5, got %d", cfg.RetrievalTopK)
	}
	if cfg.FusionWeightBM25 != 0.4 {
		t.Fatalf("expected fallback bm25 weight 0.4, got %v", cfg.FusionWeightBM25)
	}
}

func TestLoadDomainsParsesCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	content := `domains:
  - name: constitutional_law
    description: Constituição Federal de 1988 e jurisprudência do STF.
    keywords: [constituição, direitos fundamentais, stf]
  - name: consumer_law
    description: Código de Defesa do Consumidor.
    keywords: [consumidor, cdc]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write domains file: %v", err)
	}

	domains, err := LoadDomains(path)
	if err != nil {
		t.Fatalf("LoadDomains() error = %v", err)
	}
	if len(domains) != 2 {
		t.Fatalf("expected 2 domains, got %d", len(domains))
	}
	if domains[0].Name != "constitutional_law" || len(domains[0].Keywords) != 3 {
		t.Fatalf("unexpected first domain %+v", domains[0])
	}
}

func TestLoadDomainsRejectsEmptyCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	if err := os.WriteFile(path, []byte("domains: []\n"), 0o644); err != nil {
		t.Fatalf("write domains file: %v", err)
	}
	if _, err := LoadDomains(path); err == nil {
		t.Fatalf("expected error for empty catalogue")
	}
}

func TestLoadDomainsRejectsUnnamedDomain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	content := "domains:\n  - description: sem nome\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write domains file: %v", err)
	}
	if _, err := LoadDomains(path); err == nil {
		t.Fatalf("expected error for unnamed domain")
	}
}
