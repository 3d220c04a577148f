package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

type Config struct {
	APIPort  string
	LogLevel string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIChatModel   string
	OpenAIEmbedModel  string
	OpenAITemperature float64

	TavilyAPIKey string

	QdrantURL              string
	QdrantCollectionPrefix string

	PostgresDSN string

	NATSEnabled bool
	NATSURL     string
	NATSSubject string

	DomainsPath string

	CachePath         string
	CacheTTLHours     int
	CacheMaxSizeMB    int
	CacheKeepNewest   int
	InteractionLog    string
	FusionMode        string
	FusionRRFK        int
	RetrievalTopK     int
	FusionWeightBM25  float64
	RerankMode        string
	RerankTopN        int
	ParaphraseCount   int
	HistoryLimit      int
	MaxConcurrent     int
	WebMaxResults     int
	LLMTimeoutSecs    int
	SearchTimeoutSecs int

	RateLimitPerSecond float64
	RateLimitBurst     int
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		OpenAIAPIKey:      mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     mustEnv("OPENAI_BASE_URL", ""),
		OpenAIChatModel:   mustEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIEmbedModel:  mustEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		OpenAITemperature: mustEnvFloat("OPENAI_TEMPERATURE", 0.1),

		TavilyAPIKey: mustEnv("TAVILY_API_KEY", ""),

		QdrantURL:              mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollectionPrefix: mustEnv("QDRANT_COLLECTION_PREFIX", "legal"),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSEnabled: mustEnvBool("NATS_ENABLED", false),
		NATSURL:     mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject: mustEnv("NATS_SUBJECT", "interactions.completed"),

		DomainsPath: mustEnv("DOMAINS_PATH", "./config/domains.yaml"),

		CachePath:         mustEnv("CACHE_PATH", "./data/cache"),
		CacheTTLHours:     mustEnvInt("CACHE_TTL_HOURS", 168),
		CacheMaxSizeMB:    mustEnvInt("CACHE_MAX_SIZE_MB", 500),
		CacheKeepNewest:   mustEnvInt("CACHE_KEEP_NEWEST", 1000),
		InteractionLog:    mustEnv("INTERACTION_LOG_PATH", "./logs/interactions.jsonl"),
		FusionMode:        mustEnv("FUSION_MODE", "rrf"),
		FusionRRFK:        mustEnvInt("FUSION_RRF_K", 60),
		RetrievalTopK:     mustEnvInt("RETRIEVAL_TOP_K", 5),
		FusionWeightBM25:  mustEnvFloat("FUSION_WEIGHT_BM25", 0.4),
		RerankMode:        mustEnv("RERANK_MODE", "pairwise"),
		RerankTopN:        mustEnvInt("RERANK_TOP_N", 4),
		ParaphraseCount:   mustEnvInt("PARAPHRASE_COUNT", 3),
		HistoryLimit:      mustEnvInt("HISTORY_LIMIT", 6),
		MaxConcurrent:     mustEnvInt("MAX_CONCURRENT_AGENTS", 3),
		WebMaxResults:     mustEnvInt("WEB_MAX_RESULTS", 5),
		LLMTimeoutSecs:    mustEnvInt("LLM_TIMEOUT_SECONDS", 60),
		SearchTimeoutSecs: mustEnvInt("SEARCH_TIMEOUT_SECONDS", 30),

		RateLimitPerSecond: mustEnvFloat("LLM_RATE_LIMIT_PER_SECOND", 0),
		RateLimitBurst:     mustEnvInt("LLM_RATE_LIMIT_BURST", 1),
	}
}

// LoadDomains reads the knowledge domain catalogue used by the router and
// the per-domain agents.
func LoadDomains(path string) ([]domain.KnowledgeDomain, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domains file: %w", err)
	}

	var parsed struct {
		Domains []domain.KnowledgeDomain `yaml:"domains"`
	}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse domains file: %w", err)
	}
	if len(parsed.Domains) == 0 {
		return nil, fmt.Errorf("domains file %s defines no domains", path)
	}
	for i, d := range parsed.Domains {
		if d.Name == "" {
			return nil, fmt.Errorf("domains file %s: domain %d has no name", path, i)
		}
	}
	return parsed.Domains, nil
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
