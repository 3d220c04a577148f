package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
)

// WebDisclaimer is appended to every answer synthesized from web results.
const WebDisclaimer = "\n\n⚠️ **Aviso**: Esta resposta foi gerada a partir de fontes públicas confiáveis da internet, pois a pergunta está fora do escopo das bases jurídicas especializadas."

const noWebResultsMessage = "Não foi possível encontrar informações sobre sua pergunta nas fontes confiáveis disponíveis."

type WebFallbackConfig struct {
	MaxResults    int
	SearchTimeout time.Duration
	LLMTimeout    time.Duration
}

func (c WebFallbackConfig) normalize() WebFallbackConfig {
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 30 * time.Second
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 60 * time.Second
	}
	return c
}

// WebFallback answers out-of-context queries from the trusted-site web
// search collaborator. Every synthesized answer carries the disclaimer.
type WebFallback struct {
	cfg       WebFallbackConfig
	searcher  ports.WebSearcher
	generator ports.TextGenerator
	logger    *slog.Logger
}

func NewWebFallback(cfg WebFallbackConfig, searcher ports.WebSearcher, generator ports.TextGenerator, logger *slog.Logger) *WebFallback {
	return &WebFallback{cfg: cfg.normalize(), searcher: searcher, generator: generator, logger: logger}
}

func (w *WebFallback) Answer(ctx context.Context, query string) (*domain.FinalAnswer, error) {
	searchCtx, cancel := context.WithTimeout(ctx, w.cfg.SearchTimeout)
	defer cancel()

	results, err := w.searcher.Search(searchCtx, query, w.cfg.MaxResults)
	if err != nil {
		w.logger.Warn("web search failed, reporting no documents", "error", err)
		results = nil
	}
	if len(results) == 0 {
		return &domain.FinalAnswer{
			Query:  query,
			Answer: noWebResultsMessage,
			Status: domain.AnswerStatusNoDocuments,
		}, nil
	}

	llmCtx, cancel := context.WithTimeout(ctx, w.cfg.LLMTimeout)
	defer cancel()

	answer, err := w.generator.GenerateText(llmCtx, buildWebSynthesisPrompt(query, results))
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "web fallback synthesis", err)
	}

	sources := make([]domain.RankedDocument, 0, len(results))
	for _, r := range results {
		sources = append(sources, domain.RankedDocument{Source: r.URL, Content: r.Content})
	}

	return &domain.FinalAnswer{
		Query:      query,
		Answer:     answer + WebDisclaimer,
		Sources:    sources,
		Confidence: 0.5,
		Status:     domain.AnswerStatusWebFallback,
	}, nil
}

func buildWebSynthesisPrompt(query string, results []domain.WebResult) string {
	var b strings.Builder
	b.WriteString("Responda à pergunta utilizando exclusivamente os trechos de fontes oficiais abaixo. Não utilize conhecimento externo.\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "--- Fonte %d: %s ---\n%s\n\n", i+1, r.URL, r.Content)
	}
	fmt.Fprintf(&b, "Pergunta: %s\n", query)
	return b.String()
}
