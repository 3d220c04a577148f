package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
)

type HybridRetrieverConfig struct {
	Domain       string
	TopK         int
	WeightBM25   float64
	WeightVector float64
	Timeout      time.Duration
}

func (c HybridRetrieverConfig) normalize() HybridRetrieverConfig {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.WeightBM25 <= 0 {
		c.WeightBM25 = 0.4
	}
	if c.WeightVector <= 0 {
		c.WeightVector = 0.6
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// HybridRetriever drives both ranked-list methods of one domain collection
// concurrently and fuses the results. A failing leg contributes an empty
// list; the pipeline itself never fails.
type HybridRetriever struct {
	cfg      HybridRetrieverConfig
	index    ports.SearchIndex
	embedder ports.Embedder
	fusion   *FusionEngine
	cache    ports.ArtifactCache
	logger   *slog.Logger
}

func NewHybridRetriever(cfg HybridRetrieverConfig, index ports.SearchIndex, embedder ports.Embedder, fusion *FusionEngine, cache ports.ArtifactCache, logger *slog.Logger) *HybridRetriever {
	return &HybridRetriever{
		cfg:      cfg.normalize(),
		index:    index,
		embedder: embedder,
		fusion:   fusion,
		cache:    cache,
		logger:   logger,
	}
}

func (r *HybridRetriever) Retrieve(ctx context.Context, query string) ([]domain.RankedDocument, error) {
	cacheKey := fmt.Sprintf("%s_%s", r.cfg.Domain, query)
	if payload, ok := r.cache.Get(domain.CacheNamespaceQueries, cacheKey); ok {
		var cached []domain.RankedDocument
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	var (
		wg      sync.WaitGroup
		lexical []domain.RankedDocument
		vector  []domain.RankedDocument
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		docs, err := r.index.SearchLexical(callCtx, r.cfg.Domain, query, r.cfg.TopK)
		if err != nil {
			r.logger.Warn("lexical search failed, contributing empty list", "domain", r.cfg.Domain, "error", err)
			return
		}
		lexical = docs
	}()
	go func() {
		defer wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		queryVector, err := r.embedder.EmbedQuery(callCtx, query)
		if err != nil {
			r.logger.Warn("query embedding failed, contributing empty list", "domain", r.cfg.Domain, "error", err)
			return
		}
		docs, err := r.index.SearchVector(callCtx, r.cfg.Domain, queryVector, r.cfg.TopK)
		if err != nil {
			r.logger.Warn("vector search failed, contributing empty list", "domain", r.cfg.Domain, "error", err)
			return
		}
		vector = docs
	}()
	wg.Wait()

	fused := r.fusion.Fuse([]domain.RankedList{
		{Weight: r.cfg.WeightBM25, Documents: lexical},
		{Weight: r.cfg.WeightVector, Documents: vector},
	})

	out := make([]domain.RankedDocument, 0, len(fused.Documents))
	for _, scored := range fused.Documents {
		doc := scored.Document
		doc.Score = scored.Score
		if doc.Domain == "" {
			doc.Domain = r.cfg.Domain
		}
		out = append(out, doc)
	}

	if payload, err := json.Marshal(out); err == nil {
		r.cache.Set(domain.CacheNamespaceQueries, cacheKey, payload)
	}
	return out, nil
}
