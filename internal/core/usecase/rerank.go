package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
)

// PairwiseReranker scores every (query, candidate) pair with embedding
// cosine similarity and keeps the topN best. Scoring failures degrade to the
// first topN candidates in original order.
type PairwiseReranker struct {
	embedder ports.Embedder
	logger   *slog.Logger
}

func NewPairwiseReranker(embedder ports.Embedder, logger *slog.Logger) *PairwiseReranker {
	return &PairwiseReranker{embedder: embedder, logger: logger}
}

func (r *PairwiseReranker) Rerank(ctx context.Context, query string, candidates []domain.RankedDocument, topN int) ([]domain.RankedDocument, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	topN = clampTopN(topN, len(candidates))

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for _, doc := range candidates {
		texts = append(texts, doc.Content)
	}

	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		r.logger.Warn("pairwise rerank degraded to original order", "error", err)
		return headCandidates(candidates, topN), nil
	}

	queryVector := vectors[0]
	scored := make([]domain.ScoredDocument, len(candidates))
	for i, doc := range candidates {
		scored[i] = domain.ScoredDocument{Document: doc, Score: cosineSimilarity(queryVector, vectors[i+1])}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Document.Source != scored[j].Document.Source {
			return scored[i].Document.Source < scored[j].Document.Source
		}
		return scored[i].Document.ChunkIndex < scored[j].Document.ChunkIndex
	})

	out := make([]domain.RankedDocument, 0, topN)
	for _, s := range scored[:topN] {
		doc := s.Document
		doc.Score = s.Score
		out = append(out, doc)
	}
	return out, nil
}

// SelectionReranker asks the language model to pick the topN most relevant
// candidates by number. Anything unparseable falls back to the first topN
// candidates in original order instead of failing the call.
type SelectionReranker struct {
	generator ports.TextGenerator
	logger    *slog.Logger
}

func NewSelectionReranker(generator ports.TextGenerator, logger *slog.Logger) *SelectionReranker {
	return &SelectionReranker{generator: generator, logger: logger}
}

func (r *SelectionReranker) Rerank(ctx context.Context, query string, candidates []domain.RankedDocument, topN int) ([]domain.RankedDocument, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	topN = clampTopN(topN, len(candidates))

	response, err := r.generator.GenerateText(ctx, buildSelectionPrompt(query, candidates, topN))
	if err != nil {
		r.logger.Warn("selection rerank degraded to original order", "error", err)
		return headCandidates(candidates, topN), nil
	}

	indexes, ok := parseSelection(response, len(candidates))
	if !ok {
		r.logger.Warn("selection rerank response unparseable, using original order", "response", response)
		return headCandidates(candidates, topN), nil
	}
	if len(indexes) > topN {
		indexes = indexes[:topN]
	}

	out := make([]domain.RankedDocument, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, candidates[idx])
	}
	return out, nil
}

func buildSelectionPrompt(query string, candidates []domain.RankedDocument, topN int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pergunta: %s\n\nDocumentos candidatos:\n", query)
	for i, doc := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, doc.Content)
	}
	fmt.Fprintf(&b, "\nSelecione os %d documentos mais relevantes para responder à pergunta.\n", topN)
	b.WriteString("Responda apenas com os números separados por vírgula, em ordem de relevância. Exemplo: 2,1,4\n")
	return b.String()
}

// parseSelection validates a comma-separated list of 1-based candidate
// numbers. Any non-numeric token, out-of-range index, or empty response is
// the invalid variant; duplicates keep the first occurrence.
func parseSelection(response string, candidateCount int) ([]int, bool) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, false
	}

	seen := make(map[int]struct{})
	out := make([]int, 0, candidateCount)
	for _, token := range strings.Split(response, ",") {
		token = strings.TrimSpace(token)
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, false
		}
		if n < 1 || n > candidateCount {
			return nil, false
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n-1)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func headCandidates(candidates []domain.RankedDocument, topN int) []domain.RankedDocument {
	out := make([]domain.RankedDocument, topN)
	copy(out, candidates[:topN])
	return out
}

func clampTopN(topN, available int) int {
	if topN <= 0 || topN > available {
		return available
	}
	return topN
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
