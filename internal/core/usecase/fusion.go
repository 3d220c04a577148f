package usecase

import (
	"math"
	"sort"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

const (
	FusionModeRRF          = "rrf"
	FusionModeWeightedSlot = "weighted_slot"
)

type FusionConfig struct {
	Mode       string
	RRFK       int
	TopK       int
	WeightBM25 float64
}

func (c FusionConfig) normalize() FusionConfig {
	if c.Mode != FusionModeWeightedSlot {
		c.Mode = FusionModeRRF
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.WeightBM25 <= 0 || c.WeightBM25 >= 1 {
		c.WeightBM25 = 0.4
	}
	return c
}

// FusionEngine merges N ranked lists into one ranking. Retrievers that
// failed contribute empty lists; the engine never fails.
type FusionEngine struct {
	cfg FusionConfig
}

func NewFusionEngine(cfg FusionConfig) *FusionEngine {
	return &FusionEngine{cfg: cfg.normalize()}
}

// Fuse merges the given lists. In weighted-slot mode the first list is
// treated as the lexical head and the second as the vector head.
func (e *FusionEngine) Fuse(lists []domain.RankedList) domain.FusionResult {
	if e.cfg.Mode == FusionModeWeightedSlot {
		return domain.FusionResult{
			Mode:      FusionModeWeightedSlot,
			Documents: fuseWeightedSlots(lists, e.cfg.TopK, e.cfg.WeightBM25),
		}
	}
	return domain.FusionResult{
		Mode:      FusionModeRRF,
		Documents: fuseRRF(lists, e.cfg.RRFK, e.cfg.TopK),
	}
}

type fusedCandidate struct {
	doc   domain.RankedDocument
	score float64
}

func fuseRRF(lists []domain.RankedList, rrfK, topK int) []domain.ScoredDocument {
	acc := make(map[string]fusedCandidate)
	for _, list := range lists {
		weight := list.Weight
		if weight <= 0 {
			weight = 1.0
		}
		for rank, doc := range list.Documents {
			key := doc.IdentityKey()
			candidate := acc[key]
			candidate.doc = preferRicherDocument(candidate.doc, doc)
			candidate.score += weight / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	out := make([]domain.ScoredDocument, 0, len(acc))
	for _, c := range acc {
		out = append(out, domain.ScoredDocument{Document: c.doc, Score: c.score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Document.Source != out[j].Document.Source {
			return out[i].Document.Source < out[j].Document.Source
		}
		if out[i].Document.ChunkIndex != out[j].Document.ChunkIndex {
			return out[i].Document.ChunkIndex < out[j].Document.ChunkIndex
		}
		return out[i].Document.ID < out[j].Document.ID
	})

	return trimScored(out, topK)
}

// fuseWeightedSlots allocates floor(topK*weightBM25) slots to the lexical
// head and the remainder to the vector head, concatenated. Scores keep their
// retriever-local meaning and are never compared across the two heads.
func fuseWeightedSlots(lists []domain.RankedList, topK int, weightBM25 float64) []domain.ScoredDocument {
	var lexical, vector []domain.RankedDocument
	if len(lists) > 0 {
		lexical = lists[0].Documents
	}
	if len(lists) > 1 {
		vector = lists[1].Documents
	}

	numLexical := int(math.Floor(float64(topK) * weightBM25))
	if numLexical > len(lexical) {
		numLexical = len(lexical)
	}
	numVector := topK - numLexical
	if numVector > len(vector) {
		numVector = len(vector)
	}

	out := make([]domain.ScoredDocument, 0, numLexical+numVector)
	for _, doc := range lexical[:numLexical] {
		out = append(out, domain.ScoredDocument{Document: doc, Score: doc.Score})
	}
	for _, doc := range vector[:numVector] {
		out = append(out, domain.ScoredDocument{Document: doc, Score: doc.Score})
	}
	return out
}

func trimScored(docs []domain.ScoredDocument, limit int) []domain.ScoredDocument {
	if limit <= 0 || len(docs) <= limit {
		return docs
	}
	return docs[:limit]
}

func preferRicherDocument(current, candidate domain.RankedDocument) domain.RankedDocument {
	if current.ID == "" && current.Source == "" && current.Content == "" {
		return candidate
	}
	if current.Content == "" && candidate.Content != "" {
		current.Content = candidate.Content
	}
	if current.Source == "" && candidate.Source != "" {
		current.Source = candidate.Source
	}
	if current.Domain == "" && candidate.Domain != "" {
		current.Domain = candidate.Domain
	}
	if current.ID == "" && candidate.ID != "" {
		current.ID = candidate.ID
	}
	if current.Page == 0 && candidate.Page != 0 {
		current.Page = candidate.Page
	}
	return current
}
