package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
	"github.com/kirillkom/legal-rag-assistant/internal/core/ports"
)

const lowConfidenceSentinel = 0.1

type AgentConfig struct {
	Domain           string
	RerankTopN       int
	ParaphraseCount  int
	HistoryLimit     int
	LLMTimeout       time.Duration
	RetrievalTimeout time.Duration
}

func (c AgentConfig) normalize() AgentConfig {
	if c.RerankTopN <= 0 {
		c.RerankTopN = 4
	}
	if c.ParaphraseCount <= 0 {
		c.ParaphraseCount = 3
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 6
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 60 * time.Second
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 30 * time.Second
	}
	return c
}

// SpecializedAgent answers queries for one legal domain: it expands the
// query into paraphrases, retrieves concurrently per paraphrase, dedupes,
// reranks, and synthesizes a cited answer strictly from the retrieved
// context.
type SpecializedAgent struct {
	cfg       AgentConfig
	agentID   string
	generator ports.TextGenerator
	embedder  ports.Embedder
	retriever ports.Retriever
	reranker  ports.Reranker
	cache     ports.ArtifactCache
	logger    *slog.Logger
}

func NewSpecializedAgent(cfg AgentConfig, generator ports.TextGenerator, embedder ports.Embedder, retriever ports.Retriever, reranker ports.Reranker, cache ports.ArtifactCache, logger *slog.Logger) *SpecializedAgent {
	cfg = cfg.normalize()
	return &SpecializedAgent{
		cfg:       cfg,
		agentID:   cfg.Domain + "_agent",
		generator: generator,
		embedder:  embedder,
		retriever: retriever,
		reranker:  reranker,
		cache:     cache,
		logger:    logger.With("agent", cfg.Domain+"_agent"),
	}
}

func (a *SpecializedAgent) Domain() string { return a.cfg.Domain }

func (a *SpecializedAgent) Invoke(ctx context.Context, query string, history []domain.ConversationTurn) (domain.AgentResponse, error) {
	cacheKey := fmt.Sprintf("%s_%s", a.agentID, query)
	if payload, ok := a.cache.Get(domain.CacheNamespaceResponses, cacheKey); ok {
		var cached domain.AgentResponse
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	}

	expanded := a.expandQuery(ctx, query)
	candidates := dedupeDocuments(a.retrieveAll(ctx, expanded))

	selected, err := a.reranker.Rerank(ctx, query, candidates, a.cfg.RerankTopN)
	if err != nil {
		a.logger.Warn("rerank failed, keeping fused order", "error", err)
		selected = headCandidates(candidates, clampTopN(a.cfg.RerankTopN, len(candidates)))
	}

	if len(selected) == 0 {
		response := domain.AgentResponse{
			AgentID:    a.agentID,
			Domain:     a.cfg.Domain,
			Status:     domain.AgentStatusNoDocuments,
			Confidence: lowConfidenceSentinel,
		}
		a.cacheResponse(cacheKey, response)
		return response, nil
	}

	answer, err := a.synthesize(ctx, query, selected, history)
	if err != nil {
		return domain.AgentResponse{}, domain.WrapError(domain.ErrTemporary, "agent synthesis", err)
	}

	confidence := a.confidence(ctx, query, selected)
	status := domain.AgentStatusSuccess
	if confidence < lowConfidenceSentinel {
		status = domain.AgentStatusNoRelevantDocs
	}

	response := domain.AgentResponse{
		AgentID:    a.agentID,
		Domain:     a.cfg.Domain,
		Answer:     answer,
		Sources:    selected,
		Confidence: confidence,
		Status:     status,
	}
	a.cacheResponse(cacheKey, response)
	return response, nil
}

// expandQuery asks for paraphrases of the query. The original query is
// always part of the expanded set; a failed call degrades to the original
// query alone.
func (a *SpecializedAgent) expandQuery(ctx context.Context, query string) []string {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()

	raw, err := a.generator.GenerateJSON(callCtx, a.buildExpansionPrompt(query))
	if err != nil {
		a.logger.Warn("query expansion failed, using original query only", "error", err)
		return []string{query}
	}

	paraphrases, ok := parseParaphrases(raw)
	if !ok {
		a.logger.Warn("query expansion response invalid, using original query only", "response", raw)
		return []string{query}
	}

	expanded := make([]string, 0, a.cfg.ParaphraseCount+1)
	expanded = append(expanded, query)
	for _, p := range paraphrases {
		if len(expanded) > a.cfg.ParaphraseCount {
			break
		}
		if p == "" || p == query {
			continue
		}
		expanded = append(expanded, p)
	}
	return expanded
}

func (a *SpecializedAgent) buildExpansionPrompt(query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gere %d paráfrases da pergunta jurídica abaixo, preservando o sentido original.\n", a.cfg.ParaphraseCount)
	b.WriteString("Responda apenas com um objeto JSON no formato:\n")
	b.WriteString(`{"paraphrases": ["...", "...", "..."]}`)
	fmt.Fprintf(&b, "\n\nPergunta: %s\n", query)
	return b.String()
}

func parseParaphrases(raw string) ([]string, bool) {
	body, ok := extractJSONObject(raw)
	if !ok {
		return nil, false
	}
	var payload struct {
		Paraphrases []string `json:"paraphrases"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(payload.Paraphrases))
	for _, p := range payload.Paraphrases {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// retrieveAll runs the retrieval pipeline concurrently for every expanded
// query and gathers everything. A failing call contributes zero documents
// and never aborts its siblings.
func (a *SpecializedAgent) retrieveAll(ctx context.Context, queries []string) []domain.RankedDocument {
	results := make([][]domain.RankedDocument, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, a.cfg.RetrievalTimeout)
			defer cancel()

			docs, err := a.retriever.Retrieve(callCtx, q)
			if err != nil {
				a.logger.Warn("retrieval failed for expanded query", "error", err)
				return
			}
			results[i] = docs
		}(i, q)
	}
	wg.Wait()

	var out []domain.RankedDocument
	for _, docs := range results {
		out = append(out, docs...)
	}
	return out
}

// dedupeDocuments merges documents across expansions on (content, source);
// the first occurrence wins.
func dedupeDocuments(docs []domain.RankedDocument) []domain.RankedDocument {
	seen := make(map[string]struct{}, len(docs))
	out := make([]domain.RankedDocument, 0, len(docs))
	for _, doc := range docs {
		key := doc.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
	}
	return out
}

func (a *SpecializedAgent) synthesize(ctx context.Context, query string, docs []domain.RankedDocument, history []domain.ConversationTurn) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()
	return a.generator.GenerateText(callCtx, a.buildSynthesisPrompt(query, docs, history))
}

func (a *SpecializedAgent) buildSynthesisPrompt(query string, docs []domain.RankedDocument, history []domain.ConversationTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Você é um assistente jurídico especializado em %s. Responda à pergunta utilizando exclusivamente os documentos fornecidos abaixo.\n\n", a.cfg.Domain)

	for i, doc := range docs {
		fmt.Fprintf(&b, "--- Documento %d ---\n", i+1)
		fmt.Fprintf(&b, "Fonte: %s - Página %d - Domínio: %s\n", doc.Source, doc.Page, a.cfg.Domain)
		b.WriteString(doc.Content)
		b.WriteString("\n\n")
	}

	if limited := tailTurns(history, a.cfg.HistoryLimit); len(limited) > 0 {
		b.WriteString("Histórico da conversa:\n")
		for _, turn := range limited {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Regras:\n")
	b.WriteString("1. Não utilize nenhum conhecimento externo aos documentos fornecidos.\n")
	b.WriteString("2. Cite a fonte e a página de cada trecho utilizado.\n")
	b.WriteString("3. Se os documentos não forem suficientes para responder, declare explicitamente que a informação é inconclusiva nas fontes disponíveis.\n")
	fmt.Fprintf(&b, "\nPergunta: %s\n", query)
	return b.String()
}

// confidence is the mean cosine similarity between the query embedding and
// the selected documents' embeddings. Embedding failures never fail the
// agent; the low sentinel applies.
func (a *SpecializedAgent) confidence(ctx context.Context, query string, docs []domain.RankedDocument) float64 {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()

	texts := make([]string, 0, len(docs)+1)
	texts = append(texts, query)
	for _, doc := range docs {
		texts = append(texts, doc.Content)
	}

	vectors, err := a.embedder.Embed(callCtx, texts)
	if err != nil || len(vectors) != len(texts) {
		a.logger.Warn("confidence embedding failed, using low sentinel", "error", err)
		return lowConfidenceSentinel
	}

	var total float64
	for _, vec := range vectors[1:] {
		total += cosineSimilarity(vectors[0], vec)
	}
	mean := total / float64(len(docs))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}

func (a *SpecializedAgent) cacheResponse(cacheKey string, response domain.AgentResponse) {
	payload, err := json.Marshal(response)
	if err != nil {
		return
	}
	a.cache.Set(domain.CacheNamespaceResponses, cacheKey, payload)
}

func tailTurns(history []domain.ConversationTurn, limit int) []domain.ConversationTurn {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
