package ports

import (
	"context"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

// TextGenerator produces free-form and JSON-constrained completions.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Embedder builds vectors for queries and document texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchIndex serves both ranked-list methods over a per-domain collection.
type SearchIndex interface {
	SearchVector(ctx context.Context, domainName string, queryVector []float32, limit int) ([]domain.RankedDocument, error)
	SearchLexical(ctx context.Context, domainName, queryText string, limit int) ([]domain.RankedDocument, error)
}

// Retriever is one hybrid retrieval pipeline bound to a single domain.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.RankedDocument, error)
}

// Reranker orders a small candidate set by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RankedDocument, topN int) ([]domain.RankedDocument, error)
}

// DomainAgent answers queries for exactly one legal domain.
type DomainAgent interface {
	Invoke(ctx context.Context, query string, history []domain.ConversationTurn) (domain.AgentResponse, error)
	Domain() string
}

// WebSearcher queries the trusted-site web search collaborator.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]domain.WebResult, error)
}

// ArtifactCache is the best-effort TTL/size bounded blob store. Get reports
// a miss on any failure; Set never fails the caller.
type ArtifactCache interface {
	Get(namespace, keyMaterial string) ([]byte, bool)
	Set(namespace, keyMaterial string, payload []byte)
	Stats() domain.CacheStats
}

// ConversationStore persists conversation turns per conversation.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, conversationID string) error
	AppendTurn(ctx context.Context, conversationID string, turn domain.ConversationTurn) error
	ListRecentTurns(ctx context.Context, conversationID string, limit int) ([]domain.ConversationTurn, error)
	ClearConversation(ctx context.Context, conversationID string) error
}

// InteractionRecorder appends one audit record per orchestration call.
type InteractionRecorder interface {
	Record(record domain.InteractionRecord) error
}

// InteractionPublisher emits interaction events for downstream consumers.
type InteractionPublisher interface {
	PublishInteractionCompleted(ctx context.Context, record domain.InteractionRecord) error
}
