package ports

import (
	"context"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

// QueryOrchestrator is the inbound contract for end-to-end question
// answering.
type QueryOrchestrator interface {
	Process(ctx context.Context, query, conversationID string) (*domain.FinalAnswer, error)
	ClearConversation(ctx context.Context, conversationID string) error
}

// CacheStatsReader exposes artifact-cache statistics for operational
// visibility.
type CacheStatsReader interface {
	Stats() domain.CacheStats
}
