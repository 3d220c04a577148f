package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one entry of the append-only conversation history.
type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// OutOfContextDomain is the sentinel domain meaning no configured legal
// domain applies; it routes the query to the web fallback path.
const OutOfContextDomain = "out_of_context"

// RoutingDecision is the classifier outcome for one standalone query. An
// empty domain selection is never carried around: it is normalized to the
// out-of-context sentinel before the decision leaves the router.
type RoutingDecision struct {
	Query           string             `json:"query"`
	SelectedDomains []string           `json:"selected_domains"`
	Scores          map[string]float64 `json:"scores"`
	PrimaryDomain   string             `json:"primary_domain"`
}

// OutOfContext reports whether the decision selected no real domain.
func (r RoutingDecision) OutOfContext() bool {
	return len(r.SelectedDomains) == 0 ||
		(len(r.SelectedDomains) == 1 && r.SelectedDomains[0] == OutOfContextDomain)
}

type AgentStatus string

const (
	AgentStatusSuccess        AgentStatus = "success"
	AgentStatusNoRelevantDocs AgentStatus = "no_relevant_docs"
	AgentStatusNoDocuments    AgentStatus = "no_documents"
	AgentStatusError          AgentStatus = "error"
)

// AgentResponse is one domain agent's answer for a query.
type AgentResponse struct {
	AgentID    string           `json:"agent_id"`
	Domain     string           `json:"domain"`
	Answer     string           `json:"answer"`
	Sources    []RankedDocument `json:"sources"`
	Confidence float64          `json:"confidence"`
	Status     AgentStatus      `json:"status"`
}

type AnswerStatus string

const (
	AnswerStatusSuccess      AnswerStatus = "success"
	AnswerStatusWebFallback  AnswerStatus = "success_web_fallback"
	AnswerStatusOutOfContext AnswerStatus = "out_of_context"
	AnswerStatusNoAnswer     AnswerStatus = "no_answer"
	AnswerStatusNoDocuments  AnswerStatus = "no_documents"
	AnswerStatusError        AnswerStatus = "error"
)

// FinalAnswer is the single well-formed result every orchestration call
// produces, whatever path it took.
type FinalAnswer struct {
	Query           string           `json:"query"`
	Answer          string           `json:"answer"`
	Sources         []RankedDocument `json:"sources"`
	PrimaryAgent    string           `json:"primary_agent,omitempty"`
	Domains         []string         `json:"domains,omitempty"`
	Confidence      float64          `json:"confidence"`
	RoutingDecision *RoutingDecision `json:"routing_decision,omitempty"`
	Status          AnswerStatus     `json:"status"`
}

// InteractionRecord is the append-only audit record written exactly once per
// orchestration call, success or failure.
type InteractionRecord struct {
	InteractionID   string       `json:"interaction_id"`
	Timestamp       time.Time    `json:"timestamp"`
	ConversationID  string       `json:"conversation_id,omitempty"`
	OriginalQuery   string       `json:"original_query"`
	StandaloneQuery string       `json:"standalone_query"`
	DurationSeconds float64      `json:"duration_seconds"`
	Answer          string       `json:"answer"`
	PrimaryAgent    string       `json:"primary_agent,omitempty"`
	Domains         []string     `json:"domains,omitempty"`
	Confidence      float64      `json:"confidence"`
	Status          AnswerStatus `json:"status"`
}
