package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// RankedDocument is one retrieved chunk of a legal source document.
type RankedDocument struct {
	ID         string  `json:"id,omitempty"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Page       int     `json:"page,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Domain     string  `json:"domain,omitempty"`
	Score      float64 `json:"score"`
}

// IdentityKey is the stable key used wherever two ranked lists are merged.
// Explicit id wins, then (source, chunk index), then a content hash.
func (d RankedDocument) IdentityKey() string {
	if d.ID != "" {
		return d.ID
	}
	if d.Source != "" {
		return fmt.Sprintf("%s_%d", d.Source, d.ChunkIndex)
	}
	sum := sha256.Sum256([]byte(d.Content))
	return hex.EncodeToString(sum[:])
}

// DedupKey is the agent-level de-duplication key across query expansions.
func (d RankedDocument) DedupKey() string {
	return d.Content + "|" + d.Source
}

// RankedList is one retriever's ordered output plus its fusion weight.
type RankedList struct {
	Weight    float64
	Documents []RankedDocument
}

type ScoredDocument struct {
	Document RankedDocument `json:"document"`
	Score    float64        `json:"score"`
}

// FusionResult is the merged ranking produced by one fusion pass. Scores are
// only comparable within a single mode.
type FusionResult struct {
	Mode      string           `json:"mode"`
	Documents []ScoredDocument `json:"documents"`
}

// WebResult is one hit returned by the trusted-site web search collaborator.
type WebResult struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}
