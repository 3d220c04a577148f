package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

// Client queries Qdrant collections over HTTP. Each legal domain has its
// own collection named "<prefix>_<domain>" carrying a dense vector and a
// named sparse vector for lexical search.
type Client struct {
	baseURL          string
	collectionPrefix string
	httpClient       *http.Client
}

func New(baseURL, collectionPrefix string) *Client {
	if collectionPrefix == "" {
		collectionPrefix = "legal"
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		collectionPrefix: collectionPrefix,
		httpClient:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) SearchVector(ctx context.Context, domainName string, queryVector []float32, limit int) ([]domain.RankedDocument, error) {
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	return c.search(ctx, domainName, reqBody, "vector search")
}

func (c *Client) SearchLexical(ctx context.Context, domainName, queryText string, limit int) ([]domain.RankedDocument, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector": map[string]any{
			"name":   "lexical",
			"vector": sparse,
		},
		"limit":        limit,
		"with_payload": true,
	}
	return c.search(ctx, domainName, reqBody, "lexical search")
}

func (c *Client) search(ctx context.Context, domainName string, reqBody map[string]any, operation string) ([]domain.RankedDocument, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", operation, err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection(domainName))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(respBody)); msg != "" {
			return nil, fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
		}
		return nil, fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", operation, err)
	}

	out := make([]domain.RankedDocument, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.RankedDocument{
			ID:         getStringPayload(r.Payload, "doc_id"),
			Source:     getStringPayload(r.Payload, "source"),
			Page:       getIntPayload(r.Payload, "page"),
			ChunkIndex: getIntPayload(r.Payload, "chunk_index"),
			Domain:     domainName,
			Content:    getStringPayload(r.Payload, "text"),
			Score:      r.Score,
		})
	}
	return out, nil
}

func (c *Client) collection(domainName string) string {
	return c.collectionPrefix + "_" + domainName
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
