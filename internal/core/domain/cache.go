package domain

// Cache namespaces. Logical partitions of one size budget, not independent
// stores.
const (
	CacheNamespaceEmbeddings = "embeddings"
	CacheNamespaceQueries    = "queries"
	CacheNamespaceResponses  = "responses"
)

// CacheStats is an operational snapshot of the artifact cache.
type CacheStats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	SizeBytes  int64   `json:"size_bytes"`
	Entries    int     `json:"entries"`
	TTLSeconds int64   `json:"ttl_seconds"`
}
