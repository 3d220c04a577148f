package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

type Config struct {
	BasePath     string
	TTL          time.Duration
	MaxSizeBytes int64
	KeepNewest   int
}

func (c Config) normalize() Config {
	if c.BasePath == "" {
		c.BasePath = "./data/cache"
	}
	if c.TTL <= 0 {
		c.TTL = 7 * 24 * time.Hour
	}
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = 500 * 1024 * 1024
	}
	if c.KeepNewest <= 0 {
		c.KeepNewest = 1000
	}
	return c
}

// Store is a best-effort TTL/size bounded blob cache on the local
// filesystem. Entries are hash-named files under one directory per
// namespace; all namespaces share one size budget. The store is never a
// correctness dependency: read failures are misses and write failures are
// logged and swallowed.
type Store struct {
	cfg    Config
	logger *slog.Logger

	// evictMu serializes eviction passes; individual reads/writes rely on
	// atomic rename and whole-file operations.
	evictMu sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

func New(cfg Config, logger *slog.Logger) (*Store, error) {
	cfg = cfg.normalize()
	for _, ns := range []string{domain.CacheNamespaceEmbeddings, domain.CacheNamespaceQueries, domain.CacheNamespaceResponses} {
		if err := os.MkdirAll(filepath.Join(cfg.BasePath, ns), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Store{cfg: cfg, logger: logger}, nil
}

// Get returns the cached payload for keyMaterial. Entries older than the
// TTL are deleted and reported as misses; stale data is never returned.
func (s *Store) Get(namespace, keyMaterial string) ([]byte, bool) {
	path := s.entryPath(namespace, keyMaterial)

	info, err := os.Stat(path)
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}
	if time.Since(info.ModTime()) > s.cfg.TTL {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing stale cache entry failed", "path", path, "error", err)
		}
		s.misses.Add(1)
		return nil, false
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return payload, true
}

// Set stores the payload and runs the size-budget pass. Failures never
// reach the caller.
func (s *Store) Set(namespace, keyMaterial string, payload []byte) {
	dir := filepath.Join(s.cfg.BasePath, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("cache write skipped", "namespace", namespace, "error", err)
		return
	}

	path := s.entryPath(namespace, keyMaterial)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		s.logger.Warn("cache write skipped", "namespace", namespace, "error", err)
		return
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		s.logger.Warn("cache write failed", "namespace", namespace, "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		s.logger.Warn("cache write failed", "namespace", namespace, "error", err)
		return
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		s.logger.Warn("cache write failed", "namespace", namespace, "error", err)
		return
	}

	s.evictIfOverBudget()
}

func (s *Store) Stats() domain.CacheStats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	entries := s.listEntries()
	var size int64
	for _, e := range entries {
		size += e.size
	}
	return domain.CacheStats{
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
		SizeBytes:  size,
		Entries:    len(entries),
		TTLSeconds: int64(s.cfg.TTL.Seconds()),
	}
}

// tmpPrefix marks in-flight writes. They are invisible to the size scan so
// an eviction pass cannot delete an entry mid-write.
const tmpPrefix = ".tmp-"

type cacheEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// evictIfOverBudget keeps the newest KeepNewest entries across all
// namespaces when the aggregate size exceeds the budget. Entries are ranked
// by modification time only; one churning namespace can starve the others.
func (s *Store) evictIfOverBudget() {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	entries := s.listEntries()
	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= s.cfg.MaxSizeBytes {
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})
	if len(entries) <= s.cfg.KeepNewest {
		return
	}

	removed := 0
	for _, e := range entries[s.cfg.KeepNewest:] {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("cache eviction failed for entry", "path", e.path, "error", err)
			continue
		}
		removed++
	}
	s.logger.Info("cache eviction pass completed", "removed", removed, "kept", s.cfg.KeepNewest)
}

func (s *Store) listEntries() []cacheEntry {
	var out []cacheEntry
	for _, ns := range []string{domain.CacheNamespaceEmbeddings, domain.CacheNamespaceQueries, domain.CacheNamespaceResponses} {
		dir := filepath.Join(s.cfg.BasePath, ns)
		dirEntries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, de := range dirEntries {
			if de.IsDir() || strings.HasPrefix(de.Name(), tmpPrefix) {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			out = append(out, cacheEntry{
				path:    filepath.Join(dir, de.Name()),
				size:    info.Size(),
				modTime: info.ModTime(),
			})
		}
	}
	return out
}

func (s *Store) entryPath(namespace, keyMaterial string) string {
	sum := sha256.Sum256([]byte(keyMaterial))
	return filepath.Join(s.cfg.BasePath, namespace, hex.EncodeToString(sum[:]))
}
