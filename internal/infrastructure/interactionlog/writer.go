package interactionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kirillkom/legal-rag-assistant/internal/core/domain"
)

// Writer appends one JSON line per completed interaction to a local file.
// The file is the audit trail of every answered query, including failures.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

func New(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create interaction log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open interaction log: %w", err)
	}
	return &Writer{file: file}, nil
}

func (w *Writer) Record(record domain.InteractionRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal interaction record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("append interaction record: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
