package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"spotbot-go/internal/execution"
)

// JSONLJournal appends trade records as JSON lines.
type JSONLJournal struct {
	path string
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLJournal creates/opens the target file and returns a journal.
func NewJSONLJournal(path string) (*JSONLJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLJournal{
		path: path,
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Append writes a single record and syncs it to disk.
func (j *JSONLJournal) Append(_ context.Context, rec execution.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return errors.New("journal closed")
	}
	if err := j.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode trade: %w", err)
	}
	return j.file.Sync()
}

// Recent returns up to limit of the latest records, oldest first.
func (j *JSONLJournal) Recent(_ context.Context, limit int) ([]execution.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.Open(j.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []execution.TradeRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec execution.TradeRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode trade: %w", err)
		}
		out = append(out, rec)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	}
	return out, scanner.Err()
}

// Close flushes and closes the file handle.
func (j *JSONLJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
