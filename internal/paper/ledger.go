package paper

import (
	"context"
	"sync"

	"spotbot-go/internal/execution"
)

// Ledger stores trade records in memory for quick inspection.
type Ledger struct {
	mu      sync.Mutex
	records []execution.TradeRecord
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{records: make([]execution.TradeRecord, 0, capacity)}
}

// Append adds a record to the ledger.
func (l *Ledger) Append(_ context.Context, rec execution.TradeRecord) error {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return nil
}

// Recent returns up to limit of the latest records, oldest first.
func (l *Ledger) Recent(_ context.Context, limit int) ([]execution.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if limit > 0 && len(l.records) > limit {
		start = len(l.records) - limit
	}
	out := make([]execution.TradeRecord, len(l.records)-start)
	copy(out, l.records[start:])
	return out, nil
}

// Snapshot returns a copy of every recorded trade.
func (l *Ledger) Snapshot() []execution.TradeRecord {
	out, _ := l.Recent(context.Background(), 0)
	return out
}

// Reset clears all stored records.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.records = l.records[:0]
	l.mu.Unlock()
}
