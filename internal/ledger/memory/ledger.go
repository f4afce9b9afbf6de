// Package memory provides an in-memory ledger for tests and dry runs.
package memory

import (
	"context"
	"sync"
)

// Ledger keeps identifiers in memory in append order.
type Ledger struct {
	mu      sync.RWMutex
	entries []string
	err     error
}

// New returns a ledger pre-seeded with ids.
func New(ids ...string) *Ledger {
	return &Ledger{entries: append([]string(nil), ids...)}
}

// FailWith makes subsequent appends return err.
func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Load returns the recorded identifiers as a set.
func (l *Ledger) Load(context.Context) (map[string]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make(map[string]struct{}, len(l.entries))
	for _, id := range l.entries {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Append records id.
func (l *Ledger) Append(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, id)
	return nil
}

// Entries returns the append log including duplicates.
func (l *Ledger) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.entries...)
}

// Close implements harvest.Ledger.
func (l *Ledger) Close() error {
	return nil
}
