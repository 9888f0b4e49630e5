package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"stablewatch/internal/core"
)

type entry struct {
	tx  core.Transaction
	at  time.Time
	ok  bool
	seq int
}

// Store keeps transactions in process memory. It is the default backend for
// local runs and the fake used by higher-level tests.
type Store struct {
	mu     sync.Mutex
	byHash map[string]int
	items  []entry
}

func New() *Store {
	return &Store{byHash: map[string]int{}}
}

// NewWith returns a store seeded with txs; invalid records are dropped.
func NewWith(txs []core.Transaction) *Store {
	s := New()
	_, _ = s.SaveTransactions(context.Background(), txs)
	return s
}

// Ping always succeeds; the store has nothing to reach.
func (s *Store) Ping(context.Context) error { return nil }

// SaveTransactions stores records with unseen hashes and reports how many were added.
func (s *Store) SaveTransactions(_ context.Context, txs []core.Transaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			continue
		}
		if _, dup := s.byHash[tx.Hash]; dup {
			continue
		}
		at, ok := tx.Time(time.UTC)
		s.byHash[tx.Hash] = len(s.items)
		s.items = append(s.items, entry{tx: tx, at: at, ok: ok, seq: len(s.items)})
		inserted++
	}
	return inserted, nil
}

// ListTransactions returns up to limit records, newest first. Records without a
// parseable timestamp sort last. limit <= 0 means no limit.
func (s *Store) ListTransactions(_ context.Context, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	sorted := slices.Clone(s.items)
	s.mu.Unlock()

	slices.SortStableFunc(sorted, newestFirst)

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]core.Transaction, len(sorted))
	for i, e := range sorted {
		out[i] = e.tx
	}
	return out, nil
}

// ReadSummary totals the records timestamped at or after since.
func (s *Store) ReadSummary(_ context.Context, since time.Time) (core.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum core.Summary
	for _, e := range s.items {
		if !e.ok || e.at.Before(since) {
			continue
		}
		sum.TotalTransactions++
		sum.TotalVolume += e.tx.AmountOrZero()
		if e.tx.Anomalous() {
			sum.AnomalyCount++
		}
	}
	return sum, nil
}

// Len reports how many records are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func newestFirst(a, b entry) int {
	switch {
	case a.ok && !b.ok:
		return -1
	case !a.ok && b.ok:
		return 1
	case a.ok && b.ok && !a.at.Equal(b.at):
		return b.at.Compare(a.at)
	}
	// later inserts first among equals
	return b.seq - a.seq
}
