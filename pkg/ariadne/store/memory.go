package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// MemoryStore keeps workflow records in memory. Useful for tests and
// single-shot tooling; contents are lost on process exit.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*Record
	questions map[string]*QuestionStat
	prefs     map[string]string
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*Record),
		questions: make(map[string]*QuestionStat),
		prefs:     make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// cloneRecord deep-copies a record through JSON so callers can't mutate
// stored state.
func cloneRecord(r *Record) *Record {
	data, err := json.Marshal(r)
	if err != nil {
		// Record is plain data; marshalling cannot realistically fail.
		panic(err)
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.records[r.ID]; exists {
		return ErrDuplicateID
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	normalize(r, now)
	s.records[r.ID] = cloneRecord(r)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	r, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	records := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, cloneRecord(r))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.records[r.ID]; !exists {
		return ErrNotFound
	}

	normalize(r, time.Now().UTC())
	s.records[r.ID] = cloneRecord(r)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.records[id]; !exists {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Fingerprints implements Store.
func (s *MemoryStore) Fingerprints(_ context.Context, status workflow.Status) ([]Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var fps []Fingerprint
	for _, r := range s.records {
		if r.Status != status || len(r.Fingerprint) == 0 {
			continue
		}
		fps = append(fps, Fingerprint{
			ID:     r.ID,
			Vector: append([]float64(nil), r.Fingerprint...),
		})
	}
	return fps, nil
}

// RecordQuestion implements Store.
func (s *MemoryStore) RecordQuestion(_ context.Context, question, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	st, exists := s.questions[question]
	if !exists {
		st = &QuestionStat{Question: question, Category: category}
		s.questions[question] = st
	}
	st.TimesAsked++
	st.LastAsked = time.Now().UTC()
	return nil
}

// Questions implements Store.
func (s *MemoryStore) Questions(_ context.Context) ([]QuestionStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := make([]QuestionStat, 0, len(s.questions))
	for _, st := range s.questions {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].TimesAsked > stats[j].TimesAsked
	})
	return stats, nil
}

// Preferences implements Store.
func (s *MemoryStore) Preferences(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	prefs := make(map[string]string, len(s.prefs))
	for k, v := range s.prefs {
		prefs[k] = v
	}
	return prefs, nil
}

// SetPreference implements Store.
func (s *MemoryStore) SetPreference(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.prefs[key] = value
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
