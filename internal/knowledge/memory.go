package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and Redis-less deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry // lineageID -> entries in insertion order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

// Put stores content under a lineage.
func (s *MemoryStore) Put(_ context.Context, lineageID, content string) (uuid.UUID, error) {
	entry := Entry{
		ID:        uuid.New(),
		LineageID: lineageID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.entries[lineageID] = append(s.entries[lineageID], entry)
	s.mu.Unlock()
	return entry.ID, nil
}

// Get scores the lineage's entries against the query.
func (s *MemoryStore) Get(_ context.Context, lineageID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Entry
	for _, entry := range s.entries[lineageID] {
		if score := relevance(entry.Content, query); score > 0 {
			entry.Relevance = score
			matches = append(matches, entry)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance > matches[j].Relevance
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
