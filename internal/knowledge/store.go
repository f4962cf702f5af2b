// Package knowledge implements the lineage-scoped knowledge store: small
// content entries agents write after solving goals and query before
// selecting capabilities.
package knowledge

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one stored piece of knowledge.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	LineageID string    `json:"lineage_id"`
	Content   string    `json:"content"`
	Relevance float64   `json:"relevance,omitempty"` // set on query results only
	CreatedAt time.Time `json:"created_at"`
}

// Store is the knowledge persistence contract.
type Store interface {
	// Put stores content under a lineage and returns the entry id.
	Put(ctx context.Context, lineageID, content string) (uuid.UUID, error)
	// Get returns up to limit entries for a lineage scored against the
	// query, most relevant first. Entries with zero relevance are omitted.
	Get(ctx context.Context, lineageID, query string, limit int) ([]Entry, error)
	// Close releases the underlying connection.
	Close() error
}

// relevance scores content against a query by naive term overlap: the
// fraction of query terms appearing in the content.
func relevance(content, query string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	lowered := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lowered, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
