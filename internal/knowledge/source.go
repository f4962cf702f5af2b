package knowledge

import (
	"context"

	"github.com/rs/zerolog"
)

// relevanceCutoff is the minimum score at which an entry counts as
// answering a query.
const relevanceCutoff = 0.5

// Source adapts a Store to the read/write surface task agents use. Store
// errors are absorbed here: a failing store reads as a knowledge gap and
// drops writes, and the tick loop keeps running either way.
type Source struct {
	store Store
	log   zerolog.Logger
}

// NewSource wraps a store.
func NewSource(store Store, log zerolog.Logger) *Source {
	return &Source{store: store, log: log.With().Str("component", "knowledge").Logger()}
}

// HasRelevant reports whether the lineage has stored knowledge matching
// the query above the relevance cutoff.
func (s *Source) HasRelevant(ctx context.Context, lineageID, query string) bool {
	entries, err := s.store.Get(ctx, lineageID, query, 1)
	if err != nil {
		s.log.Warn().Str("lineage", lineageID).Err(err).Msg("knowledge query failed")
		return false
	}
	return len(entries) > 0 && entries[0].Relevance >= relevanceCutoff
}

// Remember stores content for a lineage, dropping it on store failure.
func (s *Source) Remember(ctx context.Context, lineageID, content string) {
	if _, err := s.store.Put(ctx, lineageID, content); err != nil {
		s.log.Warn().Str("lineage", lineageID).Err(err).Msg("knowledge write failed")
	}
}
