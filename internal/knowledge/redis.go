package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/evoswarm/evoswarm/internal/config"
)

// RedisStore persists knowledge entries in Redis. Each entry lives under a
// prefixed key; a per-lineage sorted set indexed by creation time supports
// range reads without scanning the keyspace.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, log zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "knowledge:"
	}

	log.Info().Str("addr", cfg.Addr).Str("prefix", prefix).Msg("knowledge store connected")
	return &RedisStore{
		client: client,
		prefix: prefix,
		log:    log.With().Str("component", "knowledge").Logger(),
	}, nil
}

func (s *RedisStore) entryKey(lineageID string, id uuid.UUID) string {
	return fmt.Sprintf("%sentry:%s:%s", s.prefix, lineageID, id)
}

func (s *RedisStore) indexKey(lineageID string) string {
	return fmt.Sprintf("%sindex:%s", s.prefix, lineageID)
}

// Put stores an entry and updates the lineage index in one pipeline.
func (s *RedisStore) Put(ctx context.Context, lineageID, content string) (uuid.UUID, error) {
	entry := Entry{
		ID:        uuid.New(),
		LineageID: lineageID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	key := s.entryKey(lineageID, entry.ID)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.ZAdd(ctx, s.indexKey(lineageID), redis.Z{
		Score:  float64(entry.CreatedAt.UnixNano()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to store entry: %w", err)
	}
	return entry.ID, nil
}

// Get reads the lineage's entries newest first, scores them against the
// query, and returns the top matches.
func (s *RedisStore) Get(ctx context.Context, lineageID, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}

	keys, err := s.client.ZRevRange(ctx, s.indexKey(lineageID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read lineage index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	var matches []Entry
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Entry deleted between index read and fetch; drop the
			// dangling index member.
			s.client.ZRem(ctx, s.indexKey(lineageID), keys[i])
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.log.Warn().Str("key", keys[i]).Err(err).Msg("skipping corrupt entry")
			continue
		}
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

// Close shuts down the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
