package knowledge

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evoswarm/evoswarm/internal/config"
)

func setupTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(config.RedisConfig{
		Addr:   mr.Addr(),
		Prefix: "test:",
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStorePutGet(t *testing.T) {
	store, _ := setupTestRedisStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, "comms", "WeatherInquiry:London -> overcast")
	require.NoError(t, err)

	entries, err := store.Get(ctx, "comms", "london weather", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "comms", entries[0].LineageID)
	assert.Greater(t, entries[0].Relevance, 0.0)
}

func TestRedisStoreLineageIsolation(t *testing.T) {
	store, _ := setupTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "comms", "echo results for greetings")
	require.NoError(t, err)

	entries, err := store.Get(ctx, "numerics", "echo greetings", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisStoreRelevanceOrdering(t *testing.T) {
	store, _ := setupTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "comms", "london weather is overcast")
	require.NoError(t, err)
	_, err = store.Put(ctx, "comms", "weather report placeholder")
	require.NoError(t, err)
	_, err = store.Put(ctx, "comms", "completely unrelated content")
	require.NoError(t, err)

	entries, err := store.Get(ctx, "comms", "london weather", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Content, "london")
	assert.Greater(t, entries[0].Relevance, entries[1].Relevance)
}

func TestRedisStoreLimit(t *testing.T) {
	store, _ := setupTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Put(ctx, "comms", "weather data")
		require.NoError(t, err)
	}

	entries, err := store.Get(ctx, "comms", "weather", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRedisStoreCleansDanglingIndex(t *testing.T) {
	store, mr := setupTestRedisStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, "comms", "weather data")
	require.NoError(t, err)

	// Delete the entry behind the index's back.
	mr.Del(store.entryKey("comms", id))

	entries, err := store.Get(ctx, "comms", "weather", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The dangling index member was removed too.
	members, err := store.client.ZRange(ctx, store.indexKey("comms"), 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRedisStoreConnectFailure(t *testing.T) {
	_, err := NewRedisStore(config.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}
