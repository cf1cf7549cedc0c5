package vectorindex

import (
	"context"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukasc/genexus-ai-assistant/database"
	"github.com/mukasc/genexus-ai-assistant/domain"
)

func TestPostgresRebuildAndSearch(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration checks")
	}
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	store := NewPostgresStore(pool, Options{Model: "test-model", Dimension: 3}, log.New(io.Discard, "", 0))
	require.NoError(t, store.Reset(ctx))
	t.Cleanup(func() { _ = store.Reset(context.Background()) })

	_, err = store.Open(ctx)
	require.ErrorIs(t, err, domain.ErrIndexUnavailable)

	near := uuid.NewString()
	builder, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, builder.Upsert(ctx, []Entry{
		{ID: near, Text: "near", Metadata: map[string]any{domain.MetaSource: "a.pdf"}, Vector: []float32{1, 0, 0}},
		{ID: uuid.NewString(), Text: "far", Metadata: map[string]any{domain.MetaSource: "b.pdf"}, Vector: []float32{0, 1, 0}},
	}))
	require.NoError(t, builder.Commit(ctx))

	idx, err := store.Open(ctx)
	require.NoError(t, err)
	defer idx.Close()

	hits, err := idx.Search(ctx, []float32{1, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, near, hits[0].ID)
	assert.Equal(t, "a.pdf", hits[0].Source())

	_, err = NewPostgresStore(pool, Options{Model: "other"}, nil).Open(ctx)
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}
