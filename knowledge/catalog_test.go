package knowledge

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunParams(t *testing.T) {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	params := runParams(Run{
		ID:        "run-1",
		Mode:      "merge",
		StartedAt: started,
		Documents: 3,
		Chunks:    12,
		Failures:  1,
		Sources: []SourceStat{
			{Source: "docs/a.pdf", Kind: "LOCAL PDF", Chunks: 10},
			{Source: "", Kind: "OTHER", Chunks: 1},
			{Source: "https://docs.genexus.com/en/wiki?1", Kind: "WEB ARTICLE", Chunks: 2},
		},
	})

	assert.Equal(t, "run-1", params["id"])
	assert.Equal(t, started.UTC(), params["started_at"])
	assert.Equal(t, 12, params["chunks"])

	sources, ok := params["sources"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, sources, 2)
	assert.Equal(t, "docs/a.pdf", sources[0]["source"])
	assert.Equal(t, "WEB ARTICLE", sources[1]["kind"])
}

func TestRunParamsDefaultsStartTime(t *testing.T) {
	params := runParams(Run{ID: "r"})
	ts, ok := params["started_at"].(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestToInt(t *testing.T) {
	for _, v := range []any{int(4), int32(4), int64(4), float64(4)} {
		n, ok := toInt(v)
		assert.True(t, ok)
		assert.Equal(t, 4, n)
	}
	_, ok := toInt("4")
	assert.False(t, ok)
}

func TestNilDriver(t *testing.T) {
	catalog := NewCatalog(nil, nil)
	assert.Error(t, catalog.RecordRun(context.Background(), Run{}))
	assert.Error(t, catalog.Purge(context.Background()))
	_, err := catalog.Sources(context.Background(), 5)
	assert.Error(t, err)
}

func TestCatalogRoundTrip(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration checks")
	}

	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		uri = "neo4j://localhost:7687"
	}
	ctx := context.Background()
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(os.Getenv("NEO4J_USERNAME"), os.Getenv("NEO4J_PASSWORD"), ""))
	require.NoError(t, err)
	defer driver.Close(ctx)

	catalog := NewCatalog(driver, nil)
	t.Cleanup(func() { _ = catalog.Purge(context.Background()) })

	require.NoError(t, catalog.RecordRun(ctx, Run{
		ID:      uuid.NewString(),
		Mode:    ModeRebuild,
		Sources: []SourceStat{{Source: "a.pdf", Kind: "LOCAL PDF", Chunks: 4}},
	}))
	require.NoError(t, catalog.RecordRun(ctx, Run{
		ID:      uuid.NewString(),
		Mode:    "merge",
		Sources: []SourceStat{{Source: "a.pdf", Kind: "LOCAL PDF", Chunks: 2}, {Source: "b.pdf", Kind: "LOCAL PDF", Chunks: 1}},
	}))

	sources, err := catalog.Sources(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []SourceStat{{"a.pdf", "LOCAL PDF", 6}, {"b.pdf", "LOCAL PDF", 1}}, sources)
}
