// Package knowledge mirrors ingestion runs into a Neo4j graph so the corpus
// can be audited by source: (:IngestRun)-[:INGESTED]->(:Source).
package knowledge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const ModeRebuild = "rebuild"

type SourceStat struct {
	Source string
	Kind   string
	Chunks int
}

// Run summarises one ingestion run.
type Run struct {
	ID        string
	Mode      string
	StartedAt time.Time
	Documents int
	Chunks    int
	Failures  int
	Sources   []SourceStat
}

type Catalog struct {
	driver neo4j.DriverWithContext
	logger *log.Logger
}

func NewCatalog(driver neo4j.DriverWithContext, logger *log.Logger) *Catalog {
	if logger == nil {
		logger = log.Default()
	}
	return &Catalog{driver: driver, logger: logger}
}

// RecordRun stores the run and its sources. A rebuild replaces the graph,
// a merge adds chunk counts onto existing sources.
func (c *Catalog) RecordRun(ctx context.Context, run Run) error {
	if c.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := runParams(run)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if run.Mode == ModeRebuild {
			if err := purge(ctx, tx); err != nil {
				return nil, err
			}
		}

		if _, err := tx.Run(ctx, `
			CREATE (r:IngestRun {id: $id})
			SET r.mode = $mode,
			    r.started_at = $started_at,
			    r.documents = $documents,
			    r.chunks = $chunks,
			    r.failures = $failures
		`, params); err != nil {
			return nil, fmt.Errorf("create ingest run node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (r:IngestRun {id: $id})
			UNWIND $sources AS src
			MERGE (s:Source {name: src.source})
			ON CREATE SET s.kind = src.kind, s.chunks = 0, s.first_seen = $started_at
			SET s.chunks = s.chunks + src.chunks,
			    s.last_seen = $started_at
			MERGE (r)-[rel:INGESTED]->(s)
			SET rel.chunks = src.chunks
		`, params); err != nil {
			return nil, fmt.Errorf("upsert source nodes: %w", err)
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("record ingest run: %w", err)
	}

	c.logger.Printf("recorded %s run %s with %d sources in graph", run.Mode, run.ID, len(run.Sources))
	return nil
}

// Sources lists catalogued sources, largest first.
func (c *Catalog) Sources(ctx context.Context, limit int) ([]SourceStat, error) {
	if c.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Source)
		RETURN s.name AS source, s.kind AS kind, s.chunks AS chunks
		ORDER BY s.chunks DESC, s.name
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("run neo4j sources query: %w", err)
	}

	var sources []SourceStat
	for result.Next(ctx) {
		record := result.Record()
		name, _ := record.Get("source")
		kind, _ := record.Get("kind")
		chunks, _ := record.Get("chunks")

		source, ok := name.(string)
		if !ok {
			continue
		}
		kindName, _ := kind.(string)
		count, _ := toInt(chunks)
		sources = append(sources, SourceStat{Source: source, Kind: kindName, Chunks: count})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j sources result error: %w", err)
	}
	return sources, nil
}

// Purge removes every run and source node.
func (c *Catalog) Purge(ctx context.Context) error {
	if c.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, purge(ctx, tx)
	})
	return err
}

func purge(ctx context.Context, tx neo4j.ManagedTransaction) error {
	if _, err := tx.Run(ctx, `MATCH (r:IngestRun) DETACH DELETE r`, nil); err != nil {
		return fmt.Errorf("delete ingest runs: %w", err)
	}
	if _, err := tx.Run(ctx, `MATCH (s:Source) DETACH DELETE s`, nil); err != nil {
		return fmt.Errorf("delete sources: %w", err)
	}
	return nil
}

func runParams(run Run) map[string]any {
	sources := make([]map[string]any, 0, len(run.Sources))
	for _, src := range run.Sources {
		if src.Source == "" {
			continue
		}
		sources = append(sources, map[string]any{
			"source": src.Source,
			"kind":   src.Kind,
			"chunks": src.Chunks,
		})
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return map[string]any{
		"id":         run.ID,
		"mode":       run.Mode,
		"started_at": startedAt.UTC(),
		"documents":  run.Documents,
		"chunks":     run.Chunks,
		"failures":   run.Failures,
		"sources":    sources,
	}
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
