package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mukasc/genexus-ai-assistant/database"
	"github.com/mukasc/genexus-ai-assistant/domain"
)

// rebuildLockKey serialises concurrent rebuilds against the same database.
const rebuildLockKey = 0x67786169

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps the index in pgvector tables. A rebuild runs in one
// transaction so readers see the previous index until it commits.
type PostgresStore struct {
	pool   *pgxpool.Pool
	opts   Options
	logger *log.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, opts Options, logger *log.Logger) *PostgresStore {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresStore{pool: pool, opts: opts, logger: logger}
}

func (s *PostgresStore) Location() string {
	if s.pool == nil {
		return "postgres"
	}
	cfg := s.pool.Config().ConnConfig
	return fmt.Sprintf("postgres://%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
}

func (s *PostgresStore) Open(ctx context.Context) (Index, error) {
	if s.pool == nil {
		return nil, unavailable("postgres pool is nil")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return nil, unavailable("connect to postgres: %v", err)
	}

	exists, err := tableExists(ctx, s.pool, database.MetaTable)
	if err != nil {
		return nil, unavailable("inspect postgres schema: %v", err)
	}
	if !exists {
		return nil, unavailable("no index found at %s", s.Location())
	}

	meta, err := readPGMeta(ctx, s.pool)
	if err != nil {
		return nil, unavailable("read index metadata: %v", err)
	}
	dimension, err := checkMeta(meta, s.opts)
	if err != nil {
		return nil, err
	}

	idx := &pgIndex{q: s.pool, dimension: dimension}
	count, err := idx.Count(ctx)
	if err != nil {
		return nil, unavailable("count entries: %v", err)
	}
	if count == 0 {
		return nil, unavailable("index at %s is empty", s.Location())
	}
	return idx, nil
}

func (s *PostgresStore) Create(ctx context.Context) (Builder, error) {
	if s.pool == nil {
		return nil, unavailable("postgres pool is nil")
	}
	if s.opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: postgres index needs a positive embedding dimension", domain.ErrConfiguration)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin rebuild: %v", err)
	}
	if err := s.prepareRebuild(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	return &pgBuilder{pgIndex: &pgIndex{q: tx, dimension: s.opts.Dimension}, tx: tx}, nil
}

func (s *PostgresStore) prepareRebuild(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", rebuildLockKey); err != nil {
		return fmt.Errorf("lock index for rebuild: %w", err)
	}

	exists, err := tableExists(ctx, tx, database.MetaTable)
	if err != nil {
		return fmt.Errorf("inspect postgres schema: %w", err)
	}
	if exists {
		meta, err := readPGMeta(ctx, tx)
		if err != nil {
			return fmt.Errorf("read index metadata: %w", err)
		}
		if meta[metaDimension] != strconv.Itoa(s.opts.Dimension) {
			s.logger.Printf("embedding dimension changed (%q -> %d), recreating tables", meta[metaDimension], s.opts.Dimension)
			if err := database.DropRAGSchema(ctx, tx); err != nil {
				return err
			}
		}
	}

	if err := database.EnsureRAGSchema(ctx, tx, s.opts.Dimension); err != nil {
		return err
	}
	for _, stmt := range []string{"DELETE FROM rag_chunks", "DELETE FROM rag_index_meta"} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("clear previous index: %w", err)
		}
	}

	meta := map[string]string{
		metaSchemaVersion: SchemaVersion,
		metaModel:         s.opts.Model,
		metaDimension:     strconv.Itoa(s.opts.Dimension),
		metaCreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range meta {
		if _, err := tx.Exec(ctx, `INSERT INTO rag_index_meta (key, value) VALUES ($1, $2)`, key, value); err != nil {
			return fmt.Errorf("write index metadata: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	if s.pool == nil {
		return unavailable("postgres pool is nil")
	}
	return database.DropRAGSchema(ctx, s.pool)
}

func tableExists(ctx context.Context, q pgQuerier, table string) (bool, error) {
	var name *string
	if err := q.QueryRow(ctx, "SELECT to_regclass($1)::text", table).Scan(&name); err != nil {
		return false, err
	}
	return name != nil, nil
}

func readPGMeta(ctx context.Context, q pgQuerier) (map[string]string, error) {
	rows, err := q.Query(ctx, `SELECT key, value FROM rag_index_meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

type pgIndex struct {
	q         pgQuerier
	dimension int
}

func (i *pgIndex) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := checkVectors(entries, i.dimension); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		meta, err := marshalMetadata(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", entry.ID, err)
		}
		batch.Queue(`
			INSERT INTO rag_chunks (id, source, content, metadata, embedding)
			VALUES ($1, $2, $3, $4::jsonb, $5)`,
			entry.ID, entry.Source(), entry.Text, meta, pgvector.NewVector(entry.Vector))
	}

	results := i.q.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert entries: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("insert entries: %w", err)
	}
	return nil
}

func (i *pgIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if i.dimension > 0 && len(query) != i.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), i.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	tx, err := i.q.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin search: %w", err)
	}
	defer tx.Rollback(ctx)

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id::text, content, metadata, (embedding <=> $1::vector) AS distance
		FROM rag_chunks
		ORDER BY embedding <=> $1::vector, seq
		LIMIT $2
	`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var (
			hit      Hit
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&hit.ID, &hit.Text, &meta, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", hit.ID, err)
		}
		hit.Score = 1 - distance
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

func (i *pgIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.q.QueryRow(ctx, `SELECT COUNT(*) FROM rag_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (i *pgIndex) Sources(ctx context.Context, limit int) ([]SourceCount, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := i.q.Query(ctx, `
		SELECT source, COUNT(*) FROM rag_chunks
		GROUP BY source
		ORDER BY MIN(seq)
		LIMIT $1`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Entries); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, sc)
	}
	return sources, rows.Err()
}

// Close is a no-op; the pool belongs to the caller.
func (i *pgIndex) Close() error { return nil }

type pgBuilder struct {
	*pgIndex
	tx   pgx.Tx
	done bool
}

func (b *pgBuilder) Commit(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rebuilt index: %w", err)
	}
	return nil
}

func (b *pgBuilder) Abort() error {
	if b.done {
		return nil
	}
	b.done = true
	err := b.tx.Rollback(context.Background())
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback rebuild: %w", err)
	}
	return nil
}

func (b *pgBuilder) Close() error { return b.Abort() }

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
