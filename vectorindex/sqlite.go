package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteFile = "index.db"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		embedding BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source)`,
}

// SQLiteStore keeps the index in <dir>/index.db. Rebuilds are staged in a
// sibling directory and renamed into place.
type SQLiteStore struct {
	dir    string
	opts   Options
	logger *log.Logger
}

func NewSQLiteStore(dir string, opts Options, logger *log.Logger) *SQLiteStore {
	if logger == nil {
		logger = log.Default()
	}
	return &SQLiteStore{dir: filepath.Clean(dir), opts: opts, logger: logger}
}

func (s *SQLiteStore) Location() string { return s.dir }

func (s *SQLiteStore) Open(ctx context.Context) (Index, error) {
	path := filepath.Join(s.dir, sqliteFile)
	info, err := os.Stat(path)
	if err != nil {
		return nil, unavailable("no index found at %s", s.dir)
	}
	if info.IsDir() {
		return nil, unavailable("%s is a directory, not an index file", path)
	}

	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, unavailable("open %s: %v", path, err)
	}

	idx := &sqliteIndex{db: db}
	meta, err := idx.readMeta(ctx)
	if err != nil {
		db.Close()
		return nil, unavailable("read index metadata at %s: %v", s.dir, err)
	}
	if idx.dimension, err = checkMeta(meta, s.opts); err != nil {
		db.Close()
		return nil, err
	}

	count, err := idx.Count(ctx)
	if err != nil {
		db.Close()
		return nil, unavailable("count entries at %s: %v", s.dir, err)
	}
	if count == 0 {
		db.Close()
		return nil, unavailable("index at %s is empty", s.dir)
	}
	return idx, nil
}

func (s *SQLiteStore) Create(ctx context.Context) (Builder, error) {
	parent := filepath.Dir(s.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create index parent directory: %w", err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(s.dir)+".staging-")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	db, err := openSQLite(ctx, filepath.Join(staging, sqliteFile))
	if err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("open staged index: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			os.RemoveAll(staging)
			return nil, fmt.Errorf("create index schema: %w", err)
		}
	}

	idx := &sqliteIndex{db: db, dimension: s.opts.Dimension}
	meta := map[string]string{
		metaSchemaVersion: SchemaVersion,
		metaModel:         s.opts.Model,
		metaDimension:     strconv.Itoa(s.opts.Dimension),
		metaCreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range meta {
		if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value); err != nil {
			db.Close()
			os.RemoveAll(staging)
			return nil, fmt.Errorf("write index metadata: %w", err)
		}
	}

	return &sqliteBuilder{sqliteIndex: idx, staging: staging, target: s.dir, logger: s.logger}, nil
}

func (s *SQLiteStore) Reset(_ context.Context) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove index directory: %w", err)
	}
	return nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type sqliteIndex struct {
	db        *sql.DB
	dimension int

	mu     sync.Mutex
	cache  []Entry
	loaded bool
}

func (i *sqliteIndex) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT key, value FROM meta`)
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

func (i *sqliteIndex) Upsert(ctx context.Context, entries []Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	dimension, err := checkVectors(entries, i.dimension)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (id, source, content, metadata, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		meta, marshalErr := marshalMetadata(entry.Metadata)
		if marshalErr != nil {
			return fmt.Errorf("encode metadata for %s: %w", entry.ID, marshalErr)
		}
		if _, err = stmt.ExecContext(ctx, entry.ID, entry.Source(), entry.Text, meta, encodeVector(entry.Vector)); err != nil {
			return fmt.Errorf("insert entry %s: %w", entry.ID, err)
		}
	}

	if dimension != i.dimension {
		if _, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, metaDimension, strconv.Itoa(dimension)); err != nil {
			return fmt.Errorf("record dimension: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit entries: %w", err)
	}

	i.dimension = dimension
	if i.loaded {
		i.cache = append(i.cache, entries...)
	}
	return nil
}

func (i *sqliteIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.dimension > 0 && len(query) != i.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), i.dimension)
	}
	if !i.loaded {
		entries, err := i.loadEntries(ctx)
		if err != nil {
			return nil, err
		}
		i.cache = entries
		i.loaded = true
	}
	return rank(i.cache, query, k), nil
}

func (i *sqliteIndex) loadEntries(ctx context.Context) ([]Entry, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry Entry
			meta  string
			blob  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", entry.ID, err)
		}
		if entry.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("decode vector for %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (i *sqliteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (i *sqliteIndex) Sources(ctx context.Context, limit int) ([]SourceCount, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := i.db.QueryContext(ctx, `
		SELECT source, COUNT(*) FROM entries
		GROUP BY source
		ORDER BY MIN(seq)
		LIMIT ?`, limit)
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

func (i *sqliteIndex) Close() error {
	return i.db.Close()
}

type sqliteBuilder struct {
	*sqliteIndex
	staging string
	target  string
	logger  *log.Logger

	closed    bool
	committed bool
}

// Commit swaps the staged directory into place. The previous index is moved
// aside first and restored if the swap fails.
func (b *sqliteBuilder) Commit(_ context.Context) error {
	if b.committed {
		return nil
	}
	if err := b.db.Close(); err != nil {
		os.RemoveAll(b.staging)
		return fmt.Errorf("close staged index: %w", err)
	}
	b.closed = true

	backup := ""
	if _, err := os.Stat(b.target); err == nil {
		backup = fmt.Sprintf("%s.old-%d", b.target, time.Now().UnixNano())
		if err := os.Rename(b.target, backup); err != nil {
			os.RemoveAll(b.staging)
			return fmt.Errorf("move previous index aside: %w", err)
		}
	}

	if err := os.Rename(b.staging, b.target); err != nil {
		if backup != "" {
			if restoreErr := os.Rename(backup, b.target); restoreErr != nil {
				b.logger.Printf("restore previous index from %s failed: %v", backup, restoreErr)
			}
		}
		os.RemoveAll(b.staging)
		return fmt.Errorf("install rebuilt index: %w", err)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			b.logger.Printf("remove previous index %s: %v", backup, err)
		}
	}
	b.committed = true
	return nil
}

// Abort discards the staged index. It is a no-op after Commit.
func (b *sqliteBuilder) Abort() error {
	if b.committed {
		return nil
	}
	if !b.closed {
		b.db.Close()
		b.closed = true
	}
	return os.RemoveAll(b.staging)
}

func (b *sqliteBuilder) Close() error {
	return b.Abort()
}

func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
