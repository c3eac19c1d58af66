package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS chunks (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_hi    INTEGER NOT NULL,
		trace_lo    INTEGER NOT NULL,
		span_id     INTEGER NOT NULL,
		parent_id   INTEGER NOT NULL,
		chunk_num   INTEGER NOT NULL,
		flags       INTEGER NOT NULL,
		trace_type  TEXT NOT NULL,
		class       TEXT NOT NULL,
		method      TEXT NOT NULL,
		tstamp      INTEGER NOT NULL,
		tstart      INTEGER NOT NULL,
		tstop       INTEGER NOT NULL,
		duration    INTEGER NOT NULL,
		stack_depth INTEGER NOT NULL,
		calls       INTEGER NOT NULL,
		errors      INTEGER NOT NULL,
		records     INTEGER NOT NULL,
		attrs       TEXT,
		methods     TEXT,
		exception   TEXT,
		compression INTEGER NOT NULL,
		raw_size    INTEGER NOT NULL,
		size        INTEGER NOT NULL,
		data        BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_trace ON chunks(trace_hi, trace_lo, span_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_tstamp ON chunks(tstamp)`,
}

const chunkColumns = `trace_hi, trace_lo, span_id, parent_id, chunk_num, flags, trace_type,
	class, method, tstamp, tstart, tstop, duration, stack_depth, calls, errors, records,
	attrs, methods, exception, compression, raw_size, size, data`

// SQLiteStore persists chunks in a SQLite database with the same FIFO
// capacity policy as MemoryStore.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger

	mu         sync.Mutex
	count      int
	total      int64
	evicted    int64
	maxSize    int64
	deleteSize int64
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, maxSize, deleteSize int64, log *zap.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// single writer keeps trims and inserts ordered
	db.SetMaxOpenConns(1)

	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if deleteSize <= 0 {
		deleteSize = DefaultDeleteSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &SQLiteStore{db: db, log: log, maxSize: maxSize, deleteSize: deleteSize}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM chunks`).Scan(&s.count, &s.total); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read store size: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, m := range sqliteMigrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Add stores c.
func (s *SQLiteStore) Add(ctx context.Context, c *Chunk) error {
	return s.AddAll(ctx, []*Chunk{c})
}

// AddAll stores chunks in one transaction and trims afterwards.
func (s *SQLiteStore) AddAll(ctx context.Context, chunks []*Chunk) (err error) {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var added int64
	for _, c := range chunks {
		args, err := chunkArgs(c)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		added += int64(c.Size())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	s.count += len(chunks)
	s.total += added

	return s.trim(ctx)
}

func chunkArgs(c *Chunk) ([]any, error) {
	attrs, err := encodeJSON(c.Attrs)
	if err != nil {
		return nil, err
	}
	methods, err := encodeJSON(c.Methods)
	if err != nil {
		return nil, err
	}
	var exception any
	if c.Exception != nil {
		if exception, err = encodeJSON(c.Exception); err != nil {
			return nil, err
		}
	}
	return []any{
		int64(c.TraceID.Hi), int64(c.TraceID.Lo), int64(c.SpanID), int64(c.ParentID),
		c.ChunkNum, int64(c.Flags), c.TraceType, c.Class, c.Method,
		c.Tstamp, c.Tstart, c.Tstop, c.Duration, c.StackDepth,
		c.Calls, c.Errors, c.Records,
		attrs, methods, exception,
		int(c.Compression), c.RawSize, c.Size(), c.Data,
	}, nil
}

func encodeJSON(v any) (any, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk field: %w", err)
	}
	return string(b), nil
}

// trim deletes the oldest rows once the store is over capacity.
func (s *SQLiteStore) trim(ctx context.Context) error {
	if s.total <= s.maxSize {
		return nil
	}
	target := max(s.deleteSize, s.total-s.maxSize)

	rows, err := s.db.QueryContext(ctx, `SELECT seq, size FROM chunks ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("failed to scan for trim: %w", err)
	}
	var (
		freed  int64
		n      int
		cutoff int64
	)
	for freed < target && rows.Next() {
		var size int64
		if err := rows.Scan(&cutoff, &size); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan for trim: %w", err)
		}
		freed += size
		n++
	}
	rows.Close()
	if n == 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE seq <= ?`, cutoff); err != nil {
		return fmt.Errorf("failed to trim store: %w", err)
	}
	s.count -= n
	s.total -= freed
	s.evicted += int64(n)
	s.log.Debug("store trimmed", zap.Int("chunks", n), zap.Int64("freed", freed))
	return nil
}

// Search filters on indexed columns in SQL and on text and attributes in Go.
func (s *SQLiteStore) Search(ctx context.Context, q Query) (Result, error) {
	var (
		where []string
		args  []any
	)
	if !q.TraceID.IsZero() {
		where = append(where, "trace_hi = ? AND trace_lo = ?")
		args = append(args, int64(q.TraceID.Hi), int64(q.TraceID.Lo))
	}
	if q.SpanID != 0 {
		where = append(where, "span_id = ?")
		args = append(args, int64(q.SpanID))
	}
	if q.ErrorsOnly {
		where = append(where, "(flags & ?) != 0")
		args = append(args, int64(trace.MarkerErrorMark))
	}
	if q.SpansOnly {
		where = append(where, "chunk_num = 0")
	}
	if q.MinDuration > 0 {
		where = append(where, "duration >= ?")
		args = append(args, q.MinDuration)
	}
	where = append(where, "tstamp >= ? AND tstamp <= ?")
	args = append(args, q.MinTstamp, q.maxTstamp())

	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq`
	chunks, err := s.query(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	matched := chunks[:0]
	for _, c := range chunks {
		if q.Match(c) {
			matched = append(matched, c)
		}
	}
	return q.page(matched), nil
}

// Get returns the chunks of one span ordered by chunk number.
func (s *SQLiteStore) Get(ctx context.Context, traceID id.TraceID, spanID uint64) ([]*Chunk, error) {
	return s.query(ctx, `SELECT `+chunkColumns+` FROM chunks
		WHERE trace_hi = ? AND trace_lo = ? AND span_id = ? ORDER BY chunk_num, seq`,
		int64(traceID.Hi), int64(traceID.Lo), int64(spanID))
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	return out, nil
}

func scanChunk(rows *sql.Rows) (*Chunk, error) {
	var (
		c                           Chunk
		hi, lo, span, parent, flags int64
		attrs, methods, exception   sql.NullString
		compression, size           int
	)
	err := rows.Scan(&hi, &lo, &span, &parent, &c.ChunkNum, &flags, &c.TraceType,
		&c.Class, &c.Method, &c.Tstamp, &c.Tstart, &c.Tstop, &c.Duration, &c.StackDepth,
		&c.Calls, &c.Errors, &c.Records, &attrs, &methods, &exception,
		&compression, &c.RawSize, &size, &c.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	c.TraceID = id.TraceID{Hi: uint64(hi), Lo: uint64(lo)}
	c.SpanID, c.ParentID = uint64(span), uint64(parent)
	c.Flags = trace.MarkerFlags(flags)
	c.Compression = Compression(compression)

	if attrs.Valid && attrs.String != "null" {
		if err := sonic.UnmarshalString(attrs.String, &c.Attrs); err != nil {
			return nil, fmt.Errorf("failed to decode chunk attrs: %w", err)
		}
	}
	if methods.Valid && methods.String != "null" {
		if err := sonic.UnmarshalString(methods.String, &c.Methods); err != nil {
			return nil, fmt.Errorf("failed to decode chunk methods: %w", err)
		}
	}
	if exception.Valid {
		c.Exception = &ExceptionInfo{}
		if err := sonic.UnmarshalString(exception.String, c.Exception); err != nil {
			return nil, fmt.Errorf("failed to decode chunk exception: %w", err)
		}
	}
	return &c, nil
}

// Stats returns current occupancy.
func (s *SQLiteStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Chunks: s.count, Bytes: s.total, Evicted: s.evicted}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
