package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// SQLiteStore is a durable Storage backed by a single SQLite file.
//
// Every memory version is its own row; (user_id, path, version) is unique so
// the version chain at a path can never fork. Embeddings are stored as JSON
// arrays and compared in Go, which is fine at the node counts a personal
// memory daemon holds.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory_nodes (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  path TEXT NOT NULL,
  memory_type TEXT NOT NULL,
  subject TEXT NOT NULL,
  l0_title TEXT,
  l1_summary TEXT NOT NULL,
  l2_detail TEXT,
  confidence REAL NOT NULL DEFAULT 0.7,
  importance REAL NOT NULL DEFAULT 0.5,
  utility REAL,
  access_count INTEGER NOT NULL DEFAULT 0,
  source TEXT,
  observed_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  last_accessed_at TEXT,
  embedding TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  supersedes TEXT,
  conflict_flag INTEGER NOT NULL DEFAULT 0,
  archived_at TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_nodes_user_path_version
  ON memory_nodes(user_id, path, version);

CREATE INDEX IF NOT EXISTS idx_memory_nodes_user_type
  ON memory_nodes(user_id, memory_type);

CREATE INDEX IF NOT EXISTS idx_memory_nodes_user_updated
  ON memory_nodes(user_id, updated_at DESC);
`

// NewSQLiteStore opens (or creates) the database file at dsn. Use ":memory:"
// for an ephemeral database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty sqlite dsn", ErrInvalidConfig)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const nodeColumns = `id, user_id, path, memory_type, subject, l0_title, l1_summary, l2_detail,
  confidence, importance, utility, access_count, source, observed_at,
  created_at, updated_at, last_accessed_at, embedding, version, supersedes,
  conflict_flag, archived_at`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func scanNode(scanner interface{ Scan(dest ...any) error }) (*memory.Node, error) {
	var (
		node                       memory.Node
		title, detail, source      sql.NullString
		supersedes, embedding      sql.NullString
		observedAt, lastAccessedAt sql.NullString
		createdAt, updatedAt       string
		archivedAt                 sql.NullString
		utility                    sql.NullFloat64
		conflictFlag               int
	)
	err := scanner.Scan(
		&node.ID, &node.UserID, &node.Path, &node.MemoryType, &node.Subject,
		&title, &node.Value, &detail,
		&node.Confidence, &node.Importance, &utility, &node.AccessCount,
		&source, &observedAt,
		&createdAt, &updatedAt, &lastAccessedAt,
		&embedding, &node.Version, &supersedes, &conflictFlag, &archivedAt,
	)
	if err != nil {
		return nil, err
	}

	node.Title = title.String
	node.Detail = detail.String
	node.Source = source.String
	node.Supersedes = supersedes.String
	node.ConflictFlag = conflictFlag != 0
	if utility.Valid {
		node.Utility = &utility.Float64
	}
	node.CreatedAt = parseTime(createdAt)
	node.UpdatedAt = parseTime(updatedAt)
	if observedAt.Valid {
		t := parseTime(observedAt.String)
		node.ObservedAt = &t
	}
	if lastAccessedAt.Valid {
		t := parseTime(lastAccessedAt.String)
		node.LastAccessedAt = &t
	}
	if archivedAt.Valid {
		t := parseTime(archivedAt.String)
		node.ArchivedAt = &t
	}
	if embedding.Valid && embedding.String != "" {
		var vec []float32
		if err := json.Unmarshal([]byte(embedding.String), &vec); err == nil {
			node.Embedding = vec
		}
	}
	return &node, nil
}

func (s *SQLiteStore) queryNodes(ctx context.Context, query string, args ...any) ([]*memory.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memory nodes: %w", err)
	}
	defer rows.Close()

	var out []*memory.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory node: %w", err)
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReadByPath(ctx context.Context, userID, path string, includeArchived bool) ([]*memory.Node, error) {
	query := "SELECT " + nodeColumns + " FROM memory_nodes WHERE user_id = ? AND path = ?"
	if !includeArchived {
		query += " AND archived_at IS NULL"
	}
	query += " ORDER BY updated_at DESC"
	return s.queryNodes(ctx, query, userID, path)
}

func (s *SQLiteStore) ReadByID(ctx context.Context, userID, id string) (*memory.Node, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM memory_nodes WHERE user_id = ? AND id = ? LIMIT 1",
		userID, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading memory node: %w", err)
	}
	return node, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string, opts ListOptions) ([]*memory.Node, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT " + nodeColumns + " FROM memory_nodes WHERE user_id = ?")
	args = append(args, userID)

	if !opts.IncludeArchived {
		sb.WriteString(" AND archived_at IS NULL")
	}
	if len(opts.MemoryTypes) > 0 {
		sb.WriteString(" AND memory_type IN (?" + strings.Repeat(",?", len(opts.MemoryTypes)-1) + ")")
		for _, t := range opts.MemoryTypes {
			args = append(args, string(t))
		}
	}
	if len(opts.PathPrefixes) > 0 {
		clauses := make([]string, len(opts.PathPrefixes))
		for i, prefix := range opts.PathPrefixes {
			// mory:// paths never contain LIKE wildcards.
			clauses[i] = "path LIKE ?"
			args = append(args, prefix+"%")
		}
		sb.WriteString(" AND (" + strings.Join(clauses, " OR ") + ")")
	}
	sb.WriteString(" ORDER BY updated_at DESC")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}
	return s.queryNodes(ctx, sb.String(), args...)
}

func (s *SQLiteStore) Insert(ctx context.Context, node *memory.Node) error {
	var embedding any
	if len(node.Embedding) > 0 {
		raw, err := json.Marshal(node.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		embedding = string(raw)
	}
	var utility any
	if node.Utility != nil {
		utility = *node.Utility
	}
	conflictFlag := 0
	if node.ConflictFlag {
		conflictFlag = 1
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO memory_nodes (
  `+nodeColumns+`
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		node.ID, node.UserID, node.Path, string(node.MemoryType), node.Subject,
		nullableString(node.Title), node.Value, nullableString(node.Detail),
		node.Confidence, node.Importance, utility, node.AccessCount,
		nullableString(node.Source), formatTimePtr(node.ObservedAt),
		formatTime(node.CreatedAt), formatTime(node.UpdatedAt), formatTimePtr(node.LastAccessedAt),
		embedding, node.Version, nullableString(node.Supersedes),
		conflictFlag, formatTimePtr(node.ArchivedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: memory_nodes.id") {
			return fmt.Errorf("%w: %s", ErrDuplicateID, node.ID)
		}
		return fmt.Errorf("inserting memory node: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, node *memory.Node) error {
	var embedding any
	if len(node.Embedding) > 0 {
		raw, err := json.Marshal(node.Embedding)
		if err != nil {
			return fmt.Errorf("encoding embedding: %w", err)
		}
		embedding = string(raw)
	}
	var utility any
	if node.Utility != nil {
		utility = *node.Utility
	}
	conflictFlag := 0
	if node.ConflictFlag {
		conflictFlag = 1
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE memory_nodes SET
  l0_title = ?, l1_summary = ?, l2_detail = ?,
  confidence = ?, importance = ?, utility = ?,
  access_count = ?, source = ?, observed_at = ?,
  updated_at = ?, last_accessed_at = ?, embedding = ?,
  version = ?, supersedes = ?, conflict_flag = ?, archived_at = ?
WHERE user_id = ? AND id = ?`,
		nullableString(node.Title), node.Value, nullableString(node.Detail),
		node.Confidence, node.Importance, utility,
		node.AccessCount, nullableString(node.Source), formatTimePtr(node.ObservedAt),
		formatTime(node.UpdatedAt), formatTimePtr(node.LastAccessedAt), embedding,
		node.Version, nullableString(node.Supersedes), conflictFlag, formatTimePtr(node.ArchivedAt),
		node.UserID, node.ID,
	)
	if err != nil {
		return fmt.Errorf("updating memory node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating memory node: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", memory.ErrNodeNotFound, node.ID)
	}
	return nil
}

func (s *SQLiteStore) Archive(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := formatTime(timeNow())
	count := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx,
			"UPDATE memory_nodes SET archived_at = ?, updated_at = ? WHERE user_id = ? AND id = ? AND archived_at IS NULL",
			now, now, userID, id)
		if err != nil {
			return count, fmt.Errorf("archiving memory node %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return count, fmt.Errorf("archiving memory node %s: %w", id, err)
		}
		count += int(affected)
	}
	return count, nil
}

func (s *SQLiteStore) VectorSearch(ctx context.Context, userID string, opts VectorSearchOptions) ([]SearchHit, error) {
	limit := opts.TopK * 5
	if limit < opts.TopK {
		limit = opts.TopK
	}
	pool, err := s.List(ctx, userID, ListOptions{
		MemoryTypes:  opts.MemoryTypes,
		PathPrefixes: opts.PathPrefixes,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	for _, node := range pool {
		if len(node.Embedding) == 0 {
			continue
		}
		hits = append(hits, SearchHit{
			Node:       node,
			Similarity: CosineSimilarity(opts.Vector, node.Embedding),
		})
	}
	sortHits(hits)
	if opts.TopK > 0 && len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

var _ Storage = (*SQLiteStore)(nil)
