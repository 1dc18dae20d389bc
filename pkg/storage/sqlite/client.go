// Package sqlite provides the SQLite implementation of the metadata
// store, the keyword search source, and the access-log and feedback
// tables.
//
// Records live in a single table keyed by external id; list fields and
// metadata are stored as JSON in TEXT columns, the embedding serialized
// separately. An FTS5 mirror table, kept in sync by triggers, backs the
// keyword side of hybrid search.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

// Client implements storage.MetadataStore, storage.KeywordSearcher,
// storage.AccessLogStore, and storage.FeedbackStore on SQLite.
type Client struct {
	db *sql.DB
}

// Config contains configuration for the SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT UNIQUE NOT NULL,
	summary TEXT NOT NULL,
	goal TEXT NOT NULL,
	user_intent TEXT NOT NULL,
	outcome TEXT NOT NULL,
	category TEXT NOT NULL,
	tools_used TEXT NOT NULL,
	tags TEXT NOT NULL,
	created_at TEXT NOT NULL,
	source_metadata TEXT NOT NULL,
	embedding TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	summary, goal, user_intent, outcome, tags,
	content='memories', content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, summary, goal, user_intent, outcome, tags)
	VALUES (new.id, new.summary, new.goal, new.user_intent, new.outcome, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, summary, goal, user_intent, outcome, tags)
	VALUES ('delete', old.id, old.summary, old.goal, old.user_intent, old.outcome, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, summary, goal, user_intent, outcome, tags)
	VALUES ('delete', old.id, old.summary, old.goal, old.user_intent, old.outcome, old.tags);
	INSERT INTO memories_fts(rowid, summary, goal, user_intent, outcome, tags)
	VALUES (new.id, new.summary, new.goal, new.user_intent, new.outcome, new.tags);
END;

CREATE TABLE IF NOT EXISTS memory_access_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id TEXT NOT NULL,
	access_time TEXT NOT NULL,
	access_type TEXT DEFAULT 'retrieval'
);

CREATE INDEX IF NOT EXISTS idx_access_log_memory ON memory_access_log(memory_id);
CREATE INDEX IF NOT EXISTS idx_access_log_time ON memory_access_log(access_time DESC);

CREATE TABLE IF NOT EXISTS memory_feedback (
	memory_id TEXT PRIMARY KEY,
	rating REAL NOT NULL,
	comment TEXT,
	created_at TEXT NOT NULL
);
`

// NewClient opens (creating if needed) the SQLite store at cfg.DBPath.
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{db: db}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: init schema: %w", err)
	}

	return client, nil
}

// Save persists or upserts the record by its external id.
func (c *Client) Save(ctx context.Context, record *core.MemoryRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("Save: %w: record has no external id", core.ErrStorageOperation)
	}

	toolsJSON, err := json.Marshal(orEmpty(record.ToolsUsed))
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	tagsJSON, err := json.Marshal(orEmpty(record.Tags))
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	metadataJSON, err := json.Marshal(record.EnsureMetadata())
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}

	var embeddingJSON interface{}
	if record.Embedding != nil {
		raw, err := json.Marshal(record.Embedding)
		if err != nil {
			return fmt.Errorf("Save: %w", err)
		}
		embeddingJSON = string(raw)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO memories
		(external_id, summary, goal, user_intent, outcome, category, tools_used, tags, created_at, source_metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			summary=excluded.summary,
			goal=excluded.goal,
			user_intent=excluded.user_intent,
			outcome=excluded.outcome,
			category=excluded.category,
			tools_used=excluded.tools_used,
			tags=excluded.tags,
			created_at=excluded.created_at,
			source_metadata=excluded.source_metadata,
			embedding=excluded.embedding
	`,
		record.ID,
		record.Summary,
		record.Goal,
		record.UserIntent,
		record.Outcome,
		string(record.Category),
		string(toolsJSON),
		string(tagsJSON),
		createdAt.Format(time.RFC3339Nano),
		string(metadataJSON),
		embeddingJSON,
	)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

const recordColumns = `external_id, summary, goal, user_intent, outcome, category, tools_used, tags, created_at, source_metadata, embedding`

// ListAll returns every stored record.
func (c *Client) ListAll(ctx context.Context) ([]*core.MemoryRecord, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM memories ORDER BY id`, recordColumns))
	if err != nil {
		return nil, fmt.Errorf("ListAll: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*core.MemoryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAll: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAll: %w", err)
	}
	return records, nil
}

// Get returns the record with the given external id.
func (c *Client) Get(ctx context.Context, id string) (*core.MemoryRecord, error) {
	row := c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE external_id = ?`, recordColumns), id)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return record, nil
}

// ListIDs returns up to limit external ids, optionally category-filtered.
func (c *Client) ListIDs(ctx context.Context, category core.Category, limit int) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if category != "" {
		rows, err = c.db.QueryContext(ctx,
			`SELECT external_id FROM memories WHERE category = ? ORDER BY id LIMIT ?`,
			string(category), limit)
	} else {
		rows, err = c.db.QueryContext(ctx,
			`SELECT external_id FROM memories ORDER BY id LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("ListIDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListIDs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of stored records.
func (c *Client) Count(ctx context.Context) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return count, nil
}

// SearchKeyword performs an FTS5 full-text search.
//
// Raw scores are bm25 ranks: negative, with more-negative meaning a
// better match.
func (c *Client) SearchKeyword(ctx context.Context, query string, k int) ([]storage.KeywordHit, error) {
	ftsQuery := prepareFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT m.external_id, rank
		FROM memories_fts
		JOIN memories m ON memories_fts.rowid = m.id
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, k)
	if err != nil {
		return nil, fmt.Errorf("SearchKeyword: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.KeywordHit
	for rows.Next() {
		var hit storage.KeywordHit
		if err := rows.Scan(&hit.ID, &hit.RawScore); err != nil {
			return nil, fmt.Errorf("SearchKeyword: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// RecordAccess appends an access-log entry.
func (c *Client) RecordAccess(ctx context.Context, memoryID string, at time.Time, accessType string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO memory_access_log (memory_id, access_time, access_type)
		VALUES (?, ?, ?)
	`, memoryID, at.UTC().Format(time.RFC3339Nano), accessType)
	if err != nil {
		return fmt.Errorf("RecordAccess: %w", err)
	}
	return nil
}

// AccessStats returns the count and most recent time of logged accesses.
func (c *Client) AccessStats(ctx context.Context, memoryID string) (storage.AccessStats, error) {
	var (
		count int
		last  sql.NullString
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(access_time)
		FROM memory_access_log
		WHERE memory_id = ?
	`, memoryID).Scan(&count, &last)
	if err != nil {
		return storage.AccessStats{}, fmt.Errorf("AccessStats: %w", err)
	}

	stats := storage.AccessStats{Count: count}
	if last.Valid {
		t, err := time.Parse(time.RFC3339Nano, last.String)
		if err != nil {
			return storage.AccessStats{}, fmt.Errorf("AccessStats: parse time: %w", err)
		}
		stats.Last = &t
	}
	return stats, nil
}

// SaveFeedback upserts the single current rating for a record.
func (c *Client) SaveFeedback(ctx context.Context, memoryID string, rating float64, comment string, at time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO memory_feedback (memory_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			rating=excluded.rating,
			comment=excluded.comment,
			created_at=excluded.created_at
	`, memoryID, rating, comment, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("SaveFeedback: %w", err)
	}
	return nil
}

// FeedbackRating returns the recorded rating, if any.
func (c *Client) FeedbackRating(ctx context.Context, memoryID string) (float64, bool, error) {
	var rating float64
	err := c.db.QueryRowContext(ctx,
		`SELECT rating FROM memory_feedback WHERE memory_id = ?`, memoryID).Scan(&rating)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("FeedbackRating: %w", err)
	}
	return rating, true, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*core.MemoryRecord, error) {
	var (
		record        core.MemoryRecord
		category      string
		toolsJSON     string
		tagsJSON      string
		createdAt     string
		metadataJSON  string
		embeddingJSON sql.NullString
	)

	if err := row.Scan(
		&record.ID,
		&record.Summary,
		&record.Goal,
		&record.UserIntent,
		&record.Outcome,
		&category,
		&toolsJSON,
		&tagsJSON,
		&createdAt,
		&metadataJSON,
		&embeddingJSON,
	); err != nil {
		return nil, err
	}

	record.Category = core.Category(category)

	if err := json.Unmarshal([]byte(toolsJSON), &record.ToolsUsed); err != nil {
		return nil, fmt.Errorf("decode tools_used: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &record.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &record.SourceMetadata); err != nil {
		return nil, fmt.Errorf("decode source_metadata: %w", err)
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" && embeddingJSON.String != "null" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &record.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	record.CreatedAt = t

	return &record, nil
}

// prepareFTSQuery strips FTS5 operator characters and OR-joins the
// remaining words so any term can match.
func prepareFTSQuery(query string) string {
	cleaned := query
	for _, ch := range []string{`"`, "(", ")", "*", "^", ":", "-"} {
		cleaned = strings.ReplaceAll(cleaned, ch, " ")
	}
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return ""
	}
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " OR ")
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
