// Package postgres provides the PostgreSQL implementation of the
// metadata store and keyword search source, backed by JSONB columns
// and tsvector full-text search.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

// Client implements storage.MetadataStore, storage.KeywordSearcher,
// storage.AccessLogStore, and storage.FeedbackStore on PostgreSQL.
type Client struct {
	db *sql.DB
}

// Config contains configuration for the PostgreSQL store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id BIGSERIAL PRIMARY KEY,
	external_id TEXT UNIQUE NOT NULL,
	summary TEXT NOT NULL,
	goal TEXT NOT NULL,
	user_intent TEXT NOT NULL,
	outcome TEXT NOT NULL,
	category TEXT NOT NULL,
	tools_used JSONB NOT NULL DEFAULT '[]',
	tags JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	source_metadata JSONB NOT NULL DEFAULT '{}',
	embedding JSONB,
	search_text tsvector GENERATED ALWAYS AS (
		to_tsvector('english',
			coalesce(summary, '') || ' ' ||
			coalesce(goal, '') || ' ' ||
			coalesce(user_intent, '') || ' ' ||
			coalesce(outcome, ''))
	) STORED
);

CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
CREATE INDEX IF NOT EXISTS idx_memories_search ON memories USING GIN(search_text);

CREATE TABLE IF NOT EXISTS memory_access_log (
	id BIGSERIAL PRIMARY KEY,
	memory_id TEXT NOT NULL,
	access_time TIMESTAMPTZ NOT NULL,
	access_type TEXT DEFAULT 'retrieval'
);

CREATE INDEX IF NOT EXISTS idx_access_log_memory ON memory_access_log(memory_id);

CREATE TABLE IF NOT EXISTS memory_feedback (
	memory_id TEXT PRIMARY KEY,
	rating DOUBLE PRECISION NOT NULL,
	comment TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
`

// NewClient opens a connection to PostgreSQL and initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: init schema: %w", err)
	}
	return &Client{db: db}, nil
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (external_id) DO UPDATE SET
			summary=EXCLUDED.summary,
			goal=EXCLUDED.goal,
			user_intent=EXCLUDED.user_intent,
			outcome=EXCLUDED.outcome,
			category=EXCLUDED.category,
			tools_used=EXCLUDED.tools_used,
			tags=EXCLUDED.tags,
			created_at=EXCLUDED.created_at,
			source_metadata=EXCLUDED.source_metadata,
			embedding=EXCLUDED.embedding
	`,
		record.ID,
		record.Summary,
		record.Goal,
		record.UserIntent,
		record.Outcome,
		string(record.Category),
		string(toolsJSON),
		string(tagsJSON),
		createdAt,
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
		fmt.Sprintf(`SELECT %s FROM memories WHERE external_id = $1`, recordColumns), id)

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
			`SELECT external_id FROM memories WHERE category = $1 ORDER BY id LIMIT $2`,
			string(category), limit)
	} else {
		rows, err = c.db.QueryContext(ctx,
			`SELECT external_id FROM memories ORDER BY id LIMIT $1`, limit)
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

// SearchKeyword performs a tsvector full-text search.
//
// Raw scores are ts_rank values: non-negative, with larger meaning a
// better match.
func (c *Client) SearchKeyword(ctx context.Context, query string, k int) ([]storage.KeywordHit, error) {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT external_id, ts_rank(search_text, q) AS rank
		FROM memories, websearch_to_tsquery('english', $1) q
		WHERE search_text @@ q
		ORDER BY rank DESC
		LIMIT $2
	`, strings.Join(words, " OR "), k)
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
		VALUES ($1, $2, $3)
	`, memoryID, at.UTC(), accessType)
	if err != nil {
		return fmt.Errorf("RecordAccess: %w", err)
	}
	return nil
}

// AccessStats returns the count and most recent time of logged accesses.
func (c *Client) AccessStats(ctx context.Context, memoryID string) (storage.AccessStats, error) {
	var (
		count int
		last  sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(access_time)
		FROM memory_access_log
		WHERE memory_id = $1
	`, memoryID).Scan(&count, &last)
	if err != nil {
		return storage.AccessStats{}, fmt.Errorf("AccessStats: %w", err)
	}

	stats := storage.AccessStats{Count: count}
	if last.Valid {
		t := last.Time
		stats.Last = &t
	}
	return stats, nil
}

// SaveFeedback upserts the single current rating for a record.
func (c *Client) SaveFeedback(ctx context.Context, memoryID string, rating float64, comment string, at time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO memory_feedback (memory_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (memory_id) DO UPDATE SET
			rating=EXCLUDED.rating,
			comment=EXCLUDED.comment,
			created_at=EXCLUDED.created_at
	`, memoryID, rating, comment, at.UTC())
	if err != nil {
		return fmt.Errorf("SaveFeedback: %w", err)
	}
	return nil
}

// FeedbackRating returns the recorded rating, if any.
func (c *Client) FeedbackRating(ctx context.Context, memoryID string) (float64, bool, error) {
	var rating float64
	err := c.db.QueryRowContext(ctx,
		`SELECT rating FROM memory_feedback WHERE memory_id = $1`, memoryID).Scan(&rating)
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

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*core.MemoryRecord, error) {
	var (
		record        core.MemoryRecord
		category      string
		toolsJSON     string
		tagsJSON      string
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
		&record.CreatedAt,
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
	return &record, nil
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
