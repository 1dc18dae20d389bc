// Package mysql provides the MySQL implementation of the metadata
// store and keyword search source, backed by JSON columns and a
// FULLTEXT index.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mnemo-labs/mnemo-go/pkg/core"
	"github.com/mnemo-labs/mnemo-go/pkg/storage"
)

// Client implements storage.MetadataStore, storage.KeywordSearcher,
// storage.AccessLogStore, and storage.FeedbackStore on MySQL.
type Client struct {
	db *sql.DB
}

// Config contains configuration for the MySQL store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		external_id VARCHAR(64) UNIQUE NOT NULL,
		summary TEXT NOT NULL,
		goal TEXT NOT NULL,
		user_intent TEXT NOT NULL,
		outcome TEXT NOT NULL,
		category VARCHAR(64) NOT NULL,
		tools_used JSON NOT NULL,
		tags JSON NOT NULL,
		created_at DATETIME(6) NOT NULL,
		source_metadata JSON NOT NULL,
		embedding JSON,
		INDEX idx_memories_category (category),
		FULLTEXT INDEX idx_memories_text (summary, goal, user_intent, outcome)
	)`,
	`CREATE TABLE IF NOT EXISTS memory_access_log (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		memory_id VARCHAR(64) NOT NULL,
		access_time DATETIME(6) NOT NULL,
		access_type VARCHAR(32) DEFAULT 'retrieval',
		INDEX idx_access_log_memory (memory_id)
	)`,
	`CREATE TABLE IF NOT EXISTS memory_feedback (
		memory_id VARCHAR(64) PRIMARY KEY,
		rating DOUBLE NOT NULL,
		comment TEXT,
		created_at DATETIME(6) NOT NULL
	)`,
}

// NewClient opens a connection to MySQL and initializes the schema.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("NewMySQLClient: init schema: %w", err)
		}
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			summary=VALUES(summary),
			goal=VALUES(goal),
			user_intent=VALUES(user_intent),
			outcome=VALUES(outcome),
			category=VALUES(category),
			tools_used=VALUES(tools_used),
			tags=VALUES(tags),
			created_at=VALUES(created_at),
			source_metadata=VALUES(source_metadata),
			embedding=VALUES(embedding)
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

// SearchKeyword performs a FULLTEXT natural-language search.
//
// Raw scores are MATCH ... AGAINST relevance values: non-negative,
// with larger meaning a better match.
func (c *Client) SearchKeyword(ctx context.Context, query string, k int) ([]storage.KeywordHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT external_id,
		       MATCH(summary, goal, user_intent, outcome) AGAINST (? IN NATURAL LANGUAGE MODE) AS score
		FROM memories
		WHERE MATCH(summary, goal, user_intent, outcome) AGAINST (? IN NATURAL LANGUAGE MODE)
		ORDER BY score DESC
		LIMIT ?
	`, query, query, k)
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
		WHERE memory_id = ?
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
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			rating=VALUES(rating),
			comment=VALUES(comment),
			created_at=VALUES(created_at)
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
