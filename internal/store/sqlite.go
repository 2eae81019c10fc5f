// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides activity history persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS activities (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			activity_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			type TEXT NOT NULL,
			reply_to_id TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(conversation_id, activity_id)
		);
		CREATE INDEX IF NOT EXISTS idx_activities_conversation
			ON activities(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveActivity persists an activity record to the ledger
func (s *SQLiteStore) SaveActivity(ctx context.Context, rec *ActivityRecord) error {
	query := `
		INSERT INTO activities (activity_id, conversation_id, direction, type, reply_to_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ActivityID,
		rec.ConversationID,
		string(rec.Direction),
		rec.Type,
		rec.ReplyToID,
		rec.Payload,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateActivity
		}
		return fmt.Errorf("saving activity: %w", err)
	}

	s.logger.Debug("activity archived",
		"activity_id", rec.ActivityID,
		"conversation_id", rec.ConversationID,
		"direction", rec.Direction)
	return nil
}

// GetActivities returns archived activities for a conversation in insertion order
func (s *SQLiteStore) GetActivities(ctx context.Context, conversationID string, limit int) ([]*ActivityRecord, error) {
	query := `
		SELECT activity_id, conversation_id, direction, type, reply_to_id, payload, created_at
		FROM activities
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var records []*ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListConversations returns summaries for all conversations, most recently active first
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*ConversationSummary, error) {
	query := `
		SELECT conversation_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM activities
		GROUP BY conversation_id
		ORDER BY MAX(created_at) DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		var first, last string
		if err := rows.Scan(&sum.ConversationID, &sum.ActivityCount, &first, &last); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		if sum.FirstActivity, err = time.Parse(time.RFC3339Nano, first); err != nil {
			return nil, fmt.Errorf("parsing first activity time: %w", err)
		}
		if sum.LastActivity, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return nil, fmt.Errorf("parsing last activity time: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// DeleteConversationHistory removes all archived records for a conversation
func (s *SQLiteStore) DeleteConversationHistory(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM activities WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("deleting conversation history: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanActivity(rows *sql.Rows) (*ActivityRecord, error) {
	var rec ActivityRecord
	var direction, createdAt string
	if err := rows.Scan(
		&rec.ActivityID,
		&rec.ConversationID,
		&direction,
		&rec.Type,
		&rec.ReplyToID,
		&rec.Payload,
		&createdAt,
	); err != nil {
		return nil, fmt.Errorf("scanning activity: %w", err)
	}
	rec.Direction = Direction(direction)

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.CreatedAt = ts
	return &rec, nil
}
