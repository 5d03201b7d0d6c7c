package timeline

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStateBackend stores snapshots in a local SQLite file.
type SQLiteStateBackend struct {
	db *sql.DB
}

func NewSQLiteStateBackend(path string) (*SQLiteStateBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	conn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", conn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite state backend: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS timelines (
		conversation_id TEXT PRIMARY KEY,
		snapshot TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema apply failed: %w", err)
	}
	return &SQLiteStateBackend{db: db}, nil
}

func (b *SQLiteStateBackend) Load(conversationID string) (*ConversationTimeline, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}
	var payload string
	err := b.db.QueryRow(`SELECT snapshot FROM timelines WHERE conversation_id = ?`, strings.TrimSpace(conversationID)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot([]byte(payload))
}

func (b *SQLiteStateBackend) Save(conversationID string, snapshot *ConversationTimeline) error {
	if b == nil || b.db == nil || snapshot == nil {
		return nil
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(`INSERT INTO timelines (conversation_id, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		conversationID, string(payload), time.Now().UTC())
	return err
}

func (b *SQLiteStateBackend) Delete(conversationID string) error {
	if b == nil || b.db == nil {
		return nil
	}
	_, err := b.db.Exec(`DELETE FROM timelines WHERE conversation_id = ?`, strings.TrimSpace(conversationID))
	return err
}

func (b *SQLiteStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
