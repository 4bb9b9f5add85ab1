package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lsynpy/nanobot/pkg/providers"

	_ "modernc.org/sqlite"
)

// HistoryStore is the unbounded, append-only log of every session entry.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		tool_name TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON history(session_key, id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

func (h *HistoryStore) Append(ctx context.Context, sessionKey string, entry MemoryEntry) error {
	var toolCalls sql.NullString
	if len(entry.ToolCalls) > 0 {
		data, err := json.Marshal(entry.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO history (session_key, role, content, tool_calls, tool_call_id, tool_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionKey, entry.Role, entry.Content, toolCalls, entry.ToolCallID, entry.ToolName, entry.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to n most recent entries of the session, oldest first.
func (h *HistoryStore) Recent(ctx context.Context, sessionKey string, n int) ([]MemoryEntry, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name, created_at FROM (
			SELECT id, role, content, tool_calls, tool_call_id, tool_name, created_at
			FROM history WHERE session_key = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, sessionKey, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var toolCalls, toolCallID, toolName sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.Role, &e.Content, &toolCalls, &toolCallID, &toolName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			var calls []providers.ToolCall
			if err := json.Unmarshal([]byte(toolCalls.String), &calls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
			e.ToolCalls = calls
		}
		e.ToolCallID = toolCallID.String
		e.ToolName = toolName.String
		e.Timestamp = time.Unix(0, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (h *HistoryStore) Count(ctx context.Context, sessionKey string) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE session_key = ?`, sessionKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func (h *HistoryStore) Close() error {
	return h.db.Close()
}
