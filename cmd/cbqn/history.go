package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS history (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	session TEXT    NOT NULL,
	source  TEXT    NOT NULL,
	failed  INTEGER NOT NULL DEFAULT 0,
	at      INTEGER NOT NULL
)`

// history persists evaluated lines across REPL sessions.
type history struct {
	db      *sql.DB
	session string
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cbqn", "history.db")
}

func openHistory(ctx context.Context, path string) (*history, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}
	return &history{db: db, session: uuid.NewString()}, nil
}

func (h *history) add(ctx context.Context, source string, failed bool) error {
	_, err := h.db.ExecContext(ctx,
		"INSERT INTO history (session, source, failed, at) VALUES (?, ?, ?, ?)",
		h.session, source, failed, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// recent returns up to limit entries, oldest first, with consecutive
// duplicates collapsed.
func (h *history) recent(ctx context.Context, limit int) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT source FROM history ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if len(out) > 0 && out[len(out)-1] == s {
			continue
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (h *history) sessionCount(ctx context.Context) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM history WHERE session = ?", h.session).Scan(&n)
	return n, err
}

func (h *history) Close() error {
	return h.db.Close()
}
