package actions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentlens/agentlens/migrations"

	_ "modernc.org/sqlite"
)

const sqliteBusyMaxRetries = 5

// SQLiteStore persists proposed actions in a local SQLite database.
type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows only one writer at a time; serialize writes to avoid
	// SQLITE_BUSY contention under concurrent upserts.
	writeMu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}

	store := &SQLiteStore{Path: path, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) configure() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("enable sqlite WAL mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA synchronous = NORMAL;`); err != nil {
		return fmt.Errorf("set sqlite synchronous mode: %w", err)
	}
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set sqlite busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) UpsertAction(ctx context.Context, record *ProposedAction) error {
	if record == nil {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return retrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO proposed_actions (
    action_id, chat_id, kind, payload, status, result, error,
    message_timestamp, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (action_id) DO UPDATE SET
    status = excluded.status,
    result = excluded.result,
    error = excluded.error,
    updated_at = excluded.updated_at`,
			record.ActionID,
			record.ChatID,
			string(record.Kind),
			rawToText(record.Payload),
			string(record.Status),
			rawToText(record.Result),
			record.Error,
			record.MessageTimestamp,
			record.CreatedAt.UTC(),
			record.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert action %q: %w", record.ActionID, err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetAction(ctx context.Context, actionID string) (*ProposedAction, error) {
	row := s.db.QueryRowContext(ctx, selectActionSQL+` WHERE action_id = ?`, actionID)
	return scanAction(row)
}

func (s *SQLiteStore) FindAction(ctx context.Context, chatID string, messageTimestamp int64) (*ProposedAction, error) {
	row := s.db.QueryRowContext(ctx,
		selectActionSQL+` WHERE chat_id = ? AND message_timestamp = ?`,
		chatID, messageTimestamp)
	return scanAction(row)
}

func (s *SQLiteStore) ListActions(ctx context.Context, chatID string) ([]*ProposedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		selectActionSQL+` WHERE chat_id = ? ORDER BY created_at, action_id`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("list actions for chat %q: %w", chatID, err)
	}
	defer rows.Close()

	var listed []*ProposedAction
	for rows.Next() {
		record, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		listed = append(listed, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions for chat %q: %w", chatID, err)
	}
	return listed, nil
}

const selectActionSQL = `
SELECT action_id, chat_id, kind, payload, status, result, error,
       message_timestamp, created_at, updated_at
FROM proposed_actions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*ProposedAction, error) {
	var (
		record    ProposedAction
		kind      string
		payload   string
		status    string
		result    string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&record.ActionID,
		&record.ChatID,
		&kind,
		&payload,
		&status,
		&result,
		&record.Error,
		&record.MessageTimestamp,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan action row: %w", err)
	}

	parsedKind, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}
	parsedStatus, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	record.Kind = parsedKind
	record.Status = parsedStatus
	record.Payload = textToRaw(payload)
	record.Result = textToRaw(result)
	record.CreatedAt = createdAt.UTC()
	record.UpdatedAt = updatedAt.UTC()
	return &record, nil
}

func rawToText(raw json.RawMessage) string {
	return string(raw)
}

func textToRaw(text string) json.RawMessage {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return json.RawMessage(text)
}

func retrySQLiteBusy(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for retries := 0; ; retries++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusyError(err) || retries >= sqliteBusyMaxRetries {
			return err
		}

		backoff := time.Duration(retries+1) * 50 * time.Millisecond
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "database is locked")
}
