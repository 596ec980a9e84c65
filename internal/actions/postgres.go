package actions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agentlens/agentlens/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists proposed actions in PostgreSQL via pgx.
type PostgresStore struct {
	DSN string
	db  *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	store := &PostgresStore{DSN: dsn, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) configure() error {
	s.db.SetMaxOpenConns(10)
	s.db.SetMaxIdleConns(5)
	s.db.SetConnMaxLifetime(30 * time.Minute)
	return nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) UpsertAction(ctx context.Context, record *ProposedAction) error {
	if record == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO proposed_actions (
    action_id, chat_id, kind, payload, status, result, error,
    message_timestamp, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
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
}

func (s *PostgresStore) GetAction(ctx context.Context, actionID string) (*ProposedAction, error) {
	row := s.db.QueryRowContext(ctx, selectActionSQL+` WHERE action_id = $1`, actionID)
	return scanAction(row)
}

func (s *PostgresStore) FindAction(ctx context.Context, chatID string, messageTimestamp int64) (*ProposedAction, error) {
	row := s.db.QueryRowContext(ctx,
		selectActionSQL+` WHERE chat_id = $1 AND message_timestamp = $2`,
		chatID, messageTimestamp)
	return scanAction(row)
}

func (s *PostgresStore) ListActions(ctx context.Context, chatID string) ([]*ProposedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		selectActionSQL+` WHERE chat_id = $1 ORDER BY created_at, action_id`,
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
