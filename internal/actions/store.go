package actions

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("action record not found")

// Store is the narrow chat-metadata contract the engine depends on. The
// engine owns open records exclusively; once a record is terminal the store
// is the audit trail and the engine only reads it.
type Store interface {
	// FindAction looks up a proposal by its (chat id, message timestamp)
	// idempotency key. Returns ErrNotFound when absent.
	FindAction(ctx context.Context, chatID string, messageTimestamp int64) (*ProposedAction, error)
	// GetAction looks up a proposal by action id. Returns ErrNotFound when absent.
	GetAction(ctx context.Context, actionID string) (*ProposedAction, error)
	// UpsertAction inserts or replaces the record keyed by action id.
	UpsertAction(ctx context.Context, record *ProposedAction) error
	// ListActions returns a chat's proposals ordered by creation time.
	ListActions(ctx context.Context, chatID string) ([]*ProposedAction, error)
	Close() error
}
