package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StateError reports a confirm call against an action that is not awaiting
// confirmation. It is rejected without side effects; silent acceptance would
// let an action execute twice.
type StateError struct {
	ActionID string
	Status   Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("action %s is %s, not awaiting confirmation", e.ActionID, e.Status)
}

var ErrInvalidState = errors.New("action is not awaiting confirmation")

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// Executor performs the external mutation behind a confirmed action and
// returns the mutation's result payload.
type Executor interface {
	Execute(ctx context.Context, action *ProposedAction) (json.RawMessage, error)
}

// EngineMetrics holds optional callbacks invoked on lifecycle transitions.
type EngineMetrics struct {
	OnProposed func(kind string)
	OnResolved func(status string)
}

// Engine owns the proposed-action lifecycle. An agent can suggest a mutation
// but only a confirm transition, consumed exactly once, can perform it.
type Engine struct {
	store    Store
	executor Executor
	logger   *slog.Logger
	metrics  EngineMetrics

	nowFn func() time.Time
	newID func() string

	// locks serializes the check-and-set per key so two confirm calls on the
	// same action id can never both observe awaiting_confirmation.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store, executor Executor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		executor: executor,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
		locks:    map[string]*sync.Mutex{},
	}
}

// SetMetrics replaces the lifecycle callbacks.
func (e *Engine) SetMetrics(m EngineMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// Propose records an agent-suggested mutation and persists it as
// awaiting_confirmation. Re-proposing with the same (chat id, message
// timestamp) pair returns the existing action id instead of creating a
// duplicate, which guards against retried agent turns.
func (e *Engine) Propose(ctx context.Context, chatID string, kind Kind, payload json.RawMessage, messageTimestamp int64) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", errors.New("chat id cannot be empty")
	}
	if !kind.Valid() {
		return "", fmt.Errorf("unknown action kind %q", kind)
	}

	proposalKey := fmt.Sprintf("propose\x00%s\x00%d", chatID, messageTimestamp)
	lock := e.lockFor(proposalKey)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.FindAction(ctx, chatID, messageTimestamp)
	if err == nil {
		return existing.ActionID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("find action for chat %q: %w", chatID, err)
	}

	now := e.nowFn()
	record := &ProposedAction{
		ActionID:         e.newID(),
		ChatID:           chatID,
		Kind:             kind,
		Payload:          payload,
		Status:           StatusPending,
		MessageTimestamp: messageTimestamp,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	next, err := Next(record.Status, EventPersist)
	if err != nil {
		return "", err
	}
	record.Status = next

	if err := e.store.UpsertAction(ctx, record); err != nil {
		return "", fmt.Errorf("persist action %q: %w", record.ActionID, err)
	}

	e.logger.Info("action proposed",
		slog.String("action_id", record.ActionID),
		slog.String("chat_id", chatID),
		slog.String("kind", string(kind)))
	if e.metrics.OnProposed != nil {
		e.metrics.OnProposed(string(kind))
	}

	return record.ActionID, nil
}

// Confirm resolves an awaiting action. confirmed=true executes the external
// mutation exactly once and records its result or failure; confirmed=false
// cancels without attempting the mutation. Any status other than
// awaiting_confirmation yields a *StateError and no side effects.
func (e *Engine) Confirm(ctx context.Context, actionID string, confirmed bool) (*ProposedAction, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return nil, errors.New("action id cannot be empty")
	}

	lock := e.lockFor(actionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusAwaitingConfirmation {
		return nil, &StateError{ActionID: actionID, Status: record.Status}
	}

	if !confirmed {
		record.Status = StatusCancelled
		record.UpdatedAt = e.nowFn()
		if err := e.store.UpsertAction(ctx, record); err != nil {
			return nil, fmt.Errorf("persist cancelled action %q: %w", actionID, err)
		}
		e.logger.Info("action cancelled", slog.String("action_id", actionID))
		if e.metrics.OnResolved != nil {
			e.metrics.OnResolved(string(StatusCancelled))
		}
		return record, nil
	}

	result, execErr := e.executor.Execute(ctx, record.clone())
	if execErr != nil {
		record.Status = StatusFailed
		record.Error = execErr.Error()
	} else {
		record.Status = StatusSuccess
		record.Result = result
	}
	record.UpdatedAt = e.nowFn()

	if err := e.store.UpsertAction(ctx, record); err != nil {
		// The mutation already happened; surface the persistence failure
		// loudly rather than letting the audit trail drift silently.
		e.logger.Error("action executed but status write failed",
			slog.String("action_id", actionID),
			slog.String("status", string(record.Status)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("persist resolved action %q: %w", actionID, err)
	}

	e.logger.Info("action resolved",
		slog.String("action_id", actionID),
		slog.String("status", string(record.Status)))
	if e.metrics.OnResolved != nil {
		e.metrics.OnResolved(string(record.Status))
	}

	return record, nil
}

// Get returns the current record for an action id.
func (e *Engine) Get(ctx context.Context, actionID string) (*ProposedAction, error) {
	return e.store.GetAction(ctx, actionID)
}

// List returns a chat's proposals ordered by creation time.
func (e *Engine) List(ctx context.Context, chatID string) ([]*ProposedAction, error) {
	return e.store.ListActions(ctx, chatID)
}

func (e *Engine) lockFor(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}
