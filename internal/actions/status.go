package actions

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the closed set of proposed-action lifecycle states.
type Status string

const (
	// StatusPending exists only between proposal generation and persistence.
	StatusPending Status = "pending"
	// StatusAwaitingConfirmation is the durable state visible to the operator.
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusSuccess              Status = "success"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
)

// Event drives a status transition.
type Event string

const (
	EventPersist    Event = "persist"
	EventExecuteOK  Event = "execute_ok"
	EventExecuteErr Event = "execute_err"
	EventCancel     Event = "cancel"
)

var ErrInvalidTransition = errors.New("invalid action status transition")

// transitions is the full state machine. Anything not listed is rejected;
// in particular, no event leaves a terminal state.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventPersist: StatusAwaitingConfirmation,
	},
	StatusAwaitingConfirmation: {
		EventExecuteOK:  StatusSuccess,
		EventExecuteErr: StatusFailed,
		EventCancel:     StatusCancelled,
	},
}

// Next returns the state reached by applying event to current.
func Next(current Status, event Event) (Status, error) {
	next, ok := transitions[current][event]
	if !ok {
		return current, fmt.Errorf("%w: %s + %s", ErrInvalidTransition, current, event)
	}
	return next, nil
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAwaitingConfirmation, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus converts a stored string back into a Status.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown action status %q", raw)
	}
	return status, nil
}
