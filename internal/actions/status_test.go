package actions

import (
	"errors"
	"testing"
)

func TestNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current Status
		event   Event
		want    Status
		wantErr bool
	}{
		{name: "persist pending", current: StatusPending, event: EventPersist, want: StatusAwaitingConfirmation},
		{name: "execute ok", current: StatusAwaitingConfirmation, event: EventExecuteOK, want: StatusSuccess},
		{name: "execute err", current: StatusAwaitingConfirmation, event: EventExecuteErr, want: StatusFailed},
		{name: "cancel", current: StatusAwaitingConfirmation, event: EventCancel, want: StatusCancelled},
		{name: "cancel pending", current: StatusPending, event: EventCancel, wantErr: true},
		{name: "persist twice", current: StatusAwaitingConfirmation, event: EventPersist, wantErr: true},
		{name: "execute success again", current: StatusSuccess, event: EventExecuteOK, wantErr: true},
		{name: "cancel after failure", current: StatusFailed, event: EventCancel, wantErr: true},
		{name: "revive cancelled", current: StatusCancelled, event: EventPersist, wantErr: true},
		{name: "unknown status", current: Status("weird"), event: EventPersist, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Next(tt.current, tt.event)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("Next() error = %v, want ErrInvalidTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Next() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTerminalStatesAcceptNoEvents(t *testing.T) {
	t.Parallel()

	events := []Event{EventPersist, EventExecuteOK, EventExecuteErr, EventCancel}
	for _, status := range []Status{StatusSuccess, StatusFailed, StatusCancelled} {
		if !status.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", status)
		}
		for _, event := range events {
			if _, err := Next(status, event); err == nil {
				t.Errorf("Next(%s, %s) succeeded, want error", status, event)
			}
		}
	}
	for _, status := range []Status{StatusPending, StatusAwaitingConfirmation} {
		if status.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", status)
		}
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    Status
		wantErr bool
	}{
		{raw: "awaiting_confirmation", want: StatusAwaitingConfirmation},
		{raw: "  SUCCESS  ", want: StatusSuccess},
		{raw: "cancelled", want: StatusCancelled},
		{raw: "done", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatus(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStatus(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	if kind, err := ParseKind(" GitHub_Create_Issue "); err != nil || kind != KindGitHubCreateIssue {
		t.Errorf("ParseKind() = %q, %v", kind, err)
	}
	if _, err := ParseKind("delete_everything"); err == nil {
		t.Error("ParseKind() accepted an unknown kind")
	}
}
