package history

import (
	"context"
	"time"
)

// Action identifies the supervisor operation an event records.
type Action string

const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionFreePort Action = "free_port"
	ActionResolve  Action = "resolve_conflict"
)

// Event is one audit row: which action ran against which service/port and
// how it ended. Events are appended, never updated.
type Event struct {
	Action     Action    `json:"action"`
	Service    string    `json:"service,omitempty"`
	Port       int       `json:"port,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for supervisor audit events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Record appends an event to the sink, best-effort. A nil sink and a sink
// error are both silently tolerated: auditing must never change the
// supervisor's behavior.
func Record(ctx context.Context, s Sink, e Event) {
	if s == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	_ = s.Send(ctx, e)
}
