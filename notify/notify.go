// Package notify delivers order and quote events to the users they concern.
//
// Delivery is fire-and-forget. The Dispatcher queues events after a write
// has committed and hands them to a bounded worker pool; a slow or failing
// Notifier is logged and counted but never reaches the caller of the
// operation that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/orderclaim/errors"
)

// Event describes one committed change.
type Event struct {
	// Kind is "order" or "quote".
	Kind    string    `json:"kind"`
	Action  string    `json:"action"`
	ID      string    `json:"id"`
	OrderID string    `json:"order_id,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to"`
	ActorID string    `json:"actor_id"`
	At      time.Time `json:"at"`

	// TraceID links the event to the operation's trace, when there is one.
	TraceID string `json:"trace_id,omitempty"`
}

// Subject returns the bus subject for events addressed to userID.
func Subject(userID string) string {
	return "notify." + userID
}

// Marshal encodes the event for a transport.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "encoding event", errors.WithTaskID(e.ID))
	}
	return data, nil
}

// Unmarshal decodes an event received from a transport.
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, errors.WrapWithCode(err, errors.ErrCodeCorruption, "decoding event")
	}
	return e, nil
}

// Notifier delivers one event to one user.
type Notifier interface {
	Notify(ctx context.Context, userID string, ev Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, userID string, ev Event) error

func (f Func) Notify(ctx context.Context, userID string, ev Event) error {
	return f(ctx, userID, ev)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, string, Event) error { return nil }

// Multi delivers to every notifier in order and joins their failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID string, ev Event) error {
	var failed []error
	for _, n := range m {
		if err := n.Notify(ctx, userID, ev); err != nil {
			failed = append(failed, err)
		}
	}
	switch len(failed) {
	case 0:
		return nil
	case 1:
		return failed[0]
	}
	return fmt.Errorf("%d notifiers failed: %w", len(failed), failed[0])
}
