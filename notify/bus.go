package notify

import (
	"context"

	"github.com/vinayprograms/orderclaim/bus"
	"github.com/vinayprograms/orderclaim/errors"
)

// BusNotifier publishes each event to Subject(userID) on a message bus.
type BusNotifier struct {
	bus bus.MessageBus
}

// NewBusNotifier publishes through b. The caller owns b.
func NewBusNotifier(b bus.MessageBus) *BusNotifier {
	return &BusNotifier{bus: b}
}

func (n *BusNotifier) Notify(ctx context.Context, userID string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "publishing event")
	}
	data, err := ev.Marshal()
	if err != nil {
		return err
	}
	if err := n.bus.Publish(Subject(userID), data); err != nil {
		return errors.Unavailable("bus publish", err, errors.WithTaskID(ev.ID))
	}
	return nil
}
