package notify

import (
	"context"
	"strings"

	"github.com/vinayprograms/orderclaim/bus"
)

// Received is an event read back from the bus.
type Received struct {
	UserID string
	Event  Event
}

// Consume subscribes to pattern (for example "notify.>") and calls handle
// for every decodable event until ctx is done or the subscription ends.
// Undecodable messages are passed to onError when it is not nil.
func Consume(ctx context.Context, b bus.MessageBus, pattern string, handle func(Received), onError func(subject string, err error)) error {
	sub, err := b.Subscribe(pattern)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			ev, err := Unmarshal(msg.Data)
			if err != nil {
				if onError != nil {
					onError(msg.Subject, err)
				}
				continue
			}
			handle(Received{UserID: strings.TrimPrefix(msg.Subject, "notify."), Event: ev})
		}
	}
}
