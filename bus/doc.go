// Package bus provides the pub/sub transport that carries order events to
// notification consumers.
//
// Publishing is fire-and-forget: Publish returns once the message is
// handed to the transport and never waits for subscribers. That matches
// how the coordinator treats notifications, which must not hold up or
// roll back a committed write.
//
// # Implementations
//
//   - NATSBus: core NATS subjects
//   - MemoryBus: in-process fan-out for tests and single-node runs
//
// # Subjects
//
// Notifications are published to "notify.<userID>". A push relay for one
// user subscribes to that subject; an auditor can subscribe to "notify.>":
//
//	sub, _ := b.Subscribe("notify.>")
//	for msg := range sub.Messages() {
//	    // decode notify.Event from msg.Data
//	}
package bus
