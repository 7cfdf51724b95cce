// Package state provides the revisioned key-value store that record
// collections are built on.
//
// Every entry carries a revision. Writers read an entry, compute the next
// value and call Update with the revision they read; the write commits
// only if nobody else wrote in between. That single primitive is what
// makes concurrent claims safe without locks or transactions.
//
// # Backends
//
//   - NATSStore: NATS JetStream KV. Create and Update use the server's
//     expected-last-sequence check.
//   - MemoryStore: process-local, for tests and single-node demos.
//
// # Usage
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	store, _ := state.NewNATSStore(ctx, state.NATSStoreConfig{Conn: nc, Bucket: "orderclaim"})
//
//	kv, _ := store.Get(ctx, "orders.42")
//	next := mutate(kv.Value)
//	if _, err := store.Update(ctx, "orders.42", next, kv.Revision); errors.Is(err, state.ErrRevisionMismatch) {
//	    // someone else won; re-read
//	}
package state
