package records

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/state"
)

// KVBackend stores documents in a state.StateStore under
// "<collection>.<id>". The index travels with the body in one envelope so
// a single revisioned write covers both.
type KVBackend struct {
	store state.StateStore
	name  string
}

type kvEnvelope struct {
	Index kvIndex         `json:"index"`
	Body  json.RawMessage `json:"body"`
}

type kvIndex struct {
	Status        string `json:"status,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
	CustomerID    string `json:"customer_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	PaymentIntent string `json:"payment_intent,omitempty"`
}

// NewKVBackend wraps a state store. name labels the backend in logs, for
// example "memory" or "nats".
func NewKVBackend(store state.StateStore, name string) *KVBackend {
	return &KVBackend{store: store, name: name}
}

// Name identifies the backend.
func (b *KVBackend) Name() string {
	return b.name
}

// Get returns one document.
func (b *KVBackend) Get(ctx context.Context, collection, id string) (Doc, error) {
	kv, err := b.store.Get(ctx, key(collection, id))
	if err != nil {
		if stderrors.Is(err, state.ErrNotFound) || stderrors.Is(err, state.ErrInvalidKey) {
			return Doc{}, ErrNotFound
		}
		return Doc{}, unavailable(b.name, "get", err)
	}
	return decodeEnvelope(id, kv)
}

// List scans the collection's keys and filters on the stored index.
func (b *KVBackend) List(ctx context.Context, collection string, f Filter) ([]Doc, error) {
	prefix := collection + "."
	keys, err := b.store.Keys(ctx, prefix+"*")
	if err != nil {
		return nil, unavailable(b.name, "list", err)
	}

	var docs []Doc
	for _, k := range keys {
		kv, err := b.store.Get(ctx, k)
		if err != nil {
			if stderrors.Is(err, state.ErrNotFound) {
				continue
			}
			return nil, unavailable(b.name, "list", err)
		}
		d, err := decodeEnvelope(k[len(prefix):], kv)
		if err != nil {
			return nil, err
		}
		if f.Match(d.Index) {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// Insert creates a document if the id is free.
func (b *KVBackend) Insert(ctx context.Context, collection string, d Doc) (uint64, error) {
	raw, err := encodeEnvelope(d)
	if err != nil {
		return 0, err
	}
	rev, err := b.store.Create(ctx, key(collection, d.ID), raw)
	if err != nil {
		switch {
		case stderrors.Is(err, state.ErrKeyExists):
			return 0, ErrExists
		case stderrors.Is(err, state.ErrInvalidKey):
			return 0, errors.InvalidInput("invalid record id "+d.ID, errors.WithTaskID(d.ID))
		}
		return 0, unavailable(b.name, "insert", err)
	}
	return rev, nil
}

// CompareAndSwap writes d if the stored revision still equals expected.
func (b *KVBackend) CompareAndSwap(ctx context.Context, collection string, d Doc, expected uint64) (uint64, error) {
	raw, err := encodeEnvelope(d)
	if err != nil {
		return 0, err
	}
	rev, err := b.store.Update(ctx, key(collection, d.ID), raw, expected)
	if err != nil {
		switch {
		case stderrors.Is(err, state.ErrRevisionMismatch):
			return 0, ErrVersionMismatch
		case stderrors.Is(err, state.ErrNotFound), stderrors.Is(err, state.ErrInvalidKey):
			return 0, ErrNotFound
		}
		return 0, unavailable(b.name, "update", err)
	}
	return rev, nil
}

func key(collection, id string) string {
	return collection + "." + id
}

func encodeEnvelope(d Doc) ([]byte, error) {
	env := kvEnvelope{
		Index: kvIndex(d.Index),
		Body:  d.Body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInternal, "encoding envelope", errors.WithTaskID(d.ID))
	}
	return raw, nil
}

func decodeEnvelope(id string, kv *state.KeyValue) (Doc, error) {
	var env kvEnvelope
	if err := json.Unmarshal(kv.Value, &env); err != nil {
		return Doc{}, errors.WrapWithCode(err, errors.ErrCodeCorruption, "decoding envelope", errors.WithTaskID(id))
	}
	return Doc{
		ID:      id,
		Index:   Index(env.Index),
		Body:    env.Body,
		Version: kv.Revision,
	}, nil
}
