// Package records stores versioned JSON documents in named collections on
// top of a pluggable Backend. Every write is conditional on the version the
// caller read, so concurrent writers never overwrite each other silently.
package records

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"
	"strings"

	"github.com/vinayprograms/orderclaim/errors"
)

// Sentinel results of backend calls. Infrastructure failures are returned
// as transient errors.Error values instead.
var (
	ErrNotFound        = stderrors.New("record not found")
	ErrExists          = stderrors.New("record already exists")
	ErrVersionMismatch = stderrors.New("record version mismatch")
)

// Index holds the fields a backend can filter on without decoding bodies.
type Index struct {
	Status        string
	ProviderID    string
	CustomerID    string
	OrderID       string
	PaymentIntent string
}

// Doc is a raw record as stored by a backend.
type Doc struct {
	ID      string
	Index   Index
	Body    []byte
	Version uint64
}

// Filter selects records by index fields. Empty fields match anything;
// Statuses matches any of the listed values, ignoring case and
// surrounding space.
type Filter struct {
	Statuses      []string
	ProviderID    string
	CustomerID    string
	OrderID       string
	PaymentIntent string
}

// Match reports whether ix satisfies f.
func (f Filter) Match(ix Index) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if strings.EqualFold(strings.TrimSpace(ix.Status), s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ProviderID != "" && f.ProviderID != ix.ProviderID {
		return false
	}
	if f.CustomerID != "" && f.CustomerID != ix.CustomerID {
		return false
	}
	if f.OrderID != "" && f.OrderID != ix.OrderID {
		return false
	}
	if f.PaymentIntent != "" && f.PaymentIntent != ix.PaymentIntent {
		return false
	}
	return true
}

// Backend stores raw documents grouped in named collections.
//
// Version is an opaque, backend-assigned token that changes on every
// write. CompareAndSwap commits only if the stored version still equals
// expected.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, collection, id string) (Doc, error)

	// List returns the documents matching f, ordered by id.
	List(ctx context.Context, collection string, f Filter) ([]Doc, error)

	// Insert returns ErrExists if the id is taken.
	Insert(ctx context.Context, collection string, d Doc) (uint64, error)

	// CompareAndSwap returns ErrVersionMismatch or ErrNotFound when the
	// write does not commit.
	CompareAndSwap(ctx context.Context, collection string, d Doc, expected uint64) (uint64, error)
}

// Document is implemented by record types stored in a Collection.
type Document interface {
	DocID() string
	DocIndex() Index
}

// Versioned pairs a decoded record with the version it was read at.
type Versioned[R any] struct {
	Value   R
	Version uint64
}

// Collection is a typed view of one backend collection. Records are
// stored as JSON.
type Collection[R Document] struct {
	name    string
	backend Backend
}

// NewCollection returns a typed collection over backend.
func NewCollection[R Document](backend Backend, name string) *Collection[R] {
	return &Collection[R]{name: name, backend: backend}
}

// Name returns the collection name.
func (c *Collection[R]) Name() string {
	return c.name
}

// Get loads one record.
func (c *Collection[R]) Get(ctx context.Context, id string) (Versioned[R], error) {
	d, err := c.backend.Get(ctx, c.name, id)
	if err != nil {
		return Versioned[R]{}, err
	}
	return c.decode(d)
}

// Query loads every record matching f, ordered by id.
func (c *Collection[R]) Query(ctx context.Context, f Filter) ([]Versioned[R], error) {
	docs, err := c.backend.List(ctx, c.name, f)
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	out := make([]Versioned[R], 0, len(docs))
	for _, d := range docs {
		v, err := c.decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Create stores a new record.
func (c *Collection[R]) Create(ctx context.Context, rec R) (Versioned[R], error) {
	d, err := c.encode(rec)
	if err != nil {
		return Versioned[R]{}, err
	}
	ver, err := c.backend.Insert(ctx, c.name, d)
	if err != nil {
		return Versioned[R]{}, err
	}
	return Versioned[R]{Value: rec, Version: ver}, nil
}

// ConditionalUpdate replaces the record only if it is still at expected.
func (c *Collection[R]) ConditionalUpdate(ctx context.Context, expected uint64, next R) (Versioned[R], error) {
	d, err := c.encode(next)
	if err != nil {
		return Versioned[R]{}, err
	}
	ver, err := c.backend.CompareAndSwap(ctx, c.name, d, expected)
	if err != nil {
		return Versioned[R]{}, err
	}
	return Versioned[R]{Value: next, Version: ver}, nil
}

func (c *Collection[R]) encode(rec R) (Doc, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return Doc{}, errors.WrapWithCode(err, errors.ErrCodeInternal, "encoding "+c.name+" record",
			errors.WithTaskID(rec.DocID()))
	}
	return Doc{ID: rec.DocID(), Index: rec.DocIndex(), Body: body}, nil
}

func (c *Collection[R]) decode(d Doc) (Versioned[R], error) {
	var rec R
	if err := json.Unmarshal(d.Body, &rec); err != nil {
		return Versioned[R]{}, errors.WrapWithCode(err, errors.ErrCodeCorruption, "decoding "+c.name+" record",
			errors.WithTaskID(d.ID))
	}
	return Versioned[R]{Value: rec, Version: d.Version}, nil
}

// unavailable marks an infrastructure failure as transient. Context
// errors keep their own TIMEOUT or CANCELED code.
func unavailable(backend, op string, err error) error {
	if errors.AsCodedError(err) != nil {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, backend+" "+op, errors.WithMetadata("backend", backend))
	}
	return errors.Unavailable(backend+" "+op, err, errors.WithMetadata("backend", backend))
}
