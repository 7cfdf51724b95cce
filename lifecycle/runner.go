package lifecycle

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/records"
)

// Step carries one transition through its hooks.
type Step[R records.Document, S ~string] struct {
	ID     string
	Action Action
	Caller Caller
	Now    time.Time

	// From is the effective state the edge was resolved against.
	From S
	Edge Transition[S]

	// Prev is the record as read; Next is what will be written.
	Prev records.Versioned[R]
	Next R

	// Committed is set for After hooks.
	Committed records.Versioned[R]
}

// Request describes one action against one record.
type Request[R records.Document, S ~string] struct {
	ID     string
	Action Action
	Caller Caller

	// Check runs after the terminal check and before ownership and edge
	// resolution. It lets a caller report a domain-specific error, such
	// as a claim conflict, in place of INVALID_TRANSITION.
	Check func(st *Step[R, S]) error

	// Before runs after the edge is resolved and before anything is
	// written. An error aborts the step.
	Before func(ctx context.Context, st *Step[R, S]) error

	// Mutate applies the edge's field changes to st.Next. The status is
	// already set.
	Mutate func(st *Step[R, S])

	// Conflict builds the error returned when the conditional write loses.
	// Defaults to CONFLICT.
	Conflict func(st *Step[R, S]) error

	// After runs once the write has committed. It cannot fail the step.
	After func(ctx context.Context, st Step[R, S])
}

// Runner executes transitions of one Machine against one collection.
// Every step is a single read followed by a single conditional write.
type Runner[R records.Document, S ~string] struct {
	Machine *Machine[S]
	Store   *records.Collection[R]

	// State returns the record's effective state at now.
	State func(rec R, now time.Time) S

	// SetState writes the new state into rec.
	SetState func(rec *R, to S, now time.Time)

	// Owner returns the id owning rec for role in state, or "" if the
	// record has no owner for that role.
	Owner func(rec R, state S, role Role) string

	// Validate checks record invariants before the write.
	Validate func(rec R) error

	// Now defaults to time.Now.
	Now func() time.Time

	// OnCommit hooks run after every committed step, after Request.After.
	OnCommit []func(ctx context.Context, st Step[R, S])
}

// Load reads a record, mapping a missing id to NOT_FOUND.
func (r *Runner[R, S]) Load(ctx context.Context, id string) (records.Versioned[R], error) {
	v, err := r.Store.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, records.ErrNotFound) {
			return v, errors.NotFound(r.Machine.Kind(), id)
		}
		return v, err
	}
	return v, nil
}

// Do runs req and returns the committed record.
//
// Checks happen in a fixed order: NOT_FOUND, TERMINAL_STATE, Request.Check,
// NOT_OWNER, INVALID_TRANSITION, Before. A lost write returns the
// request's conflict error; nothing is retried.
func (r *Runner[R, S]) Do(ctx context.Context, req Request[R, S]) (records.Versioned[R], error) {
	var zero records.Versioned[R]

	if req.Caller.ID == "" {
		return zero, errors.Unauthorized("caller id is required", errors.WithTaskID(req.ID))
	}

	prev, err := r.Load(ctx, req.ID)
	if err != nil {
		return zero, err
	}

	st := &Step[R, S]{
		ID:     req.ID,
		Action: req.Action,
		Caller: req.Caller,
		Now:    r.now(),
		Prev:   prev,
		Next:   prev.Value,
	}
	st.From = r.State(prev.Value, st.Now)

	if r.Machine.IsTerminal(st.From) {
		return zero, errors.TerminalState(req.ID, string(st.From),
			errors.WithActorID(req.Caller.ID), errors.WithMetadata("kind", r.Machine.Kind()))
	}

	if req.Check != nil {
		if err := req.Check(st); err != nil {
			return zero, err
		}
	}

	if err := r.checkOwner(st); err != nil {
		return zero, err
	}

	edge, err := r.Machine.Resolve(req.ID, st.From, req.Action, req.Caller.Role, errors.WithActorID(req.Caller.ID))
	if err != nil {
		return zero, err
	}
	st.Edge = edge

	if req.Before != nil {
		if err := req.Before(ctx, st); err != nil {
			return zero, err
		}
	}

	r.SetState(&st.Next, edge.To, st.Now)
	if req.Mutate != nil {
		req.Mutate(st)
	}

	if r.Validate != nil {
		if err := r.Validate(st.Next); err != nil {
			return zero, errors.WrapWithCode(err, errors.ErrCodeAssertion, "invariant violated",
				errors.WithTaskID(req.ID), errors.WithActorID(req.Caller.ID))
		}
	}

	committed, err := r.Store.ConditionalUpdate(ctx, prev.Version, st.Next)
	if err != nil {
		switch {
		case stderrors.Is(err, records.ErrVersionMismatch):
			if req.Conflict != nil {
				return zero, req.Conflict(st)
			}
			return zero, errors.New(errors.ErrCodeConflict, r.Machine.Kind()+" "+req.ID+" changed concurrently",
				errors.WithTaskID(req.ID), errors.WithActorID(req.Caller.ID))
		case stderrors.Is(err, records.ErrNotFound):
			return zero, errors.NotFound(r.Machine.Kind(), req.ID)
		}
		return zero, err
	}

	st.Committed = committed
	if req.After != nil {
		req.After(ctx, *st)
	}
	for _, hook := range r.OnCommit {
		hook(ctx, *st)
	}
	return committed, nil
}

// checkOwner rejects callers that are not the owner when every edge the
// caller's role could take requires ownership.
func (r *Runner[R, S]) checkOwner(st *Step[R, S]) error {
	candidates := r.Machine.Candidates(st.From, st.Action, st.Caller.Role)
	if len(candidates) == 0 {
		return nil
	}
	for _, t := range candidates {
		if !t.Owned {
			return nil
		}
	}
	owner := ""
	if r.Owner != nil {
		owner = r.Owner(st.Prev.Value, st.From, st.Caller.Role)
	}
	if owner != st.Caller.ID {
		return errors.NotOwner(st.ID, st.Caller.ID, errors.WithMetadata("kind", r.Machine.Kind()))
	}
	return nil
}

func (r *Runner[R, S]) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
