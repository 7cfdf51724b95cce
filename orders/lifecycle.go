package orders

import (
	"context"
	"time"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
	"github.com/vinayprograms/orderclaim/notify"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/telemetry"
)

// Order actions.
const (
	ActionClaim    lifecycle.Action = "claim"
	ActionRelease  lifecycle.Action = "release"
	ActionAccept   lifecycle.Action = "accept"
	ActionStart    lifecycle.Action = "start"
	ActionComplete lifecycle.Action = "complete"
	ActionCancel   lifecycle.Action = "cancel"
)

var (
	providerOnly = []lifecycle.Role{lifecycle.RoleProvider}
	customerOnly = []lifecycle.Role{lifecycle.RoleCustomer}
	adminOnly    = []lifecycle.Role{lifecycle.RoleAdmin}
)

// OrderMachine is the order transition table.
var OrderMachine = lifecycle.New("order",
	[]Status{StatusCompleted, StatusCancelled},
	lifecycle.Transition[Status]{From: StatusPending, Action: ActionClaim, Roles: providerOnly, To: StatusClaimed},
	lifecycle.Transition[Status]{From: StatusClaimed, Action: ActionRelease, Roles: providerOnly, To: StatusPending, Owned: true},
	lifecycle.Transition[Status]{From: StatusClaimed, Action: ActionAccept, Roles: providerOnly, To: StatusAccepted, Owned: true},
	lifecycle.Transition[Status]{From: StatusAccepted, Action: ActionStart, Roles: providerOnly, To: StatusInProgress, Owned: true},
	lifecycle.Transition[Status]{From: StatusAccepted, Action: ActionCancel, Roles: providerOnly, To: StatusCancelled, Owned: true},
	lifecycle.Transition[Status]{From: StatusInProgress, Action: ActionComplete, Roles: providerOnly, To: StatusCompleted, Owned: true},
	lifecycle.Transition[Status]{From: StatusInProgress, Action: ActionCancel, Roles: providerOnly, To: StatusCancelled, Owned: true},
	lifecycle.Transition[Status]{From: StatusPending, Action: ActionCancel, Roles: customerOnly, To: StatusCancelled, Owned: true},
	lifecycle.Transition[Status]{From: StatusPending, Action: ActionCancel, Roles: adminOnly, To: StatusCancelled},
)

func (s *Service) newOrderRunner() *lifecycle.Runner[Task, Status] {
	return &lifecycle.Runner[Task, Status]{
		Machine:  OrderMachine,
		Store:    s.orders,
		State:    func(t Task, now time.Time) Status { return t.EffectiveStatus(now) },
		SetState: setTaskState,
		Owner:    orderOwner,
		Validate: func(t Task) error { return t.Validate() },
		Now:      s.now,
		OnCommit: []func(context.Context, lifecycle.Step[Task, Status]){s.orderCommitted},
	}
}

// setTaskState moves t to status to and applies the fields the target
// state implies. Claim fields survive only in Claimed; the provider is
// dropped on the way back to Pending or into Cancelled.
func setTaskState(t *Task, to Status, now time.Time) {
	t.Status = to
	t.UpdatedAt = now
	if to != StatusClaimed {
		t.ClaimedAt = nil
		t.ClaimExpiresAt = nil
	}
	at := now
	switch to {
	case StatusPending:
		t.ProviderID = ""
	case StatusAccepted:
		t.AcceptedAt = &at
	case StatusInProgress:
		t.StartedAt = &at
	case StatusCompleted:
		t.CompletedAt = &at
	case StatusCancelled:
		t.CancelledAt = &at
		t.ProviderID = ""
	}
}

func orderOwner(t Task, state Status, role lifecycle.Role) string {
	switch role {
	case lifecycle.RoleProvider:
		switch state {
		case StatusClaimed, StatusAccepted, StatusInProgress:
			return t.ProviderID
		}
	case lifecycle.RoleCustomer:
		return t.CustomerID
	}
	return ""
}

// orderCommitted logs the transition and tells everyone involved.
func (s *Service) orderCommitted(ctx context.Context, st lifecycle.Step[Task, Status]) {
	to := st.Committed.Value.Status
	s.log.Transitioned("order", st.ID, string(st.Action), string(st.From), string(to), st.Caller.ID)
	s.publish(ctx, notify.Event{
		Kind:    "order",
		Action:  string(st.Action),
		ID:      st.ID,
		From:    string(st.From),
		To:      string(to),
		ActorID: st.Caller.ID,
		At:      st.Now,
	}, st.Next.CustomerID, st.Prev.Value.ProviderID, st.Next.ProviderID)
}

// execute runs req on r and records its outcome under kind.
func execute[R records.Document, S ~string](ctx context.Context, s *Service, r *lifecycle.Runner[R, S], req lifecycle.Request[R, S], status func(R) S) (v records.Versioned[R], err error) {
	kind := r.Machine.Kind()
	ctx, op := s.startOp(ctx, kind+"."+string(req.Action), req.ID, req.Caller.ID)
	var from, to S
	defer func() {
		op.end(err, telemetry.OperationSpanOptions{From: string(from), To: string(to)})
		s.metrics.ObserveTransition(kind, string(req.Action), err)
		if err != nil {
			s.log.TransitionRejected(kind, req.ID, string(req.Action), req.Caller.ID, err)
		}
	}()

	after := req.After
	req.After = func(ctx context.Context, st lifecycle.Step[R, S]) {
		from = st.From
		if after != nil {
			after(ctx, st)
		}
	}

	v, err = r.Do(ctx, req)
	if err != nil {
		return v, err
	}
	to = status(v.Value)
	return v, nil
}

// runOrder returns the task as of the commit, so a claim that lapses
// before the caller sees it still reads Claimed.
func (s *Service) runOrder(ctx context.Context, req lifecycle.Request[Task, Status]) (*Task, error) {
	var committedAt time.Time
	after := req.After
	req.After = func(ctx context.Context, st lifecycle.Step[Task, Status]) {
		committedAt = st.Now
		if after != nil {
			after(ctx, st)
		}
	}
	v, err := execute(ctx, s, s.orderRunner, req, func(t Task) Status { return t.Status })
	if err != nil {
		return nil, err
	}
	return v.Value.View(committedAt), nil
}

func provider(id string) lifecycle.Caller {
	return lifecycle.Caller{ID: id, Role: lifecycle.RoleProvider}
}

// Accept turns the caller's live claim into a committed job.
func (s *Service) Accept(ctx context.Context, taskID, callerID string) (*Task, error) {
	return s.runOrder(ctx, lifecycle.Request[Task, Status]{
		ID:     taskID,
		Action: ActionAccept,
		Caller: provider(callerID),
		After: func(ctx context.Context, st lifecycle.Step[Task, Status]) {
			s.bumpProvider(ctx, st.Caller.ID, counterAccepted)
		},
	})
}

// Start marks an accepted job as in progress.
func (s *Service) Start(ctx context.Context, taskID, callerID string) (*Task, error) {
	return s.runOrder(ctx, lifecycle.Request[Task, Status]{
		ID:     taskID,
		Action: ActionStart,
		Caller: provider(callerID),
	})
}

// Complete finishes a job in progress.
func (s *Service) Complete(ctx context.Context, taskID, callerID string) (*Task, error) {
	return s.runOrder(ctx, lifecycle.Request[Task, Status]{
		ID:     taskID,
		Action: ActionComplete,
		Caller: provider(callerID),
		After: func(ctx context.Context, st lifecycle.Step[Task, Status]) {
			s.bumpProvider(ctx, st.Caller.ID, counterCompleted)
		},
	})
}

// Cancel cancels an order. Customers and admins cancel Pending orders;
// the owning provider cancels Accepted or InProgress ones.
func (s *Service) Cancel(ctx context.Context, taskID string, caller lifecycle.Caller, reason string) (*Task, error) {
	if caller.ID != "" && !caller.Role.Valid() {
		return nil, errors.InvalidInput("unknown role "+string(caller.Role), errors.WithTaskID(taskID))
	}
	return s.runOrder(ctx, lifecycle.Request[Task, Status]{
		ID:     taskID,
		Action: ActionCancel,
		Caller: caller,
		Mutate: func(st *lifecycle.Step[Task, Status]) {
			st.Next.CancelledBy = st.Caller.ID
			st.Next.CancelReason = reason
		},
	})
}
