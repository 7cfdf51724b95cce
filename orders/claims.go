package orders

import (
	"context"
	"sort"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/telemetry"
)

// Claim gives callerID exclusive, time-limited rights to accept taskID.
//
// A task is claimable while Pending or once a previous claim has lapsed.
// Anything else, including a live claim the caller already holds, is a
// CLAIM_CONFLICT. The quota check reads the caller's other claims just
// before the write; two concurrent claims by one provider on different
// tasks can both pass it.
func (s *Service) Claim(ctx context.Context, taskID, callerID string) (task *Task, err error) {
	defer func() {
		s.metrics.ObserveClaim(err)
		switch {
		case err == nil && task.ClaimExpiresAt != nil:
			s.log.ClaimAcquired(taskID, callerID, *task.ClaimExpiresAt)
		case errors.Is(err, errors.ErrCodeClaimConflict), errors.Is(err, errors.ErrCodeQuotaExceeded):
			s.log.ClaimRejected(taskID, callerID, string(errors.Code(err)))
		}
	}()

	return s.runOrder(ctx, lifecycle.Request[Task, Status]{
		ID:     taskID,
		Action: ActionClaim,
		Caller: provider(callerID),
		Check: func(st *lifecycle.Step[Task, Status]) error {
			if st.From != StatusPending {
				return errors.ClaimConflict(st.ID, st.Caller.ID, errors.WithMetadata("status", string(st.From)))
			}
			return nil
		},
		Before: func(ctx context.Context, st *lifecycle.Step[Task, Status]) error {
			return s.checkQuota(ctx, st)
		},
		Mutate: func(st *lifecycle.Step[Task, Status]) {
			claimed := st.Now
			expires := st.Now.Add(s.claimDuration)
			st.Next.ProviderID = st.Caller.ID
			st.Next.ClaimedAt = &claimed
			st.Next.ClaimExpiresAt = &expires
		},
		Conflict: func(st *lifecycle.Step[Task, Status]) error {
			return errors.ClaimConflict(st.ID, st.Caller.ID)
		},
	})
}

func (s *Service) checkQuota(ctx context.Context, st *lifecycle.Step[Task, Status]) error {
	held, err := s.orders.Query(ctx, records.Filter{
		Statuses:   orderStatuses.spellings(StatusClaimed),
		ProviderID: st.Caller.ID,
	})
	if err != nil {
		return err
	}
	live := 0
	for _, v := range held {
		if v.Value.ID != st.ID && !v.Value.IsExpired(st.Now) {
			live++
		}
	}
	if live >= s.maxClaims {
		return errors.QuotaExceeded(st.Caller.ID, s.maxClaims, errors.WithTaskID(st.ID))
	}
	return nil
}

// Release gives up the caller's live claim. The task returns to Pending.
func (s *Service) Release(ctx context.Context, taskID, callerID string) (*Task, error) {
	return s.runOrder(ctx, lifecycle.Request[Task, Status]{
		ID:     taskID,
		Action: ActionRelease,
		Caller: provider(callerID),
	})
}

// ListClaimable returns every task a provider could claim now, including
// tasks whose claim has lapsed, oldest first.
func (s *Service) ListClaimable(ctx context.Context) (tasks []*Task, err error) {
	ctx, op := s.startOp(ctx, "order.list_claimable", "", "")
	defer func() { op.end(err, telemetry.OperationSpanOptions{}) }()

	vs, err := s.orders.Query(ctx, records.Filter{
		Statuses: orderStatuses.spellings(StatusPending, StatusClaimed),
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, v := range vs {
		if v.Value.EffectiveStatus(now) == StatusPending {
			tasks = append(tasks, v.Value.View(now))
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

// ListMyClaims returns the caller's claims, lapsed ones included and
// marked Expired.
func (s *Service) ListMyClaims(ctx context.Context, callerID string) (claims []ClaimView, err error) {
	ctx, op := s.startOp(ctx, "order.list_claims", "", callerID)
	defer func() { op.end(err, telemetry.OperationSpanOptions{}) }()

	if callerID == "" {
		return nil, errors.Unauthorized("provider id is required")
	}
	vs, err := s.orders.Query(ctx, records.Filter{
		Statuses:   orderStatuses.spellings(StatusClaimed),
		ProviderID: callerID,
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, v := range vs {
		claims = append(claims, newClaimView(v.Value, now))
	}
	sort.SliceStable(claims, func(i, j int) bool { return claims[i].Task.CreatedAt.Before(claims[j].Task.CreatedAt) })
	return claims, nil
}
