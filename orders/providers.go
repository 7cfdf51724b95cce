package orders

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/telemetry"
)

// Provider holds a provider's job counters.
type Provider struct {
	ID                string    `json:"id"`
	AcceptedJobCount  int       `json:"acceptedJobCount"`
	CompletedJobCount int       `json:"completedJobCount"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (p Provider) DocID() string { return p.ID }

func (p Provider) DocIndex() records.Index {
	return records.Index{ProviderID: p.ID}
}

type counter string

const (
	counterAccepted  counter = "accepted"
	counterCompleted counter = "completed"
)

const counterAttempts = 5

// bumpProvider increments one of a provider's counters. It runs after
// the order write has committed, so a failure is logged and counted but
// never returned.
func (s *Service) bumpProvider(ctx context.Context, providerID string, c counter) {
	ctx = context.WithoutCancel(ctx)
	err := s.incrementCounter(ctx, providerID, c)
	s.metrics.ObserveCounterWrite(string(c), err)
	if err != nil {
		s.log.SideEffectFailed("provider_counter_"+string(c), providerID, err)
	}
}

func (s *Service) incrementCounter(ctx context.Context, providerID string, c counter) error {
	var err error
	for attempt := 0; attempt < counterAttempts; attempt++ {
		now := s.now()
		cur, getErr := s.providers.Get(ctx, providerID)
		switch {
		case getErr == nil:
			next := cur.Value
			next.apply(c, now)
			_, err = s.providers.ConditionalUpdate(ctx, cur.Version, next)
		case stderrors.Is(getErr, records.ErrNotFound):
			next := Provider{ID: providerID}
			next.apply(c, now)
			_, err = s.providers.Create(ctx, next)
		default:
			return getErr
		}
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, records.ErrVersionMismatch) && !stderrors.Is(err, records.ErrExists) {
			return err
		}
	}
	return errors.New(errors.ErrCodeConflict, "provider counter kept changing",
		errors.WithActorID(providerID), errors.WithMetadata("counter", string(c)), errors.WithCause(err))
}

func (p *Provider) apply(c counter, now time.Time) {
	switch c {
	case counterAccepted:
		p.AcceptedJobCount++
	case counterCompleted:
		p.CompletedJobCount++
	}
	p.UpdatedAt = now
}

// Provider returns a provider's counters. A provider with no recorded
// jobs has zero counts.
func (s *Service) Provider(ctx context.Context, providerID string) (p *Provider, err error) {
	ctx, op := s.startOp(ctx, "provider.get", providerID, "")
	defer func() { op.end(err, telemetry.OperationSpanOptions{}) }()

	if providerID == "" {
		return nil, errors.InvalidInput("provider id is required")
	}
	v, err := s.providers.Get(ctx, providerID)
	if err != nil {
		if stderrors.Is(err, records.ErrNotFound) {
			return &Provider{ID: providerID}, nil
		}
		return nil, err
	}
	return &v.Value, nil
}
