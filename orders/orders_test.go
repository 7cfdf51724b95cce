package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
	"github.com/vinayprograms/orderclaim/notify"
	"github.com/vinayprograms/orderclaim/payments"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/state"
	"github.com/vinayprograms/orderclaim/telemetry"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	ev    notify.Event
	users []string
}

type eventLog struct {
	mu     sync.Mutex
	events []published
}

func (l *eventLog) Dispatch(_ context.Context, ev notify.Event, userIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, published{ev: ev, users: userIDs})
}

func (l *eventLog) actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, p := range l.events {
		out = append(out, p.ev.Kind+"."+p.ev.Action)
	}
	return out
}

type fixture struct {
	svc      *Service
	backend  records.Backend
	clock    *clock
	events   *eventLog
	payments *payments.Memory
	metrics  *telemetry.Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		backend:  records.NewKVBackend(state.NewMemoryStore(), "memory"),
		clock:    newClock(),
		events:   &eventLog{},
		payments: payments.NewMemory(),
		metrics:  telemetry.NewMetrics(prometheus.NewRegistry()),
	}
	base := []Option{
		WithClock(f.clock.Now),
		WithNotifier(f.events),
		WithPayments(f.payments),
		WithMetrics(f.metrics),
	}
	f.svc = NewService(f.backend, append(base, opts...)...)
	return f
}

func sampleOrder() NewOrder {
	return NewOrder{
		Items: []Item{
			{Name: "brake pads", Quantity: 2, UnitPrice: 4500},
			{Name: "labour", Quantity: 1, UnitPrice: 8000},
		},
		Location: Location{Address: "12 High St", City: "Leeds"},
	}
}

func (f *fixture) submit(t *testing.T) *Task {
	t.Helper()
	task, err := f.svc.Submit(context.Background(), "c1", sampleOrder())
	require.NoError(t, err)
	return task
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)

	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, "c1", task.CustomerID)
	assert.Equal(t, int64(17000), task.TotalPrice)
	assert.Empty(t, task.ProviderID)
	assert.Equal(t, []string{"order.submit"}, f.events.actions())
}

func TestSubmit_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "", sampleOrder())
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))

	_, err = f.svc.Submit(ctx, "c1", NewOrder{Location: Location{Address: "x"}})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	bad := sampleOrder()
	bad.Items[0].Quantity = 0
	_, err = f.svc.Submit(ctx, "c1", bad)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestSubmit_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := sampleOrder()
	in.IdempotencyKey = "checkout-42"

	first, err := f.svc.Submit(ctx, "c1", in)
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, "c1", in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := f.svc.Submit(ctx, "c2", in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	orders, err := f.svc.ListCustomerOrders(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)

	claimed, err := f.svc.Claim(context.Background(), task.ID, "p1")
	require.NoError(t, err)

	assert.Equal(t, StatusClaimed, claimed.Status)
	assert.Equal(t, "p1", claimed.ProviderID)
	require.NotNil(t, claimed.ClaimExpiresAt)
	assert.True(t, f.clock.Now().Add(ClaimDuration).Equal(*claimed.ClaimExpiresAt))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Claims.WithLabelValues("ok")))
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := f.svc.Claim(context.Background(), task.ID, p)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, p)
			} else {
				errs = append(errs, err)
			}
		}(fmt.Sprintf("p%d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	for _, err := range errs {
		assert.True(t, errors.Is(err, errors.ErrCodeClaimConflict), "got %v", err)
	}

	got, err := f.svc.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], got.ProviderID)
}

func TestClaim_AlreadyHeldByCaller(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, task.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeClaimConflict))
}

func TestClaim_Quota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.submit(t), f.submit(t), f.submit(t)

	_, err := f.svc.Claim(ctx, a.ID, "p1")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, b.ID, "p1")
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, c.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeQuotaExceeded))

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	// Lapsed claims no longer count.
	f.clock.Advance(ClaimDuration + time.Second)
	_, err = f.svc.Claim(ctx, c.ID, "p1")
	assert.NoError(t, err)
}

func TestClaim_QuotaOption(t *testing.T) {
	f := newFixture(t, WithMaxClaims(1))
	ctx := context.Background()
	a, b := f.submit(t), f.submit(t)

	_, err := f.svc.Claim(ctx, a.ID, "p1")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, b.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeQuotaExceeded))
}

func TestClaim_AcceptedTaskConflicts(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, task.ID, "p1")
	require.NoError(t, err)

	_, err = f.svc.Claim(ctx, task.ID, "p2")
	assert.True(t, errors.Is(err, errors.ErrCodeClaimConflict))
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)

	before, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	_, err = f.svc.Release(ctx, task.ID, "p2")
	assert.True(t, errors.Is(err, errors.ErrCodeNotOwner))
	after, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, after.Status)
	assert.Equal(t, before.ProviderID, after.ProviderID)
	assert.Equal(t, before.ClaimExpiresAt, after.ClaimExpiresAt)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	released, err := f.svc.Release(ctx, task.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, released.Status)
	assert.Empty(t, released.ProviderID)
	assert.Nil(t, released.ClaimedAt)
	assert.Nil(t, released.ClaimExpiresAt)

	_, err = f.svc.Release(ctx, task.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))
}

func TestRelease_SecondProviderThenClaims(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	_, err = f.svc.Claim(ctx, task.ID, "p2")
	require.True(t, errors.Is(err, errors.ErrCodeClaimConflict))

	_, err = f.svc.Release(ctx, task.ID, "p1")
	require.NoError(t, err)

	claimed, err := f.svc.Claim(ctx, task.ID, "p2")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, claimed.Status)
	assert.Equal(t, "p2", claimed.ProviderID)
	require.NotNil(t, claimed.ClaimExpiresAt)
	assert.True(t, f.clock.Now().Add(ClaimDuration).Equal(*claimed.ClaimExpiresAt))
}

// tickingClock moves forward by step on every read.
type tickingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestClaim_ShortDurationReturnsCommittedClaim(t *testing.T) {
	tick := &tickingClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: 5 * time.Millisecond}
	f := newFixture(t, WithClock(tick.Now), WithClaimDuration(time.Millisecond))
	task := f.submit(t)
	ctx := context.Background()

	var (
		claimed *Task
		err     error
	)
	require.NotPanics(t, func() { claimed, err = f.svc.Claim(ctx, task.ID, "p1") })
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, claimed.Status)
	assert.Equal(t, "p1", claimed.ProviderID)
	require.NotNil(t, claimed.ClaimedAt)
	require.NotNil(t, claimed.ClaimExpiresAt)
	assert.True(t, claimed.ClaimedAt.Add(time.Millisecond).Equal(*claimed.ClaimExpiresAt))

	// Read back later, the claim has lapsed.
	seen, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, seen.Status)
}

func TestExpiry_ReclaimAndStaleAccept(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)

	f.clock.Advance(ClaimDuration + time.Second)

	seen, err := f.svc.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, seen.Status)
	assert.Empty(t, seen.ProviderID)

	claimable, err := f.svc.ListClaimable(ctx)
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	assert.Equal(t, task.ID, claimable[0].ID)

	mine, err := f.svc.ListMyClaims(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, mine[0].Expired)
	assert.Zero(t, mine[0].Remaining)

	_, err = f.svc.Accept(ctx, task.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))

	_, err = f.svc.Claim(ctx, task.ID, "p2")
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, task.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeNotOwner))

	mine, err = f.svc.ListMyClaims(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestListMyClaims_Remaining(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	mine, err := f.svc.ListMyClaims(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.False(t, mine[0].Expired)
	assert.Equal(t, 50*time.Minute, mine[0].Remaining)
	assert.Equal(t, int64(3000), mine[0].RemainingSeconds)

	_, err = f.svc.ListMyClaims(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)

	accepted, err := f.svc.Accept(ctx, task.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)
	assert.Nil(t, accepted.ClaimExpiresAt)
	assert.NotNil(t, accepted.AcceptedAt)

	started, err := f.svc.Start(ctx, task.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	done, err := f.svc.Complete(ctx, task.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "p1", done.ProviderID)
	assert.NotNil(t, done.CompletedAt)

	p, err := f.svc.Provider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.AcceptedJobCount)
	assert.Equal(t, 1, p.CompletedJobCount)

	_, err = f.svc.Cancel(ctx, task.ID, lifecycle.Caller{ID: "c1", Role: lifecycle.RoleCustomer}, "too late")
	assert.True(t, errors.Is(err, errors.ErrCodeTerminalState))
	_, err = f.svc.Claim(ctx, task.ID, "p2")
	assert.True(t, errors.Is(err, errors.ErrCodeTerminalState))

	assert.Equal(t, []string{
		"order.submit", "order.claim", "order.accept", "order.start", "order.complete",
	}, f.events.actions())
}

func TestProviderCounters_Accumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := f.submit(t)
		_, err := f.svc.Claim(ctx, task.ID, "p1")
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, task.ID, "p1")
		require.NoError(t, err)
	}

	p, err := f.svc.Provider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.AcceptedJobCount)
	assert.Zero(t, p.CompletedJobCount)

	unknown, err := f.svc.Provider(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, unknown.AcceptedJobCount)
}

func TestStart_WrongState(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, task.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))
	_, err = f.svc.Complete(ctx, task.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))
}

func TestComplete_AfterCompletionIsTerminal(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)
	ctx := context.Background()

	for _, step := range []func(context.Context, string, string) (*Task, error){
		f.svc.Claim, f.svc.Accept, f.svc.Start, f.svc.Complete,
	} {
		_, err := step(ctx, task.ID, "p1")
		require.NoError(t, err)
	}

	_, err := f.svc.Complete(ctx, task.ID, "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeTerminalState))

	p, err := f.svc.Provider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CompletedJobCount)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	customer := lifecycle.Caller{ID: "c1", Role: lifecycle.RoleCustomer}

	t.Run("customer cancels pending", func(t *testing.T) {
		f := newFixture(t)
		task := f.submit(t)

		_, err := f.svc.Cancel(ctx, task.ID, lifecycle.Caller{ID: "c2", Role: lifecycle.RoleCustomer}, "")
		assert.True(t, errors.Is(err, errors.ErrCodeNotOwner))

		got, err := f.svc.Cancel(ctx, task.ID, customer, "changed my mind")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Equal(t, "c1", got.CancelledBy)
		assert.Equal(t, "changed my mind", got.CancelReason)
	})

	t.Run("admin cancels any pending order", func(t *testing.T) {
		f := newFixture(t)
		task := f.submit(t)
		got, err := f.svc.Cancel(ctx, task.ID, lifecycle.Caller{ID: "ops", Role: lifecycle.RoleAdmin}, "fraud")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
	})

	t.Run("customer cannot cancel accepted", func(t *testing.T) {
		f := newFixture(t)
		task := f.submit(t)
		_, err := f.svc.Claim(ctx, task.ID, "p1")
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, task.ID, "p1")
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, task.ID, customer, "")
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))
	})

	t.Run("owner cancels in progress", func(t *testing.T) {
		f := newFixture(t)
		task := f.submit(t)
		_, err := f.svc.Claim(ctx, task.ID, "p1")
		require.NoError(t, err)
		_, err = f.svc.Accept(ctx, task.ID, "p1")
		require.NoError(t, err)
		_, err = f.svc.Start(ctx, task.ID, "p1")
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, task.ID, lifecycle.Caller{ID: "p2", Role: lifecycle.RoleProvider}, "")
		assert.True(t, errors.Is(err, errors.ErrCodeNotOwner))

		got, err := f.svc.Cancel(ctx, task.ID, lifecycle.Caller{ID: "p1", Role: lifecycle.RoleProvider}, "parts unavailable")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Empty(t, got.ProviderID)
		assert.Equal(t, "p1", got.CancelledBy)
	})

	t.Run("lapsed claim cancels cleanly", func(t *testing.T) {
		f := newFixture(t)
		task := f.submit(t)
		_, err := f.svc.Claim(ctx, task.ID, "p1")
		require.NoError(t, err)
		f.clock.Advance(2 * ClaimDuration)

		got, err := f.svc.Cancel(ctx, task.ID, customer, "")
		require.NoError(t, err)
		assert.Empty(t, got.ProviderID)
		assert.Nil(t, got.ClaimExpiresAt)
	})

	t.Run("bad caller", func(t *testing.T) {
		f := newFixture(t)
		task := f.submit(t)
		_, err := f.svc.Cancel(ctx, task.ID, lifecycle.Caller{ID: "x", Role: "janitor"}, "")
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
		_, err = f.svc.Cancel(ctx, task.ID, lifecycle.Caller{}, "")
		assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))
	})
}

type failingPublisher struct{}

func (failingPublisher) Dispatch(ctx context.Context, ev notify.Event, userIDs ...string) {
	d := notify.NewDispatcher(notify.Func(func(context.Context, string, notify.Event) error {
		return fmt.Errorf("push service down")
	}), "failing")
	d.Dispatch(ctx, ev, userIDs...)
	d.Close()
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, WithNotifier(failingPublisher{}))
	task := f.submit(t)

	got, err := f.svc.Claim(context.Background(), task.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, got.Status)
}

func TestClaim_EventAddressedToCustomerAndProvider(t *testing.T) {
	f := newFixture(t)
	task := f.submit(t)

	_, err := f.svc.Claim(context.Background(), task.ID, "p1")
	require.NoError(t, err)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, "claim", last.ev.Action)
	assert.Equal(t, "Pending", last.ev.From)
	assert.Equal(t, "Claimed", last.ev.To)
	assert.Contains(t, last.users, "c1")
	assert.Contains(t, last.users, "p1")
}

// storeRaw writes a record body exactly as given, bypassing the service.
func storeRaw(t *testing.T, b records.Backend, collection, id, status, body string) {
	t.Helper()
	_, err := b.Insert(context.Background(), collection, records.Doc{
		ID:    id,
		Index: records.Index{Status: status, CustomerID: "c1"},
		Body:  []byte(body),
	})
	require.NoError(t, err)
}

func TestLegacyStatusOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeRaw(t, f.backend, OrdersCollection, "old-1", "Waiting",
		`{"id":"old-1","customerId":"c1","status":"Waiting","items":[{"name":"x","quantity":1,"unitPrice":100}],"totalPrice":100,"locationDetails":{"address":"a"}}`)

	got, err := f.svc.Get(ctx, "old-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	claimable, err := f.svc.ListClaimable(ctx)
	require.NoError(t, err)
	require.Len(t, claimable, 1)

	claimed, err := f.svc.Claim(ctx, "old-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, claimed.Status)
}

func TestLegacyStatus_AnyCaseIsClaimableAndCounted(t *testing.T) {
	f := newFixture(t, WithMaxClaims(1))
	ctx := context.Background()
	storeRaw(t, f.backend, OrdersCollection, "old-3", "waiting",
		`{"id":"old-3","customerId":"c1","status":"waiting","items":[{"name":"x","quantity":1,"unitPrice":100}],"totalPrice":100,"locationDetails":{"address":"a"}}`)

	claimable, err := f.svc.ListClaimable(ctx)
	require.NoError(t, err)
	require.Len(t, claimable, 1)
	assert.Equal(t, StatusPending, claimable[0].Status)

	_, err = f.backend.Insert(ctx, OrdersCollection, records.Doc{
		ID:    "old-4",
		Index: records.Index{Status: "CLAIMED", ProviderID: "p1", CustomerID: "c1"},
		Body: []byte(fmt.Sprintf(`{"id":"old-4","customerId":"c1","providerId":"p1","status":"CLAIMED","claimedAt":%q,"claimExpiresAt":%q,"items":[{"name":"x","quantity":1,"unitPrice":100}],"totalPrice":100,"locationDetails":{"address":"a"}}`,
			f.clock.Now().Format(time.RFC3339), f.clock.Now().Add(time.Hour).Format(time.RFC3339))),
	})
	require.NoError(t, err)

	mine, err := f.svc.ListMyClaims(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, mine, 1)

	_, err = f.svc.Claim(ctx, "old-3", "p1")
	assert.True(t, errors.Is(err, errors.ErrCodeQuotaExceeded))
}

func TestUnknownStoredStatusIsCorruption(t *testing.T) {
	f := newFixture(t)
	storeRaw(t, f.backend, OrdersCollection, "old-2", "Sideways",
		`{"id":"old-2","customerId":"c1","status":"Sideways"}`)

	_, err := f.svc.Get(context.Background(), "old-2")
	assert.True(t, errors.Is(err, errors.ErrCodeCorruption))
}
