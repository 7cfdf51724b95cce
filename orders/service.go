package orders

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
	"github.com/vinayprograms/orderclaim/logging"
	"github.com/vinayprograms/orderclaim/notify"
	"github.com/vinayprograms/orderclaim/payments"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/telemetry"
)

// Collection names.
const (
	OrdersCollection    = "orders"
	QuotesCollection    = "quotes"
	ProvidersCollection = "providers"
)

// Publisher hands committed events to the notification layer.
// *notify.Dispatcher implements it.
type Publisher interface {
	Dispatch(ctx context.Context, ev notify.Event, userIDs ...string)
}

type nopPublisher struct{}

func (nopPublisher) Dispatch(context.Context, notify.Event, ...string) {}

// Service is the coordinator's façade. Every operation takes the caller's
// id explicitly and performs at most one conditional write per record.
type Service struct {
	orders    *records.Collection[Task]
	quotes    *records.Collection[Quote]
	providers *records.Collection[Provider]

	orderRunner *lifecycle.Runner[Task, Status]
	quoteRunner *lifecycle.Runner[Quote, QuoteStatus]

	now           func() time.Time
	newID         func() string
	publisher     Publisher
	payments      payments.Gateway
	log           *logging.Logger
	tracer        *telemetry.Tracer
	metrics       *telemetry.Metrics
	maxClaims     int
	claimDuration time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for claims and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator sets the generator for order and quote ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithNotifier sets where committed events are sent.
func WithNotifier(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithPayments sets the gateway used when a customer approves a quote.
func WithPayments(g payments.Gateway) Option {
	return func(s *Service) { s.payments = g }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l.WithComponent("orders") }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMaxClaims overrides MaxClaimsPerProvider.
func WithMaxClaims(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxClaims = n
		}
	}
}

// WithClaimDuration overrides ClaimDuration.
func WithClaimDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.claimDuration = d
		}
	}
}

// NewService builds the façade over backend.
func NewService(backend records.Backend, opts ...Option) *Service {
	s := &Service{
		orders:        records.NewCollection[Task](backend, OrdersCollection),
		quotes:        records.NewCollection[Quote](backend, QuotesCollection),
		providers:     records.NewCollection[Provider](backend, ProvidersCollection),
		now:           time.Now,
		newID:         uuid.NewString,
		publisher:     nopPublisher{},
		log:           logging.Nop(),
		tracer:        telemetry.GetTracer(),
		maxClaims:     MaxClaimsPerProvider,
		claimDuration: ClaimDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.orderRunner = s.newOrderRunner()
	s.quoteRunner = s.newQuoteRunner()
	return s
}

// operation is one traced, timed façade call.
type operation struct {
	s     *Service
	name  string
	span  trace.Span
	start time.Time
}

func (s *Service) startOp(ctx context.Context, name, id, actorID string) (context.Context, *operation) {
	ctx, span := s.tracer.StartOperationSpan(ctx, name, id, actorID)
	return ctx, &operation{s: s, name: name, span: span, start: time.Now()}
}

func (o *operation) end(err error, opts telemetry.OperationSpanOptions) {
	o.s.tracer.EndOperationSpan(o.span, opts, err)
	o.s.metrics.ObserveDuration(o.name, o.start)
	if err != nil && errors.IsTransient(err) {
		backend := errors.GetMetadata(err)["backend"]
		o.s.log.StoreFailure(backend, o.name, err)
	}
}

func (s *Service) publish(ctx context.Context, ev notify.Event, userIDs ...string) {
	ev.TraceID = telemetry.TraceID(ctx)
	s.publisher.Dispatch(ctx, ev, userIDs...)
}

// Submit creates a Pending order for customerID.
func (s *Service) Submit(ctx context.Context, customerID string, in NewOrder) (task *Task, err error) {
	ctx, op := s.startOp(ctx, "order.submit", "", customerID)
	defer func() { op.end(err, telemetry.OperationSpanOptions{To: string(StatusPending)}) }()

	if strings.TrimSpace(customerID) == "" {
		return nil, errors.Unauthorized("customer id is required")
	}
	total, err := in.total()
	if err != nil {
		return nil, err
	}

	id := s.newID()
	if in.IdempotencyKey != "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(customerID+"/"+in.IdempotencyKey)).String()
	}

	now := s.now()
	t := Task{
		ID:         id,
		CustomerID: customerID,
		Status:     StatusPending,
		Items:      append([]Item(nil), in.Items...),
		TotalPrice: total,
		Location:   in.Location,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := t.Validate(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeAssertion, "invariant violated", errors.WithTaskID(id))
	}

	if _, err := s.orders.Create(ctx, t); err != nil {
		if !stderrors.Is(err, records.ErrExists) {
			return nil, err
		}
		existing, getErr := s.orderRunner.Load(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if in.IdempotencyKey != "" && existing.Value.CustomerID == customerID {
			return existing.Value.View(now), nil
		}
		return nil, errors.New(errors.ErrCodeAlreadyExists, "order "+id+" already exists", errors.WithTaskID(id))
	}

	s.log.Transitioned("order", id, "submit", "", string(StatusPending), customerID)
	s.publish(ctx, notify.Event{
		Kind: "order", Action: "submit", ID: id, To: string(StatusPending), ActorID: customerID, At: now,
	}, customerID)
	return t.View(now), nil
}

// Get returns the order as callers should see it now.
func (s *Service) Get(ctx context.Context, taskID string) (task *Task, err error) {
	ctx, op := s.startOp(ctx, "order.get", taskID, "")
	defer func() { op.end(err, telemetry.OperationSpanOptions{}) }()

	v, err := s.orderRunner.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return v.Value.View(s.now()), nil
}

// ListCustomerOrders returns the customer's orders, newest first.
func (s *Service) ListCustomerOrders(ctx context.Context, customerID string) (tasks []*Task, err error) {
	ctx, op := s.startOp(ctx, "order.list_customer", "", customerID)
	defer func() { op.end(err, telemetry.OperationSpanOptions{}) }()

	if customerID == "" {
		return nil, errors.Unauthorized("customer id is required")
	}
	vs, err := s.orders.Query(ctx, records.Filter{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, v := range vs {
		tasks = append(tasks, v.Value.View(now))
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}
