package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/lifecycle"
	"github.com/vinayprograms/orderclaim/notify"
	"github.com/vinayprograms/orderclaim/payments"
	"github.com/vinayprograms/orderclaim/records"
	"github.com/vinayprograms/orderclaim/telemetry"
)

// Quote actions.
const (
	ActionProposeQuote   lifecycle.Action = "propose_quote"
	ActionApprove        lifecycle.Action = "approve"
	ActionConfirmPayment lifecycle.Action = "confirm_payment"
	ActionDecline        lifecycle.Action = "decline"
)

// PaymentGatewayCaller is the identity recorded for payment confirmations.
const PaymentGatewayCaller = "payment-gateway"

// Quote is an extra charge a provider asks the customer to approve and
// pay while working on an order.
type Quote struct {
	ID            string      `json:"id"`
	OrderID       string      `json:"orderId"`
	ProviderID    string      `json:"providerId"`
	CustomerID    string      `json:"customerId"`
	Status        QuoteStatus `json:"status"`
	Description   string      `json:"description"`
	Amount        int64       `json:"amount"`
	Currency      string      `json:"currency"`
	PaymentIntent string      `json:"paymentIntent,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	DeclinedAt  *time.Time `json:"declinedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (q Quote) DocID() string { return q.ID }

func (q Quote) DocIndex() records.Index {
	return records.Index{
		Status:        string(q.Status),
		ProviderID:    q.ProviderID,
		CustomerID:    q.CustomerID,
		OrderID:       q.OrderID,
		PaymentIntent: q.PaymentIntent,
	}
}

// Validate checks the quote invariants.
func (q Quote) Validate() error {
	var problems []string
	if q.ID == "" || q.OrderID == "" || q.ProviderID == "" || q.CustomerID == "" {
		problems = append(problems, "missing id, order, provider or customer")
	}
	if !q.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", q.Status))
	}
	if q.Amount <= 0 {
		problems = append(problems, "non-positive amount")
	}
	paying := q.Status == QuoteApprovedAndPendingPayment || q.Status == QuoteAccepted
	if paying != (q.PaymentIntent != "") {
		problems = append(problems, fmt.Sprintf("payment intent inconsistent with status %s", q.Status))
	}
	if len(problems) > 0 {
		return fmt.Errorf("quote %s: %s", q.ID, strings.Join(problems, "; "))
	}
	return nil
}

// NewQuote is a provider's proposal.
type NewQuote struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

func (n NewQuote) validate() error {
	if strings.TrimSpace(n.Description) == "" {
		return errors.InvalidInput("quote needs a description")
	}
	if n.Amount <= 0 {
		return errors.InvalidInput(fmt.Sprintf("quote amount must be positive, got %d", n.Amount))
	}
	if len(n.Currency) != 3 {
		return errors.InvalidInput("quote currency must be a 3-letter code")
	}
	return nil
}

// QuoteMachine is the quote transition table.
var QuoteMachine = lifecycle.New("quote",
	[]QuoteStatus{QuoteAccepted, QuoteDeclinedByCustomer, QuoteCancelledByMechanic},
	lifecycle.Transition[QuoteStatus]{From: QuotePendingApproval, Action: ActionApprove, Roles: customerOnly, To: QuoteApprovedAndPendingPayment, Owned: true},
	lifecycle.Transition[QuoteStatus]{From: QuoteApprovedAndPendingPayment, Action: ActionConfirmPayment, Roles: []lifecycle.Role{lifecycle.RoleSystem}, To: QuoteAccepted},
	lifecycle.Transition[QuoteStatus]{From: QuotePendingApproval, Action: ActionDecline, Roles: customerOnly, To: QuoteDeclinedByCustomer, Owned: true},
	lifecycle.Transition[QuoteStatus]{From: QuotePendingApproval, Action: ActionCancel, Roles: providerOnly, To: QuoteCancelledByMechanic, Owned: true},
)

func (s *Service) newQuoteRunner() *lifecycle.Runner[Quote, QuoteStatus] {
	return &lifecycle.Runner[Quote, QuoteStatus]{
		Machine:  QuoteMachine,
		Store:    s.quotes,
		State:    func(q Quote, _ time.Time) QuoteStatus { return q.Status },
		SetState: setQuoteState,
		Owner: func(q Quote, _ QuoteStatus, role lifecycle.Role) string {
			switch role {
			case lifecycle.RoleCustomer:
				return q.CustomerID
			case lifecycle.RoleProvider:
				return q.ProviderID
			}
			return ""
		},
		Validate: func(q Quote) error { return q.Validate() },
		Now:      s.now,
		OnCommit: []func(context.Context, lifecycle.Step[Quote, QuoteStatus]){s.quoteCommitted},
	}
}

func setQuoteState(q *Quote, to QuoteStatus, now time.Time) {
	q.Status = to
	q.UpdatedAt = now
	at := now
	switch to {
	case QuoteApprovedAndPendingPayment:
		q.ApprovedAt = &at
	case QuoteAccepted:
		q.AcceptedAt = &at
	case QuoteDeclinedByCustomer:
		q.DeclinedAt = &at
	case QuoteCancelledByMechanic:
		q.CancelledAt = &at
	}
}

func (s *Service) quoteCommitted(ctx context.Context, st lifecycle.Step[Quote, QuoteStatus]) {
	q := st.Committed.Value
	s.log.Transitioned("quote", st.ID, string(st.Action), string(st.From), string(q.Status), st.Caller.ID)
	s.publish(ctx, notify.Event{
		Kind:    "quote",
		Action:  string(st.Action),
		ID:      st.ID,
		OrderID: q.OrderID,
		From:    string(st.From),
		To:      string(q.Status),
		ActorID: st.Caller.ID,
		At:      st.Now,
	}, q.CustomerID, q.ProviderID)
}

func (s *Service) runQuote(ctx context.Context, req lifecycle.Request[Quote, QuoteStatus]) (*Quote, error) {
	v, err := execute(ctx, s, s.quoteRunner, req, func(q Quote) QuoteStatus { return q.Status })
	if err != nil {
		return nil, err
	}
	return &v.Value, nil
}

// ProposeQuote records a charge proposed by the provider working on
// orderID. The order must be Accepted or InProgress and held by callerID.
func (s *Service) ProposeQuote(ctx context.Context, orderID, callerID string, in NewQuote) (quote *Quote, err error) {
	ctx, op := s.startOp(ctx, "quote.propose", orderID, callerID)
	defer func() {
		op.end(err, telemetry.OperationSpanOptions{To: string(QuotePendingApproval)})
		s.metrics.ObserveTransition("quote", string(ActionProposeQuote), err)
	}()

	if callerID == "" {
		return nil, errors.Unauthorized("provider id is required", errors.WithTaskID(orderID))
	}
	order, err := s.orderRunner.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	state := order.Value.EffectiveStatus(now)
	switch {
	case state.IsTerminal():
		return nil, errors.TerminalState(orderID, string(state), errors.WithActorID(callerID))
	case state == StatusAccepted || state == StatusInProgress:
		if order.Value.ProviderID != callerID {
			return nil, errors.NotOwner(orderID, callerID)
		}
	default:
		return nil, errors.InvalidTransition(orderID, string(state), string(ActionProposeQuote), string(lifecycle.RoleProvider),
			errors.WithActorID(callerID))
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	q := Quote{
		ID:          s.newID(),
		OrderID:     orderID,
		ProviderID:  callerID,
		CustomerID:  order.Value.CustomerID,
		Status:      QuotePendingApproval,
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		Currency:    strings.ToUpper(in.Currency),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.Validate(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeAssertion, "invariant violated", errors.WithTaskID(q.ID))
	}
	if _, err := s.quotes.Create(ctx, q); err != nil {
		return nil, err
	}

	s.log.Transitioned("quote", q.ID, string(ActionProposeQuote), "", string(q.Status), callerID)
	s.publish(ctx, notify.Event{
		Kind: "quote", Action: string(ActionProposeQuote), ID: q.ID, OrderID: orderID,
		To: string(q.Status), ActorID: callerID, At: now,
	}, q.CustomerID, q.ProviderID)
	return &q, nil
}

// ApproveQuote approves a quote on the customer's behalf and opens a
// payment intent for it. If another write wins the race after the intent
// was created, the intent is left orphaned and CONFLICT is returned.
func (s *Service) ApproveQuote(ctx context.Context, quoteID, callerID string) (*Quote, error) {
	return s.runQuote(ctx, lifecycle.Request[Quote, QuoteStatus]{
		ID:     quoteID,
		Action: ActionApprove,
		Caller: lifecycle.Caller{ID: callerID, Role: lifecycle.RoleCustomer},
		Before: func(ctx context.Context, st *lifecycle.Step[Quote, QuoteStatus]) error {
			if s.payments == nil {
				return errors.New(errors.ErrCodeUnavailable, "no payment gateway configured", errors.WithTaskID(st.ID))
			}
			q := st.Prev.Value
			ref, err := s.payments.CreateIntent(ctx, payments.Charge{
				QuoteID:    q.ID,
				OrderID:    q.OrderID,
				CustomerID: q.CustomerID,
				Amount:     q.Amount,
				Currency:   q.Currency,
			})
			if err != nil {
				return errors.Wrap(err, "creating payment intent", errors.WithTaskID(st.ID))
			}
			st.Next.PaymentIntent = string(ref)
			return nil
		},
		Conflict: func(st *lifecycle.Step[Quote, QuoteStatus]) error {
			err := errors.New(errors.ErrCodeConflict, "quote "+st.ID+" changed concurrently",
				errors.WithTaskID(st.ID), errors.WithActorID(st.Caller.ID),
				errors.WithMetadata("payment_intent", st.Next.PaymentIntent))
			s.log.SideEffectFailed("orphaned_payment_intent", st.ID, err)
			return err
		},
	})
}

// DeclineQuote is the customer refusing a quote.
func (s *Service) DeclineQuote(ctx context.Context, quoteID, callerID string) (*Quote, error) {
	return s.runQuote(ctx, lifecycle.Request[Quote, QuoteStatus]{
		ID:     quoteID,
		Action: ActionDecline,
		Caller: lifecycle.Caller{ID: callerID, Role: lifecycle.RoleCustomer},
	})
}

// CancelQuote withdraws a quote the provider proposed.
func (s *Service) CancelQuote(ctx context.Context, quoteID, callerID string) (*Quote, error) {
	return s.runQuote(ctx, lifecycle.Request[Quote, QuoteStatus]{
		ID:     quoteID,
		Action: ActionCancel,
		Caller: provider(callerID),
	})
}

// ConfirmPayment marks the quote paid by intentRef as Accepted.
// Confirming an already accepted quote returns it unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, intentRef string) (*Quote, error) {
	if intentRef == "" {
		return nil, errors.InvalidInput("payment intent is required")
	}
	found, err := s.quotes.Query(ctx, records.Filter{PaymentIntent: intentRef})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.NotFound("payment intent", intentRef)
	}
	q := found[0].Value
	if q.Status == QuoteAccepted {
		return &q, nil
	}
	return s.runQuote(ctx, lifecycle.Request[Quote, QuoteStatus]{
		ID:     q.ID,
		Action: ActionConfirmPayment,
		Caller: lifecycle.Caller{ID: PaymentGatewayCaller, Role: lifecycle.RoleSystem},
	})
}

// ListQuotes returns the quotes on orderID, oldest first.
func (s *Service) ListQuotes(ctx context.Context, orderID string) (quotes []*Quote, err error) {
	ctx, op := s.startOp(ctx, "quote.list", orderID, "")
	defer func() { op.end(err, telemetry.OperationSpanOptions{}) }()

	if _, err := s.orderRunner.Load(ctx, orderID); err != nil {
		return nil, err
	}
	vs, err := s.quotes.Query(ctx, records.Filter{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	for _, v := range vs {
		q := v.Value
		quotes = append(quotes, &q)
	}
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].CreatedAt.Before(quotes[j].CreatedAt) })
	return quotes, nil
}
