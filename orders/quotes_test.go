package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/payments"
)

func sampleQuote() NewQuote {
	return NewQuote{Description: "replace rotor", Amount: 12000, Currency: "gbp"}
}

// acceptedOrder returns an order accepted by p1.
func (f *fixture) acceptedOrder(t *testing.T) *Task {
	t.Helper()
	ctx := context.Background()
	task := f.submit(t)
	_, err := f.svc.Claim(ctx, task.ID, "p1")
	require.NoError(t, err)
	task, err = f.svc.Accept(ctx, task.ID, "p1")
	require.NoError(t, err)
	return task
}

func TestQuote_PaymentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.acceptedOrder(t)

	q, err := f.svc.ProposeQuote(ctx, order.ID, "p1", sampleQuote())
	require.NoError(t, err)
	assert.Equal(t, QuotePendingApproval, q.Status)
	assert.Equal(t, "c1", q.CustomerID)
	assert.Equal(t, "GBP", q.Currency)

	approved, err := f.svc.ApproveQuote(ctx, q.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, QuoteApprovedAndPendingPayment, approved.Status)
	require.NotEmpty(t, approved.PaymentIntent)

	intent, ok := f.payments.Intent(payments.IntentRef(approved.PaymentIntent))
	require.True(t, ok)
	assert.Equal(t, int64(12000), intent.Charge.Amount)
	assert.Equal(t, q.ID, intent.Charge.QuoteID)

	paid, err := f.svc.ConfirmPayment(ctx, approved.PaymentIntent)
	require.NoError(t, err)
	assert.Equal(t, QuoteAccepted, paid.Status)
	assert.NotNil(t, paid.AcceptedAt)

	again, err := f.svc.ConfirmPayment(ctx, approved.PaymentIntent)
	require.NoError(t, err)
	assert.Equal(t, QuoteAccepted, again.Status)

	assert.Len(t, f.payments.Intents(), 1)

	quotes, err := f.svc.ListQuotes(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, QuoteAccepted, quotes[0].Status)
}

func TestProposeQuote_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.submit(t)
	_, err := f.svc.ProposeQuote(ctx, pending.ID, "p1", sampleQuote())
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))

	order := f.acceptedOrder(t)
	_, err = f.svc.ProposeQuote(ctx, order.ID, "p2", sampleQuote())
	assert.True(t, errors.Is(err, errors.ErrCodeNotOwner))

	_, err = f.svc.ProposeQuote(ctx, order.ID, "p1", NewQuote{Description: "x", Amount: 0, Currency: "GBP"})
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	_, err = f.svc.ProposeQuote(ctx, "missing", "p1", sampleQuote())
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = f.svc.Start(ctx, order.ID, "p1")
	require.NoError(t, err)
	_, err = f.svc.ProposeQuote(ctx, order.ID, "p1", sampleQuote())
	assert.NoError(t, err, "in-progress orders take quotes")

	_, err = f.svc.Complete(ctx, order.ID, "p1")
	require.NoError(t, err)
	_, err = f.svc.ProposeQuote(ctx, order.ID, "p1", sampleQuote())
	assert.True(t, errors.Is(err, errors.ErrCodeTerminalState))
}

func TestApproveQuote_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.acceptedOrder(t)
	q, err := f.svc.ProposeQuote(ctx, order.ID, "p1", sampleQuote())
	require.NoError(t, err)

	_, err = f.svc.ApproveQuote(ctx, q.ID, "c2")
	assert.True(t, errors.Is(err, errors.ErrCodeNotOwner))

	f.payments.FailNext(fmt.Errorf("gateway timeout"))
	_, err = f.svc.ApproveQuote(ctx, q.ID, "c1")
	assert.True(t, errors.IsRetryable(err))

	still, err := f.svc.ListQuotes(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, QuotePendingApproval, still[0].Status)
	assert.Empty(t, still[0].PaymentIntent)

	_, err = f.svc.ApproveQuote(ctx, q.ID, "c1")
	require.NoError(t, err)

	_, err = f.svc.DeclineQuote(ctx, q.ID, "c1")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTransition))
}

func TestApproveQuote_NoGateway(t *testing.T) {
	f := newFixture(t, WithPayments(nil))
	ctx := context.Background()
	order := f.acceptedOrder(t)
	q, err := f.svc.ProposeQuote(ctx, order.ID, "p1", sampleQuote())
	require.NoError(t, err)

	_, err = f.svc.ApproveQuote(ctx, q.ID, "c1")
	assert.True(t, errors.Is(err, errors.ErrCodeUnavailable))
}

func TestDeclineAndCancelQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.acceptedOrder(t)

	q1, err := f.svc.ProposeQuote(ctx, order.ID, "p1", sampleQuote())
	require.NoError(t, err)
	declined, err := f.svc.DeclineQuote(ctx, q1.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, QuoteDeclinedByCustomer, declined.Status)
	assert.NotNil(t, declined.DeclinedAt)

	_, err = f.svc.ApproveQuote(ctx, q1.ID, "c1")
	assert.True(t, errors.Is(err, errors.ErrCodeTerminalState))

	q2, err := f.svc.ProposeQuote(ctx, order.ID, "p1", sampleQuote())
	require.NoError(t, err)
	_, err = f.svc.CancelQuote(ctx, q2.ID, "p2")
	assert.True(t, errors.Is(err, errors.ErrCodeNotOwner))
	cancelled, err := f.svc.CancelQuote(ctx, q2.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, QuoteCancelledByMechanic, cancelled.Status)
}

func TestConfirmPayment_UnknownIntent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmPayment(context.Background(), "pi_nope")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	_, err = f.svc.ConfirmPayment(context.Background(), "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestLegacyQuoteStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.acceptedOrder(t)

	storeRaw(t, f.backend, QuotesCollection, "q-old", "Pending", fmt.Sprintf(
		`{"id":"q-old","orderId":%q,"providerId":"p1","customerId":"c1","status":"Pending","description":"d","amount":500,"currency":"GBP"}`,
		order.ID))

	quotes, err := f.svc.ListQuotes(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, quotes, "raw insert carries no order index")

	declined, err := f.svc.DeclineQuote(ctx, "q-old", "c1")
	require.NoError(t, err)
	assert.Equal(t, QuoteDeclinedByCustomer, declined.Status)

	quotes, err = f.svc.ListQuotes(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
}
