// Package payments is the boundary to the payment provider. The
// coordinator only ever creates intents; confirmation arrives later as a
// callback carrying the intent reference.
package payments

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/orderclaim/errors"
)

// IntentRef identifies a payment intent at the provider.
type IntentRef string

// Charge is what the customer is asked to pay for one quote.
type Charge struct {
	QuoteID    string
	OrderID    string
	CustomerID string
	Amount     int64 // minor units
	Currency   string
}

// Validate rejects charges the provider would refuse.
func (c Charge) Validate() error {
	if c.QuoteID == "" || c.CustomerID == "" {
		return errors.InvalidInput("charge needs a quote and a customer")
	}
	if c.Amount <= 0 {
		return errors.InvalidInput(fmt.Sprintf("charge amount must be positive, got %d", c.Amount))
	}
	if len(c.Currency) != 3 {
		return errors.InvalidInput("charge currency must be a 3-letter code")
	}
	return nil
}

// Gateway creates payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, c Charge) (IntentRef, error)
}

// Intent is a created intent as recorded by Memory.
type Intent struct {
	Ref       IntentRef
	Charge    Charge
	CreatedAt time.Time
}

// Memory is an in-process Gateway for tests and the demo daemon.
type Memory struct {
	mu      sync.Mutex
	intents map[IntentRef]Intent
	failErr error
	now     func() time.Time
}

// NewMemory creates an empty in-process gateway.
func NewMemory() *Memory {
	return &Memory{
		intents: make(map[IntentRef]Intent),
		now:     time.Now,
	}
}

// CreateIntent records a new intent and returns its reference.
func (m *Memory) CreateIntent(ctx context.Context, c Charge) (IntentRef, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, "creating payment intent")
	}
	if err := c.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		err := m.failErr
		m.failErr = nil
		return "", errors.Unavailable("payment provider", err, errors.WithTaskID(c.QuoteID))
	}

	ref := IntentRef("pi_" + uuid.NewString())
	m.intents[ref] = Intent{Ref: ref, Charge: c, CreatedAt: m.now()}
	return ref, nil
}

// FailNext makes the next CreateIntent call fail with err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Intent looks up a recorded intent.
func (m *Memory) Intent(ref IntentRef) (Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[ref]
	return in, ok
}

// Intents returns every recorded intent, oldest first.
func (m *Memory) Intents() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Intent, 0, len(m.intents))
	for _, in := range m.intents {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Ref < out[j].Ref
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
