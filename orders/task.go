package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/orderclaim/errors"
	"github.com/vinayprograms/orderclaim/records"
)

// Default claim policy.
const (
	MaxClaimsPerProvider = 2
	ClaimDuration        = 3600 * time.Second
)

// Item is one line of an order. Prices are in minor units.
type Item struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// Location is where the work happens.
type Location struct {
	Address string  `json:"address"`
	City    string  `json:"city,omitempty"`
	Notes   string  `json:"notes,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// Task is a repair order.
type Task struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	ProviderID string `json:"providerId,omitempty"`
	Status     Status `json:"status"`

	ClaimedAt      *time.Time `json:"claimedAt,omitempty"`
	ClaimExpiresAt *time.Time `json:"claimExpiresAt,omitempty"`
	AcceptedAt     *time.Time `json:"acceptedAt,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`

	// CancelledBy keeps the canceller, which for an owner cancel is the
	// provider that no longer appears in ProviderID.
	CancelledBy  string `json:"cancelledBy,omitempty"`
	CancelReason string `json:"cancelReason,omitempty"`

	Items      []Item   `json:"items"`
	TotalPrice int64    `json:"totalPrice"`
	Location   Location `json:"locationDetails"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (t Task) DocID() string { return t.ID }

func (t Task) DocIndex() records.Index {
	return records.Index{
		Status:     string(t.Status),
		ProviderID: t.ProviderID,
		CustomerID: t.CustomerID,
	}
}

// IsExpired reports whether t holds a claim whose deadline has passed.
func (t Task) IsExpired(now time.Time) bool {
	return t.Status == StatusClaimed && t.ClaimExpiresAt != nil && t.ClaimExpiresAt.Before(now)
}

// EffectiveStatus is the status callers see at now: a lapsed claim reads
// as Pending.
func (t Task) EffectiveStatus(now time.Time) Status {
	if t.IsExpired(now) {
		return StatusPending
	}
	return t.Status
}

// View returns t as callers should see it at now. A lapsed claim is
// reported as a Pending task with no provider.
func (t Task) View(now time.Time) *Task {
	v := t.clone()
	if t.IsExpired(now) {
		v.Status = StatusPending
		v.ProviderID = ""
		v.ClaimedAt = nil
		v.ClaimExpiresAt = nil
	}
	return v
}

func (t Task) clone() *Task {
	c := t
	c.Items = append([]Item(nil), t.Items...)
	return &c
}

func holdsProvider(s Status) bool {
	switch s {
	case StatusClaimed, StatusAccepted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Validate checks the record invariants that must hold after every write.
func (t Task) Validate() error {
	var problems []string
	if t.ID == "" {
		problems = append(problems, "missing id")
	}
	if t.CustomerID == "" {
		problems = append(problems, "missing customer")
	}
	if !t.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", t.Status))
	}
	if holdsProvider(t.Status) != (t.ProviderID != "") {
		problems = append(problems, fmt.Sprintf("provider %q inconsistent with status %s", t.ProviderID, t.Status))
	}
	claimed := t.Status == StatusClaimed
	if claimed != (t.ClaimExpiresAt != nil) || claimed != (t.ClaimedAt != nil) {
		problems = append(problems, fmt.Sprintf("claim fields inconsistent with status %s", t.Status))
	}
	if t.Status == StatusCompleted && t.CompletedAt == nil {
		problems = append(problems, "completed without completedAt")
	}
	if t.Status == StatusCancelled && t.CancelledAt == nil {
		problems = append(problems, "cancelled without cancelledAt")
	}
	if len(problems) > 0 {
		return fmt.Errorf("task %s: %s", t.ID, strings.Join(problems, "; "))
	}
	return nil
}

// NewOrder is a customer's submission.
type NewOrder struct {
	// IdempotencyKey makes resubmission safe: the same customer and key
	// always yield the same order.
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
	Items          []Item   `json:"items"`
	Location       Location `json:"locationDetails"`
}

// total validates the submission and returns its price.
func (o NewOrder) total() (int64, error) {
	if len(o.Items) == 0 {
		return 0, errors.InvalidInput("order needs at least one item")
	}
	if strings.TrimSpace(o.Location.Address) == "" {
		return 0, errors.InvalidInput("order needs an address")
	}
	var total int64
	for i, it := range o.Items {
		if strings.TrimSpace(it.Name) == "" {
			return 0, errors.InvalidInput(fmt.Sprintf("item %d has no name", i))
		}
		if it.Quantity <= 0 {
			return 0, errors.InvalidInput(fmt.Sprintf("item %q needs a positive quantity", it.Name))
		}
		if it.UnitPrice < 0 {
			return 0, errors.InvalidInput(fmt.Sprintf("item %q has a negative price", it.Name))
		}
		total += int64(it.Quantity) * it.UnitPrice
	}
	return total, nil
}

// ClaimView is one of a provider's claims with its live expiry.
type ClaimView struct {
	Task             *Task         `json:"task"`
	Expired          bool          `json:"expired"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int64         `json:"remainingSeconds"`
}

func newClaimView(t Task, now time.Time) ClaimView {
	v := ClaimView{Task: t.clone(), Expired: t.IsExpired(now)}
	if !v.Expired && t.ClaimExpiresAt != nil {
		v.Remaining = t.ClaimExpiresAt.Sub(now)
		v.RemainingSeconds = int64(v.Remaining / time.Second)
	}
	return v
}
