package orders

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/orderclaim/errors"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusClaimed    Status = "Claimed"
	StatusAccepted   Status = "Accepted"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

// QuoteStatus is the lifecycle state of a quote.
type QuoteStatus string

const (
	QuotePendingApproval           QuoteStatus = "PendingApproval"
	QuoteApprovedAndPendingPayment QuoteStatus = "ApprovedAndPendingPayment"
	QuoteAccepted                  QuoteStatus = "Accepted"
	QuoteDeclinedByCustomer        QuoteStatus = "DeclinedByCustomer"
	QuoteCancelledByMechanic       QuoteStatus = "CancelledByMechanic"
)

// vocabulary is a closed set of canonical values plus the older
// spellings still found in stored data.
type vocabulary[S ~string] struct {
	kind      string
	canonical []S
	legacy    map[string]S
}

var orderStatuses = vocabulary[Status]{
	kind: "order status",
	canonical: []Status{
		StatusPending, StatusClaimed, StatusAccepted,
		StatusInProgress, StatusCompleted, StatusCancelled,
	},
	legacy: map[string]Status{
		"In Progress": StatusInProgress,
		"in_progress": StatusInProgress,
		"in-progress": StatusInProgress,
		"Waiting":     StatusPending,
		"Open":        StatusPending,
		"New":         StatusPending,
		"Canceled":    StatusCancelled,
		"Done":        StatusCompleted,
	},
}

var quoteStatuses = vocabulary[QuoteStatus]{
	kind: "quote status",
	canonical: []QuoteStatus{
		QuotePendingApproval, QuoteApprovedAndPendingPayment, QuoteAccepted,
		QuoteDeclinedByCustomer, QuoteCancelledByMechanic,
	},
	legacy: map[string]QuoteStatus{
		"Pending":             QuotePendingApproval,
		"CancelledByProvider": QuoteCancelledByMechanic,
	},
}

func (v vocabulary[S]) parse(raw string) (S, error) {
	s := strings.TrimSpace(raw)
	for _, c := range v.canonical {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	for old, c := range v.legacy {
		if strings.EqualFold(s, old) {
			return c, nil
		}
	}
	var zero S
	return zero, errors.InvalidInput(fmt.Sprintf("unknown %s %q", v.kind, raw))
}

// spellings lists every stored form of s, canonical first, so index
// queries also find records written before the vocabulary was fixed.
func (v vocabulary[S]) spellings(ss ...S) []string {
	var out []string
	for _, s := range ss {
		out = append(out, string(s))
		for old, c := range v.legacy {
			if c == s {
				out = append(out, old)
			}
		}
	}
	return out
}

func (v vocabulary[S]) valid(s S) bool {
	for _, c := range v.canonical {
		if c == s {
			return true
		}
	}
	return false
}

// ParseStatus accepts canonical names in any case and the legacy
// spellings ("In Progress", "Waiting", "Canceled", ...).
func ParseStatus(s string) (Status, error) {
	return orderStatuses.parse(s)
}

// Valid reports whether s is a canonical status.
func (s Status) Valid() bool { return orderStatuses.valid(s) }

// IsTerminal reports whether s accepts no further writes.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

// UnmarshalJSON normalizes legacy spellings on read.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseQuoteStatus is ParseStatus for quotes.
func ParseQuoteStatus(s string) (QuoteStatus, error) {
	return quoteStatuses.parse(s)
}

func (s QuoteStatus) Valid() bool { return quoteStatuses.valid(s) }

func (s QuoteStatus) IsTerminal() bool {
	return s == QuoteAccepted || s == QuoteDeclinedByCustomer || s == QuoteCancelledByMechanic
}

func (s QuoteStatus) String() string { return string(s) }

func (s *QuoteStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseQuoteStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
