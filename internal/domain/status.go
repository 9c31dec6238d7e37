package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a QuoteRecord.
type Status string

const (
	StatusPending     Status = "pending"
	StatusComparing   Status = "comparing"
	StatusNegotiating Status = "negotiating"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var (
	// ErrInvalidTransition is returned when a status change is not in the table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTerminalState is returned when a completed record would be modified.
	ErrTerminalState = errors.New("quote record is in a terminal state")
)

// validTransitions lists the legal status changes. failed -> pending is only
// taken when a new sourcing round reopens the record.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:     {StatusComparing: true},
	StatusComparing:   {StatusNegotiating: true, StatusFailed: true},
	StatusNegotiating: {StatusComparing: true, StatusCompleted: true},
	StatusFailed:      {StatusPending: true},
}

// IsValidTransition reports whether from -> to is legal.
func IsValidTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusComparing, StatusNegotiating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// NewQuoteRecord builds a pending record with no sourcing round yet.
func NewQuoteRecord(id, requester string, job JobDetails, now time.Time) *QuoteRecord {
	return &QuoteRecord{
		ID:                    id,
		RequesterEmail:        strings.ToLower(strings.TrimSpace(requester)),
		JobDetails:            job,
		Status:                StatusPending,
		BatchStartedAt:        now,
		ExhaustedProviders:    []string{},
		TotalDistillationCost: decimal.Zero,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Transition moves the record to the given status, validating the edge.
func (r *QuoteRecord) Transition(to Status) error {
	if r.Status == StatusCompleted {
		return ErrTerminalState
	}
	if !IsValidTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// AddCost accumulates distillation spend. Negative amounts are ignored.
func (r *QuoteRecord) AddCost(c decimal.Decimal) {
	if c.IsPositive() {
		r.TotalDistillationCost = r.TotalDistillationCost.Add(c)
	}
}

// IsExhausted reports whether email was already excluded from this record.
func (r *QuoteRecord) IsExhausted(email string) bool {
	email = normalizeEmail(email)
	for _, e := range r.ExhaustedProviders {
		if e == email {
			return true
		}
	}
	return false
}

// MarkExhausted excludes email from future selection. The set only grows.
func (r *QuoteRecord) MarkExhausted(email string) {
	email = normalizeEmail(email)
	if email == "" || r.IsExhausted(email) {
		return
	}
	r.ExhaustedProviders = append(r.ExhaustedProviders, email)
}

// AppendEntry adds a received offer from sender and returns it.
func (r *QuoteRecord) AppendEntry(id, sender string, fields JobDetails, cost decimal.Decimal, now time.Time) *QuoteEntry {
	r.Entries = append(r.Entries, QuoteEntry{
		ID:          id,
		QuoteID:     r.ID,
		Seq:         len(r.Entries) + 1,
		SenderEmail: normalizeEmail(sender),
		Fields:      fields,
		Cost:        cost,
		Status:      EntryReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return &r.Entries[len(r.Entries)-1]
}

// NegotiatingEntry returns the entry currently under negotiation, if any.
func (r *QuoteRecord) NegotiatingEntry() *QuoteEntry {
	for i := range r.Entries {
		if r.Entries[i].Status == EntryNegotiating {
			return &r.Entries[i]
		}
	}
	return nil
}

// LatestEntryFrom returns the most recent entry sent by email.
func (r *QuoteRecord) LatestEntryFrom(email string) *QuoteEntry {
	email = normalizeEmail(email)
	for i := len(r.Entries) - 1; i >= 0; i-- {
		if r.Entries[i].SenderEmail == email {
			return &r.Entries[i]
		}
	}
	return nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail lower-cases and trims an address for use as a provider key.
func NormalizeEmail(s string) string { return normalizeEmail(s) }
