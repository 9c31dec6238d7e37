// Package services implements the quote lifecycle: classifying inbound
// messages, merging distilled fields into quote records, scoring and
// negotiating with providers, and re-sourcing when the pool runs dry.
//
// This file centralizes the service-level error values. Translation into
// HTTP status codes happens in the handler layer.
package services

import "errors"

var (
	// ErrQuoteNotFound indicates that no record exists for the given id.
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrQueueFull is returned by Dispatcher.Submit when the inbound queue
	// has no free slot.
	ErrQueueFull = errors.New("inbound queue is full")

	// ErrSourcingLimit is returned when a failed record has already used the
	// configured number of sourcing rounds.
	ErrSourcingLimit = errors.New("sourcing round limit reached")

	// ErrSourcingUnavailable wraps a failure of the sourcing collaborator.
	ErrSourcingUnavailable = errors.New("sourcing collaborator unavailable")

	// ErrInvalidFinalize is returned when a finalize request names a provider
	// without an offer on the record or a non-positive price.
	ErrInvalidFinalize = errors.New("invalid finalize request")

	// ErrNotNegotiating is returned when an operation needs a provider that
	// is currently in negotiation and the record has none (or another one).
	ErrNotNegotiating = errors.New("provider is not in negotiation")
)
