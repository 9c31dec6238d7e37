package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-quote-engine/internal/domain"
	"github.com/tbourn/go-quote-engine/internal/observability"
	"github.com/tbourn/go-quote-engine/internal/repo"
)

// Outcome of a comparison round.
type Outcome string

const (
	// OutcomeNoop: nothing to compare, or the record was not eligible.
	OutcomeNoop Outcome = "noop"
	// OutcomeNegotiating: a winner was selected and sent a counter offer.
	OutcomeNegotiating Outcome = "negotiating"
	// OutcomeEscalated: no eligible provider remained; the record failed.
	OutcomeEscalated Outcome = "escalated"
)

var (
	lowballFactor = decimal.RequireFromString("0.9")
	lowballSaving = decimal.RequireFromString("0.1")
)

// CompareResult describes what a comparison round did.
type CompareResult struct {
	QuoteID    string          `json:"quote_id"`
	Outcome    Outcome         `json:"outcome"`
	Status     domain.Status   `json:"status"`
	Winner     string          `json:"winner,omitempty"`
	Rate       decimal.Decimal `json:"rate"`
	FinalPrice decimal.Decimal `json:"final_price"`
	Saved      decimal.Decimal `json:"saved"`
	Roll       int             `json:"roll,omitempty"`
	Candidates []Candidate     `json:"candidates,omitempty"`
}

// Discounted reports whether the lowball branch fired.
func (r CompareResult) Discounted() bool { return r.Saved.IsPositive() }

// Resourcer starts a new sourcing round for a record.
type Resourcer interface {
	EnsureProviders(ctx context.Context, quoteID string) ([]domain.Provider, error)
}

// NegotiationEngine scores offers, picks a winner, runs the lowball step and
// finalizes or escalates. Every public method takes the per-quote lock.
type NegotiationEngine struct {
	Store    QuoteStore
	Notifier *Notifier
	Metrics  *observability.Recorder
	Die      Die

	// Window is how long a pending record collects offers before it is
	// compared automatically.
	Window time.Duration

	// Fallback, when set, is invoked after a round escalates.
	Fallback Resourcer

	Now func() time.Time
}

func (e *NegotiationEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return nowUTC()
}

func (e *NegotiationEngine) die() Die {
	if e.Die != nil {
		return e.Die
	}
	return RandomDie{}
}

// Due reports whether a pending record's comparison window has elapsed.
func (e *NegotiationEngine) Due(rec *domain.QuoteRecord) bool {
	return rec.Status == domain.StatusPending &&
		len(rec.Entries) > 0 &&
		!e.now().Before(rec.BatchStartedAt.Add(e.Window))
}

// Compare runs a comparison round on a pending record regardless of the
// window. It is the operator-triggered form of the automatic comparison.
func (e *NegotiationEngine) Compare(ctx context.Context, quoteID string) (CompareResult, error) {
	ctx, span := otel.Tracer("services/NegotiationEngine").Start(ctx, "Compare",
		trace.WithAttributes(attribute.String("quote.id", quoteID)))
	defer span.End()

	res, err := e.withRecord(ctx, quoteID, func(rec *domain.QuoteRecord) (CompareResult, error) {
		if rec.Status != domain.StatusPending {
			return CompareResult{}, fmt.Errorf("%w: compare from %s", domain.ErrInvalidTransition, rec.Status)
		}
		return e.compareLocked(ctx, rec)
	})
	if err != nil {
		return res, err
	}
	e.afterCompare(ctx, res)
	return res, nil
}

// CompareIfDue compares a pending record whose window has elapsed and is a
// no-op otherwise.
func (e *NegotiationEngine) CompareIfDue(ctx context.Context, quoteID string) (CompareResult, error) {
	res, err := e.withRecord(ctx, quoteID, func(rec *domain.QuoteRecord) (CompareResult, error) {
		if !e.Due(rec) {
			return CompareResult{QuoteID: rec.ID, Outcome: OutcomeNoop, Status: rec.Status}, nil
		}
		return e.compareLocked(ctx, rec)
	})
	if err != nil {
		return res, err
	}
	e.afterCompare(ctx, res)
	return res, nil
}

// Reject records that the provider in negotiation declined, excludes it from
// the record, and selects the next candidate.
func (e *NegotiationEngine) Reject(ctx context.Context, quoteID, providerEmail string) (CompareResult, error) {
	ctx, span := otel.Tracer("services/NegotiationEngine").Start(ctx, "Reject",
		trace.WithAttributes(attribute.String("quote.id", quoteID)))
	defer span.End()

	provider := domain.NormalizeEmail(providerEmail)
	res, err := e.withRecord(ctx, quoteID, func(rec *domain.QuoteRecord) (CompareResult, error) {
		if rec.Status == domain.StatusCompleted {
			return CompareResult{}, domain.ErrTerminalState
		}
		entry := rec.NegotiatingEntry()
		if rec.Status != domain.StatusNegotiating || entry == nil || entry.SenderEmail != provider {
			return CompareResult{}, ErrNotNegotiating
		}
		entry.Status = domain.EntryRejected
		entry.UpdatedAt = e.now()
		rec.MarkExhausted(provider)
		return e.compareLocked(ctx, rec)
	})
	if err != nil {
		return res, err
	}
	e.afterCompare(ctx, res)
	return res, nil
}

// Finalize completes a record at finalPrice with the accepted provider. The
// record must be in negotiation; afterwards it can no longer be modified.
func (e *NegotiationEngine) Finalize(ctx context.Context, quoteID, providerEmail string, finalPrice decimal.Decimal, productType string) (*domain.QuoteRecord, error) {
	ctx, span := otel.Tracer("services/NegotiationEngine").Start(ctx, "Finalize",
		trace.WithAttributes(attribute.String("quote.id", quoteID)))
	defer span.End()

	provider := domain.NormalizeEmail(providerEmail)
	if !finalPrice.IsPositive() || provider == "" {
		return nil, ErrInvalidFinalize
	}

	unlock := e.Store.Lock(quoteID)
	rec, err := e.Store.Get(ctx, quoteID)
	if err != nil {
		unlock()
		if repo.IsNotFound(err) {
			return nil, ErrQuoteNotFound
		}
		return nil, err
	}
	if rec.Status == domain.StatusCompleted {
		unlock()
		return nil, domain.ErrTerminalState
	}
	if rec.Status != domain.StatusNegotiating {
		unlock()
		return nil, fmt.Errorf("%w: finalize from %s", domain.ErrInvalidTransition, rec.Status)
	}
	accepted := rec.LatestEntryFrom(provider)
	if accepted == nil {
		unlock()
		return nil, ErrInvalidFinalize
	}

	now := e.now()
	if cur := rec.NegotiatingEntry(); cur != nil && cur != accepted {
		cur.Status = domain.EntryRejected
		cur.UpdatedAt = now
	}
	price := finalPrice
	accepted.Status = domain.EntryAccepted
	accepted.NegotiatedValue = &price
	accepted.UpdatedAt = now
	if err := rec.Transition(domain.StatusCompleted); err != nil {
		unlock()
		return nil, err
	}
	if err := e.Store.Save(ctx, rec); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	e.Metrics.Finalized()
	if rate, ok := accepted.Rate(); ok && rate.GreaterThan(finalPrice) {
		e.Metrics.AddSavings(rate.Sub(finalPrice))
	}

	if productType == "" {
		productType = rec.JobDetails.ProductType()
	}
	if st, err := e.Store.RecordProductPrice(ctx, productType, finalPrice); err != nil {
		log.Error().Err(err).Str("quote_id", rec.ID).Str("product_type", productType).Msg("record product price")
	} else {
		e.Metrics.ObserveProductAverage(st.ProductType, st.Average)
	}

	log.Info().Str("quote_id", rec.ID).Str("provider", provider).Str("final_price", finalPrice.String()).Msg("quote finalized")
	e.Notifier.Finalized(ctx, rec, provider, finalPrice)
	return rec, nil
}

// withRecord loads quoteID under its lock and runs fn.
func (e *NegotiationEngine) withRecord(ctx context.Context, quoteID string, fn func(*domain.QuoteRecord) (CompareResult, error)) (CompareResult, error) {
	unlock := e.Store.Lock(quoteID)
	defer unlock()

	rec, err := e.Store.Get(ctx, quoteID)
	if err != nil {
		if repo.IsNotFound(err) {
			return CompareResult{}, ErrQuoteNotFound
		}
		return CompareResult{}, err
	}
	return fn(rec)
}

// compareLocked runs one comparison round on rec and persists it. The caller
// holds the record's lock. Any in-memory changes already made to rec are
// saved together with the round.
func (e *NegotiationEngine) compareLocked(ctx context.Context, rec *domain.QuoteRecord) (CompareResult, error) {
	res := CompareResult{QuoteID: rec.ID, Outcome: OutcomeNoop, Status: rec.Status}
	if len(rec.Entries) == 0 {
		return res, nil
	}

	if err := rec.Transition(domain.StatusComparing); err != nil {
		return res, err
	}
	candidates, err := rank(ctx, e.Store, rec)
	if err != nil {
		return res, err
	}
	res.Candidates = candidates

	if len(candidates) == 0 {
		if err := rec.Transition(domain.StatusFailed); err != nil {
			return res, err
		}
		if err := e.Store.Save(ctx, rec); err != nil {
			return res, err
		}
		res.Outcome, res.Status = OutcomeEscalated, rec.Status
		e.Metrics.Escalated()
		log.Warn().Str("quote_id", rec.ID).Int("batch", rec.CurrentBatch).Msg("no eligible providers, escalating")
		e.Notifier.Escalate(ctx, rec)
		return res, nil
	}

	win := candidates[0]
	if err := rec.Transition(domain.StatusNegotiating); err != nil {
		return res, err
	}

	res.Roll = e.die().Roll()
	res.Rate = win.Rate
	res.FinalPrice = win.Rate
	res.Saved = decimal.Zero
	if win.HasRate && res.Roll == 1 {
		res.FinalPrice = win.Rate.Mul(lowballFactor)
		res.Saved = win.Rate.Mul(lowballSaving)
	}

	entry := &rec.Entries[win.EntryIndex]
	entry.Status = domain.EntryNegotiating
	entry.UpdatedAt = e.now()
	if win.HasRate {
		price := res.FinalPrice
		entry.NegotiatedValue = &price
	}
	if err := e.Store.Save(ctx, rec); err != nil {
		return res, err
	}

	res.Outcome, res.Status, res.Winner = OutcomeNegotiating, rec.Status, win.Sender
	log.Info().
		Str("quote_id", rec.ID).
		Str("winner", win.Sender).
		Str("score", win.Score.StringFixed(2)).
		Int("roll", res.Roll).
		Str("final_price", res.FinalPrice.String()).
		Msg("winner selected")
	e.Notifier.CounterOffer(ctx, rec, win.Sender, res.FinalPrice)
	return res, nil
}

// afterCompare starts a new sourcing round after an escalation. It must run
// without the record's lock held.
func (e *NegotiationEngine) afterCompare(ctx context.Context, res CompareResult) {
	if res.Outcome != OutcomeEscalated || e.Fallback == nil {
		return
	}
	providers, err := e.Fallback.EnsureProviders(ctx, res.QuoteID)
	switch {
	case errors.Is(err, ErrSourcingLimit):
		log.Warn().Str("quote_id", res.QuoteID).Msg("sourcing limit reached, record stays failed")
	case err != nil:
		log.Warn().Err(err).Str("quote_id", res.QuoteID).Msg("fallback sourcing failed")
	default:
		log.Info().Str("quote_id", res.QuoteID).Int("providers", len(providers)).Msg("fallback sourcing round started")
	}
}
