package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-quote-engine/internal/domain"
	"github.com/tbourn/go-quote-engine/internal/observability"
	"github.com/tbourn/go-quote-engine/internal/repo"
)

// InboundMessage is a parsed email handed over by the transport listener.
type InboundMessage struct {
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
}

func (m InboundMessage) text() string {
	return strings.TrimSpace(m.Subject + "\n\n" + m.Body)
}

// freshText is text without the quoted history of the thread.
func (m InboundMessage) freshText() string {
	return strings.TrimSpace(m.Subject + "\n\n" + freshText(m.Body))
}

// ReplyAction says what a provider reply did to its record.
type ReplyAction string

const (
	ReplyDropped  ReplyAction = "dropped"
	ReplyMerged   ReplyAction = "merged"
	ReplyCompared ReplyAction = "compared"
	ReplyAccepted ReplyAction = "accepted"
	ReplyDeclined ReplyAction = "declined"
)

// ReplyResult reports the outcome of HandleProviderReply.
type ReplyResult struct {
	QuoteID string
	Action  ReplyAction
	Reason  string
	Compare *CompareResult
}

// Intake runs the new-request and provider-reply pipelines.
type Intake struct {
	Store     QuoteStore
	Distiller Distiller
	Engine    *NegotiationEngine
	Sourcing  Resourcer
	Metrics   *observability.Recorder

	// Acceptance and Decline are lower-cased phrases that, in a reply from
	// the provider under negotiation, accept or decline the counter offer.
	Acceptance []string
	Decline    []string

	NewID func() string
	Now   func() time.Time
}

func (in *Intake) now() time.Time {
	if in.Now != nil {
		return in.Now()
	}
	return nowUTC()
}

func (in *Intake) newID() string {
	if in.NewID != nil {
		return in.NewID()
	}
	return uuid.NewString()
}

// distill calls the collaborator and converts every failure into an empty
// extraction, so nothing from a failed call reaches the record.
func (in *Intake) distill(ctx context.Context, quoteID, text string, current domain.JobDetails) domain.Extraction {
	empty := domain.Extraction{Cost: decimal.Zero}
	if in.Distiller == nil {
		return empty
	}
	ext, err := in.Distiller.Distill(ctx, text, current)
	if err != nil {
		log.Warn().Err(err).Str("quote_id", quoteID).Msg("distillation failed, keeping current fields")
		return empty
	}
	if ext.Fallback {
		log.Warn().Str("quote_id", quoteID).Msg("distillation output unparseable, keeping current fields")
		return domain.Extraction{Cost: decimal.Zero, Fallback: true}
	}
	if ext.Cost.IsNegative() {
		ext.Cost = decimal.Zero
	}
	return ext
}

// HandleNewRequest creates a pending record from a customer request and
// starts the first sourcing round.
func (in *Intake) HandleNewRequest(ctx context.Context, msg InboundMessage) (*domain.QuoteRecord, error) {
	id := in.newID()
	ctx, span := otel.Tracer("services/Intake").Start(ctx, "HandleNewRequest",
		trace.WithAttributes(attribute.String("quote.id", id)))
	defer span.End()

	ext := in.distill(ctx, id, msg.text(), domain.JobDetails{})

	job := domain.WithDefaults(domain.Merge(domain.JobDetails{}, ext.Fields))
	rec := domain.NewQuoteRecord(id, msg.From, job, in.now())
	rec.AddCost(ext.Cost)
	if err := in.Store.Create(ctx, rec); err != nil {
		return nil, err
	}
	in.Metrics.AddSpend(ext.Cost)
	log.Info().Str("quote_id", rec.ID).Str("from", rec.RequesterEmail).Msg("quote request created")

	if in.Sourcing != nil {
		if _, err := in.Sourcing.EnsureProviders(ctx, rec.ID); err != nil {
			log.Warn().Err(err).Str("quote_id", rec.ID).Msg("initial sourcing failed, awaiting manual escalation")
		}
	}
	return rec, nil
}

// HandleProviderReply merges a correlated reply into its record and compares
// the record once its window has elapsed. Replies from the provider under
// negotiation that accept or decline the counter offer finalize or reject.
func (in *Intake) HandleProviderReply(ctx context.Context, msg InboundMessage) (ReplyResult, error) {
	id, ok := domain.ExtractQuoteID(msg.Subject, msg.Body)
	if !ok {
		log.Warn().Str("from", msg.From).Msg("provider reply without correlation token dropped")
		return ReplyResult{Action: ReplyDropped, Reason: "uncorrelated"}, nil
	}
	ctx, span := otel.Tracer("services/Intake").Start(ctx, "HandleProviderReply",
		trace.WithAttributes(attribute.String("quote.id", id)))
	defer span.End()

	from := domain.NormalizeEmail(msg.From)
	res := ReplyResult{QuoteID: id}

	unlock := in.Store.Lock(id)
	rec, err := in.Store.Get(ctx, id)
	if err != nil {
		unlock()
		if repo.IsNotFound(err) {
			log.Warn().Str("quote_id", id).Str("from", from).Msg("reply for unknown quote dropped")
			res.Action, res.Reason = ReplyDropped, "unknown quote"
			return res, nil
		}
		return res, err
	}

	switch rec.Status {
	case domain.StatusCompleted, domain.StatusFailed:
		unlock()
		log.Info().Str("quote_id", id).Str("from", from).Str("status", string(rec.Status)).Msg("reply for closed quote dropped")
		res.Action, res.Reason = ReplyDropped, "quote "+string(rec.Status)
		return res, nil
	case domain.StatusNegotiating:
		if neg := rec.NegotiatingEntry(); neg != nil && neg.SenderEmail == from {
			unlock()
			return in.answerCounterOffer(ctx, res, rec, neg, msg)
		}
	}

	ext := in.distill(ctx, id, msg.text(), rec.JobDetails)

	entryFields := ext.Fields
	if ext.Fallback {
		entryFields = domain.JobDetails{}
	}
	rec.JobDetails = domain.Merge(rec.JobDetails, ext.Fields)
	rec.AddCost(ext.Cost)
	rec.AppendEntry(in.newID(), from, entryFields, ext.Cost, in.now())

	var cmp CompareResult
	compared := false
	if in.Engine != nil && in.Engine.Due(rec) {
		cmp, err = in.Engine.compareLocked(ctx, rec)
		compared = true
	} else {
		err = in.Store.Save(ctx, rec)
	}
	unlock()
	if err != nil {
		return res, err
	}
	in.Metrics.AddSpend(ext.Cost)

	log.Info().Str("quote_id", id).Str("from", from).Int("entries", len(rec.Entries)).Msg("provider reply merged")
	res.Action = ReplyMerged
	if compared {
		res.Action, res.Compare = ReplyCompared, &cmp
		in.Engine.afterCompare(ctx, cmp)
	}
	return res, nil
}

func (in *Intake) answerCounterOffer(ctx context.Context, res ReplyResult, rec *domain.QuoteRecord, neg *domain.QuoteEntry, msg InboundMessage) (ReplyResult, error) {
	text := msg.freshText()
	switch {
	case containsAny(in.Decline, text):
		cmp, err := in.Engine.Reject(ctx, rec.ID, neg.SenderEmail)
		if err != nil {
			return res, err
		}
		res.Action, res.Compare = ReplyDeclined, &cmp
		return res, nil
	case containsAny(in.Acceptance, text):
		price, ok := acceptedPrice(neg)
		if !ok {
			log.Warn().Str("quote_id", rec.ID).Str("from", neg.SenderEmail).Msg("acceptance without a negotiated price dropped")
			res.Action, res.Reason = ReplyDropped, "no negotiated price"
			return res, nil
		}
		if _, err := in.Engine.Finalize(ctx, rec.ID, neg.SenderEmail, price, ""); err != nil {
			return res, err
		}
		res.Action = ReplyAccepted
		return res, nil
	}
	log.Info().Str("quote_id", rec.ID).Str("from", neg.SenderEmail).Msg("reply from negotiating provider without a decision ignored")
	res.Action, res.Reason = ReplyDropped, "no decision"
	return res, nil
}

func acceptedPrice(e *domain.QuoteEntry) (decimal.Decimal, bool) {
	if e.NegotiatedValue != nil && e.NegotiatedValue.IsPositive() {
		return *e.NegotiatedValue, true
	}
	return e.Rate()
}
