package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-quote-engine/internal/domain"
	"github.com/tbourn/go-quote-engine/internal/observability"
	"github.com/tbourn/go-quote-engine/internal/repo"
)

// SourcingCoordinator runs sourcing rounds: it asks the sourcing
// collaborator for providers, registers new ones, and sends each a request
// for quote. A failed record is reopened as a new round.
type SourcingCoordinator struct {
	Store    QuoteStore
	Sourcer  Sourcer
	Notifier *Notifier
	Metrics  *observability.Recorder

	// MaxBatches bounds the number of rounds per record.
	MaxBatches int
	// FanOut limits concurrent RFQ deliveries.
	FanOut int

	Now func() time.Time
}

func (c *SourcingCoordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return nowUTC()
}

// EnsureProviders sources providers for quoteID and dispatches RFQs. Each
// round that finds providers increments the batch counter, and no round starts
// once MaxBatches is reached. Sourcing failures and empty results leave the
// record as it was.
func (c *SourcingCoordinator) EnsureProviders(ctx context.Context, quoteID string) ([]domain.Provider, error) {
	ctx, span := otel.Tracer("services/SourcingCoordinator").Start(ctx, "EnsureProviders",
		trace.WithAttributes(attribute.String("quote.id", quoteID)))
	defer span.End()

	unlock := c.Store.Lock(quoteID)
	rec, providers, err := c.sourceLocked(ctx, quoteID)
	unlock()
	if err != nil || len(providers) == 0 {
		return providers, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if c.FanOut > 0 {
		g.SetLimit(c.FanOut)
	}
	for _, p := range providers {
		p := p
		g.Go(func() error {
			c.Notifier.RequestForQuote(gctx, rec, p)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("providers", len(providers)))
	return providers, nil
}

func (c *SourcingCoordinator) sourceLocked(ctx context.Context, quoteID string) (*domain.QuoteRecord, []domain.Provider, error) {
	rec, err := c.Store.Get(ctx, quoteID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil, ErrQuoteNotFound
		}
		return nil, nil, err
	}
	if rec.Status == domain.StatusCompleted {
		return nil, nil, domain.ErrTerminalState
	}

	reopen := rec.Status == domain.StatusFailed
	if rec.CurrentBatch > 0 && c.MaxBatches > 0 && rec.CurrentBatch >= c.MaxBatches {
		return nil, nil, ErrSourcingLimit
	}

	if c.Sourcer == nil {
		c.Metrics.SourcingFailed()
		return nil, nil, fmt.Errorf("%w: no sourcer configured", ErrSourcingUnavailable)
	}
	found, err := c.Sourcer.SourceProviders(ctx, rec.JobDetails)
	if err != nil {
		c.Metrics.SourcingFailed()
		log.Warn().Err(err).Str("quote_id", rec.ID).Msg("sourcing collaborator failed")
		return nil, nil, fmt.Errorf("%w: %v", ErrSourcingUnavailable, err)
	}

	seen := make(map[string]bool, len(found))
	fresh := make([]domain.Provider, 0, len(found))
	for _, p := range found {
		p.Email = domain.NormalizeEmail(p.Email)
		if p.Email == "" || seen[p.Email] || rec.IsExhausted(p.Email) {
			continue
		}
		seen[p.Email] = true
		if p.Points == 0 {
			p.Points = DefaultProviderPoints
		}
		created, err := c.Store.CreateProviderIfAbsent(ctx, &p)
		if err != nil {
			return nil, nil, err
		}
		if created {
			log.Info().Str("quote_id", rec.ID).Str("provider", p.Email).Msg("provider registered")
		}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		c.Metrics.SourcingFailed()
		log.Warn().Str("quote_id", rec.ID).Msg("sourcing returned no eligible providers")
		return rec, nil, nil
	}

	if reopen {
		if err := rec.Transition(domain.StatusPending); err != nil {
			return nil, nil, err
		}
	}
	// A later round on a pending record gives the new providers a full window.
	if rec.CurrentBatch > 0 && rec.Status == domain.StatusPending {
		rec.BatchStartedAt = c.now()
	}
	rec.CurrentBatch++
	if err := c.Store.Save(ctx, rec); err != nil {
		return nil, nil, err
	}
	log.Info().Str("quote_id", rec.ID).Int("batch", rec.CurrentBatch).Int("providers", len(fresh)).Msg("sourcing round")
	return rec, fresh, nil
}
