package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// ReceiptStore remembers processed messages so redeliveries are skipped.
//
// ClaimReceipt reserves a fingerprint for lease and reports false when it is
// already claimed or processed. A claim is completed once the pipeline
// succeeds and released when it fails, so the message can be tried again.
type ReceiptStore interface {
	ClaimReceipt(ctx context.Context, fingerprint string, lease time.Duration) (bool, error)
	CompleteReceipt(ctx context.Context, fingerprint, classification, quoteID string, ttl time.Duration) error
	ReleaseReceipt(ctx context.Context, fingerprint string) error
}

// DispatcherConfig tunes the event loop.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	ReceiptTTL  time.Duration
	// ClaimLease bounds how long an unfinished claim blocks redelivery,
	// e.g. after a crash mid-pipeline.
	ClaimLease  time.Duration
}

// Dispatcher is the inbound event loop. Messages are queued by Submit and
// processed by a bounded worker pool; messages for different quotes run
// concurrently while the store's per-quote lock serializes the same quote.
type Dispatcher struct {
	Classifier *Classifier
	Intake     *Intake
	Receipts   ReceiptStore

	cfg   DispatcherConfig
	queue chan InboundMessage
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a Dispatcher, filling zero config values with defaults.
func NewDispatcher(cfg DispatcherConfig, c *Classifier, in *Intake, receipts ReceiptStore) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ReceiptTTL <= 0 {
		cfg.ReceiptTTL = 72 * time.Hour
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 10 * time.Minute
	}
	return &Dispatcher{
		Classifier: c,
		Intake:     in,
		Receipts:   receipts,
		cfg:        cfg,
		queue:      make(chan InboundMessage, cfg.QueueSize),
		sleep:      sleepCtx,
	}
}

// Submit enqueues msg without blocking.
func (d *Dispatcher) Submit(msg InboundMessage) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = nowUTC()
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued messages.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run processes queued messages until ctx is cancelled, then waits for the
// in-flight ones to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Workers)
	// In-flight messages finish even after shutdown starts.
	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case msg := <-d.queue:
			g.Go(func() error {
				d.process(ctx, work, msg)
				return nil
			})
		}
	}
}

// process handles msg, retrying failures that may succeed on redelivery.
// Retries stop once ctx is cancelled.
func (d *Dispatcher) process(ctx, work context.Context, msg InboundMessage) {
	for attempt := 1; ; attempt++ {
		class, err := d.Handle(work, msg)
		if err == nil {
			return
		}
		l := log.With().Err(err).Str("from", msg.From).Str("classification", string(class)).Int("attempt", attempt).Logger()
		if !retryable(err) {
			l.Error().Msg("inbound message failed")
			return
		}
		if attempt >= d.cfg.MaxAttempts {
			l.Error().Msg("inbound message failed")
			d.Classifier.Count(class)
			return
		}
		l.Warn().Msg("inbound message failed, retrying")
		if d.sleep(ctx, d.cfg.Backoff*time.Duration(attempt)) != nil {
			d.Classifier.Count(class)
			return
		}
	}
}

// Handle classifies msg and runs its pipeline once. A message already
// processed within the receipt TTL, or claimed by a concurrent delivery, is
// skipped and reported with an empty classification.
//
// The classification is counted when the message succeeds or fails for good.
// A retryable failure is left to the caller, which counts it when it gives up.
func (d *Dispatcher) Handle(ctx context.Context, msg InboundMessage) (Classification, error) {
	fp := domain.Fingerprint(msg.From, msg.Subject, msg.Body)
	if d.Receipts != nil {
		claimed, err := d.Receipts.ClaimReceipt(ctx, fp, d.cfg.ClaimLease)
		if err != nil {
			return "", err
		}
		if !claimed {
			log.Debug().Str("from", msg.From).Msg("duplicate inbound message skipped")
			return "", nil
		}
	}

	class := d.Classifier.Classify(msg.Subject, msg.Body)
	quoteID, err := d.route(ctx, class, msg)
	if err != nil {
		if d.Receipts != nil {
			if rerr := d.Receipts.ReleaseReceipt(context.WithoutCancel(ctx), fp); rerr != nil {
				log.Warn().Err(rerr).Str("from", msg.From).Msg("release inbound receipt")
			}
		}
		if !retryable(err) {
			d.Classifier.Count(class)
		}
		return class, err
	}
	d.Classifier.Count(class)

	if d.Receipts != nil {
		if err := d.Receipts.CompleteReceipt(ctx, fp, string(class), quoteID, d.cfg.ReceiptTTL); err != nil {
			log.Warn().Err(err).Str("quote_id", quoteID).Msg("save inbound receipt")
		}
	}
	return class, nil
}

// route runs the pipeline for class and returns the affected quote id.
func (d *Dispatcher) route(ctx context.Context, class Classification, msg InboundMessage) (string, error) {
	switch class {
	case NewRequest:
		rec, err := d.Intake.HandleNewRequest(ctx, msg)
		if err != nil {
			return "", err
		}
		return rec.ID, nil
	case ProviderReply:
		res, err := d.Intake.HandleProviderReply(ctx, msg)
		return res.QuoteID, err
	}
	log.Debug().Str("from", msg.From).Msg("inbound message ignored")
	return "", nil
}

// retryable reports whether a redelivery could change the outcome.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, ErrQuoteNotFound),
		errors.Is(err, ErrNotNegotiating),
		errors.Is(err, ErrInvalidFinalize):
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
