package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SweepStore lists records whose comparison window has elapsed and purges
// stale inbound receipts.
type SweepStore interface {
	ListDuePending(ctx context.Context, cutoff time.Time) ([]string, error)
	PurgeReceipts(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper compares pending records whose last reply arrived before their
// window closed, so they do not wait for another reply.
type Sweeper struct {
	Store    SweepStore
	Engine   *NegotiationEngine
	Interval time.Duration
}

// SweepOnce runs one pass and returns how many records were compared.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.Engine.now()
	ids, err := s.Store.ListDuePending(ctx, now.Add(-s.Engine.Window))
	if err != nil {
		return 0, err
	}
	compared := 0
	for _, id := range ids {
		res, err := s.Engine.CompareIfDue(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("quote_id", id).Msg("sweep compare failed")
			continue
		}
		if res.Outcome != OutcomeNoop {
			compared++
		}
	}
	if n, err := s.Store.PurgeReceipts(ctx, now); err != nil {
		log.Warn().Err(err).Msg("purge inbound receipts")
	} else if n > 0 {
		log.Debug().Int64("purged", n).Msg("expired inbound receipts removed")
	}
	return compared, nil
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("sweep failed")
			} else if n > 0 {
				log.Info().Int("compared", n).Msg("sweep compared records")
			}
		}
	}
}
