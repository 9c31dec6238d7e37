package services

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-quote-engine/internal/domain"
	"github.com/tbourn/go-quote-engine/internal/repo"
)

const (
	// EfficiencyWeight scales the inverse rate in Score.
	EfficiencyWeight = 10000
	// DefaultProviderPoints is used when a sender has no provider record.
	DefaultProviderPoints = 50
)

// missingRate ranks offers without a base rate below every priced offer.
var missingRate = decimal.NewFromInt(1_000_000_000_000)

// Score is (EfficiencyWeight / rate) * points.
func Score(rate decimal.Decimal, points int) decimal.Decimal {
	if !rate.IsPositive() {
		rate = missingRate
	}
	return decimal.NewFromInt(EfficiencyWeight).
		DivRound(rate, 8).
		Mul(decimal.NewFromInt(int64(points)))
}

// Candidate is one scored entry.
type Candidate struct {
	EntryIndex int             `json:"-"`
	Sender     string          `json:"sender"`
	Rate       decimal.Decimal `json:"rate"`
	HasRate    bool            `json:"has_rate"`
	Points     int             `json:"points"`
	Score      decimal.Decimal `json:"score"`
}

// rank scores every offer on rec, sorts descending by score (stable on
// arrival order), and drops offers from exhausted providers.
func rank(ctx context.Context, store QuoteStore, rec *domain.QuoteRecord) ([]Candidate, error) {
	points := make(map[string]int)
	all := make([]Candidate, 0, len(rec.Entries))
	for i, e := range rec.Entries {
		if e.Status == domain.EntryRejected {
			continue
		}
		p, ok := points[e.SenderEmail]
		if !ok {
			prov, err := store.GetProvider(ctx, e.SenderEmail)
			switch {
			case err == nil:
				p = prov.Points
			case repo.IsNotFound(err):
				p = DefaultProviderPoints
			default:
				return nil, err
			}
			points[e.SenderEmail] = p
		}
		rate, has := e.Rate()
		all = append(all, Candidate{
			EntryIndex: i,
			Sender:     e.SenderEmail,
			Rate:       rate,
			HasRate:    has,
			Points:     p,
			Score:      Score(rate, p),
		})
	}

	sort.SliceStable(all, func(a, b int) bool { return all[a].Score.GreaterThan(all[b].Score) })

	out := all[:0]
	for _, c := range all {
		if !rec.IsExhausted(c.Sender) {
			out = append(out, c)
		}
	}
	return out, nil
}
