// Package observability wires tracing and the domain metrics of the quote
// engine.
//
// Recorder exposes the lifecycle counters (submissions, provider responses,
// ignored messages, distillation spend, negotiated savings, escalations) as
// Prometheus collectors and keeps exact decimal totals for the /stats
// snapshot. Counters only ever go up; all methods are safe for concurrent use.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Classification labels used by the event counter.
const (
	ClassNewRequest    = "new_request"
	ClassProviderReply = "provider_reply"
	ClassIgnored       = "ignored"
)

// Snapshot is a point-in-time copy of the recorder totals.
type Snapshot struct {
	Submissions      int64           `json:"submissions"`
	Responses        int64           `json:"responses"`
	Ignored          int64           `json:"ignored"`
	Spend            decimal.Decimal `json:"spend"`
	Savings          decimal.Decimal `json:"savings"`
	Escalations      int64           `json:"escalations"`
	Finalized        int64           `json:"finalized"`
	SourcingFailures int64           `json:"sourcing_failures"`
}

// Recorder holds the engine's domain metrics.
type Recorder struct {
	events           *prometheus.CounterVec
	spend            prometheus.Counter
	savings          prometheus.Counter
	escalations      prometheus.Counter
	finalized        prometheus.Counter
	sourcingFailures prometheus.Counter
	productAverage   *prometheus.GaugeVec

	mu   sync.Mutex
	snap Snapshot
}

// NewRecorder builds a Recorder and registers its collectors with reg.
// A nil reg leaves the collectors unregistered, which is what tests want.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quote_events_total",
			Help: "Inbound messages by classification.",
		}, []string{"classification"}),
		spend: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quote_distillation_spend_total",
			Help: "Accumulated extraction cost in USD.",
		}),
		savings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quote_savings_total",
			Help: "Accumulated negotiated savings against winning rates.",
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quote_escalations_total",
			Help: "Records that ran out of eligible providers.",
		}),
		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quote_finalized_total",
			Help: "Records that reached the completed state.",
		}),
		sourcingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quote_sourcing_failures_total",
			Help: "Sourcing rounds that errored or found no providers.",
		}),
		productAverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quote_product_average_price",
			Help: "Rolling average of finalized prices by product type.",
		}, []string{"product_type"}),
		snap: Snapshot{Spend: decimal.Zero, Savings: decimal.Zero},
	}
	if reg != nil {
		reg.MustRegister(r.events, r.spend, r.savings, r.escalations, r.finalized, r.sourcingFailures, r.productAverage)
	}
	return r
}

// Classified counts one inbound message under the given classification.
func (r *Recorder) Classified(class string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(class).Inc()
	r.mu.Lock()
	switch class {
	case ClassNewRequest:
		r.snap.Submissions++
	case ClassProviderReply:
		r.snap.Responses++
	default:
		r.snap.Ignored++
	}
	r.mu.Unlock()
}

// AddSpend adds distillation cost. Non-positive amounts are ignored.
func (r *Recorder) AddSpend(d decimal.Decimal) {
	if r == nil || !d.IsPositive() {
		return
	}
	r.spend.Add(d.InexactFloat64())
	r.mu.Lock()
	r.snap.Spend = r.snap.Spend.Add(d)
	r.mu.Unlock()
}

// AddSavings adds negotiated savings. Non-positive amounts are ignored.
func (r *Recorder) AddSavings(d decimal.Decimal) {
	if r == nil || !d.IsPositive() {
		return
	}
	r.savings.Add(d.InexactFloat64())
	r.mu.Lock()
	r.snap.Savings = r.snap.Savings.Add(d)
	r.mu.Unlock()
}

func (r *Recorder) Escalated() {
	if r == nil {
		return
	}
	r.escalations.Inc()
	r.mu.Lock()
	r.snap.Escalations++
	r.mu.Unlock()
}

func (r *Recorder) Finalized() {
	if r == nil {
		return
	}
	r.finalized.Inc()
	r.mu.Lock()
	r.snap.Finalized++
	r.mu.Unlock()
}

func (r *Recorder) SourcingFailed() {
	if r == nil {
		return
	}
	r.sourcingFailures.Inc()
	r.mu.Lock()
	r.snap.SourcingFailures++
	r.mu.Unlock()
}

// ObserveProductAverage publishes the current rolling average for a product.
func (r *Recorder) ObserveProductAverage(productType string, avg decimal.Decimal) {
	if r == nil {
		return
	}
	r.productAverage.WithLabelValues(productType).Set(avg.InexactFloat64())
}

// Snapshot returns a copy of the totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{Spend: decimal.Zero, Savings: decimal.Zero}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
