package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// Notifier renders the fixed outbound messages and hands them to a Mailer.
// Delivery is best effort: failures are logged and never returned, so a
// persisted state change is not undone by a mail outage.
type Notifier struct {
	Mailer       Mailer
	Stakeholders []string
}

func (n *Notifier) send(ctx context.Context, quoteID, to, subject, body string) {
	if n == nil || n.Mailer == nil || strings.TrimSpace(to) == "" {
		return
	}
	if err := n.Mailer.Send(ctx, to, subject, body); err != nil {
		log.Warn().Err(err).Str("quote_id", quoteID).Str("to", to).Msg("notification failed")
	}
}

func (n *Notifier) broadcast(ctx context.Context, quoteID, subject, body string) {
	if n == nil {
		return
	}
	for _, to := range n.Stakeholders {
		n.send(ctx, quoteID, to, subject, body)
	}
}

// RequestForQuote asks a provider to price the job.
func (n *Notifier) RequestForQuote(ctx context.Context, rec *domain.QuoteRecord, p domain.Provider) {
	j := rec.JobDetails
	var b strings.Builder
	name := p.Name
	if name == "" {
		name = p.Email
	}
	fmt.Fprintf(&b, "Hello %s,\n\nWe are requesting a quote for the following shipment:\n\n", name)
	writeLine(&b, "Origin", j.Origin)
	writeLine(&b, "Destination", j.Destination)
	writeLine(&b, "Equipment", j.EquipmentType)
	writeLine(&b, "Transport method", j.TransportMethod)
	if j.Volume > 0 {
		writeLine(&b, "Volume", printer(j.Language).Sprintf("%v", j.Volume))
	}
	writeLine(&b, "Description", j.Description)
	writeLine(&b, "Packing", j.PackingConditions)
	writeLine(&b, "Loading", j.LoadingConditions)
	if j.CustomsHandling {
		writeLine(&b, "Customs handling", "required")
	}
	writeLine(&b, "Restrictions", j.Restrictions)
	b.WriteString("\nPlease reply to this message with your base rate, surcharges and validity, keeping the subject line unchanged.\n")

	n.send(ctx, rec.ID, p.Email, "Request for quote "+domain.CorrelationToken(rec.ID), b.String())
}

// CounterOffer proposes price to the selected provider. A zero price means
// the offer had no rate and the provider is asked to confirm one.
func (n *Notifier) CounterOffer(ctx context.Context, rec *domain.QuoteRecord, to string, price decimal.Decimal) {
	var body string
	if price.IsPositive() {
		body = fmt.Sprintf(
			"Thank you for your offer.\n\nWe would like to proceed at %s for this shipment. "+
				"Please reply to confirm that you accept this price, or tell us if it does not work for you.\n",
			formatPrice(rec.JobDetails.Language, price))
	} else {
		body = "Thank you for your offer.\n\nYour reply did not include a base rate. " +
			"Please confirm your price for this shipment so we can proceed.\n"
	}
	n.send(ctx, rec.ID, to, "Counter offer "+domain.CorrelationToken(rec.ID), body)
}

// Escalate tells every stakeholder that no eligible provider is left.
func (n *Notifier) Escalate(ctx context.Context, rec *domain.QuoteRecord) {
	body := fmt.Sprintf(
		"Quote %s from %s has no eligible providers left after %d sourcing round(s).\n"+
			"Exhausted providers: %s\nManual follow-up is required.\n",
		rec.ID, rec.RequesterEmail, rec.CurrentBatch, strings.Join(rec.ExhaustedProviders, ", "))
	n.broadcast(ctx, rec.ID, "Escalation "+domain.CorrelationToken(rec.ID), body)
}

// Finalized tells every stakeholder the agreed price and extraction spend.
func (n *Notifier) Finalized(ctx context.Context, rec *domain.QuoteRecord, provider string, price decimal.Decimal) {
	body := fmt.Sprintf(
		"Quote %s has been finalized with %s at %s.\nTotal distillation cost: %s\n",
		rec.ID, provider,
		formatPrice(rec.JobDetails.Language, price),
		rec.TotalDistillationCost.StringFixed(4))
	n.broadcast(ctx, rec.ID, "Quote finalized "+domain.CorrelationToken(rec.ID), body)
}

func writeLine(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func printer(lang string) *message.Printer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag)
}

// formatPrice renders a price with the grouping rules of lang.
func formatPrice(lang string, price decimal.Decimal) string {
	return printer(lang).Sprintf("%.2f", price.Round(2).InexactFloat64())
}
