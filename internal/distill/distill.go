// Package distill extracts structured job fields from free-text email
// content with the Anthropic Messages API.
//
// The model is asked for a single JSON object using the JobDetails keys.
// Output that cannot be parsed is not an error: Distill then returns the
// current fields unchanged with zero cost and Fallback set.
package distill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

// ErrNoAPIKey is returned by New without credentials.
var ErrNoAPIKey = errors.New("distill: missing API key")

const systemPrompt = `You extract freight and moving quote details from emails.
Reply with one JSON object and nothing else. Use only these keys and omit any you cannot find:
origin, destination, equipment_type, transport_method, volume (number, cubic metres),
description, service_terms, packing_conditions, loading_conditions, customs_handling (boolean),
carrier, transit_time, restrictions, base_rate (number), surcharges (object of name to number),
valid_until (YYYY-MM-DD), margin_percent (number), language (BCP 47 code of the email language).`

// modelPricing holds {input, output} USD per million tokens.
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {1.00, 5.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-1-20250805":   {15.00, 75.00},
}

// EstimateCost returns the USD cost of a call. Unknown models cost zero.
func EstimateCost(model string, usage sdk.Usage) decimal.Decimal {
	p, ok := modelPricing[model]
	if !ok {
		return decimal.Zero
	}
	in := float64(usage.InputTokens) / 1e6 * p[0]
	out := float64(usage.OutputTokens) / 1e6 * p[1]
	cacheWrite := float64(usage.CacheCreationInputTokens) / 1e6 * p[0] * 1.25
	cacheRead := float64(usage.CacheReadInputTokens) / 1e6 * p[0] * 0.1
	return decimal.NewFromFloat(in + out + cacheWrite + cacheRead).Round(6)
}

// Client is the extraction collaborator.
type Client struct {
	client    sdk.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// New returns a Client for apiKey. Extra request options (base URL, retries)
// are passed through to the SDK.
func New(apiKey, model string, timeout time.Duration, opts ...option.RequestOption) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client:    sdk.NewClient(opts...),
		model:     model,
		maxTokens: 1024,
		timeout:   timeout,
	}, nil
}

// Distill extracts fields from text. current is sent as context so the model
// can resolve references to earlier messages.
func (c *Client) Distill(ctx context.Context, text string, current domain.JobDetails) (domain.Extraction, error) {
	ctx, span := otel.Tracer("distill").Start(ctx, "Distill")
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	known, err := json.Marshal(current)
	if err != nil {
		return domain.Extraction{}, err
	}
	prompt := fmt.Sprintf("Known fields so far:\n%s\n\nEmail:\n%s", known, text)

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("distill: create message: %w", err)
	}

	var out strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			out.WriteString(b.Text)
		}
	}
	cost := EstimateCost(c.model, msg.Usage)
	span.SetAttributes(
		attribute.Int64("tokens.input", msg.Usage.InputTokens),
		attribute.Int64("tokens.output", msg.Usage.OutputTokens),
	)

	fields, err := Parse(out.String())
	if err != nil {
		log.Warn().Err(err).Str("model", c.model).Msg("unparseable extraction output")
		return domain.Extraction{Fields: current, Cost: decimal.Zero, Fallback: true}, nil
	}
	log.Debug().Str("model", c.model).Str("cost", cost.String()).Msg("distilled")
	return domain.Extraction{Fields: fields, Cost: cost}, nil
}

// wireFields mirrors JobDetails with a lenient date.
type wireFields struct {
	domain.JobDetails
	ValidUntil string `json:"valid_until"`
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "02/01/2006"}

// Parse decodes the first JSON object in s into JobDetails. Unknown keys are
// ignored; an unparseable date drops only that field.
func Parse(s string) (domain.JobDetails, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return domain.JobDetails{}, errors.New("no JSON object in output")
	}
	var w wireFields
	if err := json.Unmarshal([]byte(s[start:end+1]), &w); err != nil {
		return domain.JobDetails{}, err
	}
	j := w.JobDetails
	j.ValidUntil = nil
	if v := strings.TrimSpace(w.ValidUntil); v != "" {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				t = t.UTC()
				j.ValidUntil = &t
				break
			}
		}
	}
	return j, nil
}
