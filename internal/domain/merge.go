package domain

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
)

const (
	// DefaultMarginPercent is applied when the request does not state a margin.
	DefaultMarginPercent = 20.0
	// MinMarginPercent and MaxMarginPercent bound the margin contribution.
	MinMarginPercent = 15.0
	MaxMarginPercent = 25.0
	// DefaultLanguage is the response language when none was detected.
	DefaultLanguage = "en"
)

// Merge folds extracted into existing. A field is overwritten only when the
// extracted value is non-empty for its type; known values are never cleared.
// Every field of JobDetails is listed here.
func Merge(existing, extracted JobDetails) JobDetails {
	out := existing

	out.Origin = pickString(existing.Origin, extracted.Origin)
	out.Destination = pickString(existing.Destination, extracted.Destination)
	out.EquipmentType = pickString(existing.EquipmentType, extracted.EquipmentType)
	out.TransportMethod = pickString(existing.TransportMethod, extracted.TransportMethod)
	if extracted.Volume != 0 {
		out.Volume = extracted.Volume
	}
	out.Description = pickString(existing.Description, extracted.Description)
	out.ServiceTerms = pickString(existing.ServiceTerms, extracted.ServiceTerms)
	out.PackingConditions = pickString(existing.PackingConditions, extracted.PackingConditions)
	out.LoadingConditions = pickString(existing.LoadingConditions, extracted.LoadingConditions)
	if extracted.CustomsHandling {
		out.CustomsHandling = true
	}
	out.Carrier = pickString(existing.Carrier, extracted.Carrier)
	out.TransitTime = pickString(existing.TransitTime, extracted.TransitTime)
	out.Restrictions = pickString(existing.Restrictions, extracted.Restrictions)
	if !extracted.BaseRate.IsZero() {
		out.BaseRate = extracted.BaseRate
	}
	if len(extracted.Surcharges) > 0 {
		out.Surcharges = copySurcharges(extracted.Surcharges)
	} else {
		out.Surcharges = copySurcharges(existing.Surcharges)
	}
	if extracted.ValidUntil != nil && !extracted.ValidUntil.IsZero() {
		v := *extracted.ValidUntil
		out.ValidUntil = &v
	}
	if extracted.MarginPercent != 0 {
		out.MarginPercent = clampMargin(extracted.MarginPercent)
	}
	if lang := normalizeLanguage(extracted.Language); lang != "" {
		out.Language = lang
	}
	return out
}

// WithDefaults fills the intake defaults for fields the first extraction left
// unset: margin 20, language "en". Volume and customs handling keep their zero
// values.
func WithDefaults(j JobDetails) JobDetails {
	if j.MarginPercent == 0 {
		j.MarginPercent = DefaultMarginPercent
	}
	j.MarginPercent = clampMargin(j.MarginPercent)
	if j.Language == "" {
		j.Language = DefaultLanguage
	}
	return j
}

func pickString(cur, next string) string {
	if strings.TrimSpace(next) == "" {
		return cur
	}
	return strings.TrimSpace(next)
}

func copySurcharges(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clampMargin(v float64) float64 {
	switch {
	case v < MinMarginPercent:
		return MinMarginPercent
	case v > MaxMarginPercent:
		return MaxMarginPercent
	}
	return v
}

// normalizeLanguage reduces a tag like "es-MX" to its base ("es"). Unparseable
// values are treated as absent.
func normalizeLanguage(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	tag, err := language.Parse(s)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.String()
}
