// Package domain defines the persistence models for quote records, provider
// offers, and provider reputation. These types are mapped with GORM and form
// the core data layer of the quote engine.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus is the lifecycle state of a single provider offer.
type EntryStatus string

const (
	EntryReceived    EntryStatus = "received"
	EntryNegotiating EntryStatus = "negotiating"
	EntryAccepted    EntryStatus = "accepted"
	EntryRejected    EntryStatus = "rejected"
)

// JobDetails is the cumulative description of one shipment request. Fields
// arrive incrementally and are combined with Merge.
type JobDetails struct {
	Origin            string                     `json:"origin,omitempty"`
	Destination       string                     `json:"destination,omitempty"`
	EquipmentType     string                     `json:"equipment_type,omitempty"`
	TransportMethod   string                     `json:"transport_method,omitempty"`
	Volume            float64                    `json:"volume,omitempty"`
	Description       string                     `json:"description,omitempty"`
	ServiceTerms      string                     `json:"service_terms,omitempty"`
	PackingConditions string                     `json:"packing_conditions,omitempty"`
	LoadingConditions string                     `json:"loading_conditions,omitempty"`
	CustomsHandling   bool                       `json:"customs_handling,omitempty"`
	Carrier           string                     `json:"carrier,omitempty"`
	TransitTime       string                     `json:"transit_time,omitempty"`
	Restrictions      string                     `json:"restrictions,omitempty"`
	BaseRate          decimal.Decimal            `json:"base_rate"`
	Surcharges        map[string]decimal.Decimal `json:"surcharges,omitempty"`
	ValidUntil        *time.Time                 `json:"valid_until,omitempty"`
	MarginPercent     float64                    `json:"margin_percent,omitempty"`
	Language          string                     `json:"language,omitempty"`
}

// ProductType is the key used for the per-product price averages.
func (j JobDetails) ProductType() string {
	if s := strings.TrimSpace(j.EquipmentType); s != "" {
		return strings.ToLower(s)
	}
	if s := strings.TrimSpace(j.TransportMethod); s != "" {
		return strings.ToLower(s)
	}
	return "general"
}

// QuoteRecord is the aggregate tracking one shipment request from intake to a
// finalized (or failed) quote.
//
// Fields:
//   - ID: UUID assigned at creation, never reused.
//   - RequesterEmail: address the original request came from.
//   - JobDetails: merged job description (JSON column).
//   - Entries: one offer per provider reply, append-only.
//   - Status: see the transition table in status.go.
//   - CurrentBatch / BatchStartedAt: sourcing round counter and the start of the
//     current round; the comparison window is measured from BatchStartedAt.
//   - ExhaustedProviders: providers excluded from selection, append-only.
//   - TotalDistillationCost: accumulated extraction spend, never decreases.
type QuoteRecord struct {
	ID                    string          `json:"id"                      gorm:"type:char(36);primaryKey"`
	RequesterEmail        string          `json:"requester_email"         gorm:"type:varchar(255);not null;default:''"`
	JobDetails            JobDetails      `json:"job_details"             gorm:"type:text;serializer:json"`
	Status                Status          `json:"status"                  gorm:"type:varchar(16);not null;index:idx_quotes_status,priority:1"`
	CurrentBatch          int             `json:"current_batch"           gorm:"not null;default:0"`
	BatchStartedAt        time.Time       `json:"batch_started_at"        gorm:"index:idx_quotes_status,priority:2"`
	ExhaustedProviders    []string        `json:"exhausted_providers"     gorm:"type:text;serializer:json"`
	TotalDistillationCost decimal.Decimal `json:"total_distillation_cost" gorm:"type:text;not null"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`

	Entries []QuoteEntry `json:"entries" gorm:"foreignKey:QuoteID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for QuoteRecord.
func (QuoteRecord) TableName() string { return "quotes" }

// QuoteEntry is one provider's offer within a record.
type QuoteEntry struct {
	ID              string           `json:"id"               gorm:"type:char(36);primaryKey"`
	QuoteID         string           `json:"quote_id"         gorm:"type:char(36);not null;index:idx_quote_entries,priority:1"`
	Seq             int              `json:"seq"              gorm:"not null;index:idx_quote_entries,priority:2"`
	SenderEmail     string           `json:"sender_email"     gorm:"type:varchar(255);not null"`
	Fields          JobDetails       `json:"fields"           gorm:"type:text;serializer:json"`
	Cost            decimal.Decimal  `json:"cost"             gorm:"type:text;not null"`
	Status          EntryStatus      `json:"status"           gorm:"type:varchar(16);not null;check:status IN ('received','negotiating','accepted','rejected')"`
	NegotiatedValue *decimal.Decimal `json:"negotiated_value,omitempty" gorm:"type:text"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// TableName returns the database table name for QuoteEntry.
func (QuoteEntry) TableName() string { return "quote_entries" }

// Rate is the offer's base rate, or false when the reply carried none.
func (e QuoteEntry) Rate() (decimal.Decimal, bool) {
	if e.Fields.BaseRate.IsPositive() {
		return e.Fields.BaseRate, true
	}
	return decimal.Zero, false
}

// Provider is a freight/moving company that can be asked for quotes. The
// email address is the identity key; a record is created at most once.
type Provider struct {
	Email     string                     `json:"email"      gorm:"type:varchar(255);primaryKey"`
	Name      string                     `json:"name"       gorm:"type:varchar(255);not null;default:''"`
	Traits    []string                   `json:"traits"     gorm:"type:text;serializer:json"`
	Points    int                        `json:"points"     gorm:"not null;default:50"`
	PriceList map[string]decimal.Decimal `json:"price_list" gorm:"type:text;serializer:json"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// TableName returns the database table name for Provider.
func (Provider) TableName() string { return "providers" }

// ProductStat is the rolling average of finalized prices for one product type.
type ProductStat struct {
	ProductType string          `json:"product_type" gorm:"type:varchar(64);primaryKey"`
	Count       int64           `json:"count"        gorm:"not null;default:0"`
	Average     decimal.Decimal `json:"average"      gorm:"type:text;not null"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName returns the database table name for ProductStat.
func (ProductStat) TableName() string { return "product_stats" }

// Extraction is what the distillation collaborator returns for one call.
// Fallback is set when the collaborator output could not be parsed and Fields
// merely echoes the fields it was given.
type Extraction struct {
	Fields   JobDetails
	Cost     decimal.Decimal
	Fallback bool
}
