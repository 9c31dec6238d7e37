package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const tokenMarker = "---"

// CorrelationToken wraps a quote id in the marker embedded in outbound subjects.
func CorrelationToken(quoteID string) string {
	return tokenMarker + quoteID + tokenMarker
}

// ExtractQuoteID returns the first substring enclosed by two triple-dash
// markers, looking at the subject first and then the body.
func ExtractQuoteID(subject, body string) (string, bool) {
	for _, s := range []string{subject, body} {
		if id, ok := between(s); ok {
			return id, true
		}
	}
	return "", false
}

func between(s string) (string, bool) {
	i := strings.Index(s, tokenMarker)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(tokenMarker):]
	j := strings.Index(rest, tokenMarker)
	if j < 0 {
		return "", false
	}
	id := strings.TrimSpace(rest[:j])
	if id == "" {
		return "", false
	}
	return id, true
}

// InboundReceipt records that an inbound message is being or was processed,
// keyed by its fingerprint, so a redelivered copy is not applied twice. While
// the message is in flight the row is a short-lived claim.
type InboundReceipt struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Fingerprint    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_fingerprint"`
	Classification string    `gorm:"type:TEXT NOT NULL"`
	QuoteID        string    `gorm:"type:TEXT NOT NULL;default:''"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (InboundReceipt) TableName() string { return "inbound_receipts" }

// Fingerprint hashes the identifying parts of an inbound message.
func Fingerprint(from, subject, body string) string {
	h := sha256.New()
	h.Write([]byte(normalizeEmail(from)))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
