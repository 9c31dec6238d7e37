// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for inbound message
// receipts, which make redelivered emails safe to process again.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// ErrDuplicate indicates that a receipt already exists for the fingerprint.
var ErrDuplicate = errors.New("duplicate")

// ReceiptProcessing is the classification of a claim whose message is still
// being processed.
const ReceiptProcessing = "processing"

// GetReceipt returns a non-expired receipt or ErrNotFound.
func GetReceipt(ctx context.Context, db *gorm.DB, fingerprint string, now time.Time) (*domain.InboundReceipt, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, ErrNotFound
	}
	var rec domain.InboundReceipt
	err := db.WithContext(ctx).
		Where("fingerprint = ? AND expires_at > ?", fingerprint, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateReceipt inserts a receipt and returns ErrDuplicate on unique violation.
// An expired receipt with the same fingerprint is replaced.
func CreateReceipt(ctx context.Context, db *gorm.DB, fingerprint, classification, quoteID string, ttl time.Duration) (*domain.InboundReceipt, error) {
	now := time.Now().UTC()
	rec := &domain.InboundReceipt{
		ID:             uuid.NewString(),
		Fingerprint:    fingerprint,
		Classification: classification,
		QuoteID:        quoteID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("fingerprint = ? AND expires_at <= ?", fingerprint, now).Delete(&domain.InboundReceipt{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// UpdateReceipt sets the outcome of a receipt and restarts its TTL. It
// returns ErrNotFound when no receipt exists for fingerprint.
func UpdateReceipt(ctx context.Context, db *gorm.DB, fingerprint, classification, quoteID string, ttl time.Duration) error {
	res := db.WithContext(ctx).Model(&domain.InboundReceipt{}).
		Where("fingerprint = ?", fingerprint).
		Updates(map[string]any{
			"classification": classification,
			"quote_id":       quoteID,
			"expires_at":     time.Now().UTC().Add(ttl),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReceipt removes the receipt for fingerprint, if any.
func DeleteReceipt(ctx context.Context, db *gorm.DB, fingerprint string) error {
	return db.WithContext(ctx).Where("fingerprint = ?", fingerprint).Delete(&domain.InboundReceipt{}).Error
}

// PurgeExpiredReceipts deletes receipts whose TTL elapsed before now.
func PurgeExpiredReceipts(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.InboundReceipt{})
	return res.RowsAffected, res.Error
}
