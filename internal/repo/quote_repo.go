// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for quote records
// and their provider entries.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
//
// Error semantics:
//   - When a record is not found, functions return ErrNotFound.
//   - SaveQuote refuses to overwrite a record whose stored status is
//     completed and returns domain.ErrTerminalState.
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateQuote inserts a new record together with any entries it already has.
func CreateQuote(ctx context.Context, db *gorm.DB, rec *domain.QuoteRecord) error {
	return db.WithContext(ctx).Create(rec).Error
}

// GetQuote loads a record and its entries ordered by arrival.
func GetQuote(ctx context.Context, db *gorm.DB, id string) (*domain.QuoteRecord, error) {
	var rec domain.QuoteRecord
	err := db.WithContext(ctx).
		Preload("Entries", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq ASC") }).
		Where("id = ?", id).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ExhaustedProviders == nil {
		rec.ExhaustedProviders = []string{}
	}
	return &rec, nil
}

// SaveQuote persists the record and upserts its entries in one transaction,
// so a failure leaves the stored record untouched.
func SaveQuote(ctx context.Context, db *gorm.DB, rec *domain.QuoteRecord) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored []string
		if err := tx.Model(&domain.QuoteRecord{}).Where("id = ?", rec.ID).Pluck("status", &stored).Error; err != nil {
			return err
		}
		if len(stored) == 0 {
			return ErrNotFound
		}
		if domain.Status(stored[0]) == domain.StatusCompleted {
			return domain.ErrTerminalState
		}

		rec.UpdatedAt = time.Now().UTC()
		if err := tx.Omit(clause.Associations).Save(rec).Error; err != nil {
			return err
		}
		for i := range rec.Entries {
			rec.Entries[i].QuoteID = rec.ID
			if err := tx.Save(&rec.Entries[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// CountQuotes returns the number of records, optionally filtered by status.
func CountQuotes(ctx context.Context, db *gorm.DB, status domain.Status) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.QuoteRecord{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListQuotesPage returns a page of records, newest first, without entries.
func ListQuotesPage(ctx context.Context, db *gorm.DB, status domain.Status, offset, limit int) ([]domain.QuoteRecord, error) {
	var out []domain.QuoteRecord
	q := db.WithContext(ctx).Order("created_at DESC, id ASC").Offset(offset).Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListDuePending returns ids of pending records that have at least one entry
// and whose current sourcing round started at or before cutoff.
func ListDuePending(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.QuoteRecord{}).
		Where("status = ? AND batch_started_at <= ?", domain.StatusPending, cutoff).
		Where("EXISTS (SELECT 1 FROM quote_entries e WHERE e.quote_id = quotes.id)").
		Order("batch_started_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
