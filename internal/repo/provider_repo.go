// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Provider
// model.
//
// Providers are keyed by email. Registration is insert-or-ignore: a provider
// rediscovered by a later sourcing round keeps its established points and
// price list.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// CreateProviderIfAbsent inserts p unless a provider with the same email
// exists. It reports whether a row was created.
func CreateProviderIfAbsent(ctx context.Context, db *gorm.DB, p *domain.Provider) (bool, error) {
	p.Email = domain.NormalizeEmail(p.Email)
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetProvider fetches a provider by email, or ErrNotFound.
func GetProvider(ctx context.Context, db *gorm.DB, email string) (*domain.Provider, error) {
	var p domain.Provider
	err := db.WithContext(ctx).Where("email = ?", domain.NormalizeEmail(email)).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProviders returns all providers ordered by points descending.
func ListProviders(ctx context.Context, db *gorm.DB) ([]domain.Provider, error) {
	var out []domain.Provider
	err := db.WithContext(ctx).Order("points DESC, email ASC").Find(&out).Error
	return out, err
}
