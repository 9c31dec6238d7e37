// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the per-product rolling price averages
// updated whenever a quote is finalized.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// RecordProductPrice folds price into the rolling average for productType
// and returns the updated row.
//
// The mean is updated incrementally (avg += (price-avg)/n) inside a
// transaction so concurrent finalizations for the same product do not lose
// an observation.
func RecordProductPrice(ctx context.Context, db *gorm.DB, productType string, price decimal.Decimal) (*domain.ProductStat, error) {
	productType = strings.ToLower(strings.TrimSpace(productType))
	if productType == "" {
		productType = "general"
	}

	var out domain.ProductStat
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st domain.ProductStat
		err := tx.Where("product_type = ?", productType).First(&st).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			st = domain.ProductStat{ProductType: productType, Average: decimal.Zero}
		case err != nil:
			return err
		}

		st.Count++
		delta := price.Sub(st.Average).Div(decimal.NewFromInt(st.Count))
		st.Average = st.Average.Add(delta)
		st.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&st).Error; err != nil {
			return err
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProductStats returns all product averages ordered by product type.
func ListProductStats(ctx context.Context, db *gorm.DB) ([]domain.ProductStat, error) {
	var out []domain.ProductStat
	err := db.WithContext(ctx).Order("product_type ASC").Find(&out).Error
	return out, err
}
