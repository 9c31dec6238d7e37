package repo

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// Store binds the repository functions to one database handle and adds the
// per-quote critical sections the services rely on. It is safe for
// concurrent use.
type Store struct {
	DB    *gorm.DB
	locks *keyLocks
}

// NewStore returns a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db, locks: newKeyLocks()}
}

// Lock serializes operations on one quote id. Callers must invoke the
// returned function exactly once; extra calls are no-ops.
func (s *Store) Lock(id string) func() { return s.locks.lock(id) }

func (s *Store) Create(ctx context.Context, rec *domain.QuoteRecord) error {
	return CreateQuote(ctx, s.DB, rec)
}

func (s *Store) Get(ctx context.Context, id string) (*domain.QuoteRecord, error) {
	return GetQuote(ctx, s.DB, id)
}

func (s *Store) Save(ctx context.Context, rec *domain.QuoteRecord) error {
	return SaveQuote(ctx, s.DB, rec)
}

func (s *Store) Count(ctx context.Context, status domain.Status) (int64, error) {
	return CountQuotes(ctx, s.DB, status)
}

func (s *Store) ListPage(ctx context.Context, status domain.Status, offset, limit int) ([]domain.QuoteRecord, error) {
	return ListQuotesPage(ctx, s.DB, status, offset, limit)
}

func (s *Store) ListDuePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	return ListDuePending(ctx, s.DB, cutoff)
}

func (s *Store) CreateProviderIfAbsent(ctx context.Context, p *domain.Provider) (bool, error) {
	return CreateProviderIfAbsent(ctx, s.DB, p)
}

func (s *Store) GetProvider(ctx context.Context, email string) (*domain.Provider, error) {
	return GetProvider(ctx, s.DB, email)
}

// Providers lists every registered provider, highest points first.
func (s *Store) Providers(ctx context.Context) ([]domain.Provider, error) {
	return ListProviders(ctx, s.DB)
}

func (s *Store) RecordProductPrice(ctx context.Context, productType string, price decimal.Decimal) (*domain.ProductStat, error) {
	return RecordProductPrice(ctx, s.DB, productType, price)
}

func (s *Store) ProductStats(ctx context.Context) ([]domain.ProductStat, error) {
	return ListProductStats(ctx, s.DB)
}

// ClaimReceipt reserves fingerprint for lease. It reports false when another
// delivery holds the claim or the message was already processed.
func (s *Store) ClaimReceipt(ctx context.Context, fingerprint string, lease time.Duration) (bool, error) {
	_, err := CreateReceipt(ctx, s.DB, fingerprint, ReceiptProcessing, "", lease)
	if errors.Is(err, ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CompleteReceipt marks a claimed message as processed for ttl. A missing
// claim, for example one whose lease ran out, is recreated.
func (s *Store) CompleteReceipt(ctx context.Context, fingerprint, classification, quoteID string, ttl time.Duration) error {
	err := UpdateReceipt(ctx, s.DB, fingerprint, classification, quoteID, ttl)
	if !IsNotFound(err) {
		return err
	}
	_, err = CreateReceipt(ctx, s.DB, fingerprint, classification, quoteID, ttl)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

// ReleaseReceipt drops a claim so the message can be processed again.
func (s *Store) ReleaseReceipt(ctx context.Context, fingerprint string) error {
	return DeleteReceipt(ctx, s.DB, fingerprint)
}

// PurgeReceipts deletes receipts that expired before now.
func (s *Store) PurgeReceipts(ctx context.Context, now time.Time) (int64, error) {
	return PurgeExpiredReceipts(ctx, s.DB, now)
}
