package services

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

// QuoteStore is the persistence the lifecycle needs. *repo.Store satisfies it.
type QuoteStore interface {
	Lock(id string) func()
	Create(ctx context.Context, rec *domain.QuoteRecord) error
	Get(ctx context.Context, id string) (*domain.QuoteRecord, error)
	Save(ctx context.Context, rec *domain.QuoteRecord) error
	CreateProviderIfAbsent(ctx context.Context, p *domain.Provider) (bool, error)
	GetProvider(ctx context.Context, email string) (*domain.Provider, error)
	RecordProductPrice(ctx context.Context, productType string, price decimal.Decimal) (*domain.ProductStat, error)
}

// Distiller turns free text into job fields. Implementations return
// Fallback=true with the current fields and zero cost when the output could
// not be parsed; a returned error means the call itself failed.
type Distiller interface {
	Distill(ctx context.Context, text string, current domain.JobDetails) (domain.Extraction, error)
}

// Sourcer discovers providers able to serve a job. An empty result is valid.
type Sourcer interface {
	SourceProviders(ctx context.Context, job domain.JobDetails) ([]domain.Provider, error)
}

// Mailer delivers one outbound message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Die yields a uniform integer in [1,6].
type Die interface {
	Roll() int
}

// RandomDie is the production Die.
type RandomDie struct{}

func (RandomDie) Roll() int { return rand.IntN(6) + 1 }

// FixedDie always rolls the same face.
type FixedDie int

func (d FixedDie) Roll() int { return int(d) }

func nowUTC() time.Time { return time.Now().UTC() }
