package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-quote-engine/internal/config"
	"github.com/tbourn/go-quote-engine/internal/distill"
	"github.com/tbourn/go-quote-engine/internal/http/handlers"
	"github.com/tbourn/go-quote-engine/internal/mailer"
	"github.com/tbourn/go-quote-engine/internal/observability"
	"github.com/tbourn/go-quote-engine/internal/repo"
	"github.com/tbourn/go-quote-engine/internal/services"
	"github.com/tbourn/go-quote-engine/internal/sourcing"
)

// app holds the wired engine. Collaborators that are not configured degrade
// to local stand-ins: no extraction, no sourcing, and mail written to the log.
type app struct {
	db         *gorm.DB
	store      *repo.Store
	recorder   *observability.Recorder
	engine     *services.NegotiationEngine
	sourcing   *services.SourcingCoordinator
	dispatcher *services.Dispatcher
	sweeper    *services.Sweeper
}

// openDB opens the SQLite database, instruments it and migrates the schema.
func openDB(c config.Config) (*gorm.DB, error) {
	db, err := repo.OpenSQLite(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", c.DBPath, err)
	}
	if err := repo.Instrument(db); err != nil {
		return nil, fmt.Errorf("instrument database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newApp(c config.Config, db *gorm.DB, reg prometheus.Registerer) (*app, error) {
	store := repo.NewStore(db)
	rec := observability.NewRecorder(reg)
	lc := c.Lifecycle

	var mail services.Mailer = mailer.Log{}
	if c.Mail.Host != "" {
		smtp, err := mailer.NewSMTP(mailer.Config{
			Host:     c.Mail.Host,
			Port:     c.Mail.Port,
			Username: c.Mail.Username,
			Password: c.Mail.Password,
			From:     c.Mail.From,
			RPS:      c.Mail.RPS,
		})
		if err != nil {
			return nil, fmt.Errorf("mailer: %w", err)
		}
		mail = smtp
	} else {
		log.Warn().Msg("SMTP_HOST not set, outbound mail is logged only")
	}
	notifier := &services.Notifier{Mailer: mail, Stakeholders: lc.Stakeholders}

	var sourcer services.Sourcer = sourcing.Noop{}
	if c.Sourcing.URL != "" {
		sourcer = sourcing.NewClient(c.Sourcing.URL, c.Sourcing.Timeout)
	} else {
		log.Warn().Msg("SOURCING_URL not set, sourcing rounds find no providers")
	}

	coord := &services.SourcingCoordinator{
		Store:      store,
		Sourcer:    sourcer,
		Notifier:   notifier,
		Metrics:    rec,
		MaxBatches: lc.MaxBatches,
		FanOut:     lc.FanOut,
	}
	engine := &services.NegotiationEngine{
		Store:    store,
		Notifier: notifier,
		Metrics:  rec,
		Die:      services.RandomDie{},
		Window:   lc.ComparisonWindow,
	}
	if lc.AutoResource {
		engine.Fallback = coord
	}

	intake := &services.Intake{
		Store:      store,
		Engine:     engine,
		Sourcing:   coord,
		Metrics:    rec,
		Acceptance: lc.AcceptPatterns,
		Decline:    lc.DeclinePatterns,
		NewID:      uuid.NewString,
	}
	switch d, err := distill.New(c.Extraction.APIKey, c.Extraction.Model, c.Extraction.Timeout); {
	case errors.Is(err, distill.ErrNoAPIKey):
		log.Warn().Msg("ANTHROPIC_API_KEY not set, extraction disabled")
	case err != nil:
		return nil, fmt.Errorf("extraction client: %w", err)
	default:
		intake.Distiller = d
	}

	classifier := services.NewClassifier(lc.UserPatterns, lc.ProviderPatterns, rec)
	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Workers:     lc.Workers,
		QueueSize:   lc.QueueSize,
		MaxAttempts: lc.EventMaxAttempts,
		Backoff:     lc.EventRetryBackoff,
		ReceiptTTL:  lc.ReceiptTTL,
	}, classifier, intake, store)

	return &app{
		db:         db,
		store:      store,
		recorder:   rec,
		engine:     engine,
		sourcing:   coord,
		dispatcher: dispatcher,
		sweeper:    &services.Sweeper{Store: store, Engine: engine, Interval: lc.SweepInterval},
	}, nil
}

// handlers binds the HTTP layer to the engine.
func (a *app) handlers() *handlers.Handlers {
	return handlers.New(a.store, a.engine, a.sourcing, a.dispatcher, a.recorder)
}

func (a *app) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
