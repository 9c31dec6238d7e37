package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-quote-engine/internal/domain"
	"github.com/tbourn/go-quote-engine/internal/observability"
	"github.com/tbourn/go-quote-engine/internal/repo"
)

// ---------- test helpers ----------

func newSvcStore(t *testing.T) *repo.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.NewStore(db)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentMail struct {
	To, Subject, Body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return m.err
}

func (m *fakeMailer) To(addr string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, s := range m.sent {
		if s.To == addr {
			out = append(out, s)
		}
	}
	return out
}

func (m *fakeMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakeDistiller answers with the first rule whose key occurs in the text.
type fakeDistiller struct {
	mu    sync.Mutex
	rules []distillRule
	err   error
	calls int
}

type distillRule struct {
	contains string
	ext      domain.Extraction
}

func (f *fakeDistiller) on(contains string, fields domain.JobDetails, cost string) *fakeDistiller {
	f.rules = append(f.rules, distillRule{contains: contains, ext: domain.Extraction{Fields: fields, Cost: decimal.RequireFromString(cost)}})
	return f
}

func (f *fakeDistiller) Distill(_ context.Context, text string, current domain.JobDetails) (domain.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Extraction{}, f.err
	}
	for _, r := range f.rules {
		if strings.Contains(text, r.contains) {
			return r.ext, nil
		}
	}
	return domain.Extraction{Fields: current, Cost: decimal.Zero, Fallback: true}, nil
}

type fakeSourcer struct {
	mu        sync.Mutex
	providers []domain.Provider
	err       error
	calls     int
}

func (f *fakeSourcer) SourceProviders(context.Context, domain.JobDetails) ([]domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Provider, len(f.providers))
	copy(out, f.providers)
	return out, nil
}

// flakyStore fails Create and Save while failSave is set.
type flakyStore struct {
	*repo.Store
	mu       sync.Mutex
	failSave bool
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	s.failSave = v
	s.mu.Unlock()
}

func (s *flakyStore) Create(ctx context.Context, rec *domain.QuoteRecord) error {
	s.mu.Lock()
	fail := s.failSave
	s.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return s.Store.Create(ctx, rec)
}

func (s *flakyStore) Save(ctx context.Context, rec *domain.QuoteRecord) error {
	s.mu.Lock()
	fail := s.failSave
	s.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return s.Store.Save(ctx, rec)
}

// harness wires the whole lifecycle over an in-memory store.
type harness struct {
	store     *repo.Store
	clock     *clock
	mailer    *fakeMailer
	distiller *fakeDistiller
	sourcer   *fakeSourcer
	metrics   *observability.Recorder
	engine    *NegotiationEngine
	sourcing  *SourcingCoordinator
	intake    *Intake
	dispatch  *Dispatcher
}

var stakeholders = []string{"ops@broker.test", "sales@broker.test"}

func newHarness(t *testing.T, die Die) *harness {
	t.Helper()
	h := &harness{
		store:     newSvcStore(t),
		clock:     newClock(),
		mailer:    &fakeMailer{},
		distiller: &fakeDistiller{},
		sourcer:   &fakeSourcer{},
		metrics:   observability.NewRecorder(nil),
	}
	notifier := &Notifier{Mailer: h.mailer, Stakeholders: stakeholders}
	h.sourcing = &SourcingCoordinator{
		Store:      h.store,
		Sourcer:    h.sourcer,
		Notifier:   notifier,
		Metrics:    h.metrics,
		MaxBatches: 3,
		FanOut:     4,
		Now:        h.clock.Now,
	}
	h.engine = &NegotiationEngine{
		Store:    h.store,
		Notifier: notifier,
		Metrics:  h.metrics,
		Die:      die,
		Window:   30 * time.Minute,
		Now:      h.clock.Now,
	}
	h.intake = &Intake{
		Store:      h.store,
		Distiller:  h.distiller,
		Engine:     h.engine,
		Sourcing:   h.sourcing,
		Metrics:    h.metrics,
		Acceptance: []string{"we accept", "agreed"},
		Decline:    []string{"decline", "cannot accept"},
		Now:        h.clock.Now,
	}
	classifier := NewClassifier(
		[]string{"quote request", "need a quote"},
		[]string{"re:", "our rate"},
		h.metrics,
	)
	h.dispatch = NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 4, MaxAttempts: 2}, classifier, h.intake, h.store)
	return h
}

func (h *harness) registerProvider(t *testing.T, email string, points int) {
	t.Helper()
	if _, err := h.store.CreateProviderIfAbsent(context.Background(), &domain.Provider{Email: email, Name: email, Points: points}); err != nil {
		t.Fatalf("register provider: %v", err)
	}
}

func (h *harness) mustGet(t *testing.T, id string) *domain.QuoteRecord {
	t.Helper()
	rec, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return rec
}

// seedPending creates a pending record with the given offers as entries.
func (h *harness) seedPending(t *testing.T, id string, offers map[string]int64) *domain.QuoteRecord {
	t.Helper()
	ctx := context.Background()
	rec := domain.NewQuoteRecord(id, "client@shipper.test", domain.JobDetails{Origin: "Miami", Volume: 20}, h.clock.Now())
	rec.CurrentBatch = 1
	if err := h.store.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Deterministic entry order.
	for _, email := range sortedKeys(offers) {
		rec.AppendEntry(uuid.NewString(), email, domain.JobDetails{BaseRate: decimal.NewFromInt(offers[email])}, decimal.Zero, h.clock.Now())
	}
	if err := h.store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	return rec
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
