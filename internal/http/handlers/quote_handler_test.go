package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-quote-engine/internal/domain"
	"github.com/tbourn/go-quote-engine/internal/observability"
	"github.com/tbourn/go-quote-engine/internal/repo"
	"github.com/tbourn/go-quote-engine/internal/services"
)

// ---------- test DB + fakes ----------

func newQuoteStore(t *testing.T) *repo.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:quote_handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.NewStore(db)
}

func seedQuote(t *testing.T, s *repo.Store, origin string, created time.Time) *domain.QuoteRecord {
	t.Helper()
	rec := domain.NewQuoteRecord(uuid.NewString(), "shipper@example.test",
		domain.WithDefaults(domain.JobDetails{Origin: origin}), created)
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

type fakeLifecycle struct {
	err          error
	finalizeArgs []string
	finalPrice   decimal.Decimal
}

func (f *fakeLifecycle) Compare(_ context.Context, id string) (services.CompareResult, error) {
	if f.err != nil {
		return services.CompareResult{}, f.err
	}
	return services.CompareResult{QuoteID: id, Outcome: services.OutcomeNegotiating, Status: domain.StatusNegotiating, Winner: "a@p.test"}, nil
}

func (f *fakeLifecycle) Reject(_ context.Context, id, email string) (services.CompareResult, error) {
	if f.err != nil {
		return services.CompareResult{}, f.err
	}
	return services.CompareResult{QuoteID: id, Outcome: services.OutcomeEscalated, Status: domain.StatusFailed}, nil
}

func (f *fakeLifecycle) Finalize(_ context.Context, id, email string, price decimal.Decimal, productType string) (*domain.QuoteRecord, error) {
	f.finalizeArgs = []string{id, email, productType}
	f.finalPrice = price
	if f.err != nil {
		return nil, f.err
	}
	return &domain.QuoteRecord{ID: id, Status: domain.StatusCompleted}, nil
}

type fakeSourcing struct {
	providers []domain.Provider
	err       error
}

func (f fakeSourcing) EnsureProviders(context.Context, string) ([]domain.Provider, error) {
	return f.providers, f.err
}

type fakeInbox struct {
	got  []services.InboundMessage
	full bool
}

func (f *fakeInbox) Submit(m services.InboundMessage) error {
	if f.full {
		return services.ErrQueueFull
	}
	f.got = append(f.got, m)
	return nil
}

func (f *fakeInbox) Pending() int { return len(f.got) }

type fixture struct {
	store     *repo.Store
	lifecycle *fakeLifecycle
	inbox     *fakeInbox
	metrics   *observability.Recorder
	router    *gin.Engine
}

func newFixture(t *testing.T, sourcing services.Resourcer) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		store:     newQuoteStore(t),
		lifecycle: &fakeLifecycle{},
		inbox:     &fakeInbox{},
		metrics:   observability.NewRecorder(nil),
	}
	if sourcing == nil {
		sourcing = fakeSourcing{}
	}
	h := New(f.store, f.lifecycle, sourcing, f.inbox, f.metrics)

	r := gin.New()
	r.POST("/inbound", h.PostInbound)
	r.GET("/quotes", h.ListQuotes)
	r.GET("/quotes/:id", h.GetQuote)
	r.POST("/quotes/:id/compare", h.CompareQuote)
	r.POST("/quotes/:id/finalize", h.FinalizeQuote)
	r.POST("/quotes/:id/reject", h.RejectQuote)
	r.POST("/quotes/:id/source", h.SourceQuote)
	r.GET("/providers", h.ListProviders)
	r.GET("/stats", h.Stats)
	f.router = r
	return f
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return e
}

// ---------- tests ----------

func TestListQuotes_PaginatesAndFilters(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedQuote(t, f.store, fmt.Sprintf("City %d", i), base.Add(time.Duration(i)*time.Minute))
	}

	w := f.do(http.MethodGet, "/quotes?page=1&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListQuotesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Quotes) != 2 || resp.Pagination.Total != 3 || resp.Pagination.TotalPages != 2 || !resp.Pagination.HasNext {
		t.Fatalf("page = %+v", resp.Pagination)
	}
	if resp.Quotes[0].JobDetails.Origin != "City 2" {
		t.Fatalf("newest first expected, got %q", resp.Quotes[0].JobDetails.Origin)
	}

	w = f.do(http.MethodGet, "/quotes?status=completed", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || len(resp.Quotes) != 0 || resp.Pagination.Total != 0 {
		t.Fatalf("filtered = %d %+v", w.Code, resp)
	}

	if w := f.do(http.MethodGet, "/quotes?status=bogus", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status filter = %d", w.Code)
	}
}

func TestGetQuote(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedQuote(t, f.store, "Miami", time.Now().UTC())

	w := f.do(http.MethodGet, "/quotes/"+rec.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var got domain.QuoteRecord
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != rec.ID || got.Status != domain.StatusPending || got.JobDetails.Origin != "Miami" {
		t.Fatalf("record = %+v", got)
	}

	if w := f.do(http.MethodGet, "/quotes/not-a-uuid", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", w.Code)
	}
	w = f.do(http.MethodGet, "/quotes/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound || decodeErr(t, w).Code != ErrCodeNotFound {
		t.Fatalf("missing = %d %s", w.Code, w.Body.String())
	}
}

func TestCompareAndReject(t *testing.T) {
	f := newFixture(t, nil)
	id := uuid.NewString()

	w := f.do(http.MethodPost, "/quotes/"+id+"/compare", nil)
	var res services.CompareResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || res.Outcome != services.OutcomeNegotiating || res.QuoteID != id {
		t.Fatalf("compare = %d %+v", w.Code, res)
	}

	if w := f.do(http.MethodPost, "/quotes/"+id+"/reject", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("reject without email = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/quotes/"+id+"/reject", RejectRequest{ProviderEmail: "a@p.test"}); w.Code != http.StatusOK {
		t.Fatalf("reject = %d", w.Code)
	}

	f.lifecycle.err = fmt.Errorf("%w: compare from completed", domain.ErrInvalidTransition)
	w = f.do(http.MethodPost, "/quotes/"+id+"/compare", nil)
	if w.Code != http.StatusConflict || decodeErr(t, w).Code != ErrCodeConflict {
		t.Fatalf("conflict = %d %s", w.Code, w.Body.String())
	}
}

func TestFinalizeQuote(t *testing.T) {
	f := newFixture(t, nil)
	id := uuid.NewString()

	w := f.do(http.MethodPost, "/quotes/"+id+"/finalize", `{"provider_email":"a@p.test","final_price":"90.50","product_type":"reefer"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if f.lifecycle.finalizeArgs[1] != "a@p.test" || f.lifecycle.finalizeArgs[2] != "reefer" ||
		!f.lifecycle.finalPrice.Equal(decimal.RequireFromString("90.5")) {
		t.Fatalf("finalize args = %v %s", f.lifecycle.finalizeArgs, f.lifecycle.finalPrice)
	}

	// numeric prices decode too
	if w := f.do(http.MethodPost, "/quotes/"+id+"/finalize", `{"provider_email":"a@p.test","final_price":120}`); w.Code != http.StatusOK {
		t.Fatalf("numeric price = %d", w.Code)
	}

	for _, body := range []string{`{`, `{"provider_email":"a@p.test","final_price":"0"}`, `{"final_price":"10"}`} {
		if w := f.do(http.MethodPost, "/quotes/"+id+"/finalize", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %s = %d", body, w.Code)
		}
	}

	f.lifecycle.err = domain.ErrTerminalState
	if w := f.do(http.MethodPost, "/quotes/"+id+"/finalize", FinalizeRequest{ProviderEmail: "a@p.test", FinalPrice: decimal.NewFromInt(1)}); w.Code != http.StatusConflict {
		t.Fatalf("terminal = %d", w.Code)
	}
}

func TestSourceQuote(t *testing.T) {
	id := uuid.NewString()
	f := newFixture(t, fakeSourcing{providers: []domain.Provider{{Email: "a@p.test", Points: 50}}})
	w := f.do(http.MethodPost, "/quotes/"+id+"/source", nil)
	var resp SourceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || len(resp.Providers) != 1 || resp.QuoteID != id {
		t.Fatalf("source = %d %+v", w.Code, resp)
	}

	f = newFixture(t, fakeSourcing{err: services.ErrSourcingLimit})
	w = f.do(http.MethodPost, "/quotes/"+id+"/source", nil)
	if w.Code != http.StatusConflict || decodeErr(t, w).Code != ErrCodeSourcingLimit {
		t.Fatalf("limit = %d %s", w.Code, w.Body.String())
	}

	f = newFixture(t, fakeSourcing{err: fmt.Errorf("%w: timeout", services.ErrSourcingUnavailable)})
	if w := f.do(http.MethodPost, "/quotes/"+id+"/source", nil); w.Code != http.StatusBadGateway {
		t.Fatalf("unavailable = %d", w.Code)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.store.RecordProductPrice(context.Background(), "reefer", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("record price: %v", err)
	}
	f.metrics.Classified(observability.ClassNewRequest)
	f.metrics.AddSavings(decimal.NewFromInt(10))

	w := f.do(http.MethodGet, "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Totals.Submissions != 1 || !resp.Totals.Savings.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("totals = %+v", resp.Totals)
	}
	if len(resp.Products) != 1 || resp.Products[0].ProductType != "reefer" || !resp.Products[0].Average.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("products = %+v", resp.Products)
	}
}

func TestListProviders(t *testing.T) {
	f := newFixture(t, nil)
	if w := f.do(http.MethodGet, "/providers", nil); w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"providers":[]`)) {
		t.Fatalf("empty list = %d %s", w.Code, w.Body.String())
	}

	ctx := context.Background()
	for _, p := range []domain.Provider{{Email: "low@p.test", Points: 20}, {Email: "high@p.test", Points: 90}} {
		if _, err := f.store.CreateProviderIfAbsent(ctx, &p); err != nil {
			t.Fatalf("create provider: %v", err)
		}
	}
	w := f.do(http.MethodGet, "/providers", nil)
	var resp ProvidersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Providers) != 2 || resp.Providers[0].Email != "high@p.test" {
		t.Fatalf("providers = %+v", resp.Providers)
	}
}

func TestPostInbound(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/inbound", InboundRequest{Subject: "Need a quote", Body: "Miami to Tampa", From: " shipper@example.test "})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if len(f.inbox.got) != 1 || f.inbox.got[0].From != "shipper@example.test" || f.inbox.got[0].ReceivedAt.IsZero() {
		t.Fatalf("queued = %+v", f.inbox.got)
	}

	for _, body := range []string{`nope`, `{"subject":"x"}`, `{"from":"a@b.test"}`} {
		if w := f.do(http.MethodPost, "/inbound", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %s = %d", body, w.Code)
		}
	}

	f.inbox.full = true
	w = f.do(http.MethodPost, "/inbound", InboundRequest{Subject: "Need a quote", From: "a@b.test"})
	if w.Code != http.StatusServiceUnavailable || w.Header().Get("Retry-After") == "" || decodeErr(t, w).Code != ErrCodeQueueFull {
		t.Fatalf("queue full = %d %s", w.Code, w.Body.String())
	}
}
