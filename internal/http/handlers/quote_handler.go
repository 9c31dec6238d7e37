// Quote HTTP handlers.
//
// This file exposes the operator API over quote records:
//   - GET  /quotes                (list, paginated, optional status filter)
//   - GET  /quotes/{id}           (one record with its entries)
//   - POST /quotes/{id}/compare   (run winner selection now)
//   - POST /quotes/{id}/finalize  (close the negotiation at a price)
//   - POST /quotes/{id}/reject    (the negotiating provider declined)
//   - POST /quotes/{id}/source    (start a new sourcing round)
//   - GET  /providers             (registered providers by points)
//   - GET  /stats                 (lifecycle totals and product averages)
//
// Handlers are transport-thin: they validate input, call the services, and
// map sentinel errors to responses.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tbourn/go-quote-engine/internal/domain"
	"github.com/tbourn/go-quote-engine/internal/observability"
	"github.com/tbourn/go-quote-engine/internal/services"
	"github.com/tbourn/go-quote-engine/internal/utils"
)

//
// Service contracts (context-aware)
//

// QuoteReader reads records and price statistics.
type QuoteReader interface {
	Get(ctx context.Context, id string) (*domain.QuoteRecord, error)
	Count(ctx context.Context, status domain.Status) (int64, error)
	ListPage(ctx context.Context, status domain.Status, offset, limit int) ([]domain.QuoteRecord, error)
	ProductStats(ctx context.Context) ([]domain.ProductStat, error)
	Providers(ctx context.Context) ([]domain.Provider, error)
}

// Lifecycle drives comparison and negotiation.
type Lifecycle interface {
	Compare(ctx context.Context, quoteID string) (services.CompareResult, error)
	Reject(ctx context.Context, quoteID, providerEmail string) (services.CompareResult, error)
	Finalize(ctx context.Context, quoteID, providerEmail string, finalPrice decimal.Decimal, productType string) (*domain.QuoteRecord, error)
}

// Inbox accepts inbound mail for asynchronous processing.
type Inbox interface {
	Submit(msg services.InboundMessage) error
	Pending() int
}

// StatsSource returns the in-process lifecycle totals.
type StatsSource interface {
	Snapshot() observability.Snapshot
}

//
// Handler wiring
//

// Handlers groups the webhook and operator endpoints.
type Handlers struct {
	quotes    QuoteReader
	lifecycle Lifecycle
	sourcing  services.Resourcer
	inbox     Inbox
	stats     StatsSource
}

// New constructs Handlers bound to the given collaborators.
func New(quotes QuoteReader, lifecycle Lifecycle, sourcing services.Resourcer, inbox Inbox, stats StatsSource) *Handlers {
	return &Handlers{quotes: quotes, lifecycle: lifecycle, sourcing: sourcing, inbox: inbox, stats: stats}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListQuotesResponse wraps a page of records.
type ListQuotesResponse struct {
	Quotes     []domain.QuoteRecord `json:"quotes"`
	Pagination Pagination           `json:"pagination"`
}

// FinalizeRequest closes a negotiation.
type FinalizeRequest struct {
	ProviderEmail string          `json:"provider_email" example:"dispatch@acme-movers.test"`
	FinalPrice    decimal.Decimal `json:"final_price" swaggertype:"string" example:"90.00"`
	// ProductType defaults to the job's equipment type, then transport method.
	ProductType string `json:"product_type,omitempty" example:"reefer"`
}

// RejectRequest names the provider that declined.
type RejectRequest struct {
	ProviderEmail string `json:"provider_email" example:"dispatch@acme-movers.test"`
}

// SourceResponse lists the providers asked for a quote in the new round.
type SourceResponse struct {
	QuoteID   string            `json:"quote_id"`
	Providers []domain.Provider `json:"providers"`
}

// ProvidersResponse is the /providers body.
type ProvidersResponse struct {
	Providers []domain.Provider `json:"providers"`
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	Totals   observability.Snapshot `json:"totals"`
	Products []domain.ProductStat   `json:"products"`
	Queued   int                    `json:"queued"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) utils.Page {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), 20, 100)
}

// quoteID validates the :id path parameter.
func quoteID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "quote id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// ListQuotes godoc
// @ID          listQuotes
// @Summary     List quote records (paginated)
// @Tags        Quotes
// @Produce     json
// @Param       status     query  string  false "Filter by status"  Enums(pending, comparing, negotiating, completed, failed)
// @Param       page       query  int     false "Page number"       minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"    minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListQuotesResponse
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     500  {object} handlers.ErrorResponse
// @Router      /quotes [get]
func (h *Handlers) ListQuotes(c *gin.Context) {
	ctx := c.Request.Context()
	status := domain.Status(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
		return
	}
	pg := clampPagination(c)

	total, err := h.quotes.Count(ctx, status)
	if err != nil {
		failErr(c, err)
		return
	}
	items, err := h.quotes.ListPage(ctx, status, pg.Offset(), pg.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.QuoteRecord{}
	}

	totalPages := pg.TotalPages(total)
	ok(c, http.StatusOK, ListQuotesResponse{
		Quotes: items,
		Pagination: Pagination{
			Page:       pg.Number,
			PageSize:   pg.Size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    pg.Number < totalPages,
		},
	})
}

// GetQuote godoc
// @ID          getQuote
// @Summary     Get a quote record with its entries
// @Tags        Quotes
// @Produce     json
// @Param       id  path  string  true  "Quote ID (UUID)"  format(uuid)
// @Success     200  {object} domain.QuoteRecord
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /quotes/{id} [get]
func (h *Handlers) GetQuote(c *gin.Context) {
	id, valid := quoteID(c)
	if !valid {
		return
	}
	rec, err := h.quotes.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// CompareQuote godoc
// @ID          compareQuote
// @Summary     Run winner selection on a pending record
// @Tags        Quotes
// @Produce     json
// @Param       id  path  string  true  "Quote ID (UUID)"  format(uuid)
// @Success     200  {object} services.CompareResult
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse "Record is not pending"
// @Router      /quotes/{id}/compare [post]
func (h *Handlers) CompareQuote(c *gin.Context) {
	id, valid := quoteID(c)
	if !valid {
		return
	}
	res, err := h.lifecycle.Compare(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// FinalizeQuote godoc
// @ID          finalizeQuote
// @Summary     Close a negotiation at an agreed price
// @Tags        Quotes
// @Accept      json
// @Produce     json
// @Param       id    path  string                    true  "Quote ID (UUID)"  format(uuid)
// @Param       body  body  handlers.FinalizeRequest  true  "Finalize payload"
// @Success     200  {object} domain.QuoteRecord
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse "Not negotiating or already completed"
// @Router      /quotes/{id}/finalize [post]
func (h *Handlers) FinalizeQuote(c *gin.Context) {
	id, valid := quoteID(c)
	if !valid {
		return
	}
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ProviderEmail) == "" || !req.FinalPrice.IsPositive() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "provider_email and a positive final_price are required")
		return
	}
	rec, err := h.lifecycle.Finalize(c.Request.Context(), id, req.ProviderEmail, req.FinalPrice, strings.TrimSpace(req.ProductType))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// RejectQuote godoc
// @ID          rejectQuote
// @Summary     Record that the negotiating provider declined
// @Tags        Quotes
// @Accept      json
// @Produce     json
// @Param       id    path  string                  true  "Quote ID (UUID)"  format(uuid)
// @Param       body  body  handlers.RejectRequest  true  "Reject payload"
// @Success     200  {object} services.CompareResult
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse
// @Router      /quotes/{id}/reject [post]
func (h *Handlers) RejectQuote(c *gin.Context) {
	id, valid := quoteID(c)
	if !valid {
		return
	}
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ProviderEmail) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "provider_email is required")
		return
	}
	res, err := h.lifecycle.Reject(c.Request.Context(), id, req.ProviderEmail)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// SourceQuote godoc
// @ID          sourceQuote
// @Summary     Start a new sourcing round
// @Tags        Quotes
// @Produce     json
// @Param       id  path  string  true  "Quote ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.SourceResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse "Completed or batch limit reached"
// @Failure     502  {object} handlers.ErrorResponse "Sourcing service failed"
// @Router      /quotes/{id}/source [post]
func (h *Handlers) SourceQuote(c *gin.Context) {
	id, valid := quoteID(c)
	if !valid {
		return
	}
	providers, err := h.sourcing.EnsureProviders(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	if providers == nil {
		providers = []domain.Provider{}
	}
	ok(c, http.StatusOK, SourceResponse{QuoteID: id, Providers: providers})
}

// Stats godoc
// @ID          stats
// @Summary     Lifecycle totals and per-product price averages
// @Tags        Stats
// @Produce     json
// @Success     200  {object} handlers.StatsResponse
// @Failure     500  {object} handlers.ErrorResponse
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	products, err := h.quotes.ProductStats(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if products == nil {
		products = []domain.ProductStat{}
	}
	resp := StatsResponse{Products: products}
	if h.stats != nil {
		resp.Totals = h.stats.Snapshot()
	}
	if h.inbox != nil {
		resp.Queued = h.inbox.Pending()
	}
	ok(c, http.StatusOK, resp)
}

// ListProviders godoc
// @ID          listProviders
// @Summary     List registered providers
// @Description Providers are registered once per email by sourcing rounds and never overwritten.
// @Tags        Providers
// @Produce     json
// @Success     200  {object} handlers.ProvidersResponse
// @Failure     500  {object} handlers.ErrorResponse
// @Router      /providers [get]
func (h *Handlers) ListProviders(c *gin.Context) {
	items, err := h.quotes.Providers(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Provider{}
	}
	ok(c, http.StatusOK, ProvidersResponse{Providers: items})
}
