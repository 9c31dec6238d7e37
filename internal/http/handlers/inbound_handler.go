// Inbound mail webhook.
//
//   - POST /inbound   (enqueue one message for classification)
//
// The mail gateway posts every received message here. The handler only
// validates and enqueues; classification and the pipelines run on the
// dispatcher's workers.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-quote-engine/internal/services"
)

// InboundRequest is one received email.
type InboundRequest struct {
	Subject string `json:"subject" example:"Need a quote: Miami to Tampa"`
	Body    string `json:"body" example:"20 pallets out of Miami next week"`
	From    string `json:"from" example:"shipper@example.test"`
	// ReceivedAt defaults to the time the webhook was called.
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// InboundResponse acknowledges an accepted message.
type InboundResponse struct {
	Status string `json:"status" example:"queued"`
	Queued int    `json:"queued"`
}

// PostInbound godoc
// @ID          postInbound
// @Summary     Accept an inbound email
// @Description Enqueues the message for classification. Processing is asynchronous.
// @Tags        Inbound
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.InboundRequest  true  "Email"
// @Success     202  {object} handlers.InboundResponse
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     503  {object} handlers.ErrorResponse "Queue full"
// @Router      /inbound [post]
func (h *Handlers) PostInbound(c *gin.Context) {
	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.From) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from is required")
		return
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Body) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject or body is required")
		return
	}

	msg := services.InboundMessage{
		Subject:    req.Subject,
		Body:       req.Body,
		From:       strings.TrimSpace(req.From),
		ReceivedAt: time.Now().UTC(),
	}
	if req.ReceivedAt != nil {
		msg.ReceivedAt = req.ReceivedAt.UTC()
	}
	if err := h.inbox.Submit(msg); err != nil {
		c.Header("Retry-After", "5")
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, InboundResponse{Status: "queued", Queued: h.inbox.Pending()})
}
