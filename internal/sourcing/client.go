// Package sourcing talks to the provider-discovery service. The service
// receives the job as JSON and answers with the providers able to serve it.
package sourcing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

const maxResponseBytes = 1 << 20

type response struct {
	Providers []domain.Provider `json:"providers"`
}

// Client posts jobs to a sourcing endpoint.
type Client struct {
	URL  string
	HTTP *http.Client
}

// NewClient returns a Client for url with a per-request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

// SourceProviders returns the providers discovered for job. An empty list is
// a valid answer.
func (c *Client) SourceProviders(ctx context.Context, job domain.JobDetails) ([]domain.Provider, error) {
	ctx, span := otel.Tracer("sourcing").Start(ctx, "SourceProviders")
	defer span.End()

	body, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sourcing: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes)) //nolint:errcheck
		return nil, fmt.Errorf("sourcing: unexpected status %d", resp.StatusCode)
	}
	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("sourcing: decode: %w", err)
	}
	span.SetAttributes(attribute.Int("providers", len(out.Providers)))
	return out.Providers, nil
}

// Noop never finds providers. It is used when no sourcing endpoint is
// configured, leaving records for manual follow-up.
type Noop struct{}

func (Noop) SourceProviders(context.Context, domain.JobDetails) ([]domain.Provider, error) {
	return nil, nil
}
