// Package extraction talks to the external receipt extraction capability.
// The capability is opaque: it takes an image and answers with raw candidate
// store, items and text which the worker then matches and normalizes.
package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"receipt-scan-service/internal/logging"
)

// ErrUnavailable is returned when no extractor endpoint is configured.
var ErrUnavailable = errors.New("receipt extraction is not configured")

type Request struct {
	Image           []byte
	ContentType     string
	KnownCategories []string
}

type RawItem struct {
	Name         string              `json:"name"`
	UnitPrice    decimal.Decimal     `json:"unit_price"`
	Quantity     decimal.NullDecimal `json:"quantity"`
	CategoryHint *string             `json:"category_hint"`
}

// Raw is the capability's answer before any matching.
type Raw struct {
	StoreName     string    `json:"store_name"`
	StoreLocation *string   `json:"store_location"`
	Items         []RawItem `json:"items"`
	RecordedAt    *string   `json:"recorded_at"`
	Category      *string   `json:"category"`
	Text          string    `json:"text"`
	Confidence    float64   `json:"confidence"`
}

type Extractor interface {
	Extract(ctx context.Context, req Request) (*Raw, error)
}

// maxResponseBytes bounds what is read back from the extraction capability.
const maxResponseBytes = 4 << 20

type HTTPClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
	schema     *jsonschema.Schema
}

func NewHTTPClient(url, apiKey string, timeout time.Duration, log *slog.Logger) (*HTTPClient, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.Component(log, "extraction"),
		schema:     schema,
	}, nil
}

func (c *HTTPClient) Extract(ctx context.Context, req Request) (*Raw, error) {
	if c.url == "" {
		return nil, ErrUnavailable
	}
	start := time.Now()

	body := map[string]any{
		"image":            base64.StdEncoding.EncodeToString(req.Image),
		"content_type":     req.ContentType,
		"known_categories": req.KnownCategories,
	}
	raw, err := c.post(ctx, body)
	if err != nil {
		c.log.Error("extraction http error", logging.FieldError, err,
			logging.FieldDuration, time.Since(start).Milliseconds())
		return nil, err
	}

	if err := validate(c.schema, raw); err != nil {
		c.log.Error("extraction schema validation failed", logging.FieldError, err, "raw_bytes", len(raw))
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var out Raw
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal extraction: %w", err)
	}

	c.log.Info("extraction ok",
		"store", out.StoreName,
		"items", len(out.Items),
		"confidence", out.Confidence,
		logging.FieldDuration, time.Since(start).Milliseconds(),
	)
	return &out, nil
}

func (c *HTTPClient) post(ctx context.Context, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("extractor response body close error", logging.FieldError, err)
		}
	}(resp.Body)

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, maxResponseBytes+1)); err != nil {
		return nil, fmt.Errorf("read extractor response: %w", err)
	}
	if buf.Len() > maxResponseBytes {
		return nil, fmt.Errorf("extractor response exceeds %d bytes", maxResponseBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extractor status %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}
