// Package keepa handles fetching and parsing product rank data from the Keepa API.
package keepa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"bestseller-tracker/pkg/tracker"
)

const (
	// MaxBatchSize is the provider's hard cap on ASINs per product call.
	MaxBatchSize = 100

	defaultBaseURL     = "https://api.keepa.com"
	defaultMinInterval = time.Second

	// healthCheckASIN is a stable, long-lived catalog key used to probe the API.
	healthCheckASIN = "B0088PUEPK"
)

// Meta carries provider-side metadata from a batch call.
type Meta struct {
	TokensLeft       int   `json:"tokens_left"`
	RefillIn         int   `json:"refill_in"`
	RefillRate       int   `json:"refill_rate"`
	ResponseTimeMs   int64 `json:"response_time_ms"`
	ASINsRequested   int   `json:"asins_requested"`
	ProductsReturned int   `json:"products_returned"`
}

// HTTPError indicates a non-2xx response from the provider.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("keepa HTTP %d", e.StatusCode)
}

// Client fetches product data from the Keepa API.
// A single instance is shared by every caller; the minimum inter-call
// spacing is enforced across all of them.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	minInterval time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithMinInterval overrides the minimum spacing between outbound calls.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

// New creates a new Keepa client.
func New(apiKey string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		httpClient:  httpClient,
		logger:      logger,
		minInterval: defaultMinInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rawProduct is the wire shape of one product. Sales rank values are kept
// raw so one malformed category entry cannot fail the whole product.
type rawProduct struct {
	ASIN         string                     `json:"asin"`
	Title        string                     `json:"title"`
	Brand        string                     `json:"brand"`
	SalesRanks   map[string]json.RawMessage `json:"salesRanks"`
	CategoryTree []tracker.Category         `json:"categoryTree"`
	CurrentPrice *int64                     `json:"currentPrice"`
	Availability *int64                     `json:"availabilityAmazon"`
	MonthlySold  *int64                     `json:"monthlySold"`
	LastUpdate   int64                      `json:"lastUpdate"`
}

type batchResponse struct {
	Products   []json.RawMessage `json:"products"`
	TokensLeft int               `json:"tokensLeft"`
	RefillIn   int               `json:"refillIn"`
	RefillRate int               `json:"refillRate"`
}

// FetchBatch fetches product data for up to MaxBatchSize ASINs in a single
// API call. Callers must pre-chunk larger lists.
func (c *Client) FetchBatch(ctx context.Context, asins []string) ([]tracker.Product, Meta, error) {
	if len(asins) == 0 {
		return nil, Meta{}, errors.New("no asins to fetch")
	}
	if len(asins) > MaxBatchSize {
		return nil, Meta{}, fmt.Errorf("maximum %d asins per batch request, got %d", MaxBatchSize, len(asins))
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("domain", "1") // Amazon.com
	params.Set("asin", strings.Join(asins, ","))
	params.Set("stats", "7")
	params.Set("history", "0")
	reqURL := c.baseURL + "/product?" + params.Encode()

	var body batchResponse
	var responseTime time.Duration

	err := retry.Do(
		func() error {
			c.waitForSlot(ctx)

			c.logger.Info("Keepa API request starting",
				"method", "GET",
				"endpoint", "/product",
				"asin_count", len(asins))

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			responseTime = time.Since(startTime)

			if err != nil {
				c.logger.Warn("Keepa API request failed, will retry",
					"duration_ms", responseTime.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				c.logger.Warn("Keepa API returned non-OK status",
					"status_code", resp.StatusCode,
					"duration_ms", responseTime.Milliseconds())
				httpErr := &HTTPError{StatusCode: resp.StatusCode}
				// Bad key or bad request will not heal on retry.
				if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
					return retry.Unrecoverable(httpErr)
				}
				return httpErr
			}

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if err := json.Unmarshal(data, &body); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			c.logger.Info("Keepa API request completed",
				"endpoint", "/product",
				"status_code", resp.StatusCode,
				"duration_ms", responseTime.Milliseconds(),
				"tokens_left", body.TokensLeft)

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Keepa fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("after retries: %w", err)
	}

	products := make([]tracker.Product, 0, len(body.Products))
	for _, raw := range body.Products {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		product, err := parseProduct(raw)
		if err != nil {
			c.logger.Warn("Skipping unparseable product record", "error", err)
			continue
		}
		products = append(products, product)
	}

	meta := Meta{
		TokensLeft:       body.TokensLeft,
		RefillIn:         body.RefillIn,
		RefillRate:       body.RefillRate,
		ResponseTimeMs:   responseTime.Milliseconds(),
		ASINsRequested:   len(asins),
		ProductsReturned: len(products),
	}

	c.logger.Info("Keepa batch request completed",
		"asins_requested", len(asins),
		"products_returned", len(products),
		"tokens_left", meta.TokensLeft,
		"response_time_ms", meta.ResponseTimeMs)

	return products, meta, nil
}

// FetchOne fetches data for a single ASIN.
func (c *Client) FetchOne(ctx context.Context, asin string) (*tracker.Product, error) {
	products, _, err := c.FetchBatch(ctx, []string{asin})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, errors.New("no product data returned")
	}
	return &products[0], nil
}

// HealthCheck reports whether the Keepa API is reachable.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if _, err := c.FetchOne(ctx, healthCheckASIN); err != nil {
		c.logger.Error("Keepa health check failed", "error", err)
		return false
	}
	return true
}

// waitForSlot enforces the minimum spacing between outbound calls. The
// last-call time is shared by every logical caller of this client.
func (c *Client) waitForSlot(ctx context.Context) {
	c.mu.Lock()
	deficit := c.minInterval - time.Since(c.lastCall)
	if deficit > 0 {
		timer := time.NewTimer(deficit)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	c.lastCall = time.Now()
	c.mu.Unlock()
}

// parseProduct converts one raw product record, dropping sales-rank
// entries that do not decode as integer sequences.
func parseProduct(raw json.RawMessage) (tracker.Product, error) {
	var rp rawProduct
	if err := json.Unmarshal(raw, &rp); err != nil {
		return tracker.Product{}, fmt.Errorf("unmarshal product: %w", err)
	}

	var ranks map[string][]int64
	if len(rp.SalesRanks) > 0 {
		ranks = make(map[string][]int64, len(rp.SalesRanks))
		for categoryID, rawValues := range rp.SalesRanks {
			var values []int64
			if err := json.Unmarshal(rawValues, &values); err != nil {
				// Malformed rank entries are skipped, not raised.
				continue
			}
			ranks[categoryID] = values
		}
	}

	return tracker.Product{
		ASIN:         rp.ASIN,
		Title:        rp.Title,
		Brand:        rp.Brand,
		SalesRanks:   ranks,
		CategoryTree: rp.CategoryTree,
		CurrentPrice: rp.CurrentPrice,
		Availability: rp.Availability,
		MonthlySold:  rp.MonthlySold,
		LastUpdate:   rp.LastUpdate,
	}, nil
}
