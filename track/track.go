// Package track orchestrates one monitoring cycle: fetch rank data for
// the due items, diff badge sets against stored state, persist the
// results, and send notifications for detected changes.
package track

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bestseller-tracker/keepa"
	"bestseller-tracker/pkg/tracker"
	"bestseller-tracker/slack"
)

// highActivityThreshold is the change count at which a batch triggers
// an extra system alert.
const highActivityThreshold = 5

// Provider fetches product rank data in batches.
type Provider interface {
	FetchBatch(ctx context.Context, asins []string) ([]tracker.Product, keepa.Meta, error)
}

// Store is the persistence surface the batch processor needs.
type Store interface {
	ItemsToCheck(ctx context.Context, limit int, priorityFilter *int) []tracker.Item
	CurrentState(ctx context.Context, asin string) *tracker.State
	SaveCurrentState(ctx context.Context, state *tracker.State) error
	AppendHistory(ctx context.Context, entry *tracker.HistoryEntry) error
	CreateChange(ctx context.Context, change *tracker.Change) (string, error)
	MarkChangeNotified(ctx context.Context, changeID, method string, at time.Time)
	TouchItem(ctx context.Context, asin string, at time.Time)
	LogUsage(ctx context.Context, record *tracker.UsageRecord)
	LogError(ctx context.Context, record *tracker.ErrorRecord)
}

// Notifier delivers change alerts and operational notices.
type Notifier interface {
	SendChangeAlert(ctx context.Context, alert *slack.Alert) error
	SendSystemAlert(ctx context.Context, text, severity string) error
}

// Tracker runs monitoring batches.
type Tracker struct {
	provider Provider
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// New creates a batch processor.
func New(provider Provider, store Store, notifier Notifier, logger *slog.Logger) *Tracker {
	return &Tracker{
		provider: provider,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// ProcessBatch runs one monitoring cycle over the items due for a
// check. A nil priorityFilter checks items of every priority. One item
// failing does not abort the batch; a failed provider fetch does.
func (t *Tracker) ProcessBatch(ctx context.Context, limit int, priorityFilter *int) (*tracker.BatchResult, error) {
	startTime := time.Now()
	result := &tracker.BatchResult{BatchID: uuid.NewString()}

	items := t.store.ItemsToCheck(ctx, limit, priorityFilter)
	if len(items) == 0 {
		t.logger.Info("No items due for checking", "batch_id", result.BatchID)
		return result, nil
	}

	asins := make([]string, 0, len(items))
	for i := range items {
		asins = append(asins, items[i].ASIN)
	}

	t.logger.Info("Batch starting",
		"batch_id", result.BatchID,
		"item_count", len(items))

	products, meta, err := t.provider.FetchBatch(ctx, asins)
	if err != nil {
		t.store.LogError(ctx, &tracker.ErrorRecord{
			Type:       "keepa_api",
			Message:    err.Error(),
			OccurredAt: time.Now().UTC(),
		})
		return nil, fmt.Errorf("fetch batch: %w", err)
	}

	byASIN := make(map[string]*tracker.Product, len(products))
	for i := range products {
		byASIN[products[i].ASIN] = &products[i]
	}

	result.ItemsProcessed = len(items)
	for i := range items {
		item := &items[i]

		product, ok := byASIN[item.ASIN]
		if !ok {
			result.FailedChecks++
			t.logger.Warn("Provider returned no record for item", "asin", item.ASIN)
			t.store.LogError(ctx, &tracker.ErrorRecord{
				Type:       "missing_product",
				ASIN:       item.ASIN,
				Message:    "no product record in batch response",
				OccurredAt: time.Now().UTC(),
			})
			continue
		}

		changes, err := t.processItem(ctx, item, product)
		if err != nil {
			result.FailedChecks++
			t.logger.Error("Failed to process item", "asin", item.ASIN, "error", err)
			t.store.LogError(ctx, &tracker.ErrorRecord{
				Type:       "processing",
				ASIN:       item.ASIN,
				Message:    err.Error(),
				OccurredAt: time.Now().UTC(),
			})
			continue
		}

		result.SuccessfulChecks++
		result.ChangesDetected += len(changes)
		for _, change := range changes {
			if t.notifyChange(ctx, item, product, change) {
				result.NotificationsSent++
			}
		}
	}

	tokens := len(asins)
	result.EstimatedCents = keepa.EstimateCost(tokens)
	result.ProcessingSeconds = int(time.Since(startTime).Seconds())

	t.store.LogUsage(ctx, &tracker.UsageRecord{
		BatchID:          result.BatchID,
		ItemsProcessed:   result.ItemsProcessed,
		SuccessfulChecks: result.SuccessfulChecks,
		FailedChecks:     result.FailedChecks,
		TokensConsumed:   tokens,
		ResponseTimeMs:   meta.ResponseTimeMs,
		EstimatedCents:   result.EstimatedCents,
		CompletedAt:      time.Now().UTC(),
	})

	t.logger.Info("Batch completed",
		"batch_id", result.BatchID,
		"successful", result.SuccessfulChecks,
		"failed", result.FailedChecks,
		"changes", result.ChangesDetected,
		"notifications", result.NotificationsSent,
		"duration_seconds", result.ProcessingSeconds)

	if result.ChangesDetected >= highActivityThreshold {
		text := fmt.Sprintf("High activity: %d badge changes detected in one batch", result.ChangesDetected)
		if err := t.notifier.SendSystemAlert(ctx, text, "warning"); err != nil {
			t.logger.Error("Failed to send high-activity alert", "error", err)
		}
	}

	return result, nil
}

// processItem diffs one product observation against stored state and
// persists the change records, the new state, and a history entry, in
// that order. The returned changes are already durably stored.
func (t *Tracker) processItem(ctx context.Context, item *tracker.Item, product *tracker.Product) ([]*tracker.Change, error) {
	now := time.Now().UTC()
	currentBadges := keepa.ExtractBadges(product)
	prior := t.store.CurrentState(ctx, item.ASIN)

	var changes []*tracker.Change
	if prior == nil {
		// First observation: record state only, no change events.
		t.logger.Info("First observation for item",
			"asin", item.ASIN,
			"badge_count", len(currentBadges))
	} else {
		comparison := keepa.CompareBadges(prior.Badges, currentBadges)
		for _, badge := range comparison.Gained {
			newRank := badge.Rank
			changes = append(changes, &tracker.Change{
				ASIN:          item.ASIN,
				Type:          tracker.ChangeGained,
				Category:      badge.CategoryName,
				CategoryID:    badge.CategoryID,
				NewRank:       &newRank,
				PreviousBadge: false,
				NewBadge:      true,
				DetectedAt:    now,
			})
		}
		for _, badge := range comparison.Lost {
			previousRank := badge.Rank
			changes = append(changes, &tracker.Change{
				ASIN:          item.ASIN,
				Type:          tracker.ChangeLost,
				Category:      badge.CategoryName,
				CategoryID:    badge.CategoryID,
				PreviousRank:  &previousRank,
				NewRank:       keepa.CurrentRank(product, badge.CategoryID),
				PreviousBadge: true,
				NewBadge:      false,
				DetectedAt:    now,
			})
		}
	}

	for _, change := range changes {
		id, err := t.store.CreateChange(ctx, change)
		if err != nil {
			return nil, fmt.Errorf("persist change for category %s: %w", change.CategoryID, err)
		}
		change.ID = id
		t.logger.Info("Badge change detected",
			"asin", item.ASIN,
			"change_type", change.Type,
			"category", change.Category)
	}

	state := &tracker.State{
		ASIN:         item.ASIN,
		Badges:       currentBadges,
		SalesRanks:   product.SalesRanks,
		CategoryTree: product.CategoryTree,
		ProductTitle: product.Title,
		Brand:        product.Brand,
		CurrentPrice: product.CurrentPrice,
		Availability: product.Availability,
		MonthlySold:  product.MonthlySold,
		RawProduct:   product,
		UpdatedAt:    now,
	}
	if err := t.store.SaveCurrentState(ctx, state); err != nil {
		return nil, err
	}

	entry := &tracker.HistoryEntry{
		ASIN:         item.ASIN,
		Badges:       currentBadges,
		SalesRanks:   product.SalesRanks,
		CategoryTree: product.CategoryTree,
		ProductTitle: product.Title,
		Brand:        product.Brand,
		CurrentPrice: product.CurrentPrice,
		Availability: product.Availability,
		MonthlySold:  product.MonthlySold,
		TokensUsed:   1,
		CheckedAt:    now,
	}
	if err := t.store.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}

	t.store.TouchItem(ctx, item.ASIN, now)

	return changes, nil
}

// notifyChange sends the alert for one stored change and marks it
// notified on success. Returns whether a notification went out.
func (t *Tracker) notifyChange(ctx context.Context, item *tracker.Item, product *tracker.Product, change *tracker.Change) bool {
	if change.NotificationSent {
		return false
	}

	title := product.Title
	if title == "" {
		title = item.ProductTitle
	}
	if title == "" {
		title = "Product " + item.ASIN
	}

	alert := &slack.Alert{
		ASIN:         item.ASIN,
		ProductTitle: title,
		ChangeType:   change.Type,
		Category:     change.Category,
		CategoryID:   change.CategoryID,
		PreviousRank: change.PreviousRank,
		NewRank:      change.NewRank,
		DetectedAt:   change.DetectedAt,
		ProductURL:   tracker.ProductURL(item.ASIN),
	}

	if err := t.notifier.SendChangeAlert(ctx, alert); err != nil {
		// The change record stays unsent; a later pass may retry it.
		t.logger.Error("Failed to send change alert",
			"asin", item.ASIN,
			"change_id", change.ID,
			"error", err)
		return false
	}

	t.store.MarkChangeNotified(ctx, change.ID, "slack", time.Now().UTC())
	return true
}
