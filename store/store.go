// Package store handles persistence of tracked items, observations, and
// change records through a small record-store interface with pluggable
// backends.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"bestseller-tracker/pkg/tracker"
)

// Collection names.
const (
	CollectionItems   = "tracked_items"
	CollectionState   = "current_state"
	CollectionHistory = "asin_history"
	CollectionChanges = "bestseller_changes"
	CollectionUsage   = "api_usage_log"
	CollectionErrors  = "error_log"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// IsNotFound checks if an error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Backend is the raw record-store interface implemented by the Cloud
// Storage, local-directory, and Postgres backends.
type Backend interface {
	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// Put stores data under key, overwriting any existing record.
	Put(ctx context.Context, collection, key string, data []byte) error
	// Append stores data under a freshly generated key and returns it.
	Append(ctx context.Context, collection string, data []byte) (string, error)
	// List returns every record in a collection.
	List(ctx context.Context, collection string) ([][]byte, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Store exposes the typed persistence operations the tracking pipeline
// consumes. Reads and telemetry writes fail soft (logged, zero value
// returned); the item processor's write sequence propagates errors so a
// failed item can be counted as failed.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a typed store over a backend.
func New(backend Backend, logger *slog.Logger) *Store {
	return &Store{backend: backend, logger: logger}
}

// ItemsToCheck returns active tracked items ordered by priority (lower
// first) then by last-checked time (never-checked first), bounded by
// limit. A nil priorityFilter matches all priorities.
func (s *Store) ItemsToCheck(ctx context.Context, limit int, priorityFilter *int) []tracker.Item {
	records, err := s.backend.List(ctx, CollectionItems)
	if err != nil {
		s.logger.Error("Failed to list tracked items", "error", err)
		return nil
	}

	var items []tracker.Item
	for _, data := range records {
		var item tracker.Item
		if err := json.Unmarshal(data, &item); err != nil {
			s.logger.Warn("Skipping undecodable tracked item", "error", err)
			continue
		}
		if !item.Active {
			continue
		}
		if priorityFilter != nil && item.Priority != *priorityFilter {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		switch {
		case items[i].LastCheckedAt == nil:
			return items[j].LastCheckedAt != nil
		case items[j].LastCheckedAt == nil:
			return false
		default:
			return items[i].LastCheckedAt.Before(*items[j].LastCheckedAt)
		}
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// CurrentState loads the most recent persisted observation for an item.
// Returns nil when no state exists yet (first observation) or when the
// read fails.
func (s *Store) CurrentState(ctx context.Context, asin string) *tracker.State {
	data, err := s.backend.Get(ctx, CollectionState, asin)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Error("Failed to load current state", "asin", asin, "error", err)
		}
		return nil
	}

	var state tracker.State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Error("Failed to decode current state", "asin", asin, "error", err)
		return nil
	}
	return &state
}

// SaveCurrentState fully overwrites the persisted state for an item,
// creating it on the first successful check.
func (s *Store) SaveCurrentState(ctx context.Context, state *tracker.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.backend.Put(ctx, CollectionState, state.ASIN, data); err != nil {
		return fmt.Errorf("save current state: %w", err)
	}
	return nil
}

// AppendHistory appends one immutable check record.
func (s *Store) AppendHistory(ctx context.Context, entry *tracker.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	if _, err := s.backend.Append(ctx, CollectionHistory, data); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// CreateChange durably persists a change record and returns its assigned id.
func (s *Store) CreateChange(ctx context.Context, change *tracker.Change) (string, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return "", fmt.Errorf("marshal change: %w", err)
	}
	id, err := s.backend.Append(ctx, CollectionChanges, data)
	if err != nil {
		return "", fmt.Errorf("create change: %w", err)
	}
	return id, nil
}

// MarkChangeNotified flips the notification flags on a stored change
// record. Failures are logged, not propagated: the notification itself
// already went out.
func (s *Store) MarkChangeNotified(ctx context.Context, changeID, method string, at time.Time) {
	data, err := s.backend.Get(ctx, CollectionChanges, changeID)
	if err != nil {
		s.logger.Error("Failed to load change for notification update", "change_id", changeID, "error", err)
		return
	}

	var change tracker.Change
	if err := json.Unmarshal(data, &change); err != nil {
		s.logger.Error("Failed to decode change record", "change_id", changeID, "error", err)
		return
	}

	change.NotificationSent = true
	change.NotificationSentAt = &at
	change.NotificationMethod = method

	updated, err := json.Marshal(&change)
	if err != nil {
		s.logger.Error("Failed to marshal change record", "change_id", changeID, "error", err)
		return
	}
	if err := s.backend.Put(ctx, CollectionChanges, changeID, updated); err != nil {
		s.logger.Error("Failed to update change notification status", "change_id", changeID, "error", err)
	}
}

// TouchItem updates an item's last-checked timestamp. Fails soft.
func (s *Store) TouchItem(ctx context.Context, asin string, at time.Time) {
	data, err := s.backend.Get(ctx, CollectionItems, asin)
	if err != nil {
		s.logger.Error("Failed to load tracked item", "asin", asin, "error", err)
		return
	}

	var item tracker.Item
	if err := json.Unmarshal(data, &item); err != nil {
		s.logger.Error("Failed to decode tracked item", "asin", asin, "error", err)
		return
	}

	item.LastCheckedAt = &at

	updated, err := json.Marshal(&item)
	if err != nil {
		s.logger.Error("Failed to marshal tracked item", "asin", asin, "error", err)
		return
	}
	if err := s.backend.Put(ctx, CollectionItems, asin, updated); err != nil {
		s.logger.Error("Failed to update last checked time", "asin", asin, "error", err)
	}
}

// LogUsage persists one API-usage record. Fails soft.
func (s *Store) LogUsage(ctx context.Context, record *tracker.UsageRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("Failed to marshal usage record", "error", err)
		return
	}
	if _, err := s.backend.Append(ctx, CollectionUsage, data); err != nil {
		s.logger.Error("Failed to log API usage", "batch_id", record.BatchID, "error", err)
	}
}

// LogError persists one error record. Fails soft.
func (s *Store) LogError(ctx context.Context, record *tracker.ErrorRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("Failed to marshal error record", "error", err)
		return
	}
	if _, err := s.backend.Append(ctx, CollectionErrors, data); err != nil {
		s.logger.Error("Failed to log error record", "error_type", record.Type, "error", err)
	}
}

// RecentChanges returns change records detected at or after the cutoff.
// Fails soft.
func (s *Store) RecentChanges(ctx context.Context, since time.Time) []tracker.Change {
	records, err := s.backend.List(ctx, CollectionChanges)
	if err != nil {
		s.logger.Error("Failed to list changes", "error", err)
		return nil
	}

	var changes []tracker.Change
	for _, data := range records {
		var change tracker.Change
		if err := json.Unmarshal(data, &change); err != nil {
			s.logger.Warn("Skipping undecodable change record", "error", err)
			continue
		}
		if change.DetectedAt.Before(since) {
			continue
		}
		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].DetectedAt.After(changes[j].DetectedAt)
	})
	return changes
}

// HistoryCountSince returns the number of check records made at or
// after the cutoff. Fails soft.
func (s *Store) HistoryCountSince(ctx context.Context, since time.Time) int {
	records, err := s.backend.List(ctx, CollectionHistory)
	if err != nil {
		s.logger.Error("Failed to list history", "error", err)
		return 0
	}

	count := 0
	for _, data := range records {
		var entry tracker.HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if !entry.CheckedAt.Before(since) {
			count++
		}
	}
	return count
}

// ItemCount returns the number of active tracked items. Fails soft.
func (s *Store) ItemCount(ctx context.Context) int {
	return len(s.ItemsToCheck(ctx, 0, nil))
}

// HealthCheck reports whether the backend is reachable.
func (s *Store) HealthCheck(ctx context.Context) bool {
	if err := s.backend.Ping(ctx); err != nil {
		s.logger.Error("Store health check failed", "error", err)
		return false
	}
	return true
}
