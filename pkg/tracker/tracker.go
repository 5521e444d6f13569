// Package tracker contains the core domain types for the best-seller badge tracker.
package tracker

import "time"

// Change type values. RankShift is reserved in the schema but never
// produced by the badge comparison; it exists so stored records and
// notifications can represent it if a future detector emits it.
const (
	ChangeGained    = "gained"
	ChangeLost      = "lost"
	ChangeRankShift = "rank_change"
)

// Item is a catalog entry under periodic monitoring.
type Item struct {
	ASIN          string     `json:"asin"`            // 10-char alphanumeric catalog key
	ProductTitle  string     `json:"product_title"`   // Cached title for display fallback
	Priority      int        `json:"priority"`        // Lower = checked sooner
	Active        bool       `json:"is_active"`       // Inactive items are skipped
	LastCheckedAt *time.Time `json:"last_checked_at"` // Updated after each processing attempt
}

// Badge marks an item as rank #1 in one category at observation time.
// A Badge is never constructed for a rank other than 1.
type Badge struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	Rank         int    `json:"rank"`
}

// Category is one node of a product's category tree.
type Category struct {
	ID   int64  `json:"catId"`
	Name string `json:"name"`
}

// Product is one record returned by the rank-data provider.
type Product struct {
	ASIN         string             `json:"asin"`
	Title        string             `json:"title,omitempty"`
	Brand        string             `json:"brand,omitempty"`
	SalesRanks   map[string][]int64 `json:"salesRanks,omitempty"` // category id -> [history epoch, current rank, ...]
	CategoryTree []Category         `json:"categoryTree,omitempty"`
	CurrentPrice *int64             `json:"currentPrice,omitempty"`
	Availability *int64             `json:"availabilityAmazon,omitempty"`
	MonthlySold  *int64             `json:"monthlySold,omitempty"`
	LastUpdate   int64              `json:"lastUpdate,omitempty"` // Provider's update marker
}

// State is the most recent observation persisted for one item.
// Fully overwritten on every successful check.
type State struct {
	ASIN         string             `json:"asin"`
	Badges       []Badge            `json:"bestseller_badges"`
	SalesRanks   map[string][]int64 `json:"sales_ranks"`
	CategoryTree []Category         `json:"category_tree"`
	ProductTitle string             `json:"product_title,omitempty"`
	Brand        string             `json:"brand,omitempty"`
	CurrentPrice *int64             `json:"current_price,omitempty"`
	Availability *int64             `json:"availability_amazon,omitempty"`
	MonthlySold  *int64             `json:"monthly_sold,omitempty"`
	RawProduct   *Product           `json:"raw_keepa_data,omitempty"` // Raw provider payload kept for audit
	UpdatedAt    time.Time          `json:"updated_at"`
}

// HistoryEntry is an immutable record of one check.
type HistoryEntry struct {
	ASIN         string             `json:"asin"`
	Badges       []Badge            `json:"bestseller_badges"`
	SalesRanks   map[string][]int64 `json:"sales_ranks"`
	CategoryTree []Category         `json:"category_tree"`
	ProductTitle string             `json:"product_title,omitempty"`
	Brand        string             `json:"brand,omitempty"`
	CurrentPrice *int64             `json:"current_price,omitempty"`
	Availability *int64             `json:"availability_amazon,omitempty"`
	MonthlySold  *int64             `json:"monthly_sold,omitempty"`
	TokensUsed   int                `json:"tokens_used"`
	CheckedAt    time.Time          `json:"checked_at"`
}

// Change is one gained-or-lost badge transition for an (item, category) pair.
type Change struct {
	ID                 string     `json:"id"`
	ASIN               string     `json:"asin"`
	Type               string     `json:"change_type"` // gained | lost
	Category           string     `json:"category"`
	CategoryID         string     `json:"category_id"`
	PreviousRank       *int       `json:"previous_rank"`
	NewRank            *int       `json:"new_rank"`
	PreviousBadge      bool       `json:"previous_badge_status"`
	NewBadge           bool       `json:"new_badge_status"`
	DetectedAt         time.Time  `json:"detected_at"`
	NotificationSent   bool       `json:"notification_sent"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty"`
	NotificationMethod string     `json:"notification_method,omitempty"`
}

// BatchResult aggregates one orchestrator run.
type BatchResult struct {
	BatchID           string `json:"batch_id"`
	ItemsProcessed    int    `json:"asins_processed"`
	SuccessfulChecks  int    `json:"successful_checks"`
	FailedChecks      int    `json:"failed_checks"`
	ChangesDetected   int    `json:"changes_detected"`
	NotificationsSent int    `json:"notifications_sent"`
	ProcessingSeconds int    `json:"processing_time_seconds"`
	EstimatedCents    int    `json:"estimated_cost_cents"`
}

// UsageRecord is one persisted API-usage log row. The success and
// failure counts are per-item check outcomes within the batch, not
// provider-call counts (one batch is one provider call).
type UsageRecord struct {
	BatchID          string    `json:"batch_id"`
	ItemsProcessed   int       `json:"asins_processed"`
	SuccessfulChecks int       `json:"successful_checks"`
	FailedChecks     int       `json:"failed_checks"`
	TokensConsumed   int       `json:"tokens_consumed"`
	ResponseTimeMs   int64     `json:"avg_response_time_ms"`
	EstimatedCents   int       `json:"estimated_cost_cents"`
	CompletedAt      time.Time `json:"processing_completed_at"`
}

// ErrorRecord is one persisted error-log row.
type ErrorRecord struct {
	Type       string    `json:"error_type"`
	ASIN       string    `json:"asin,omitempty"`
	Message    string    `json:"error_message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SchedulerStatus is a read-only snapshot of the scheduler state machine.
type SchedulerStatus struct {
	Running         bool       `json:"is_running"`
	LastBatchRun    *time.Time `json:"last_batch_run"`
	NextBatchRun    *time.Time `json:"next_batch_run"`
	IntervalMinutes int        `json:"check_interval_minutes"`
}

// ProductURL returns the canonical storefront URL for an item key.
func ProductURL(asin string) string {
	return "https://amazon.com/dp/" + asin
}
