package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"bestseller-tracker/pkg/tracker"
)

// Notifier formats tracker events into Block Kit messages and posts
// them through a Provider.
type Notifier struct {
	provider Provider
	channel  string
	logger   *slog.Logger
}

// NewNotifier creates a notifier posting to the given channel.
func NewNotifier(provider Provider, channel string, logger *slog.Logger) *Notifier {
	return &Notifier{provider: provider, channel: channel, logger: logger}
}

// Alert is the payload for a single badge-change notification.
type Alert struct {
	ASIN         string
	ProductTitle string
	ChangeType   string
	Category     string
	CategoryID   string
	PreviousRank *int
	NewRank      *int
	DetectedAt   time.Time
	ProductURL   string
}

// Summary is the payload for the daily activity digest.
type Summary struct {
	Date          time.Time
	ItemsTracked  int
	ChecksRun     int
	BadgesGained  int
	BadgesLost    int
	TopCategories []CategoryCount
}

// CategoryCount pairs a category name with its change count.
type CategoryCount struct {
	Name  string
	Count int
}

var severityEmoji = map[string]string{
	"info":    "ℹ️",
	"warning": "⚠️",
	"error":   "🚨",
	"success": "✅",
}

func formatRank(rank *int) string {
	if rank == nil {
		return "—"
	}
	return fmt.Sprintf("#%d", *rank)
}

// SendChangeAlert posts one badge-change notification.
func (n *Notifier) SendChangeAlert(ctx context.Context, alert *Alert) error {
	var headline, verdict string
	switch alert.ChangeType {
	case tracker.ChangeGained:
		headline = "🎉 Best Seller Badge GAINED"
		verdict = fmt.Sprintf("*%s* just became the #1 Best Seller in *%s*!", alert.ProductTitle, alert.Category)
	case tracker.ChangeLost:
		headline = "⚠️ Best Seller Badge LOST"
		verdict = fmt.Sprintf("*%s* is no longer the #1 Best Seller in *%s*.", alert.ProductTitle, alert.Category)
	default:
		headline = "📊 Rank Change"
		verdict = fmt.Sprintf("*%s* moved in *%s*.", alert.ProductTitle, alert.Category)
	}

	msg := &Message{
		Channel: n.channel,
		Text:    headline + ": " + alert.ProductTitle,
		Blocks: []Block{
			header(headline),
			section(verdict),
			fields(
				"*ASIN:*\n`"+alert.ASIN+"`",
				"*Category:*\n"+alert.Category+" ("+alert.CategoryID+")",
				"*Previous rank:*\n"+formatRank(alert.PreviousRank),
				"*New rank:*\n"+formatRank(alert.NewRank),
			),
			{Type: "actions", Elements: []Element{
				button("View on Amazon", alert.ProductURL),
				button("Keepa Chart", "https://keepa.com/#!product/1-"+alert.ASIN),
			}},
			contextBlock("Detected at " + alert.DetectedAt.UTC().Format("2006-01-02 15:04:05 MST")),
		},
	}

	if err := n.provider.Post(ctx, msg); err != nil {
		return fmt.Errorf("send change alert: %w", err)
	}

	n.logger.Info("Change alert sent",
		"asin", alert.ASIN,
		"change_type", alert.ChangeType,
		"category", alert.Category)
	return nil
}

// SendSystemAlert posts an operational notice. Severity selects the
// emoji: info, warning, error, or success.
func (n *Notifier) SendSystemAlert(ctx context.Context, text, severity string) error {
	emoji, ok := severityEmoji[severity]
	if !ok {
		emoji = severityEmoji["info"]
	}

	msg := &Message{
		Channel: n.channel,
		Text:    emoji + " " + text,
		Blocks: []Block{
			section(emoji + " *System:* " + text),
			contextBlock(time.Now().UTC().Format("2006-01-02 15:04:05 MST")),
		},
	}

	if err := n.provider.Post(ctx, msg); err != nil {
		return fmt.Errorf("send system alert: %w", err)
	}
	return nil
}

// SendDailySummary posts the activity digest for one day.
func (n *Notifier) SendDailySummary(ctx context.Context, summary *Summary) error {
	blocks := []Block{
		header("📈 Daily Best Seller Summary"),
		contextBlock(summary.Date.UTC().Format("Monday, January 2, 2006")),
		fields(
			fmt.Sprintf("*Items tracked:*\n%d", summary.ItemsTracked),
			fmt.Sprintf("*Checks run:*\n%d", summary.ChecksRun),
			fmt.Sprintf("*Badges gained:*\n🎉 %d", summary.BadgesGained),
			fmt.Sprintf("*Badges lost:*\n⚠️ %d", summary.BadgesLost),
		),
	}

	if len(summary.TopCategories) > 0 {
		var lines []string
		for _, cat := range summary.TopCategories {
			lines = append(lines, fmt.Sprintf("• %s — %d change(s)", cat.Name, cat.Count))
		}
		blocks = append(blocks,
			divider(),
			section("*Most active categories:*\n"+strings.Join(lines, "\n")),
		)
	} else {
		blocks = append(blocks, divider(), section("No badge changes in the last 24 hours."))
	}

	msg := &Message{
		Channel: n.channel,
		Text: fmt.Sprintf("Daily summary: %d gained, %d lost",
			summary.BadgesGained, summary.BadgesLost),
		Blocks: blocks,
	}

	if err := n.provider.Post(ctx, msg); err != nil {
		return fmt.Errorf("send daily summary: %w", err)
	}
	return nil
}

// BuildSummary derives a daily digest from a day's change records.
func BuildSummary(date time.Time, itemsTracked, checksRun int, changes []tracker.Change) *Summary {
	summary := &Summary{
		Date:         date,
		ItemsTracked: itemsTracked,
		ChecksRun:    checksRun,
	}

	counts := make(map[string]int)
	for i := range changes {
		change := &changes[i]
		switch change.Type {
		case tracker.ChangeGained:
			summary.BadgesGained++
		case tracker.ChangeLost:
			summary.BadgesLost++
		}
		if change.Category != "" {
			counts[change.Category]++
		}
	}

	for name, count := range counts {
		summary.TopCategories = append(summary.TopCategories, CategoryCount{Name: name, Count: count})
	}
	sort.Slice(summary.TopCategories, func(i, j int) bool {
		if summary.TopCategories[i].Count != summary.TopCategories[j].Count {
			return summary.TopCategories[i].Count > summary.TopCategories[j].Count
		}
		return summary.TopCategories[i].Name < summary.TopCategories[j].Name
	})
	if len(summary.TopCategories) > 5 {
		summary.TopCategories = summary.TopCategories[:5]
	}

	return summary
}

// HealthCheck reports whether the provider can reach Slack.
func (n *Notifier) HealthCheck(ctx context.Context) bool {
	return n.provider.HealthCheck(ctx)
}
