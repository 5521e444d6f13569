package keepa

import (
	"strconv"

	"bestseller-tracker/pkg/tracker"
)

// rankKind classifies one sales-rank entry after parsing.
type rankKind int

const (
	rankMalformed rankKind = iota
	rankUnranked
	rankRanked
)

// rankEntry is the parsed form of one category's sales-rank values.
type rankEntry struct {
	kind rankKind
	rank int
}

// parseRank classifies a raw sales-rank value sequence. The second
// positional value is the current rank; the provider uses negative
// values for items with no rank in that category.
func parseRank(values []int64) rankEntry {
	if len(values) == 0 {
		return rankEntry{kind: rankUnranked}
	}
	if len(values) < 2 {
		return rankEntry{kind: rankMalformed}
	}
	rank := values[1]
	if rank < 1 {
		return rankEntry{kind: rankUnranked}
	}
	return rankEntry{kind: rankRanked, rank: int(rank)}
}

// ExtractBadges returns the best-seller badges for a product: one Badge
// per category where its current rank is exactly 1. An absent or empty
// rank mapping yields an empty set, not an error.
func ExtractBadges(product *tracker.Product) []tracker.Badge {
	badges := []tracker.Badge{}
	if len(product.SalesRanks) == 0 {
		return badges
	}

	names := categoryNames(product.CategoryTree)

	for categoryID, values := range product.SalesRanks {
		entry := parseRank(values)
		if entry.kind != rankRanked || entry.rank != 1 {
			continue
		}

		name, ok := names[categoryID]
		if !ok {
			name = "Category " + categoryID
		}

		badges = append(badges, tracker.Badge{
			CategoryID:   categoryID,
			CategoryName: name,
			Rank:         entry.rank,
		})
	}

	return badges
}

// CurrentRank returns the product's current rank in a category, or nil
// when the category is absent, unranked, or malformed.
func CurrentRank(product *tracker.Product, categoryID string) *int {
	values, ok := product.SalesRanks[categoryID]
	if !ok {
		return nil
	}
	entry := parseRank(values)
	if entry.kind != rankRanked {
		return nil
	}
	rank := entry.rank
	return &rank
}

func categoryNames(tree []tracker.Category) map[string]string {
	names := make(map[string]string, len(tree))
	for _, category := range tree {
		names[strconv.FormatInt(category.ID, 10)] = category.Name
	}
	return names
}

// Comparison partitions badges from two observations by category id.
type Comparison struct {
	Gained    []tracker.Badge // In current, not in previous
	Lost      []tracker.Badge // In previous, not in current
	Unchanged []tracker.Badge // In both (current snapshot's copy)
}

// CompareBadges diffs two badge sets. Category id is the sole identity
// key; names and ranks are not compared for membership.
func CompareBadges(previous, current []tracker.Badge) Comparison {
	prevIDs := make(map[string]bool, len(previous))
	for _, badge := range previous {
		prevIDs[badge.CategoryID] = true
	}
	currIDs := make(map[string]bool, len(current))
	for _, badge := range current {
		currIDs[badge.CategoryID] = true
	}

	var result Comparison
	for _, badge := range current {
		if prevIDs[badge.CategoryID] {
			result.Unchanged = append(result.Unchanged, badge)
		} else {
			result.Gained = append(result.Gained, badge)
		}
	}
	for _, badge := range previous {
		if !currIDs[badge.CategoryID] {
			result.Lost = append(result.Lost, badge)
		}
	}
	return result
}

// EstimateCost returns the cost in cents for consuming the given number
// of tokens: $1 per 1000 tokens, floored, minimum 1 cent.
func EstimateCost(tokens int) int {
	cents := tokens * 100 / 1000
	if cents < 1 {
		return 1
	}
	return cents
}
