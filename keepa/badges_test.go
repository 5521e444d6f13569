package keepa

import (
	"testing"

	"bestseller-tracker/pkg/tracker"
)

func TestExtractBadges(t *testing.T) {
	tests := []struct {
		name    string
		product tracker.Product
		want    []tracker.Badge
	}{
		{
			name: "single badge with category name",
			product: tracker.Product{
				ASIN:       "B00TEST001",
				SalesRanks: map[string][]int64{"123": {7654321, 1}},
				CategoryTree: []tracker.Category{
					{ID: 123, Name: "Kitchen Gadgets"},
				},
			},
			want: []tracker.Badge{
				{CategoryID: "123", CategoryName: "Kitchen Gadgets", Rank: 1},
			},
		},
		{
			name: "ranked but not first",
			product: tracker.Product{
				ASIN:       "B00TEST002",
				SalesRanks: map[string][]int64{"123": {7654321, 2}},
			},
			want: []tracker.Badge{},
		},
		{
			name: "mixed ranks yield only the number one",
			product: tracker.Product{
				ASIN: "B00TEST003",
				SalesRanks: map[string][]int64{
					"123": {0, 1},
					"456": {0, 5},
				},
			},
			want: []tracker.Badge{
				{CategoryID: "123", CategoryName: "Category 123", Rank: 1},
			},
		},
		{
			name: "negative rank means unranked",
			product: tracker.Product{
				ASIN:       "B00TEST004",
				SalesRanks: map[string][]int64{"123": {7654321, -1}},
			},
			want: []tracker.Badge{},
		},
		{
			name: "single-element entry is malformed, not a badge",
			product: tracker.Product{
				ASIN:       "B00TEST005",
				SalesRanks: map[string][]int64{"123": {1}},
			},
			want: []tracker.Badge{},
		},
		{
			name:    "no sales ranks at all",
			product: tracker.Product{ASIN: "B00TEST006"},
			want:    []tracker.Badge{},
		},
		{
			name: "category name falls back to id",
			product: tracker.Product{
				ASIN:       "B00TEST007",
				SalesRanks: map[string][]int64{"999": {0, 1}},
				CategoryTree: []tracker.Category{
					{ID: 123, Name: "Unrelated"},
				},
			},
			want: []tracker.Badge{
				{CategoryID: "999", CategoryName: "Category 999", Rank: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBadges(&tt.product)
			if got == nil {
				t.Fatal("ExtractBadges() = nil, want non-nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractBadges() returned %d badges, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("badge[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCompareBadges(t *testing.T) {
	badge := func(id string) tracker.Badge {
		return tracker.Badge{CategoryID: id, CategoryName: "Category " + id, Rank: 1}
	}

	tests := []struct {
		name          string
		previous      []tracker.Badge
		current       []tracker.Badge
		wantGained    []string
		wantLost      []string
		wantUnchanged []string
	}{
		{
			name:          "badge gained while another holds",
			previous:      []tracker.Badge{badge("50")},
			current:       []tracker.Badge{badge("50"), badge("77")},
			wantGained:    []string{"77"},
			wantUnchanged: []string{"50"},
		},
		{
			name:     "badge lost",
			previous: []tracker.Badge{badge("9")},
			current:  []tracker.Badge{},
			wantLost: []string{"9"},
		},
		{
			name:       "complete swap",
			previous:   []tracker.Badge{badge("1"), badge("2")},
			current:    []tracker.Badge{badge("3")},
			wantGained: []string{"3"},
			wantLost:   []string{"1", "2"},
		},
		{
			name:     "both empty",
			previous: nil,
			current:  nil,
		},
		{
			name:          "identical sets",
			previous:      []tracker.Badge{badge("5")},
			current:       []tracker.Badge{badge("5")},
			wantUnchanged: []string{"5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareBadges(tt.previous, tt.current)

			checkIDs(t, "Gained", got.Gained, tt.wantGained)
			checkIDs(t, "Lost", got.Lost, tt.wantLost)
			checkIDs(t, "Unchanged", got.Unchanged, tt.wantUnchanged)

			// Every current badge lands in exactly one of gained or
			// unchanged, every previous badge in unchanged or lost.
			if len(got.Gained)+len(got.Unchanged) != len(tt.current) {
				t.Errorf("gained+unchanged = %d, want %d", len(got.Gained)+len(got.Unchanged), len(tt.current))
			}
			if len(got.Lost)+len(got.Unchanged) != len(tt.previous) {
				t.Errorf("lost+unchanged = %d, want %d", len(got.Lost)+len(got.Unchanged), len(tt.previous))
			}
		})
	}
}

func checkIDs(t *testing.T, label string, got []tracker.Badge, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s has %d badges, want %d", label, len(got), len(want))
		return
	}
	ids := make(map[string]bool, len(got))
	for _, b := range got {
		ids[b.CategoryID] = true
	}
	for _, id := range want {
		if !ids[id] {
			t.Errorf("%s missing category %s", label, id)
		}
	}
}

// TestCompareBadgesSymmetry verifies that swapping the two observations
// swaps gained and lost.
func TestCompareBadgesSymmetry(t *testing.T) {
	previous := []tracker.Badge{
		{CategoryID: "1", Rank: 1},
		{CategoryID: "2", Rank: 1},
	}
	current := []tracker.Badge{
		{CategoryID: "2", Rank: 1},
		{CategoryID: "3", Rank: 1},
	}

	forward := CompareBadges(previous, current)
	backward := CompareBadges(current, previous)

	if len(forward.Gained) != len(backward.Lost) {
		t.Errorf("forward gained %d, backward lost %d", len(forward.Gained), len(backward.Lost))
	}
	if len(forward.Lost) != len(backward.Gained) {
		t.Errorf("forward lost %d, backward gained %d", len(forward.Lost), len(backward.Gained))
	}
	if len(forward.Unchanged) != len(backward.Unchanged) {
		t.Errorf("forward unchanged %d, backward unchanged %d", len(forward.Unchanged), len(backward.Unchanged))
	}
}

func TestCurrentRank(t *testing.T) {
	product := tracker.Product{
		SalesRanks: map[string][]int64{
			"10": {0, 15},
			"20": {0, -1},
			"30": {42},
		},
	}

	tests := []struct {
		name       string
		categoryID string
		want       *int
	}{
		{"ranked category", "10", intPtr(15)},
		{"unranked category", "20", nil},
		{"malformed entry", "30", nil},
		{"absent category", "40", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CurrentRank(&product, tt.categoryID)
			switch {
			case got == nil && tt.want != nil:
				t.Errorf("CurrentRank() = nil, want %d", *tt.want)
			case got != nil && tt.want == nil:
				t.Errorf("CurrentRank() = %d, want nil", *got)
			case got != nil && tt.want != nil && *got != *tt.want:
				t.Errorf("CurrentRank() = %d, want %d", *got, *tt.want)
			}
		})
	}
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		tokens int
		want   int
	}{
		{0, 1},
		{1, 1},
		{9, 1},
		{10, 1},
		{500, 50},
		{1000, 100},
		{2000, 200},
	}

	for _, tt := range tests {
		if got := EstimateCost(tt.tokens); got != tt.want {
			t.Errorf("EstimateCost(%d) = %d, want %d", tt.tokens, got, tt.want)
		}
	}
}

func intPtr(n int) *int { return &n }
