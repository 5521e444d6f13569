package track

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"bestseller-tracker/keepa"
	"bestseller-tracker/pkg/tracker"
	"bestseller-tracker/slack"
)

type fakeProvider struct {
	products []tracker.Product
	meta     keepa.Meta
	err      error
	calls    int
}

func (f *fakeProvider) FetchBatch(_ context.Context, asins []string) ([]tracker.Product, keepa.Meta, error) {
	f.calls++
	if f.err != nil {
		return nil, keepa.Meta{}, f.err
	}
	f.meta.ASINsRequested = len(asins)
	return f.products, f.meta, nil
}

type fakeStore struct {
	items     []tracker.Item
	states    map[string]*tracker.State
	changes   map[string]*tracker.Change
	history   []*tracker.HistoryEntry
	usage     []*tracker.UsageRecord
	errorLog  []*tracker.ErrorRecord
	touched   map[string]time.Time
	nextID    int
	saveErr   error
	createErr error
}

func newFakeStore(items ...tracker.Item) *fakeStore {
	return &fakeStore{
		items:   items,
		states:  make(map[string]*tracker.State),
		changes: make(map[string]*tracker.Change),
		touched: make(map[string]time.Time),
	}
}

func (f *fakeStore) ItemsToCheck(_ context.Context, limit int, _ *int) []tracker.Item {
	if limit > 0 && len(f.items) > limit {
		return f.items[:limit]
	}
	return f.items
}

func (f *fakeStore) CurrentState(_ context.Context, asin string) *tracker.State {
	return f.states[asin]
}

func (f *fakeStore) SaveCurrentState(_ context.Context, state *tracker.State) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.states[state.ASIN] = state
	return nil
}

func (f *fakeStore) AppendHistory(_ context.Context, entry *tracker.HistoryEntry) error {
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeStore) CreateChange(_ context.Context, change *tracker.Change) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("change-%d", f.nextID)
	stored := *change
	stored.ID = id
	f.changes[id] = &stored
	return id, nil
}

func (f *fakeStore) MarkChangeNotified(_ context.Context, changeID, method string, at time.Time) {
	if change, ok := f.changes[changeID]; ok {
		change.NotificationSent = true
		change.NotificationSentAt = &at
		change.NotificationMethod = method
	}
}

func (f *fakeStore) TouchItem(_ context.Context, asin string, at time.Time) {
	f.touched[asin] = at
}

func (f *fakeStore) LogUsage(_ context.Context, record *tracker.UsageRecord) {
	f.usage = append(f.usage, record)
}

func (f *fakeStore) LogError(_ context.Context, record *tracker.ErrorRecord) {
	f.errorLog = append(f.errorLog, record)
}

type fakeNotifier struct {
	alerts   []*slack.Alert
	system   []string
	alertErr error
}

func (f *fakeNotifier) SendChangeAlert(_ context.Context, alert *slack.Alert) error {
	if f.alertErr != nil {
		return f.alertErr
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) SendSystemAlert(_ context.Context, text, _ string) error {
	f.system = append(f.system, text)
	return nil
}

func newTracker(provider *fakeProvider, store *fakeStore, notifier *fakeNotifier) *Tracker {
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	return New(provider, store, notifier, logger)
}

func item(asin string) tracker.Item {
	return tracker.Item{ASIN: asin, Priority: 1, Active: true}
}

func productWithBadges(asin string, categoryIDs ...string) tracker.Product {
	ranks := make(map[string][]int64)
	var tree []tracker.Category
	for i, id := range categoryIDs {
		ranks[id] = []int64{0, 1}
		tree = append(tree, tracker.Category{ID: int64(i + 100), Name: "Category " + id})
	}
	return tracker.Product{ASIN: asin, Title: "Title " + asin, SalesRanks: ranks, CategoryTree: tree}
}

func TestProcessBatchEmpty(t *testing.T) {
	provider := &fakeProvider{}
	store := newFakeStore()
	notifier := &fakeNotifier{}

	result, err := newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if result.ItemsProcessed != 0 || result.ChangesDetected != 0 {
		t.Errorf("empty batch result = %+v", result)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times for an empty batch", provider.calls)
	}
	if result.BatchID == "" {
		t.Error("BatchID not assigned")
	}
}

func TestProcessBatchFirstObservation(t *testing.T) {
	provider := &fakeProvider{products: []tracker.Product{productWithBadges("B00AAAAAA1", "123")}}
	store := newFakeStore(item("B00AAAAAA1"))
	notifier := &fakeNotifier{}

	result, err := newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if result.SuccessfulChecks != 1 || result.ChangesDetected != 0 {
		t.Errorf("first observation result = %+v", result)
	}
	if len(notifier.alerts) != 0 {
		t.Errorf("first observation produced %d alerts, want 0", len(notifier.alerts))
	}

	state := store.states["B00AAAAAA1"]
	if state == nil || len(state.Badges) != 1 {
		t.Fatalf("stored state = %+v", state)
	}
	if len(store.history) != 1 {
		t.Errorf("history entries = %d, want 1", len(store.history))
	}
	if _, ok := store.touched["B00AAAAAA1"]; !ok {
		t.Error("last-checked timestamp not touched")
	}

	// Re-running with identical data stays quiet.
	result, err = newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("second ProcessBatch() error = %v", err)
	}
	if result.ChangesDetected != 0 || len(notifier.alerts) != 0 {
		t.Errorf("unchanged rerun detected %d changes, %d alerts", result.ChangesDetected, len(notifier.alerts))
	}
}

func TestProcessBatchGainedAndLost(t *testing.T) {
	provider := &fakeProvider{products: []tracker.Product{{
		ASIN:  "B00AAAAAA1",
		Title: "Widget",
		SalesRanks: map[string][]int64{
			"50": {0, 1},  // held
			"77": {0, 1},  // gained
			"9":  {0, 15}, // lost, still ranked
		},
		CategoryTree: []tracker.Category{
			{ID: 50, Name: "Holders"},
			{ID: 77, Name: "Gadgets"},
			{ID: 9, Name: "Slipped"},
		},
	}}}
	store := newFakeStore(item("B00AAAAAA1"))
	store.states["B00AAAAAA1"] = &tracker.State{
		ASIN: "B00AAAAAA1",
		Badges: []tracker.Badge{
			{CategoryID: "50", CategoryName: "Holders", Rank: 1},
			{CategoryID: "9", CategoryName: "Slipped", Rank: 1},
		},
	}
	notifier := &fakeNotifier{}

	result, err := newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if result.ChangesDetected != 2 {
		t.Fatalf("ChangesDetected = %d, want 2 (one gained, one lost)", result.ChangesDetected)
	}
	if result.NotificationsSent != 2 {
		t.Errorf("NotificationsSent = %d, want 2", result.NotificationsSent)
	}

	byCategory := make(map[string]*tracker.Change)
	for _, change := range store.changes {
		byCategory[change.CategoryID] = change
	}

	gained := byCategory["77"]
	if gained == nil || gained.Type != tracker.ChangeGained {
		t.Fatalf("gained change = %+v", gained)
	}
	if gained.PreviousRank != nil || gained.NewRank == nil || *gained.NewRank != 1 {
		t.Errorf("gained ranks = %v -> %v, want nil -> 1", gained.PreviousRank, gained.NewRank)
	}
	if gained.PreviousBadge || !gained.NewBadge {
		t.Errorf("gained badge flags = %v -> %v", gained.PreviousBadge, gained.NewBadge)
	}
	if !gained.NotificationSent || gained.NotificationMethod != "slack" {
		t.Errorf("gained change not marked notified: %+v", gained)
	}

	lost := byCategory["9"]
	if lost == nil || lost.Type != tracker.ChangeLost {
		t.Fatalf("lost change = %+v", lost)
	}
	if lost.PreviousRank == nil || *lost.PreviousRank != 1 {
		t.Errorf("lost PreviousRank = %v, want 1", lost.PreviousRank)
	}
	if lost.NewRank == nil || *lost.NewRank != 15 {
		t.Errorf("lost NewRank = %v, want 15", lost.NewRank)
	}

	if _, ok := byCategory["50"]; ok {
		t.Error("unchanged badge produced a change record")
	}
}

func TestProcessBatchMissingProduct(t *testing.T) {
	provider := &fakeProvider{products: []tracker.Product{productWithBadges("B00AAAAAA1")}}
	store := newFakeStore(item("B00AAAAAA1"), item("B00MISSING"))
	notifier := &fakeNotifier{}

	result, err := newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if result.SuccessfulChecks != 1 || result.FailedChecks != 1 {
		t.Errorf("result = %d ok / %d failed, want 1/1", result.SuccessfulChecks, result.FailedChecks)
	}
	if len(store.errorLog) != 1 || store.errorLog[0].ASIN != "B00MISSING" {
		t.Errorf("error log = %+v", store.errorLog)
	}
	if len(store.usage) != 1 {
		t.Fatalf("usage records = %d, want 1", len(store.usage))
	}
	if store.usage[0].FailedChecks != 1 || store.usage[0].SuccessfulChecks != 1 {
		t.Errorf("usage checks = %d ok / %d failed, want 1/1",
			store.usage[0].SuccessfulChecks, store.usage[0].FailedChecks)
	}
}

func TestProcessBatchProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("api down")}
	store := newFakeStore(item("B00AAAAAA1"))
	notifier := &fakeNotifier{}

	_, err := newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil)
	if err == nil {
		t.Fatal("ProcessBatch() error = nil, want error")
	}
	if len(store.errorLog) != 1 || store.errorLog[0].Type != "keepa_api" {
		t.Errorf("error log = %+v", store.errorLog)
	}
}

func TestNotifyFailureLeavesChangeUnmarked(t *testing.T) {
	provider := &fakeProvider{products: []tracker.Product{productWithBadges("B00AAAAAA1", "77")}}
	store := newFakeStore(item("B00AAAAAA1"))
	store.states["B00AAAAAA1"] = &tracker.State{ASIN: "B00AAAAAA1"}
	notifier := &fakeNotifier{alertErr: errors.New("slack down")}

	result, err := newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if result.ChangesDetected != 1 {
		t.Fatalf("ChangesDetected = %d, want 1", result.ChangesDetected)
	}
	if result.NotificationsSent != 0 {
		t.Errorf("NotificationsSent = %d, want 0", result.NotificationsSent)
	}
	for _, change := range store.changes {
		if change.NotificationSent {
			t.Errorf("change marked notified despite delivery failure: %+v", change)
		}
	}
	// Item still counts as a success: the change is durably recorded.
	if result.SuccessfulChecks != 1 {
		t.Errorf("SuccessfulChecks = %d, want 1", result.SuccessfulChecks)
	}
}

// TestNotifyChangeAlreadySent verifies the dispatcher never re-sends
// for a change that is already marked notified.
func TestNotifyChangeAlreadySent(t *testing.T) {
	provider := &fakeProvider{}
	store := newFakeStore()
	notifier := &fakeNotifier{}
	tr := newTracker(provider, store, notifier)

	tracked := item("B00AAAAAA1")
	product := productWithBadges("B00AAAAAA1", "77")
	sentAt := time.Now().UTC()
	change := &tracker.Change{
		ID:                 "change-1",
		ASIN:               "B00AAAAAA1",
		Type:               tracker.ChangeGained,
		Category:           "Category 77",
		CategoryID:         "77",
		DetectedAt:         time.Now().UTC(),
		NotificationSent:   true,
		NotificationSentAt: &sentAt,
		NotificationMethod: "slack",
	}

	if sent := tr.notifyChange(context.Background(), &tracked, &product, change); sent {
		t.Error("notifyChange() = true for an already-notified change")
	}
	if len(notifier.alerts) != 0 {
		t.Errorf("provider received %d alerts for an already-notified change, want 0", len(notifier.alerts))
	}
}

// TestNotifyChangeSecondCallIsNoOp verifies a delivered change cannot be
// delivered twice within one dispatch pass.
func TestNotifyChangeSecondCallIsNoOp(t *testing.T) {
	provider := &fakeProvider{}
	store := newFakeStore()
	notifier := &fakeNotifier{}
	tr := newTracker(provider, store, notifier)

	tracked := item("B00AAAAAA1")
	product := productWithBadges("B00AAAAAA1", "77")
	change := &tracker.Change{
		ASIN:       "B00AAAAAA1",
		Type:       tracker.ChangeGained,
		Category:   "Category 77",
		CategoryID: "77",
		DetectedAt: time.Now().UTC(),
	}
	id, err := store.CreateChange(context.Background(), change)
	if err != nil {
		t.Fatalf("CreateChange() error = %v", err)
	}
	change.ID = id

	if sent := tr.notifyChange(context.Background(), &tracked, &product, change); !sent {
		t.Fatal("first notifyChange() = false, want delivery")
	}

	// The dispatcher mutated the stored record; redriving the same
	// record must be a no-op.
	redrive := store.changes[id]
	if !redrive.NotificationSent {
		t.Fatal("change not marked notified after delivery")
	}
	if sent := tr.notifyChange(context.Background(), &tracked, &product, redrive); sent {
		t.Error("second notifyChange() = true, want no-op")
	}
	if len(notifier.alerts) != 1 {
		t.Errorf("provider received %d alerts across two dispatches, want 1", len(notifier.alerts))
	}
}

func TestHighActivityAlert(t *testing.T) {
	ranks := map[string][]int64{}
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		ranks[id] = []int64{0, 1}
	}
	provider := &fakeProvider{products: []tracker.Product{{ASIN: "B00AAAAAA1", SalesRanks: ranks}}}
	store := newFakeStore(item("B00AAAAAA1"))
	store.states["B00AAAAAA1"] = &tracker.State{ASIN: "B00AAAAAA1"}
	notifier := &fakeNotifier{}

	result, err := newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if result.ChangesDetected != 5 {
		t.Fatalf("ChangesDetected = %d, want 5", result.ChangesDetected)
	}
	if len(notifier.system) != 1 {
		t.Errorf("system alerts = %v, want one high-activity alert", notifier.system)
	}
}

func TestProductTitleFallback(t *testing.T) {
	provider := &fakeProvider{products: []tracker.Product{{
		ASIN:       "B00AAAAAA1",
		SalesRanks: map[string][]int64{"77": {0, 1}},
	}}}
	cached := item("B00AAAAAA1")
	cached.ProductTitle = "Cached Title"
	store := newFakeStore(cached)
	store.states["B00AAAAAA1"] = &tracker.State{ASIN: "B00AAAAAA1"}
	notifier := &fakeNotifier{}

	if _, err := newTracker(provider, store, notifier).ProcessBatch(context.Background(), 100, nil); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}

	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(notifier.alerts))
	}
	if notifier.alerts[0].ProductTitle != "Cached Title" {
		t.Errorf("alert title = %q, want cached fallback", notifier.alerts[0].ProductTitle)
	}
}
