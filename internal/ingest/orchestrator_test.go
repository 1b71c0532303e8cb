package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dealfeed/dealfeed/internal/alias"
	"github.com/dealfeed/dealfeed/internal/extract"
	"github.com/dealfeed/dealfeed/internal/models"
	"github.com/dealfeed/dealfeed/internal/normalize"
	"github.com/dealfeed/dealfeed/internal/validator"
)

// --- Mock implementations ---

type fakeExtractor struct {
	kind  string
	byURL map[string][]models.RawCandidate
}

func (f *fakeExtractor) Kind() string { return f.kind }

func (f *fakeExtractor) Extract(_ context.Context, src models.Source) []models.RawCandidate {
	return f.byURL[src.URL]
}

type fakeDealStore struct {
	mu       sync.Mutex
	seen     map[string]bool
	inserted []models.Deal
	failSlug string
	deleted  int64
}

func newFakeDealStore() *fakeDealStore {
	return &fakeDealStore{seen: make(map[string]bool)}
}

func (f *fakeDealStore) Insert(_ context.Context, d models.Deal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSlug != "" && d.StoreSlug == f.failSlug {
		return false, models.ErrStorage
	}
	if f.seen[d.ContentHash] {
		return false, nil
	}
	f.seen[d.ContentHash] = true
	f.inserted = append(f.inserted, d)
	return true, nil
}

func (f *fakeDealStore) DeleteExpiredOrStale(_ context.Context, _ time.Duration) (int64, error) {
	return f.deleted, nil
}

func newTestOrchestrator(store DealStore, ex extract.Extractor, sources []models.Source) *Orchestrator {
	return New(store, normalize.New(alias.Default()), validator.New(),
		[]extract.Extractor{ex}, func() []models.Source { return sources }, Options{})
}

// --- Tests ---

func TestRun_PersistsCandidatesFromAllSources(t *testing.T) {
	ex := &fakeExtractor{
		kind: models.KindAuto,
		byURL: map[string][]models.RawCandidate{
			"https://ozon.ru/promos": {
				{Title: "Deal A", URL: "https://ozon.ru/a", BaseScore: 0.8},
				{Title: "Deal B", URL: "https://ozon.ru/b", BaseScore: 0.8},
			},
			"https://dns-shop.ru/promos": {
				{Title: "Deal C", URL: "https://dns-shop.ru/c", BaseScore: 0.8},
			},
		},
	}
	sources := []models.Source{
		{Store: "ozon", URL: "https://ozon.ru/promos"},
		{Store: "dns", URL: "https://dns-shop.ru/promos"},
	}
	store := newFakeDealStore()

	o := newTestOrchestrator(store, ex, sources)
	added, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if added != 3 {
		t.Errorf("Expected 3 deals added, got %d", added)
	}
	if len(store.inserted) != 3 {
		t.Errorf("Expected 3 deals in store, got %d", len(store.inserted))
	}
}

func TestRun_OneFailingSourceDoesNotBlockOthers(t *testing.T) {
	ex := &fakeExtractor{
		kind: models.KindAuto,
		byURL: map[string][]models.RawCandidate{
			"https://ozon.ru/promos":    {{Title: "Deal A", URL: "https://ozon.ru/a", BaseScore: 0.8}},
			"https://badshop.ru/promos": {{Title: "Deal X", URL: "https://badshop.ru/x", BaseScore: 0.8}},
			"https://dns-shop.ru/promos": {
				{Title: "Deal C", URL: "https://dns-shop.ru/c", BaseScore: 0.8},
			},
		},
	}
	sources := []models.Source{
		{Store: "ozon", URL: "https://ozon.ru/promos"},
		{Store: "badshop", URL: "https://badshop.ru/promos"},
		{Store: "dns", URL: "https://dns-shop.ru/promos"},
	}
	store := newFakeDealStore()
	store.failSlug = "badshop"

	o := newTestOrchestrator(store, ex, sources)
	added, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("Expected the storage fault to surface in the run error")
	}
	if !strings.Contains(err.Error(), "storage faults") {
		t.Errorf("Unexpected error text: %v", err)
	}
	if added != 2 {
		t.Errorf("Expected the two healthy sources to land, got %d", added)
	}
}

func TestRun_DuplicatesNotCounted(t *testing.T) {
	// The same candidate from two sources: one insert, one duplicate.
	candidate := models.RawCandidate{Title: "Same Deal", URL: "https://shop.example/d", BaseScore: 0.8, StoreHint: "ozon"}
	ex := &fakeExtractor{
		kind: models.KindAuto,
		byURL: map[string][]models.RawCandidate{
			"https://a.example/promos": {candidate},
			"https://b.example/promos": {candidate},
		},
	}
	sources := []models.Source{
		{Store: "ozon", URL: "https://a.example/promos"},
		{Store: "ozon", URL: "https://b.example/promos"},
	}
	store := newFakeDealStore()

	o := newTestOrchestrator(store, ex, sources)
	added, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if added != 1 {
		t.Errorf("Expected 1 deal added (duplicate skipped), got %d", added)
	}
}

func TestRun_InvalidCandidatesDropped(t *testing.T) {
	ex := &fakeExtractor{
		kind: models.KindAuto,
		byURL: map[string][]models.RawCandidate{
			"https://ozon.ru/promos": {
				{Title: "Good", URL: "https://ozon.ru/good", BaseScore: 0.8},
				{Title: "", URL: "https://ozon.ru/no-title", BaseScore: 0.8},
				{Title: "Bad URL", URL: "not-a-url", BaseScore: 0.8},
			},
		},
	}
	sources := []models.Source{{Store: "ozon", URL: "https://ozon.ru/promos"}}
	store := newFakeDealStore()

	o := newTestOrchestrator(store, ex, sources)
	added, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if added != 1 {
		t.Errorf("Expected only the valid candidate persisted, got %d", added)
	}
}

func TestRun_UnknownKindFallsBackToHeuristic(t *testing.T) {
	ex := &fakeExtractor{
		kind: models.KindAuto,
		byURL: map[string][]models.RawCandidate{
			"https://ozon.ru/promos": {{Title: "Deal", URL: "https://ozon.ru/d", BaseScore: 0.8}},
		},
	}
	// An unrecognized type normalizes to the heuristic kind.
	sources := []models.Source{{Type: "experimental", Store: "ozon", URL: "https://ozon.ru/promos"}}
	store := newFakeDealStore()

	o := newTestOrchestrator(store, ex, sources)
	added, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if added != 1 {
		t.Errorf("Expected the fallback extractor to run, got %d added", added)
	}
}

func TestRun_NormalizedDealsCarrySourceMetadata(t *testing.T) {
	ex := &fakeExtractor{
		kind: models.KindAuto,
		byURL: map[string][]models.RawCandidate{
			"https://ozon.ru/promos": {{Title: "Deal", URL: "https://ozon.ru/d", BaseScore: 0.8}},
		},
	}
	sources := []models.Source{{Store: "ВБ", Category: "акции", URL: "https://ozon.ru/promos"}}
	store := newFakeDealStore()

	o := newTestOrchestrator(store, ex, sources)
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("Expected 1 deal, got %d", len(store.inserted))
	}
	d := store.inserted[0]
	if d.StoreSlug != "wildberries" {
		t.Errorf("Expected alias-resolved slug, got %q", d.StoreSlug)
	}
	if d.Category != "акции" {
		t.Errorf("Expected category carried over, got %q", d.Category)
	}
	if d.Source != "https://ozon.ru/promos" {
		t.Errorf("Expected origin URL, got %q", d.Source)
	}
}

func TestSweep_ReportsDeletedCount(t *testing.T) {
	store := newFakeDealStore()
	store.deleted = 7

	o := newTestOrchestrator(store, &fakeExtractor{kind: models.KindAuto}, nil)
	deleted, err := o.Sweep(context.Background(), 14*24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if deleted != 7 {
		t.Errorf("Expected 7 deletions, got %d", deleted)
	}
}
