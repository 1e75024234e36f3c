package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"audubon_monitor/models"
)

func sampleDoc() *models.OutputDocument {
	doc := models.NewOutputDocument()
	doc.RunID = "run-1"
	doc.GeneratedAt = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	plate := 1
	price := models.Price{Amount: decimal.RequireFromString("1250.00"), Currency: "USD"}
	doc.Listings["princeton:8812"] = &models.CanonicalListing{
		Source:          models.SourcePrinceton,
		SourceListingID: "8812",
		PlateNumber:     &plate,
		SpeciesName:     "Wild Turkey",
		Edition:         models.EditionHavell,
		Price:           &price,
		ImageURLs:       []string{"https://cdn.example/turkey.jpg"},
		Status:          models.ListingStatusActive,
		PriceHistory:    []models.PricePoint{{Date: doc.GeneratedAt, Price: price}},
	}
	return doc
}

func TestDocumentStore_LoadMissingIsEmpty(t *testing.T) {
	store := NewDocumentStore(filepath.Join(t.TempDir(), "listings.json"))
	doc, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(doc.Listings) != 0 || doc.SchemaVersion != models.SchemaVersion {
		t.Fatalf("expected empty current-schema document, got %+v", doc)
	}
}

func TestDocumentStore_RoundTrip(t *testing.T) {
	store := NewDocumentStore(filepath.Join(t.TempDir(), "data", "listings.json"))
	if err := store.Save(sampleDoc()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	l := doc.Listings["princeton:8812"]
	if l == nil {
		t.Fatalf("listing missing after round trip")
	}
	if !l.Price.Amount.Equal(decimal.NewFromInt(1250)) || l.Price.Currency != "USD" {
		t.Fatalf("price did not survive round trip: %s", l.Price)
	}
	if *l.PlateNumber != 1 || l.Edition != models.EditionHavell {
		t.Fatalf("fields did not survive round trip: %+v", l)
	}
}

func TestDocumentStore_PriceWrittenAsNumber(t *testing.T) {
	data, err := Marshal(sampleDoc())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"amount": 1250.00`) {
		t.Fatalf("expected numeric amount in output:\n%s", data)
	}
}

func TestDocumentStore_CrashBeforeRenameKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listings.json")
	store := NewDocumentStore(path)
	if err := store.Save(sampleDoc()); err != nil {
		t.Fatalf("initial save failed: %v", err)
	}
	before, _ := os.ReadFile(path)

	crash := errors.New("killed")
	store.beforeRename = func(string) error { return crash }

	next := sampleDoc()
	next.RunID = "run-2"
	delete(next.Listings, "princeton:8812")
	err := store.Save(next)

	var perr *PersistenceError
	if !errors.As(err, &perr) || !errors.Is(err, crash) {
		t.Fatalf("expected PersistenceError wrapping the crash, got %v", err)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("previous document was modified")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected temp file cleanup, found %d entries", len(entries))
	}
}

func TestDocumentStore_CorruptIsPersistenceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := NewDocumentStore(path).Load()

	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "decode" {
		t.Fatalf("expected decode PersistenceError, got %v", err)
	}
}
