package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fieldreport.org/internal/cache"
	"fieldreport.org/internal/sheet"
	"fieldreport.org/internal/sheet/memory"
)

const testDoc = "Price_List"

func newFixture(t *testing.T) (*Service, *memory.Service) {
	t.Helper()
	mem := memory.NewService()
	doc := mem.AddDocument(testDoc)
	doc.AddSheet(priceSheet, [][]string{
		{"Model", "Spec", "Price"},
		{"W-100", "standard widget", "NT$1,200"},
		{"W-200", "heavy widget", "NT$2,400"},
		{"G-7", "Widget adapter gadget", "$80"},
	})
	snap := cache.New(t.TempDir(), 24*time.Hour)
	return NewService(mem, testDoc, snap), mem
}

func TestSearchMatchesAnyColumn(t *testing.T) {
	svc, _ := newFixture(t)

	res, err := svc.Search(context.Background(), "widget")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Matches) != 3 {
		t.Fatalf("matches = %d, want 3: %+v", len(res.Matches), res.Matches)
	}
}

func TestSearchFallsBackToFirstWorksheet(t *testing.T) {
	mem := memory.NewService()
	doc := mem.AddDocument(testDoc)
	doc.AddSheet("Prices", [][]string{
		{"Model", "Price"},
		{"W-100", "NT$1,200"},
	})
	svc := NewService(mem, testDoc, cache.New(t.TempDir(), 24*time.Hour))

	res, err := svc.Search(context.Background(), "w-100")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %+v", res.Matches)
	}
}

func TestSearchAllTokensMustMatch(t *testing.T) {
	svc, _ := newFixture(t)

	res, err := svc.Search(context.Background(), "widget heavy")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Row[0] != "W-200" {
		t.Fatalf("matches = %+v, want only W-200", res.Matches)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc, _ := newFixture(t)
	if _, err := svc.Search(context.Background(), "   "); err == nil {
		t.Fatalf("empty query must fail")
	}
}

func TestSearchServesSnapshotDuringOutage(t *testing.T) {
	svc, mem := newFixture(t)
	ctx := context.Background()

	// Warm the cache.
	if _, err := svc.Search(ctx, "widget"); err != nil {
		t.Fatalf("warm Search: %v", err)
	}
	// Fresh snapshots absorb the outage entirely.
	mem.FailNext(sheet.ErrQuota, sheet.ErrQuota, sheet.ErrQuota)
	res, err := svc.Search(ctx, "widget")
	if err != nil {
		t.Fatalf("Search during outage: %v", err)
	}
	if len(res.Matches) != 3 {
		t.Fatalf("matches during outage = %d, want 3", len(res.Matches))
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"NT$1,200", "1200", false},
		{"$80", "80", false},
		{" 1,234.50 ", "1234.5", false},
		{"(250.00)", "-250", false},
		{"US$99.90", "99.9", false},
		{"", "", true},
		{"n/a", "", true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseAmount(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if want, _ := decimal.NewFromString(tc.want); !got.Equal(want) {
			t.Fatalf("ParseAmount(%q) = %s, want %s", tc.in, got, want)
		}
	}
}

func TestQuoteAmounts(t *testing.T) {
	lines := []QuoteLine{
		{UnitPrice: decimal.RequireFromString("1200"), Quantity: 3, DiscountPct: decimal.RequireFromString("10")},
		{UnitPrice: decimal.RequireFromString("99.99"), Quantity: 2},
	}
	if got := lines[0].Amount(); !got.Equal(decimal.RequireFromString("3240")) {
		t.Fatalf("discounted line = %s, want 3240", got)
	}
	if got := lines[1].Amount(); !got.Equal(decimal.RequireFromString("199.98")) {
		t.Fatalf("plain line = %s, want 199.98", got)
	}
	if got := QuoteTotal(lines); !got.Equal(decimal.RequireFromString("3439.98")) {
		t.Fatalf("total = %s, want 3439.98", got)
	}
}
