package crm

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fieldreport.org/internal/sheet"
	"fieldreport.org/internal/sheet/memory"
)

const testDoc = "CRM_DB"

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestProviderTimestamp(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2026, 1, 26, 16, 15, 5, 0, time.UTC), "2026/1/26 下午 4:15:05"},
		{time.Date(2026, 1, 26, 9, 5, 30, 0, time.UTC), "2026/1/26 上午 9:05:30"},
		{time.Date(2026, 11, 3, 0, 2, 0, 0, time.UTC), "2026/11/3 上午 12:02:00"},
		{time.Date(2026, 11, 3, 12, 0, 0, 0, time.UTC), "2026/11/3 下午 12:00:00"},
	}
	for _, tc := range cases {
		if got := ProviderTimestamp(tc.in); got != tc.want {
			t.Fatalf("ProviderTimestamp(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSubmitAppendsProviderRow(t *testing.T) {
	mem := memory.NewService()
	doc := mem.AddDocument(testDoc)
	doc.AddSheet(responseSheet, [][]string{Header})

	now := time.Date(2026, 1, 26, 16, 15, 5, 0, time.UTC)
	store := NewStore(mem, testDoc, WithClock(func() time.Time { return now }))

	err := store.Submit(context.Background(), Entry{
		Submitter: "Amy",
		Customer:  "Acme",
		Channel:   "Direct",
		Industry:  "Manufacturing",
		VisitDate: day("2026-01-20"),
		Products:  []string{"W-100", "G-7"},
		Amount:    "120.5",
		Owner:     "本人",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ws, _ := doc.Worksheet(context.Background(), responseSheet)
	grid := ws.(*memory.Worksheet).Grid()
	if len(grid) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(grid))
	}
	row := grid[1]
	if len(row) != len(Header) {
		t.Fatalf("row width = %d, want %d", len(row), len(Header))
	}
	if row[0] != "2026/1/26 下午 4:15:05" {
		t.Fatalf("timestamp = %q", row[0])
	}
	if row[1] != "Amy" || row[2] != "Acme" {
		t.Fatalf("submitter/customer = %q/%q", row[1], row[2])
	}
	if row[9] != "2026/1/20" {
		t.Fatalf("visit date = %q, want unpadded 2026/1/20", row[9])
	}
	if row[10] != "W-100,G-7" {
		t.Fatalf("products = %q", row[10])
	}
}

func TestSubmitValidation(t *testing.T) {
	mem := memory.NewService()
	doc := mem.AddDocument(testDoc)
	doc.AddSheet(responseSheet, [][]string{Header})
	store := NewStore(mem, testDoc)
	ctx := context.Background()

	cases := []Entry{
		{Customer: "Acme", VisitDate: day("2026-01-20")},
		{Submitter: "Amy", VisitDate: day("2026-01-20")},
		{Submitter: "Amy", Customer: "Acme"},
	}
	for i, e := range cases {
		if err := store.Submit(ctx, e); err == nil {
			t.Fatalf("case %d: Submit accepted an incomplete entry", i)
		}
	}
}

func TestSubmitFallsBackToFirstWorksheet(t *testing.T) {
	mem := memory.NewService()
	doc := mem.AddDocument(testDoc)
	doc.AddSheet("Responses", [][]string{Header})
	store := NewStore(mem, testDoc)

	err := store.Submit(context.Background(), Entry{
		Submitter: "Amy", Customer: "Acme", VisitDate: day("2026-01-20"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ws, _ := doc.Worksheet(context.Background(), "Responses")
	if grid := ws.(*memory.Worksheet).Grid(); len(grid) != 2 {
		t.Fatalf("fallback worksheet rows = %d, want 2", len(grid))
	}
}

func rollupRows() []sheet.Row {
	return []sheet.Row{
		{"填寫人": "Amy", "客戶名稱": "Acme", "推廣產品": "W-100", "產業別": "Manufacturing", "拜訪日期": "2026/1/20", "總金額": "NT$100"},
		{"填寫人": "Amy", "客戶名稱": "Globex", "推廣產品": "G-7", "產業別": "Retail", "拜訪日期": "2026/1/22", "總金額": "50.5"},
		{"填寫人": "Bob", "客戶名稱": "Acme", "推廣產品": "W-200", "產業別": "Manufacturing", "拜訪日期": "2026/2/1", "總金額": "junk"},
	}
}

func TestRollupAll(t *testing.T) {
	sum := Rollup(rollupRows(), Filter{})
	if sum.Cases != 3 || sum.Customers != 2 {
		t.Fatalf("cases=%d customers=%d, want 3/2", sum.Cases, sum.Customers)
	}
	if !sum.TotalAmount.Equal(decimal.RequireFromString("150.5")) {
		t.Fatalf("total = %s, want 150.5", sum.TotalAmount)
	}
	if !sum.AverageAmount.Equal(decimal.RequireFromString("50.17")) {
		t.Fatalf("average = %s, want 50.17", sum.AverageAmount)
	}
}

func TestRollupFilters(t *testing.T) {
	rows := rollupRows()

	cases := []struct {
		name      string
		filter    Filter
		wantCases int
	}{
		{"by submitter", Filter{Submitter: "amy"}, 2},
		{"by customer keyword", Filter{Customer: "acme"}, 2},
		{"by product", Filter{Product: "w-"}, 2},
		{"by industry", Filter{Industry: "Retail"}, 1},
		{"by date range", Filter{From: day("2026-01-21"), To: day("2026-01-31")}, 1},
		{"combined", Filter{Submitter: "Amy", Industry: "Manufacturing"}, 1},
		{"no match", Filter{Submitter: "Carol"}, 0},
	}
	for _, tc := range cases {
		if got := Rollup(rows, tc.filter).Cases; got != tc.wantCases {
			t.Fatalf("%s: cases = %d, want %d", tc.name, got, tc.wantCases)
		}
	}
}

func TestRollupEmpty(t *testing.T) {
	sum := Rollup(nil, Filter{})
	if sum.Cases != 0 || !sum.AverageAmount.Equal(decimal.Zero) {
		t.Fatalf("empty rollup = %+v", sum)
	}
}

func TestParseVisitDate(t *testing.T) {
	if _, err := ParseVisitDate("not a date"); err == nil {
		t.Fatalf("bad date accepted")
	}
	for _, raw := range []string{"2026/1/2", "2026/01/02", "2026-01-02"} {
		d, err := ParseVisitDate(raw)
		if err != nil {
			t.Fatalf("ParseVisitDate(%q): %v", raw, err)
		}
		if d.Format("2006-01-02") != "2026-01-02" {
			t.Fatalf("ParseVisitDate(%q) = %v", raw, d)
		}
	}
}
