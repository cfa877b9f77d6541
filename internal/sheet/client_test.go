package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientStatusMapping(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/documents/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/documents/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/documents/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	ctx := context.Background()

	if _, err := c.Open(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.Open(ctx, "throttled"); !errors.Is(err, ErrQuota) {
		t.Fatalf("expected ErrQuota, got %v", err)
	}
	if _, err := c.Open(ctx, "broken"); Classify(err) != KindTransient {
		t.Fatalf("expected transient, got %v", err)
	}
	if _, err := c.Open(ctx, "reports"); err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestClientWorksheetRoundTrip(t *testing.T) {
	t.Parallel()

	var gotWrite [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/documents/reports/worksheets/Alice/values" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"values": [][]string{{"Date", "Customer"}, {"2024-01-02", "ACME"}},
			})
		case r.URL.Path == "/documents/reports/worksheets/Alice/values" && r.Method == http.MethodPut:
			var body struct {
				Values [][]string `json:"values"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotWrite = body.Values
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/documents/reports/worksheets/Alice/find":
			if r.URL.Query().Get("value") != "ACME" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]int{"row": 2, "col": 2})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()

	doc, err := c.Open(ctx, "reports")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ws, err := doc.Worksheet(ctx, "Alice")
	if err != nil {
		t.Fatalf("Worksheet: %v", err)
	}

	rows, err := ws.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["Customer"] != "ACME" {
		t.Fatalf("unexpected rows: %#v", rows)
	}

	cell, err := ws.FindCell(ctx, "ACME")
	if err != nil || cell.Row != 2 || cell.Col != 2 {
		t.Fatalf("FindCell = %+v, %v", cell, err)
	}

	if err := ws.WriteAll(ctx, [][]string{{"Date"}, {"2024-02-01"}}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if len(gotWrite) != 2 || gotWrite[1][0] != "2024-02-01" {
		t.Fatalf("server saw write %#v", gotWrite)
	}
}

func TestRowsFromValuesPadsShortRows(t *testing.T) {
	rows := RowsFromValues([][]string{
		{"Date", "Customer", "Note"},
		{"2024-01-02", "ACME"},
	})
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0]["Note"] != "" {
		t.Fatalf("short row should pad empty, got %q", rows[0]["Note"])
	}
}
