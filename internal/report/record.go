// Package report implements the range-partitioned record store on top of
// the spreadsheet provider. One worksheet holds one user's records; the
// provider only supports whole-worksheet reads and writes, so range
// updates are emulated with a read-discard-replace-write pass.
package report

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Column headers of a report partition, in storage order. The sequence
// column is display-only and renumbered on every rewrite.
var Headers = []string{"Seq", "Date", "Weekday", "Customer", "Category", "Planned", "Actual", "LastUpdated"}

// TimestampLayout is the LastUpdated stamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the canonical storage form of the date column.
const DateLayout = "2006-01-02"

// maxFieldLen bounds free-text cells. Oversized input is truncated, not
// rejected.
const maxFieldLen = 5000

// Record is one reportable activity entry. Identity is positional within
// a partition; there is no durable primary key across rewrites.
type Record struct {
	Date        time.Time
	Weekday     string
	Customer    string
	Category    string
	Planned     string
	Actual      string
	LastUpdated string
}

// ParseDate accepts the date forms seen in partitions. The zero time and
// false mean the cell is unusable.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{DateLayout, "2006/1/2", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// weekdayLabel derives the display-only weekday column.
func weekdayLabel(t time.Time) string {
	return t.Weekday().String()[:3]
}

// clampField truncates oversized free text on a rune boundary, so CJK
// cells are never cut mid-sequence.
func clampField(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	cut := maxFieldLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// toRow serializes a record with its 1-based sequence number.
func (r Record) toRow(seq int) []string {
	return []string{
		strconv.Itoa(seq),
		r.Date.Format(DateLayout),
		r.Weekday,
		clampField(r.Customer),
		clampField(r.Category),
		clampField(r.Planned),
		clampField(r.Actual),
		r.LastUpdated,
	}
}

// Grid renders records as a header-plus-rows grid with sequence numbers
// from 1, the shape partitions are stored in. Used for exports and for
// snapshotting read results.
func Grid(records []Record) [][]string {
	grid := make([][]string, 0, len(records)+1)
	grid = append(grid, append([]string(nil), Headers...))
	for i, r := range records {
		grid = append(grid, r.toRow(i+1))
	}
	return grid
}

// RecordsFromGrid reads a header-plus-rows grid back into records,
// dropping rows with unreadable dates.
func RecordsFromGrid(grid [][]string) []Record {
	if len(grid) <= 1 {
		return nil
	}
	out := make([]Record, 0, len(grid)-1)
	for _, row := range grid[1:] {
		if rec, ok := recordFromCells(row); ok {
			out = append(out, rec)
		}
	}
	return out
}

// recordFromCells reads a raw partition row. ok is false when the date
// cell does not parse; such rows are unreadable and skipped on reads.
func recordFromCells(cells []string) (Record, bool) {
	get := func(i int) string {
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}
	date, ok := ParseDate(get(1))
	if !ok {
		return Record{}, false
	}
	return Record{
		Date:        date,
		Weekday:     get(2),
		Customer:    get(3),
		Category:    get(4),
		Planned:     get(5),
		Actual:      get(6),
		LastUpdated: get(7),
	}, true
}
