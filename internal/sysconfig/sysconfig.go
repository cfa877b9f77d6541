// Package sysconfig serves dropdown options and holiday data from the
// System_Config worksheet. Reads are cached briefly so every page render
// does not cost a remote call.
package sysconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"fieldreport.org/internal/sheet"
)

const (
	configSheet = "System_Config"
	// cacheTTL bounds how stale a cached category list may be served.
	cacheTTL = 10 * time.Minute

	// CategoryHoliday rows hold dates in 2006-01-02 form.
	CategoryHoliday  = "Holiday"
	CategoryCustomer = "Customer"
	CategoryProduct  = "Category"
)

var configHeaders = []string{"Category", "Value"}

// Store reads categorized value lists from the configuration worksheet.
type Store struct {
	svc sheet.Service
	doc string
	now func() time.Time

	mu        sync.Mutex
	cached    map[string][]string
	fetchedAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store over the named document.
func NewStore(svc sheet.Service, doc string, opts ...Option) *Store {
	s := &Store{svc: svc, doc: doc, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Values returns the deduplicated, sorted value list for a category.
// Cells may carry comma-joined lists; they are split and trimmed.
func (s *Store) Values(ctx context.Context, category string) ([]string, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return all[category], nil
}

// Holidays returns the holiday dates as a set keyed by 2006-01-02.
func (s *Store) Holidays(ctx context.Context) (map[string]bool, error) {
	values, err := s.Values(ctx, CategoryHoliday)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if _, err := time.Parse("2006-01-02", v); err == nil {
			set[v] = true
		}
	}
	return set, nil
}

// NextWorkday returns the first day at or after from that is neither a
// weekend nor a configured holiday.
func (s *Store) NextWorkday(ctx context.Context, from time.Time) (time.Time, error) {
	holidays, err := s.Holidays(ctx)
	if err != nil {
		return time.Time{}, err
	}
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for i := 0; i < 366; i++ {
		wd := d.Weekday()
		if wd != time.Saturday && wd != time.Sunday && !holidays[d.Format("2006-01-02")] {
			return d, nil
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("sysconfig: no workday within a year of %s", from.Format("2006-01-02"))
}

// ReplaceCategory rewrites every row of one category, leaving the other
// categories untouched, and drops the cache.
func (s *Store) ReplaceCategory(ctx context.Context, category string, values []string) error {
	ws, err := s.worksheet(ctx)
	if err != nil {
		return err
	}
	rows, err := ws.Rows(ctx)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	grid := [][]string{configHeaders}
	for _, row := range rows {
		if strings.TrimSpace(row["Category"]) == category {
			continue
		}
		grid = append(grid, []string{row["Category"], row["Value"]})
	}
	for _, v := range normalize(values) {
		grid = append(grid, []string{category, v})
	}
	if err := ws.Clear(ctx); err != nil {
		return fmt.Errorf("clear config: %w", err)
	}
	if err := ws.WriteAll(ctx, grid); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	s.Invalidate()
	return nil
}

// ImportHolidayWorkbook reads an uploaded .xlsx calendar where columns
// pair up as date, note, date, note. A date counts as a holiday only
// when its note cell is filled; bare dates are calendar scaffolding.
// The holiday category is replaced with the dates found, which are
// returned.
func (s *Store) ImportHolidayWorkbook(ctx context.Context, r io.Reader) ([]string, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("sysconfig: workbook has no sheets")
	}
	grid, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read workbook: %w", err)
	}

	var dates []string
	for _, row := range grid {
		for col := 0; col+1 < len(row); col += 2 {
			note := strings.TrimSpace(row[col+1])
			if note == "" || note == "備註" {
				continue
			}
			d, err := parseWorkbookDate(strings.TrimSpace(row[col]))
			if err != nil {
				continue
			}
			dates = append(dates, d.Format("2006-01-02"))
		}
	}
	if len(dates) == 0 {
		return nil, errors.New("sysconfig: workbook contains no parsable dates")
	}
	dates = normalize(dates)
	if err := s.ReplaceCategory(ctx, CategoryHoliday, dates); err != nil {
		return nil, err
	}
	return dates, nil
}

// Invalidate drops the cached snapshot so the next read hits the sheet.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Store) load(ctx context.Context) (map[string][]string, error) {
	s.mu.Lock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < cacheTTL {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	ws, err := s.worksheet(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := ws.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	byCategory := make(map[string][]string)
	for _, row := range rows {
		cat := strings.TrimSpace(row["Category"])
		if cat == "" {
			continue
		}
		for _, v := range strings.Split(row["Value"], ",") {
			if v = strings.TrimSpace(v); v != "" {
				byCategory[cat] = append(byCategory[cat], v)
			}
		}
	}
	for cat, values := range byCategory {
		byCategory[cat] = normalize(values)
	}

	s.mu.Lock()
	s.cached = byCategory
	s.fetchedAt = s.now()
	s.mu.Unlock()
	return byCategory, nil
}

func (s *Store) worksheet(ctx context.Context) (sheet.Worksheet, error) {
	doc, err := s.svc.Open(ctx, s.doc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.doc, err)
	}
	ws, err := doc.Worksheet(ctx, configSheet)
	if errors.Is(err, sheet.ErrNotFound) {
		ws, err = doc.AddWorksheet(ctx, configSheet, configHeaders)
	}
	if err != nil {
		return nil, fmt.Errorf("open config sheet: %w", err)
	}
	return ws, nil
}

func parseWorkbookDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006/1/2", "2006/01/02", "01-02-06", "1/2/2006"} {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func normalize(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
