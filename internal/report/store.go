package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"fieldreport.org/internal/ratelimit"
	"fieldreport.org/internal/sheet"
)

// Store reads and writes per-user report partitions. Every remote call is
// paced through the limiter and retried on quota or transient failures.
type Store struct {
	svc     sheet.Service
	doc     string
	limiter *ratelimit.Limiter
	policy  ratelimit.Policy

	now        func() time.Time
	invalidate func(partition string)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for stamps. Test hook.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPolicy overrides the retry budget.
func WithPolicy(p ratelimit.Policy) StoreOption {
	return func(s *Store) { s.policy = p }
}

// WithInvalidator installs the cache invalidation hook called after every
// successful write.
func WithInvalidator(fn func(partition string)) StoreOption {
	return func(s *Store) { s.invalidate = fn }
}

// NewStore creates a Store over the named report document.
func NewStore(svc sheet.Service, doc string, limiter *ratelimit.Limiter, opts ...StoreOption) *Store {
	s := &Store{
		svc:     svc,
		doc:     doc,
		limiter: limiter,
		policy:  ratelimit.DefaultPolicy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SystemPartitions are worksheets that share the report document but
// hold operational data, not user records. Fan-out reads over "all
// users" must exclude them.
var SystemPartitions = map[string]bool{
	"Daily_Report": true,
	"System_Logs":  true,
}

// Partitions lists the user partitions in the report document, excluding
// the given system worksheets.
func (s *Store) Partitions(ctx context.Context, exclude map[string]bool) ([]string, error) {
	var titles []string
	err := ratelimit.Retry(ctx, s.limiter, s.policy, func(ctx context.Context) error {
		doc, err := s.svc.Open(ctx, s.doc)
		if err != nil {
			return err
		}
		titles, err = doc.Worksheets(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	var out []string
	for _, t := range titles {
		if !exclude[t] {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadRange returns the partition's records with dates in [start, end]
// inclusive, sorted ascending by date. Rows whose date cell does not
// parse are skipped. A missing partition reads as empty.
func (s *Store) ReadRange(ctx context.Context, partition string, start, end time.Time) ([]Record, error) {
	values, err := s.fetch(ctx, partition)
	if err != nil {
		if errors.Is(err, sheet.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", partition, err)
	}

	var out []Record
	for _, cells := range dataRows(values) {
		rec, ok := recordFromCells(cells)
		if !ok {
			continue
		}
		if rec.Date.Before(start) || rec.Date.After(end) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// WriteRange replaces the partition's records inside [start, end] with
// records, leaving rows outside the window untouched. Every existing row
// whose date falls inside the window is dropped, valid or not, and rows
// with unparsable dates are dropped as well. New records are stamped
// (weekday recomputed, LastUpdated set to now for every row), merged with
// the kept remainder, sorted by date, renumbered from 1 and written back
// in one whole-partition overwrite.
//
// Idempotent for identical inputs up to resequencing. Not atomic across
// concurrent writers: two overlapping writes race on the full-partition
// snapshot and the later one wins. That consistency gap is accepted, not
// papered over with locking.
func (s *Store) WriteRange(ctx context.Context, partition string, start, end time.Time, records []Record) error {
	ws, err := s.ensurePartition(ctx, partition)
	if err != nil {
		return fmt.Errorf("write %s: %w", partition, err)
	}

	// 1. Remainder universe: everything currently in the partition.
	var values [][]string
	err = ratelimit.Retry(ctx, s.limiter, s.policy, func(ctx context.Context) error {
		var ferr error
		values, ferr = ws.Values(ctx)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("write %s: fetch remainder: %w", partition, err)
	}

	// 2. Keep only rows provably outside the window.
	var merged []Record
	for _, cells := range dataRows(values) {
		rec, ok := recordFromCells(cells)
		if !ok {
			continue
		}
		if rec.Date.Before(start) || rec.Date.After(end) {
			merged = append(merged, rec)
		}
	}

	// 3. Validate and stamp the incoming rows.
	stamp := s.now().Format(TimestampLayout)
	for _, rec := range records {
		if rec.Date.IsZero() {
			continue
		}
		rec.Weekday = weekdayLabel(rec.Date)
		rec.LastUpdated = stamp
		merged = append(merged, rec)
	}

	// 4. Sort, renumber, one whole-partition overwrite.
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })
	grid := make([][]string, 0, len(merged)+1)
	grid = append(grid, Headers)
	for i, rec := range merged {
		grid = append(grid, rec.toRow(i+1))
	}

	err = ratelimit.Retry(ctx, s.limiter, s.policy, func(ctx context.Context) error {
		if err := ws.Clear(ctx); err != nil {
			return err
		}
		return ws.WriteAll(ctx, grid)
	})
	if err != nil {
		return fmt.Errorf("write %s: overwrite: %w", partition, err)
	}

	// 5. Drop any cached view of this partition.
	if s.invalidate != nil {
		s.invalidate(partition)
	}
	return nil
}

// fetch reads the raw partition grid through the limiter.
func (s *Store) fetch(ctx context.Context, partition string) ([][]string, error) {
	var values [][]string
	err := ratelimit.Retry(ctx, s.limiter, s.policy, func(ctx context.Context) error {
		doc, err := s.svc.Open(ctx, s.doc)
		if err != nil {
			return err
		}
		ws, err := doc.Worksheet(ctx, partition)
		if err != nil {
			return err
		}
		values, err = ws.Values(ctx)
		return err
	})
	return values, err
}

// ensurePartition opens the partition worksheet, creating it with headers
// on first write.
func (s *Store) ensurePartition(ctx context.Context, partition string) (sheet.Worksheet, error) {
	var ws sheet.Worksheet
	err := ratelimit.Retry(ctx, s.limiter, s.policy, func(ctx context.Context) error {
		doc, err := s.svc.Open(ctx, s.doc)
		if err != nil {
			return err
		}
		ws, err = doc.Worksheet(ctx, partition)
		if errors.Is(err, sheet.ErrNotFound) {
			ws, err = doc.AddWorksheet(ctx, partition, Headers)
		}
		return err
	})
	return ws, err
}

// dataRows strips the header row.
func dataRows(values [][]string) [][]string {
	if len(values) <= 1 {
		return nil
	}
	return values[1:]
}
