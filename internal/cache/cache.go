// Package cache materializes read-heavy remote datasets on local disk so
// the lookup views survive provider outages and quota storms. A snapshot
// younger than the freshness window is served as-is; a stale one is only
// served when the live fetch fails, and always with a warning.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/xuri/excelize/v2"

	"fieldreport.org/internal/obs"
)

const snapshotSheet = "snapshot"

// Source tells the caller where a payload came from.
type Source string

const (
	SourceFresh Source = "fresh" // on-disk snapshot inside the freshness window
	SourceLive  Source = "live"  // remote fetch, snapshot rewritten
	SourceStale Source = "stale" // remote fetch failed, degraded fallback
	SourceNone  Source = "none"  // nothing available
)

// Status reports how a Get was served. Warning is non-empty exactly when
// the payload is degraded or absent.
type Status struct {
	Source  Source
	Age     time.Duration
	Warning string
}

// Fetcher performs the live remote read backing a dataset.
type Fetcher func(ctx context.Context) ([][]string, error)

// Snapshot caches tabular datasets as one workbook file per dataset key.
// The file's mtime is the freshness signal.
type Snapshot struct {
	dir    string
	window time.Duration
	now    func() time.Time
}

// Option configures a Snapshot.
type Option func(*Snapshot)

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Snapshot) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a snapshot cache rooted at dir. window is the freshness
// window; 24 hours in production.
func New(dir string, window time.Duration, opts ...Option) *Snapshot {
	s := &Snapshot{dir: dir, window: window, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get serves the dataset, preferring a fresh snapshot, then a live fetch,
// then a stale snapshot. Only when all three fail does it return an
// empty payload with an error-level warning. Persisting a fresh fetch is
// best-effort and never fails the read.
func (s *Snapshot) Get(ctx context.Context, key string, fetch Fetcher) ([][]string, Status, error) {
	path := s.path(key)

	if age, ok := s.age(path); ok && age < s.window {
		rows, err := readWorkbook(path)
		if err == nil {
			obs.ObserveSnapshotRead(string(SourceFresh))
			return rows, Status{Source: SourceFresh, Age: age}, nil
		}
		// Unreadable snapshot file: fall through to the live path.
		obs.LogEvent("warn", "snapshot unreadable", map[string]any{"key": key, "error": err.Error()})
	}

	rows, fetchErr := fetch(ctx)
	if fetchErr == nil {
		if err := s.persist(path, rows); err != nil {
			obs.LogEvent("warn", "snapshot persist failed", map[string]any{"key": key, "error": err.Error()})
		}
		obs.ObserveSnapshotRead(string(SourceLive))
		return rows, Status{Source: SourceLive}, nil
	}

	if age, ok := s.age(path); ok {
		rows, err := readWorkbook(path)
		if err == nil {
			obs.ObserveSnapshotRead(string(SourceStale))
			hours := int(age.Hours())
			return rows, Status{
				Source:  SourceStale,
				Age:     age,
				Warning: fmt.Sprintf("remote fetch failed; serving snapshot %d hours old", hours),
			}, nil
		}
	}

	obs.ObserveSnapshotRead(string(SourceNone))
	return nil, Status{
		Source:  SourceNone,
		Warning: "remote fetch failed and no snapshot is available",
	}, fmt.Errorf("cache %s: %w", key, fetchErr)
}

// Invalidate removes the dataset's snapshot. Missing files are fine.
func (s *Snapshot) Invalidate(key string) {
	_ = os.Remove(s.path(key))
}

// InvalidatePrefix removes every snapshot whose dataset key starts with
// prefix. Derived views cache under composite keys (one per user and
// date range), so a write has to sweep all of them. Over-matching only
// costs a refetch.
func (s *Snapshot) InvalidatePrefix(prefix string) {
	pattern := filepath.Join(s.dir, unsafeKeyChars.ReplaceAllString(prefix, "_")+"*.xlsx")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// age returns the snapshot's age by file mtime.
func (s *Snapshot) age(path string) (time.Duration, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return s.now().Sub(info.ModTime()), true
}

// persist writes the dataset as a single-sheet workbook, replacing any
// previous snapshot.
func (s *Snapshot) persist(path string, rows [][]string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), snapshotSheet); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		if err := f.SetSheetRow(snapshotSheet, cell, &cells); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.GetRows(snapshotSheet)
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// path maps a dataset key onto a workbook filename.
func (s *Snapshot) path(key string) string {
	return filepath.Join(s.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".xlsx")
}
