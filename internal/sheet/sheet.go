// Package sheet is the boundary to the remote spreadsheet provider. The
// provider exposes named documents containing named worksheets and only
// whole-worksheet read/write semantics: there is no server-side range
// query, so every range filter happens client-side after a full read.
package sheet

import "context"

// Row is one worksheet row keyed by the header of its column.
type Row map[string]string

// Cell is a 1-based worksheet position.
type Cell struct {
	Row int
	Col int
}

// Service opens documents by name and supports archival copies.
type Service interface {
	// Open returns the named document. A missing document is ErrNotFound.
	Open(ctx context.Context, name string) (Document, error)
	// Copy duplicates a whole document under a new title inside the given
	// folder. Used by the maintenance archival pass.
	Copy(ctx context.Context, name, title, folderID string) error
}

// Document is a named collection of worksheets.
type Document interface {
	Name() string
	// Worksheets lists worksheet titles in document order.
	Worksheets(ctx context.Context) ([]string, error)
	// Worksheet returns the named worksheet, or ErrNotFound.
	Worksheet(ctx context.Context, title string) (Worksheet, error)
	// AddWorksheet creates a worksheet and writes the header row.
	AddWorksheet(ctx context.Context, title string, headers []string) (Worksheet, error)
}

// Worksheet is one partition. All mutations are whole-resource or
// append/delete by index; callers emulate anything finer on top.
type Worksheet interface {
	Title() string
	// Rows returns data rows keyed by the header row. Rows shorter than
	// the header are padded with empty strings.
	Rows(ctx context.Context) ([]Row, error)
	// Values returns the raw grid including the header row.
	Values(ctx context.Context) ([][]string, error)
	// Append adds one row after the last non-empty row.
	Append(ctx context.Context, values []string) error
	// Clear removes every row including the header.
	Clear(ctx context.Context) error
	// WriteAll replaces the worksheet contents starting at the top-left
	// cell. The first row is conventionally the header.
	WriteAll(ctx context.Context, values [][]string) error
	// FindCell locates the first cell equal to value, or ErrNotFound.
	FindCell(ctx context.Context, value string) (Cell, error)
	// DeleteRow removes the 1-based row index.
	DeleteRow(ctx context.Context, index int) error
	// UpdateCell sets a single cell.
	UpdateCell(ctx context.Context, row, col int, value string) error
}

// Pacer throttles outbound calls. Implementations block until the caller
// may proceed; the adaptive limiter in internal/ratelimit is the one used
// in production.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NopPacer performs no throttling. Useful in tests.
type NopPacer struct{}

func (NopPacer) Wait(ctx context.Context) error { return ctx.Err() }
