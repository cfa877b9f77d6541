// Package memory is an in-memory spreadsheet provider used in tests. It
// honors the same whole-resource semantics as the HTTP client and can be
// scripted to fail with taxonomy errors.
package memory

import (
	"context"
	"sort"
	"sync"

	"fieldreport.org/internal/sheet"
)

// Service is an in-memory sheet.Service.
type Service struct {
	mu     sync.Mutex
	docs   map[string]*Document
	copies []CopyRecord

	// failures holds errors returned (and consumed) before the next
	// calls, in order. Lets tests simulate quota storms.
	failures []error
}

// CopyRecord remembers one archival copy request.
type CopyRecord struct {
	Source string
	Title  string
	Folder string
}

// NewService creates an empty provider.
func NewService() *Service {
	return &Service{docs: make(map[string]*Document)}
}

// AddDocument registers a document, creating it when absent.
func (s *Service) AddDocument(name string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[name]; ok {
		return d
	}
	d := &Document{service: s, name: name, sheets: make(map[string]*Worksheet)}
	s.docs[name] = d
	return d
}

// FailNext queues errors returned by upcoming calls, one per call.
func (s *Service) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Copies returns the archival copies requested so far.
func (s *Service) Copies() []CopyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CopyRecord, len(s.copies))
	copy(out, s.copies)
	return out
}

func (s *Service) nextFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

// Open implements sheet.Service.
func (s *Service) Open(ctx context.Context, name string) (sheet.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nextFailure(); err != nil {
		return nil, err
	}
	d, ok := s.docs[name]
	if !ok {
		return nil, sheet.ErrNotFound
	}
	return d, nil
}

// Copy implements sheet.Service.
func (s *Service) Copy(ctx context.Context, name, title, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nextFailure(); err != nil {
		return err
	}
	if _, ok := s.docs[name]; !ok {
		return sheet.ErrNotFound
	}
	s.copies = append(s.copies, CopyRecord{Source: name, Title: title, Folder: folderID})
	return nil
}

// Document is an in-memory sheet.Document.
type Document struct {
	service *Service
	name    string
	sheets  map[string]*Worksheet
	order   []string
}

func (d *Document) Name() string { return d.name }

// Service returns the owning provider, for failure scripting in tests.
func (d *Document) Service() *Service { return d.service }

// AddSheet creates a worksheet with the given header and data rows
// directly, bypassing failure scripting. Test setup helper.
func (d *Document) AddSheet(title string, values [][]string) *Worksheet {
	d.service.mu.Lock()
	defer d.service.mu.Unlock()
	ws := &Worksheet{doc: d, title: title, values: cloneGrid(values)}
	if _, exists := d.sheets[title]; !exists {
		d.order = append(d.order, title)
	}
	d.sheets[title] = ws
	return ws
}

// Worksheets implements sheet.Document.
func (d *Document) Worksheets(ctx context.Context) ([]string, error) {
	d.service.mu.Lock()
	defer d.service.mu.Unlock()
	if err := d.service.nextFailure(); err != nil {
		return nil, err
	}
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out, nil
}

// Worksheet implements sheet.Document.
func (d *Document) Worksheet(ctx context.Context, title string) (sheet.Worksheet, error) {
	d.service.mu.Lock()
	defer d.service.mu.Unlock()
	if err := d.service.nextFailure(); err != nil {
		return nil, err
	}
	ws, ok := d.sheets[title]
	if !ok {
		return nil, sheet.ErrNotFound
	}
	return ws, nil
}

// AddWorksheet implements sheet.Document.
func (d *Document) AddWorksheet(ctx context.Context, title string, headers []string) (sheet.Worksheet, error) {
	d.service.mu.Lock()
	defer d.service.mu.Unlock()
	if err := d.service.nextFailure(); err != nil {
		return nil, err
	}
	ws := &Worksheet{doc: d, title: title}
	if len(headers) > 0 {
		ws.values = [][]string{append([]string(nil), headers...)}
	}
	if _, exists := d.sheets[title]; !exists {
		d.order = append(d.order, title)
	}
	d.sheets[title] = ws
	return ws, nil
}

// Worksheet is an in-memory sheet.Worksheet.
type Worksheet struct {
	doc    *Document
	title  string
	values [][]string
}

func (w *Worksheet) Title() string { return w.title }

// Grid returns a copy of the raw values for assertions.
func (w *Worksheet) Grid() [][]string {
	w.doc.service.mu.Lock()
	defer w.doc.service.mu.Unlock()
	return cloneGrid(w.values)
}

func (w *Worksheet) Values(ctx context.Context) ([][]string, error) {
	w.doc.service.mu.Lock()
	defer w.doc.service.mu.Unlock()
	if err := w.doc.service.nextFailure(); err != nil {
		return nil, err
	}
	return cloneGrid(w.values), nil
}

func (w *Worksheet) Rows(ctx context.Context) ([]sheet.Row, error) {
	values, err := w.Values(ctx)
	if err != nil {
		return nil, err
	}
	return sheet.RowsFromValues(values), nil
}

func (w *Worksheet) Append(ctx context.Context, values []string) error {
	w.doc.service.mu.Lock()
	defer w.doc.service.mu.Unlock()
	if err := w.doc.service.nextFailure(); err != nil {
		return err
	}
	w.values = append(w.values, append([]string(nil), values...))
	return nil
}

func (w *Worksheet) Clear(ctx context.Context) error {
	w.doc.service.mu.Lock()
	defer w.doc.service.mu.Unlock()
	if err := w.doc.service.nextFailure(); err != nil {
		return err
	}
	w.values = nil
	return nil
}

func (w *Worksheet) WriteAll(ctx context.Context, values [][]string) error {
	w.doc.service.mu.Lock()
	defer w.doc.service.mu.Unlock()
	if err := w.doc.service.nextFailure(); err != nil {
		return err
	}
	w.values = cloneGrid(values)
	return nil
}

func (w *Worksheet) FindCell(ctx context.Context, value string) (sheet.Cell, error) {
	w.doc.service.mu.Lock()
	defer w.doc.service.mu.Unlock()
	if err := w.doc.service.nextFailure(); err != nil {
		return sheet.Cell{}, err
	}
	for r, row := range w.values {
		for c, cell := range row {
			if cell == value {
				return sheet.Cell{Row: r + 1, Col: c + 1}, nil
			}
		}
	}
	return sheet.Cell{}, sheet.ErrNotFound
}

func (w *Worksheet) DeleteRow(ctx context.Context, index int) error {
	w.doc.service.mu.Lock()
	defer w.doc.service.mu.Unlock()
	if err := w.doc.service.nextFailure(); err != nil {
		return err
	}
	if index < 1 || index > len(w.values) {
		return sheet.ErrNotFound
	}
	w.values = append(w.values[:index-1], w.values[index:]...)
	return nil
}

func (w *Worksheet) UpdateCell(ctx context.Context, row, col int, value string) error {
	w.doc.service.mu.Lock()
	defer w.doc.service.mu.Unlock()
	if err := w.doc.service.nextFailure(); err != nil {
		return err
	}
	if row < 1 || row > len(w.values) {
		return sheet.ErrNotFound
	}
	for len(w.values[row-1]) < col {
		w.values[row-1] = append(w.values[row-1], "")
	}
	w.values[row-1][col-1] = value
	return nil
}

// SortedTitles returns worksheet titles sorted, for stable assertions.
func (d *Document) SortedTitles() []string {
	d.service.mu.Lock()
	defer d.service.mu.Unlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	sort.Strings(out)
	return out
}

func cloneGrid(values [][]string) [][]string {
	if values == nil {
		return nil
	}
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = append([]string(nil), row...)
	}
	return out
}
