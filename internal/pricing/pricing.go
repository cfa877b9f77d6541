// Package pricing serves price lookups from the price-list document.
// The document is org-maintained and changes rarely, so every worksheet
// is read through the snapshot cache and searches run locally.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fieldreport.org/internal/cache"
	"fieldreport.org/internal/sheet"
)

// maxMatches caps one search response.
const maxMatches = 200

// priceSheet is the canonical dealer price worksheet. Older documents
// keep the list in the first worksheet instead.
const priceSheet = "經銷價(總)"

// Match is one matching price row with its worksheet context.
type Match struct {
	Worksheet string   `json:"worksheet"`
	Header    []string `json:"header"`
	Row       []string `json:"row"`
}

// Result is a search outcome. Warnings carry staleness notices from the
// snapshot cache; a non-empty warning list does not invalidate matches.
type Result struct {
	Matches  []Match  `json:"matches"`
	Warnings []string `json:"warnings,omitempty"`
	Stale    bool     `json:"stale,omitempty"`
}

// Service searches the price-list document.
type Service struct {
	svc   sheet.Service
	doc   string
	cache *cache.Snapshot
}

// NewService creates a price search over the named document.
func NewService(svc sheet.Service, doc string, snap *cache.Snapshot) *Service {
	return &Service{svc: svc, doc: doc, cache: snap}
}

// Search returns rows matching every whitespace-separated token of the
// query, case-insensitively, across all columns of the price worksheet.
func (s *Service) Search(ctx context.Context, query string) (Result, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return Result{}, errors.New("pricing: empty query")
	}

	grid, status, err := s.cache.Get(ctx, s.cacheKey(), s.fetch)
	if err != nil {
		return Result{}, fmt.Errorf("pricing: load price list: %w", err)
	}
	var res Result
	res.note(status)
	if len(grid) == 0 {
		return res, nil
	}

	header := grid[0]
	for _, row := range grid[1:] {
		if !rowMatches(row, tokens) {
			continue
		}
		res.Matches = append(res.Matches, Match{Worksheet: priceSheet, Header: header, Row: row})
		if len(res.Matches) >= maxMatches {
			break
		}
	}
	return res, nil
}

// Refresh drops the cached price list so the next search refetches.
func (s *Service) Refresh() {
	s.cache.Invalidate(s.cacheKey())
}

// fetch reads the price worksheet, falling back to the document's first
// worksheet when the canonical title is absent.
func (s *Service) fetch(ctx context.Context) ([][]string, error) {
	doc, err := s.svc.Open(ctx, s.doc)
	if err != nil {
		return nil, err
	}
	ws, err := doc.Worksheet(ctx, priceSheet)
	if errors.Is(err, sheet.ErrNotFound) {
		titles, lerr := doc.Worksheets(ctx)
		if lerr != nil || len(titles) == 0 {
			return nil, err
		}
		ws, err = doc.Worksheet(ctx, titles[0])
	}
	if err != nil {
		return nil, err
	}
	return ws.Values(ctx)
}

func (s *Service) cacheKey() string {
	return "pricelist_" + s.doc
}

func (r *Result) note(status cache.Status) {
	if status.Warning != "" {
		r.Warnings = append(r.Warnings, status.Warning)
	}
	if status.Source == cache.SourceStale {
		r.Stale = true
	}
}

func tokenize(query string) []string {
	var tokens []string
	for _, tok := range strings.Fields(query) {
		tokens = append(tokens, strings.ToLower(tok))
	}
	return tokens
}

func rowMatches(row []string, tokens []string) bool {
	joined := strings.ToLower(strings.Join(row, " "))
	for _, tok := range tokens {
		if !strings.Contains(joined, tok) {
			return false
		}
	}
	return true
}
