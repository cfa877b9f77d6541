// Package crm appends visit entries to the CRM form-response document
// and aggregates them for the overview page. The response worksheet is a
// form artifact with a fixed 18-column layout; column order is part of
// the provider contract and must not change.
package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fieldreport.org/internal/pricing"
	"fieldreport.org/internal/sheet"
)

// responseSheet is the form-response worksheet title as the provider
// names it. Documents created before the form rename fall back to the
// first worksheet.
const responseSheet = "表單回應 1"

// Header is the response worksheet header in column order.
var Header = []string{
	"Timestamp",
	"填寫人",
	"客戶名稱",
	"通路商",
	"競爭通路",
	"行動方案",
	"客戶性質",
	"流失取回",
	"產業別",
	"拜訪日期",
	"推廣產品",
	"工作內容",
	"產出日期",
	"總金額",
	"依賴事項",
	"實際行程",
	"競爭品牌",
	"客戶所屬",
}

// Entry is one CRM submission.
type Entry struct {
	Submitter         string    `json:"submitter"`
	Customer          string    `json:"customer"`
	Channel           string    `json:"channel"`
	CompetitorChannel string    `json:"competitor_channel"`
	Action            string    `json:"action"`
	CustomerType      string    `json:"customer_type"`
	LostRecovery      string    `json:"lost_recovery"`
	Industry          string    `json:"industry"`
	VisitDate         time.Time `json:"visit_date"`
	Products          []string  `json:"products"`
	WorkContent       string    `json:"work_content"`
	EstDate           string    `json:"est_date"`
	Amount            string    `json:"amount"`
	Dependencies      string    `json:"dependencies"`
	Itinerary         string    `json:"itinerary"`
	CompetitorBrand   string    `json:"competitor_brand"`
	Owner             string    `json:"owner"`
}

// Store appends and reads CRM entries.
type Store struct {
	svc sheet.Service
	doc string
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store over the named CRM document.
func NewStore(svc sheet.Service, doc string, opts ...Option) *Store {
	s := &Store{svc: svc, doc: doc, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and appends one entry.
func (s *Store) Submit(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.Submitter) == "" {
		return fmt.Errorf("crm: submitter is required")
	}
	if strings.TrimSpace(e.Customer) == "" {
		return fmt.Errorf("crm: customer is required")
	}
	if e.VisitDate.IsZero() {
		return fmt.Errorf("crm: visit date is required")
	}
	ws, err := s.worksheet(ctx)
	if err != nil {
		return err
	}
	if err := ws.Append(ctx, e.toRow(s.now())); err != nil {
		return fmt.Errorf("crm: append entry: %w", err)
	}
	return nil
}

// Rows returns every entry row for aggregation.
func (s *Store) Rows(ctx context.Context) ([]sheet.Row, error) {
	ws, err := s.worksheet(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := ws.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("crm: read entries: %w", err)
	}
	return rows, nil
}

func (s *Store) worksheet(ctx context.Context) (sheet.Worksheet, error) {
	doc, err := s.svc.Open(ctx, s.doc)
	if err != nil {
		return nil, fmt.Errorf("crm: open %s: %w", s.doc, err)
	}
	ws, err := doc.Worksheet(ctx, responseSheet)
	if err == nil {
		return ws, nil
	}
	titles, lerr := doc.Worksheets(ctx)
	if lerr != nil || len(titles) == 0 {
		return nil, fmt.Errorf("crm: open response sheet: %w", err)
	}
	return doc.Worksheet(ctx, titles[0])
}

func (e Entry) toRow(now time.Time) []string {
	return []string{
		ProviderTimestamp(now),
		e.Submitter,
		e.Customer,
		e.Channel,
		e.CompetitorChannel,
		e.Action,
		e.CustomerType,
		e.LostRecovery,
		e.Industry,
		civilDate(e.VisitDate),
		strings.Join(e.Products, ","),
		e.WorkContent,
		e.EstDate,
		e.Amount,
		e.Dependencies,
		e.Itinerary,
		e.CompetitorBrand,
		e.Owner,
	}
}

// ProviderTimestamp renders the form backend's timestamp format:
// unpadded date, 上午/下午 marker, 12-hour clock with padded minutes and
// seconds, e.g. "2026/1/26 下午 4:15:05".
func ProviderTimestamp(t time.Time) string {
	marker := "上午"
	if t.Hour() >= 12 {
		marker = "下午"
	}
	h := t.Hour() % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d/%d/%d %s %d:%02d:%02d",
		t.Year(), int(t.Month()), t.Day(), marker, h, t.Minute(), t.Second())
}

func civilDate(t time.Time) string {
	return fmt.Sprintf("%d/%d/%d", t.Year(), int(t.Month()), t.Day())
}

// Filter narrows a rollup. Zero values match everything.
type Filter struct {
	Submitter string
	Customer  string
	Product   string
	Industry  string
	From      time.Time
	To        time.Time
}

// Summary is the overview aggregation.
type Summary struct {
	Cases         int             `json:"cases"`
	Customers     int             `json:"customers"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AverageAmount decimal.Decimal `json:"average_amount"`
}

// Rollup aggregates the filtered rows: case count, distinct customers,
// total and average amount. Unparsable amount cells count as zero, the
// way the overview page has always treated them.
func Rollup(rows []sheet.Row, f Filter) Summary {
	var sum Summary
	total := decimal.Zero
	customers := make(map[string]bool)
	for _, row := range rows {
		if !f.matches(row) {
			continue
		}
		sum.Cases++
		if c := strings.TrimSpace(row["客戶名稱"]); c != "" {
			customers[c] = true
		}
		if amt, err := pricing.ParseAmount(row["總金額"]); err == nil {
			total = total.Add(amt)
		}
	}
	sum.Customers = len(customers)
	sum.TotalAmount = total
	if sum.Cases > 0 {
		sum.AverageAmount = total.Div(decimal.NewFromInt(int64(sum.Cases))).Round(2)
	} else {
		sum.AverageAmount = decimal.Zero
	}
	return sum
}

func (f Filter) matches(row sheet.Row) bool {
	if f.Submitter != "" && !strings.EqualFold(strings.TrimSpace(row["填寫人"]), f.Submitter) {
		return false
	}
	if f.Customer != "" && !containsFold(row["客戶名稱"], f.Customer) {
		return false
	}
	if f.Product != "" && !containsFold(row["推廣產品"], f.Product) {
		return false
	}
	if f.Industry != "" && strings.TrimSpace(row["產業別"]) != f.Industry {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		visit, err := ParseVisitDate(row["拜訪日期"])
		if err != nil {
			return false
		}
		if !f.From.IsZero() && visit.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && visit.After(f.To) {
			return false
		}
	}
	return true
}

// ParseVisitDate reads the unpadded provider date, accepting the padded
// form as well.
func ParseVisitDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006/1/2", "2006/01/02", "2006-01-02"} {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("crm: bad visit date %q", raw)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
