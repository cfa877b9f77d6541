package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyJunk is every prefix or separator found in price-list cells.
// Cells come from hand-maintained sheets, so formats vary row to row.
var currencyJunk = strings.NewReplacer(
	"NT$", "",
	"US$", "",
	"$", "",
	",", "",
	" ", "",
	" ", "",
)

// ParseAmount cleans a currency cell into a decimal amount.
// Accepts "NT$1,234.50", "$99", "1234", " 1,000 ".
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := currencyJunk.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("pricing: empty amount %q", raw)
	}
	// Accounting-style negatives: (123.45)
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing: bad amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// QuoteLine is one line of a quotation.
type QuoteLine struct {
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int64           `json:"quantity"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
}

// Amount is the discounted line total, rounded to 2 places.
func (l QuoteLine) Amount() decimal.Decimal {
	gross := l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
	factor := decimal.NewFromInt(100).Sub(l.DiscountPct).Div(decimal.NewFromInt(100))
	return gross.Mul(factor).Round(2)
}

// QuoteTotal sums line amounts.
func QuoteTotal(lines []QuoteLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount())
	}
	return total
}
