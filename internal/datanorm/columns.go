package datanorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Column is a canonical pricing sheet column.
type Column int

const (
	ColSegment Column = iota
	ColBillingCycle
	ColPlanName
	ColCredits
	ColTagline
	ColPrice
	ColAIHunterSearches
	ColContactValidations
	ColAdditionalFeatures
	ColFunnelLevel
	ColLeadGenName
	ColType
	ColMinimumPrice
	numColumns
)

var columnLabels = [numColumns]string{
	ColSegment:            "Segment",
	ColBillingCycle:       "Billing Cycle",
	ColPlanName:           "Plan Name",
	ColCredits:            "Credits",
	ColTagline:            "Tagline",
	ColPrice:              "Price (USD)",
	ColAIHunterSearches:   "AI Hunter Searches",
	ColContactValidations: "Contact Validations",
	ColAdditionalFeatures: "Additional Features",
	ColFunnelLevel:        "Funnel Level",
	ColLeadGenName:        "Lead Gen Name",
	ColType:               "Type",
	ColMinimumPrice:       "Minimum Price",
}

// Label is the column's canonical spelling.
func (c Column) Label() string {
	if c < 0 || c >= numColumns {
		return ""
	}
	return columnLabels[c]
}

func (c Column) String() string { return c.Label() }

// AllColumns lists every canonical column in display order.
func AllColumns() []Column {
	cols := make([]Column, numColumns)
	for i := range cols {
		cols[i] = Column(i)
	}
	return cols
}

var columnsByKey = func() map[string]Column {
	m := make(map[string]Column, numColumns)
	for _, c := range AllColumns() {
		m[NormalizeHeader(c.Label())] = c
	}
	return m
}()

// NormalizeHeader reduces a header label to its comparison key: case
// folded with every non-alphanumeric rune removed, so "price (usd)",
// "Price(USD)" and "PRICE  USD" all compare equal.
func NormalizeHeader(label string) string {
	folded := cases.Fold().String(label)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LookupColumn maps a free-text label to its canonical column.
func LookupColumn(label string) (Column, bool) {
	c, ok := columnsByKey[NormalizeHeader(label)]
	return c, ok
}

// HeaderMap maps canonical columns to the label actually used in the
// sheet. Columns not present in the sheet have no entry.
type HeaderMap map[Column]string

// DetectHeaders builds a HeaderMap from sheet labels. When two labels
// normalize to the same column the first one wins.
func DetectHeaders(labels []string) HeaderMap {
	h := make(HeaderMap)
	for _, label := range labels {
		if strings.TrimSpace(label) == "" {
			continue
		}
		if c, ok := LookupColumn(label); ok {
			if _, seen := h[c]; !seen {
				h[c] = label
			}
		}
	}
	return h
}

func (h HeaderMap) Has(c Column) bool {
	_, ok := h[c]
	return ok
}

// Value returns the trimmed cell for column c, or "" when the column is
// not mapped.
func (h HeaderMap) Value(row RawRow, c Column) string {
	label, ok := h[c]
	if !ok {
		return ""
	}
	return strings.TrimSpace(row[label])
}

// Canonical lists the canonical labels present, in column order.
func (h HeaderMap) Canonical() []string {
	out := make([]string, 0, len(h))
	for _, c := range AllColumns() {
		if h.Has(c) {
			out = append(out, c.Label())
		}
	}
	return out
}

// normalizeValue lowercases and collapses internal whitespace.
func normalizeValue(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
