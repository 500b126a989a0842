package datanorm

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// flexiblePrice is shown for funnel offers that carry no numeric price.
const flexiblePrice = "Flexible"

// ErrMissingIdentifier marks a row that classifies but cannot be keyed.
var ErrMissingIdentifier = errors.New("missing identifying value")

// NormalizeRow converts one raw row to its variant shape. It returns
// (nil, nil) for rows with a blank Segment or Billing Cycle, which are
// skipped rather than reported.
func NormalizeRow(row RawRow, headers HeaderMap) (Row, error) {
	segment := headers.Value(row, ColSegment)
	billing := headers.Value(row, ColBillingCycle)
	if segment == "" || billing == "" {
		return nil, nil
	}

	tagline := headers.Value(row, ColTagline)
	features := splitFeatures(headers.Value(row, ColAdditionalFeatures))

	if classifySegment(segment) == segmentFunnel {
		r, err := normalizeFunnel(row, headers, segment, billing, tagline, features)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := normalizeStandard(row, headers, segment, billing, tagline, features)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func normalizeFunnel(row RawRow, headers HeaderMap, segment, billing, tagline string, features []string) (*FunnelLevelRow, error) {
	out := &FunnelLevelRow{
		Segment:      segment,
		BillingCycle: billing,
		FunnelLevel:  strings.ToUpper(headers.Value(row, ColFunnelLevel)),
		LeadGenName:  headers.Value(row, ColLeadGenName),
		Tagline:      tagline,
		Features:     features,
		Type:         headers.Value(row, ColType),
	}
	if out.FunnelLevel == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingIdentifier, ColFunnelLevel.Label())
	}
	if out.LeadGenName == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingIdentifier, ColLeadGenName.Label())
	}

	if minPrice, ok := parseNumber(headers.Value(row, ColMinimumPrice)); ok {
		out.MinimumPrice = &minPrice
		out.Price = Number(minPrice)
	} else if price, ok := parseNumber(headers.Value(row, ColPrice)); ok {
		out.MinimumPrice = &price
		out.Price = Number(price)
	} else {
		out.Price = Text(flexiblePrice)
	}
	return out, nil
}

func normalizeStandard(row RawRow, headers HeaderMap, segment, billing, tagline string, features []string) (*StandardRow, error) {
	out := &StandardRow{
		Segment:            segment,
		BillingCycle:       billing,
		PlanName:           headers.Value(row, ColPlanName),
		Price:              coerce(headers.Value(row, ColPrice)),
		Tagline:            tagline,
		Credits:            optional(headers.Value(row, ColCredits)),
		AIHunterSearches:   optional(headers.Value(row, ColAIHunterSearches)),
		ContactValidations: optional(headers.Value(row, ColContactValidations)),
		Features:           features,
	}
	if out.PlanName == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingIdentifier, ColPlanName.Label())
	}
	return out, nil
}

var decimalNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// parseNumber accepts a trimmed cell written as a finite decimal literal
// or an unsigned 0x, 0o or 0b integer. Hex floats, digit separators and
// currency or thousands marks stay text.
func parseNumber(s string) (float64, bool) {
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			if s[2] == '+' || s[2] == '-' {
				return 0, false
			}
			n, ok := new(big.Int).SetString(s[2:], base)
			if !ok {
				return 0, false
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			return f, !math.IsInf(f, 0)
		}
	}
	if !decimalNumber.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func coerce(s string) NumberOrString {
	if f, ok := parseNumber(s); ok {
		return Number(f)
	}
	return Text(s)
}

func optional(s string) *NumberOrString {
	if s == "" {
		return nil
	}
	v := coerce(s)
	return &v
}

func splitFeatures(cell string) []string {
	if cell == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(cell, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
