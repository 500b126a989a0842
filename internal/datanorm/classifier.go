package datanorm

import (
	"fmt"
	"strings"
)

// segmentKind is the classification of a row's Segment value.
type segmentKind int

const (
	segmentOther segmentKind = iota
	segmentStandard
	segmentFunnel
)

func classifySegment(segment string) segmentKind {
	switch normalizeValue(segment) {
	case "funnel level":
		return segmentFunnel
	case "personal", "business":
		return segmentStandard
	default:
		return segmentOther
	}
}

// RequiredColumns returns the header set a batch must carry given which
// row kinds it contains.
func RequiredColumns(hasStandard, hasFunnel bool) []Column {
	cols := []Column{ColSegment, ColBillingCycle}
	if hasStandard {
		cols = append(cols, ColPlanName, ColPrice)
	}
	if hasFunnel {
		cols = append(cols, ColFunnelLevel, ColLeadGenName)
	}
	return cols
}

// MissingHeadersError rejects a whole upload whose header row lacks
// columns its rows require.
type MissingHeadersError struct {
	Missing  []string `json:"missing"`
	Expected []string `json:"expected"`
	Detected []string `json:"detected"`
}

func (e *MissingHeadersError) Error() string {
	return fmt.Sprintf("missing required headers: %s", strings.Join(e.Missing, ", "))
}

// Validate gates the batch on the conditional header sets. It runs before
// any row is normalized. Rows the normalizer will skip do not count
// toward either set; while Billing Cycle is unmapped the upload is
// rejected anyway, so only Segment decides.
func Validate(rows []RawRow, headers HeaderMap, detected []string) error {
	var hasStandard, hasFunnel bool
	checkBilling := headers.Has(ColBillingCycle)
	for _, row := range rows {
		if checkBilling && headers.Value(row, ColBillingCycle) == "" {
			continue
		}
		switch classifySegment(headers.Value(row, ColSegment)) {
		case segmentFunnel:
			hasFunnel = true
		case segmentStandard:
			hasStandard = true
		}
		if hasFunnel && hasStandard {
			break
		}
	}

	required := RequiredColumns(hasStandard, hasFunnel)
	expected := make([]string, 0, len(required))
	var missing []string
	for _, c := range required {
		expected = append(expected, c.Label())
		if !headers.Has(c) {
			missing = append(missing, c.Label())
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingHeadersError{
		Missing:  missing,
		Expected: expected,
		Detected: append([]string{}, detected...),
	}
}
