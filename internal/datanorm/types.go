package datanorm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Variant discriminates the two pricing row shapes.
type Variant string

const (
	VariantFunnel   Variant = "funnel"
	VariantStandard Variant = "standard"
)

// Row is a normalized pricing record. It is implemented only by
// *FunnelLevelRow and *StandardRow.
type Row interface {
	Variant() Variant
	// Key identifies the row for upserts. Two rows with the same key
	// describe the same catalog entry.
	Key() string
	isRow()
}

// NumberOrString holds a cell that is numeric when it parses as a finite
// number and text otherwise.
type NumberOrString struct {
	Num   float64
	Str   string
	IsNum bool
}

func Number(f float64) NumberOrString { return NumberOrString{Num: f, IsNum: true} }
func Text(s string) NumberOrString    { return NumberOrString{Str: s} }

func (v NumberOrString) String() string {
	if v.IsNum {
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	}
	return v.Str
}

func (v NumberOrString) MarshalJSON() ([]byte, error) {
	if v.IsNum {
		return json.Marshal(v.Num)
	}
	return json.Marshal(v.Str)
}

func (v *NumberOrString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("number or string: %w", err)
	}
	*v = Number(f)
	return nil
}

// FunnelLevelRow is a lead-generation funnel stage offer.
type FunnelLevelRow struct {
	Segment      string         `json:"segment"`
	BillingCycle string         `json:"billingCycle"`
	FunnelLevel  string         `json:"funnelLevel"`
	LeadGenName  string         `json:"leadGenName"`
	Price        NumberOrString `json:"price"`
	Tagline      string         `json:"tagline,omitempty"`
	Features     []string       `json:"features,omitempty"`
	Type         string         `json:"type,omitempty"`
	MinimumPrice *float64       `json:"minimumPrice,omitempty"`
}

func (*FunnelLevelRow) Variant() Variant { return VariantFunnel }
func (*FunnelLevelRow) isRow()           {}

func (r *FunnelLevelRow) Key() string {
	return rowKey(VariantFunnel, r.Segment, r.BillingCycle, r.FunnelLevel, r.LeadGenName)
}

// StandardRow is a personal or business subscription plan.
type StandardRow struct {
	Segment            string          `json:"segment"`
	BillingCycle       string          `json:"billingCycle"`
	PlanName           string          `json:"planName"`
	Price              NumberOrString  `json:"price"`
	Tagline            string          `json:"tagline,omitempty"`
	Credits            *NumberOrString `json:"credits,omitempty"`
	AIHunterSearches   *NumberOrString `json:"aiHunterSearches,omitempty"`
	ContactValidations *NumberOrString `json:"contactValidations,omitempty"`
	Features           []string        `json:"features,omitempty"`
}

func (*StandardRow) Variant() Variant { return VariantStandard }
func (*StandardRow) isRow()           {}

func (r *StandardRow) Key() string {
	return rowKey(VariantStandard, r.Segment, r.BillingCycle, r.PlanName)
}

func rowKey(v Variant, parts ...string) string {
	slugs := make([]string, 0, len(parts)+1)
	slugs = append(slugs, string(v))
	for _, p := range parts {
		slugs = append(slugs, strings.ReplaceAll(normalizeValue(p), " ", "-"))
	}
	return strings.Join(slugs, "#")
}

// DecodeRow rebuilds a Row from its stored JSON form.
func DecodeRow(v Variant, data []byte) (Row, error) {
	switch v {
	case VariantFunnel:
		var r FunnelLevelRow
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case VariantStandard:
		var r StandardRow
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	default:
		return nil, fmt.Errorf("unknown row variant %q", v)
	}
}

// Entry pairs a row with its discriminator for storage and transport.
type Entry struct {
	Variant Variant `json:"variant"`
	Key     string  `json:"key"`
	Row     Row     `json:"row"`
}

// NewEntry wraps r.
func NewEntry(r Row) Entry {
	return Entry{Variant: r.Variant(), Key: r.Key(), Row: r}
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw struct {
		Variant Variant         `json:"variant"`
		Key     string          `json:"key"`
		Row     json.RawMessage `json:"row"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	row, err := DecodeRow(raw.Variant, raw.Row)
	if err != nil {
		return err
	}
	e.Variant, e.Key, e.Row = raw.Variant, raw.Key, row
	return nil
}

// UploadResult is what a store reports after persisting a batch.
type UploadResult struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}
