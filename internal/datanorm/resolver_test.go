package datanorm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	rows      []RawRow
	labels    []string
	grid      [][]string
	gridCalls int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Objects() (*Table, error) {
	return &Table{Labels: f.labels, Rows: f.rows}, nil
}

func (f *fakeSource) Grid() (*Table, error) {
	f.gridCalls++
	lines := make([]gridLine, len(f.grid))
	for i, cells := range f.grid {
		lines[i] = gridLine{line: i + 1, cells: cells}
	}
	return gridTable(lines), nil
}

func TestResolveObjectStrategy(t *testing.T) {
	src := &fakeSource{
		labels: []string{"segment", "billing cycle", "Notes"},
		rows:   []RawRow{{"segment": "Business", "billing cycle": "Monthly", "Notes": ""}},
	}

	got, err := Resolve(src)
	require.NoError(t, err)
	assert.Equal(t, StrategyObject, got.Strategy)
	assert.Equal(t, "segment", got.Headers[ColSegment])
	assert.Equal(t, []string{"segment", "billing cycle", "Notes"}, got.Detected)
	assert.Zero(t, src.gridCalls, "grid must not be read when object inference matched")
}

func TestResolveFallsBackToArray(t *testing.T) {
	src := &fakeSource{
		labels: []string{"__EMPTY", "__EMPTY_1"},
		rows:   []RawRow{{"__EMPTY": "Segment", "__EMPTY_1": "Billing Cycle"}},
		grid: [][]string{
			{"Segment", "Billing Cycle", "Plan Name", "Price (USD)"},
			{"Business", "Monthly", "Pro", "199"},
			{"Personal", "Annual"},
		},
	}

	got, err := Resolve(src)
	require.NoError(t, err)
	assert.Equal(t, 1, src.gridCalls)
	assert.Equal(t, StrategyArray, got.Strategy)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "199", got.Rows[0]["Price (USD)"])
	assert.Equal(t, "", got.Rows[1]["Plan Name"], "short rows zip to empty cells")
	assert.Equal(t, []int{2, 3}, got.Lines)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name      string
		src       *fakeSource
		wantNoDat bool
	}{
		{
			name:      "array fallback with header only",
			src:       &fakeSource{labels: []string{"x"}, grid: [][]string{{"Segment", "Billing Cycle"}}},
			wantNoDat: true,
		},
		{
			name:      "empty sheet",
			src:       &fakeSource{},
			wantNoDat: true,
		},
		{
			name:      "object headers but no data rows",
			src:       &fakeSource{labels: []string{"Segment", "Billing Cycle"}},
			wantNoDat: true,
		},
		{
			name: "no segment column",
			src: &fakeSource{
				labels: []string{"Billing Cycle", "Plan Name"},
				rows:   []RawRow{{"Billing Cycle": "Monthly", "Plan Name": "Pro"}},
			},
		},
		{
			name: "array fallback without segment",
			src:  &fakeSource{grid: [][]string{{"Plan", "Cost"}, {"Pro", "1"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.src)
			require.Error(t, err)
			if tt.wantNoDat {
				assert.ErrorIs(t, err, ErrNoDataFound)
				return
			}
			var mh *MissingHeaderError
			require.True(t, errors.As(err, &mh), "got %v", err)
			assert.Equal(t, "Segment", mh.Header)
		})
	}
}

func TestResolveExcelLeadingBlankRow(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{},
		{"Segment", "Billing Cycle", "Plan Name", "Price (USD)"},
		{"Business", "Monthly", "Pro", 199},
		{nil, "Annual", "Pro", 1990},
	}, [2]string{"A3", "A4"})

	src, err := OpenSheet("pricing.xlsx", data)
	require.NoError(t, err)

	got, err := Resolve(src)
	require.NoError(t, err)
	assert.Equal(t, StrategyArray, got.Strategy)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "Business", got.Rows[1]["Segment"])
	assert.Equal(t, []int{3, 4}, got.Lines)
}
