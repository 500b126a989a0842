package datanorm

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrNoSheets          = errors.New("workbook has no sheets")
	ErrNoDataFound       = errors.New("no data rows found")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTooManyRows       = errors.New("too many rows")
	ErrUnreadableFile    = errors.New("file could not be read")
)

// RawRow maps a sheet label to its cell text.
type RawRow map[string]string

// Table is a worksheet read with one row as labels.
type Table struct {
	Labels []string // non-empty labels in sheet order
	Rows   []RawRow // non-blank data rows
	Lines  []int    // 1-based sheet line of each entry in Rows
}

// SheetSource exposes one worksheet in the two shapes the resolver tries.
type SheetSource interface {
	// Name is the worksheet name, or the file name for CSV.
	Name() string
	// Objects treats the first row as labels.
	Objects() (*Table, error)
	// Grid fills merged ranges, drops blank rows and leading blank
	// columns, and treats the first remaining row as labels.
	Grid() (*Table, error)
}

// Format is an accepted upload format.
type Format string

const (
	FormatExcel Format = "excel"
	FormatCSV   Format = "csv"
)

var zipMagic = []byte("PK\x03\x04")

// DetectFormat decides the parser from the file extension, falling back
// to the content for extensionless uploads.
func DetectFormat(filename string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatExcel, nil
	case ".csv":
		return FormatCSV, nil
	case "":
		if bytes.HasPrefix(data, zipMagic) {
			return FormatExcel, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
}

// OpenSheet parses the first worksheet of an uploaded file.
func OpenSheet(filename string, data []byte) (SheetSource, error) {
	format, err := DetectFormat(filename, data)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatCSV:
		return openCSV(filename, data)
	default:
		return openExcel(data)
	}
}

type cellSheet struct {
	name  string
	rows  [][]string
	lines []int // source line per row when it differs from the row index
}

func (s *cellSheet) lineOf(i int) int {
	if i < len(s.lines) {
		return s.lines[i]
	}
	return i + 1
}

func (s *cellSheet) Name() string { return s.name }

func (s *cellSheet) Objects() (*Table, error) {
	if len(s.rows) == 0 {
		return &Table{}, nil
	}
	labels, index := headerLabels(s.rows[0])
	t := &Table{Labels: labels}
	for i := 1; i < len(s.rows); i++ {
		if isBlankRow(s.rows[i]) {
			continue
		}
		t.Rows = append(t.Rows, zipRow(index, s.rows[i]))
		t.Lines = append(t.Lines, s.lineOf(i))
	}
	return t, nil
}

func (s *cellSheet) Grid() (*Table, error) {
	grid := compactGrid(s.rows)
	for i := range grid {
		grid[i].line = s.lineOf(grid[i].line - 1)
	}
	return gridTable(grid), nil
}

type excelSheet struct {
	cellSheet
	filled [][]string
}

func openExcel(data []byte) (*excelSheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %w", ErrUnreadableFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheets
	}
	name := sheets[0]

	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	merges, err := f.GetMergeCells(name)
	if err != nil {
		return nil, fmt.Errorf("read merged cells of %q: %w", name, err)
	}

	filled, err := fillMerged(rows, merges)
	if err != nil {
		return nil, err
	}
	return &excelSheet{cellSheet: cellSheet{name: name, rows: rows}, filled: filled}, nil
}

// Grid uses the merge-filled copy; Objects keeps the raw rows.
func (s *excelSheet) Grid() (*Table, error) {
	return gridTable(compactGrid(s.filled)), nil
}

func fillMerged(rows [][]string, merges []excelize.MergeCell) ([][]string, error) {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	for _, mc := range merges {
		c1, r1, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			return nil, fmt.Errorf("merged range %s: %w", mc.GetStartAxis(), err)
		}
		c2, r2, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			return nil, fmt.Errorf("merged range %s: %w", mc.GetEndAxis(), err)
		}
		value := cellAt(rows, r1-1, c1-1)
		if value == "" {
			value = mc.GetCellValue()
		}
		for r := r1 - 1; r < r2; r++ {
			for len(out) <= r {
				out = append(out, nil)
			}
			for len(out[r]) < c2 {
				out[r] = append(out[r], "")
			}
			for c := c1 - 1; c < c2; c++ {
				out[r][c] = value
			}
		}
	}
	return out, nil
}

func openCSV(filename string, data []byte) (*cellSheet, error) {
	r := csv.NewReader(stripBOM(bytes.NewReader(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	var lines []int
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv: %w", ErrUnreadableFile, err)
		}
		line, _ := r.FieldPos(0)
		rows = append(rows, rec)
		lines = append(lines, line)
	}
	return &cellSheet{name: filename, rows: rows, lines: lines}, nil
}

// stripBOM removes a UTF-8 byte order mark from the start of r.
func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, _ := io.ReadFull(r, buf)
	if n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(bytes.NewReader(buf[:n]), r)
}

// headerLabels returns the distinct non-empty labels of a header row and
// the column index each one reads from. The first occurrence of a label
// wins.
func headerLabels(header []string) ([]string, map[int]string) {
	labels := make([]string, 0, len(header))
	index := make(map[int]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		labels = append(labels, h)
		index[i] = h
	}
	return labels, index
}

func zipRow(index map[int]string, cells []string) RawRow {
	row := make(RawRow, len(index))
	for i, label := range index {
		if i < len(cells) {
			row[label] = cells[i]
		} else {
			row[label] = ""
		}
	}
	return row
}

// gridLine is a non-blank grid row and its 1-based sheet line.
type gridLine struct {
	line  int
	cells []string
}

func gridTable(lines []gridLine) *Table {
	if len(lines) == 0 {
		return &Table{}
	}
	labels, index := headerLabels(lines[0].cells)
	t := &Table{Labels: labels}
	for _, l := range lines[1:] {
		t.Rows = append(t.Rows, zipRow(index, l.cells))
		t.Lines = append(t.Lines, l.line)
	}
	return t
}

func compactGrid(rows [][]string) []gridLine {
	var kept []gridLine
	lead := -1
	for n, r := range rows {
		if isBlankRow(r) {
			continue
		}
		kept = append(kept, gridLine{line: n + 1, cells: r})
		for i, c := range r {
			if strings.TrimSpace(c) != "" {
				if lead < 0 || i < lead {
					lead = i
				}
				break
			}
		}
	}
	if lead <= 0 {
		return kept
	}
	for i, r := range kept {
		if len(r.cells) > lead {
			kept[i].cells = r.cells[lead:]
		} else {
			kept[i].cells = []string{}
		}
	}
	return kept
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cellAt(rows [][]string, r, c int) string {
	if r < 0 || r >= len(rows) || c < 0 || c >= len(rows[r]) {
		return ""
	}
	return rows[r][c]
}
