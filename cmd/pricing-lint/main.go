// Command pricing-lint checks a pricing spreadsheet without storing it.
//
//	pricing-lint [-strict] [-max-rows N] [-summary] pricing.xlsx
//
// It prints the normalized rows and the row report as JSON. The exit
// status is 1 when the file is rejected and 2 when -strict is set and
// any row failed to normalize.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ignite/leadgen-site/internal/datanorm"
)

type report struct {
	File     string              `json:"file"`
	Sheet    string              `json:"sheet"`
	Strategy datanorm.Strategy   `json:"strategy"`
	Detected []string            `json:"detected"`
	Total    int                 `json:"total"`
	Valid    int                 `json:"valid"`
	Skipped  int                 `json:"skipped"`
	Rejected []datanorm.RowError `json:"rejected,omitempty"`
	Rows     []datanorm.Entry    `json:"rows,omitempty"`
}

func main() {
	strict := flag.Bool("strict", false, "exit 2 when any row fails to normalize")
	maxRows := flag.Int("max-rows", 5000, "reject sheets with more data rows (0 = unlimited)")
	summary := flag.Bool("summary", false, "omit the normalized rows from the output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file.xlsx|file.csv>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(64)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}

	// Prepare never touches the store.
	in := datanorm.NewIngester(nil, datanorm.IngestOptions{MaxRows: *maxRows})
	batch, err := in.Prepare(filepath.Base(path), data)
	if err != nil {
		var headersErr *datanorm.MissingHeadersError
		if errors.As(err, &headersErr) {
			writeJSON(map[string]interface{}{"error": err.Error(), "missing": headersErr.Missing, "expected": headersErr.Expected, "detected": headersErr.Detected})
		} else {
			writeJSON(map[string]string{"error": err.Error()})
		}
		os.Exit(1)
	}

	out := report{
		File:     path,
		Sheet:    batch.Sheet,
		Strategy: batch.Strategy,
		Detected: batch.Detected,
		Total:    batch.Total,
		Valid:    len(batch.Rows),
		Skipped:  batch.Skipped,
		Rejected: batch.Rejected,
	}
	if !*summary {
		out.Rows = make([]datanorm.Entry, 0, len(batch.Rows))
		for _, r := range batch.Rows {
			out.Rows = append(out.Rows, datanorm.NewEntry(r))
		}
	}
	writeJSON(out)

	if *strict && len(batch.Rejected) > 0 {
		os.Exit(2)
	}
}

func writeJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
