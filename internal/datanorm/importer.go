package datanorm

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Upserter persists a normalized batch.
type Upserter interface {
	UpsertPricing(ctx context.Context, rows []Row) (UploadResult, error)
}

// IngestOptions bounds and tunes an Ingester.
type IngestOptions struct {
	MaxRows    int  // 0 means unlimited
	StrictRows bool // reject the upload when any row fails to normalize
}

// RowError is a data row that classified but could not be normalized.
// Row is the 1-based sheet line, header included.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// RejectedRowsError is returned in strict mode when any row failed.
type RejectedRowsError struct {
	Rows []RowError
}

func (e *RejectedRowsError) Error() string {
	if len(e.Rows) == 1 {
		return fmt.Sprintf("row %d: %s", e.Rows[0].Row, e.Rows[0].Reason)
	}
	return fmt.Sprintf("%d rows could not be normalized (first: row %d: %s)",
		len(e.Rows), e.Rows[0].Row, e.Rows[0].Reason)
}

// Batch is a normalized sheet ready to be stored.
type Batch struct {
	Sheet    string
	Strategy Strategy
	Detected []string
	Total    int
	Rows     []Row
	Skipped  int
	Rejected []RowError
}

// IngestReport describes a stored upload.
type IngestReport struct {
	UploadResult
	Sheet    string
	Strategy Strategy
	Skipped  int
	Rejected []RowError
}

// Ingester runs parse, resolve, validate, normalize and upsert for one
// upload. It holds no per-request state and is safe for concurrent use.
type Ingester struct {
	store Upserter
	opts  IngestOptions
}

func NewIngester(store Upserter, opts IngestOptions) *Ingester {
	return &Ingester{store: store, opts: opts}
}

// Prepare runs every stage except the upsert. Structural problems are
// returned as errors; row-level problems are collected on the batch.
func (in *Ingester) Prepare(filename string, data []byte) (*Batch, error) {
	src, err := OpenSheet(filename, data)
	if err != nil {
		return nil, err
	}
	resolved, err := Resolve(src)
	if err != nil {
		return nil, err
	}
	if in.opts.MaxRows > 0 && len(resolved.Rows) > in.opts.MaxRows {
		return nil, fmt.Errorf("%w: %d data rows, limit is %d", ErrTooManyRows, len(resolved.Rows), in.opts.MaxRows)
	}
	if err := Validate(resolved.Rows, resolved.Headers, resolved.Detected); err != nil {
		return nil, err
	}

	batch := &Batch{
		Sheet:    src.Name(),
		Strategy: resolved.Strategy,
		Detected: resolved.Detected,
		Total:    len(resolved.Rows),
		Rows:     make([]Row, 0, len(resolved.Rows)),
	}
	for i, raw := range resolved.Rows {
		row, err := NormalizeRow(raw, resolved.Headers)
		switch {
		case err != nil:
			batch.Rejected = append(batch.Rejected, RowError{Row: resolved.line(i), Reason: err.Error()})
		case row == nil:
			batch.Skipped++
		default:
			batch.Rows = append(batch.Rows, row)
		}
	}

	log.Printf("[datanorm] %s: %s, %d normalized, %d skipped, %d rejected",
		batch.Sheet, resolved, len(batch.Rows), batch.Skipped, len(batch.Rejected))
	return batch, nil
}

// Ingest prepares the upload and hands the rows to the store.
func (in *Ingester) Ingest(ctx context.Context, filename string, data []byte) (*IngestReport, error) {
	start := time.Now()
	batch, err := in.Prepare(filename, data)
	if err != nil {
		return nil, err
	}
	if in.opts.StrictRows && len(batch.Rejected) > 0 {
		return nil, &RejectedRowsError{Rows: batch.Rejected}
	}

	result, err := in.store.UpsertPricing(ctx, batch.Rows)
	if err != nil {
		return nil, fmt.Errorf("upsert pricing: %w", err)
	}

	log.Printf("[datanorm] %s: stored %d rows in %s", batch.Sheet, result.Count, time.Since(start).Round(time.Millisecond))
	return &IngestReport{
		UploadResult: result,
		Sheet:        batch.Sheet,
		Strategy:     batch.Strategy,
		Skipped:      batch.Skipped,
		Rejected:     batch.Rejected,
	}, nil
}
