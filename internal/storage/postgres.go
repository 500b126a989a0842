package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/leadgen-site/internal/datanorm"
)

const (
	counterTotal      = "registrations"
	counterTypePrefix = "registrations:"
)

// PostgresStore is the relational backend. Schema lives in migrations/.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres storage requires database_url")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the pool for the advisory lock backend.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// UpsertPricing writes the batch in one transaction; a failing row rolls
// back the whole upload.
func (s *PostgresStore) UpsertPricing(ctx context.Context, rows []datanorm.Row) (UploadResult, error) {
	rows = dedupeRows(rows)
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UploadResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return UploadResult{}, fmt.Errorf("marshaling row %s: %w", r.Key(), err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pricing_catalog (row_key, variant, data, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (row_key) DO UPDATE SET
				variant = EXCLUDED.variant,
				data = EXCLUDED.data,
				updated_at = EXCLUDED.updated_at`,
			r.Key(), string(r.Variant()), string(data), now,
		)
		if err != nil {
			return UploadResult{}, fmt.Errorf("upserting row %s: %w", r.Key(), err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pricing_catalog_meta (id, row_count, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET row_count = EXCLUDED.row_count, updated_at = EXCLUDED.updated_at`,
		len(rows), now,
	)
	if err != nil {
		return UploadResult{}, fmt.Errorf("updating catalog metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return UploadResult{}, fmt.Errorf("commit: %w", err)
	}
	return UploadResult{Count: len(rows), UpdatedAt: now}, nil
}

func (s *PostgresStore) ListPricing(ctx context.Context) (*Catalog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_key, variant, data FROM pricing_catalog ORDER BY row_key`)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	cat := &Catalog{Rows: []datanorm.Entry{}}
	for rows.Next() {
		var key, variant string
		var data []byte
		if err := rows.Scan(&key, &variant, &data); err != nil {
			return nil, err
		}
		row, err := datanorm.DecodeRow(datanorm.Variant(variant), data)
		if err != nil {
			return nil, fmt.Errorf("decoding row %s: %w", key, err)
		}
		cat.Rows = append(cat.Rows, datanorm.Entry{Variant: row.Variant(), Key: key, Row: row})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	cat.Count = len(cat.Rows)

	var updated time.Time
	err = s.db.QueryRowContext(ctx, `SELECT updated_at FROM pricing_catalog_meta WHERE id = 1`).Scan(&updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("querying catalog metadata: %w", err)
	default:
		cat.UpdatedAt = &updated
	}
	return cat, nil
}

func (s *PostgresStore) SaveRegistration(ctx context.Context, reg *Registration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshaling registration: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO marketplace_registrations
			(id, listing_type, company_name, email, categories, status, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reg.ID, reg.ListingType, reg.CompanyName, reg.Email,
		pq.Array(reg.Categories), reg.Status, string(data), reg.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateRegistration
	}
	if err != nil {
		return fmt.Errorf("inserting registration: %w", err)
	}
	return nil
}

// IncrementRegistrations bumps the total and per-type counters atomically
// and returns the new values.
func (s *PostgresStore) IncrementRegistrations(ctx context.Context, listingType string) (RegistrationCount, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RegistrationCount{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, name := range []string{counterTotal, counterTypePrefix + listingType} {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO marketplace_counters (name, total) VALUES ($1, 1)
			ON CONFLICT (name) DO UPDATE SET total = marketplace_counters.total + 1`,
			name,
		)
		if err != nil {
			return RegistrationCount{}, fmt.Errorf("incrementing %s: %w", name, err)
		}
	}

	count, err := readCounters(ctx, tx)
	if err != nil {
		return RegistrationCount{}, err
	}
	if err := tx.Commit(); err != nil {
		return RegistrationCount{}, fmt.Errorf("commit: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RegistrationCount(ctx context.Context) (RegistrationCount, error) {
	return readCounters(ctx, s.db)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readCounters(ctx context.Context, q queryer) (RegistrationCount, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, total FROM marketplace_counters WHERE name = $1 OR name LIKE $2`,
		counterTotal, counterTypePrefix+"%",
	)
	if err != nil {
		return RegistrationCount{}, fmt.Errorf("reading counters: %w", err)
	}
	defer rows.Close()

	c := RegistrationCount{ByType: map[string]int64{}}
	for rows.Next() {
		var name string
		var total int64
		if err := rows.Scan(&name, &total); err != nil {
			return RegistrationCount{}, err
		}
		if name == counterTotal {
			c.Total = total
		} else {
			c.ByType[strings.TrimPrefix(name, counterTypePrefix)] = total
		}
	}
	return c, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *PostgresStore) Close() error                   { return s.db.Close() }
