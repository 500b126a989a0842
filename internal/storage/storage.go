package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/leadgen-site/internal/config"
	"github.com/ignite/leadgen-site/internal/datanorm"
	"github.com/ignite/leadgen-site/internal/pkg/distlock"
	"github.com/ignite/leadgen-site/internal/pkg/logger"
)

// UploadResult is the count and timestamp reported for a stored batch.
type UploadResult = datanorm.UploadResult

var (
	// ErrUploadInProgress is returned when another replica holds the
	// catalog lock.
	ErrUploadInProgress = errors.New("another upload is in progress")
	// ErrDuplicateRegistration is returned when a registration ID is reused.
	ErrDuplicateRegistration = errors.New("registration already exists")
)

// PricingStore persists the pricing catalog.
type PricingStore interface {
	// UpsertPricing inserts or replaces rows by key. Count is the number
	// of distinct keys written.
	UpsertPricing(ctx context.Context, rows []datanorm.Row) (UploadResult, error)
	ListPricing(ctx context.Context) (*Catalog, error)
}

// RegistrationStore persists marketplace registrations and their counter.
type RegistrationStore interface {
	SaveRegistration(ctx context.Context, reg *Registration) error
	IncrementRegistrations(ctx context.Context, listingType string) (RegistrationCount, error)
	RegistrationCount(ctx context.Context) (RegistrationCount, error)
}

// Store is everything the service persists.
type Store interface {
	PricingStore
	RegistrationStore
	Ping(ctx context.Context) error
	Close() error
}

// Catalog is the current pricing table.
type Catalog struct {
	Rows      []datanorm.Entry `json:"rows"`
	Count     int              `json:"count"`
	UpdatedAt *time.Time       `json:"updatedAt"`
}

// Registration is a stored marketplace registration document.
type Registration struct {
	ID          string    `json:"id"`
	CompanyName string    `json:"companyName"`
	ContactName string    `json:"contactName"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone,omitempty"`
	Website     string    `json:"website,omitempty"`
	ListingType string    `json:"listingType"`
	TeamSize    int       `json:"teamSize,omitempty"`
	ProductURL  string    `json:"productUrl,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	Message     string    `json:"message,omitempty"`
	Status      string    `json:"status"`
	SourceIP    string    `json:"sourceIp,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RegistrationCount is the denormalized registration counter.
type RegistrationCount struct {
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"byType"`
}

// New opens the backend named by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return NewMemoryStore(), nil
	case "dynamodb":
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, err
		}
		return NewDynamoStore(newDynamoClient(awsCfg, cfg.Endpoint), cfg.DynamoDBTable), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// dedupeRows keeps the last row for each key at the position of its first
// occurrence.
func dedupeRows(rows []datanorm.Row) []datanorm.Row {
	out := make([]datanorm.Row, 0, len(rows))
	pos := make(map[string]int, len(rows))
	for _, r := range rows {
		k := r.Key()
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func sortEntries(entries []datanorm.Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

// LockedPricingStore serializes upserts across replicas.
type LockedPricingStore struct {
	PricingStore
	locks distlock.Factory
}

func NewLockedPricingStore(inner PricingStore, locks distlock.Factory) *LockedPricingStore {
	return &LockedPricingStore{PricingStore: inner, locks: locks}
}

func (s *LockedPricingStore) UpsertPricing(ctx context.Context, rows []datanorm.Row) (UploadResult, error) {
	lock := s.locks()
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return UploadResult{}, fmt.Errorf("acquire catalog lock: %w", err)
	}
	if !ok {
		return UploadResult{}, ErrUploadInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("release catalog lock failed", "error", err)
		}
	}()
	return s.PricingStore.UpsertPricing(ctx, rows)
}
