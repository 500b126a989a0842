package storage

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/leadgen-site/internal/datanorm"
)

// MemoryStore keeps everything in process. It backs local development and
// handler tests.
type MemoryStore struct {
	mu            sync.RWMutex
	entries       map[string]datanorm.Entry
	updatedAt     *time.Time
	registrations map[string]Registration
	counter       RegistrationCount
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:       make(map[string]datanorm.Entry),
		registrations: make(map[string]Registration),
		counter:       RegistrationCount{ByType: map[string]int64{}},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) UpsertPricing(ctx context.Context, rows []datanorm.Row) (UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}
	rows = dedupeRows(rows)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.entries[r.Key()] = datanorm.NewEntry(r)
	}
	m.updatedAt = &now
	return UploadResult{Count: len(rows), UpdatedAt: now}, nil
}

func (m *MemoryStore) ListPricing(ctx context.Context) (*Catalog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &Catalog{Rows: make([]datanorm.Entry, 0, len(m.entries)), UpdatedAt: m.updatedAt}
	for _, e := range m.entries {
		out.Rows = append(out.Rows, e)
	}
	sortEntries(out.Rows)
	out.Count = len(out.Rows)
	return out, nil
}

func (m *MemoryStore) SaveRegistration(ctx context.Context, reg *Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registrations[reg.ID]; ok {
		return ErrDuplicateRegistration
	}
	m.registrations[reg.ID] = *reg
	return nil
}

// Registration returns a stored registration by ID.
func (m *MemoryStore) Registration(id string) (Registration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.registrations[id]
	return r, ok
}

func (m *MemoryStore) IncrementRegistrations(ctx context.Context, listingType string) (RegistrationCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter.Total++
	m.counter.ByType[listingType]++
	return m.counter.copy(), nil
}

func (m *MemoryStore) RegistrationCount(ctx context.Context) (RegistrationCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counter.copy(), nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (c RegistrationCount) copy() RegistrationCount {
	out := RegistrationCount{Total: c.Total, ByType: make(map[string]int64, len(c.ByType))}
	for k, v := range c.ByType {
		out.ByType[k] = v
	}
	return out
}
