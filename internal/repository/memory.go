package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/biomarker-kb-server/internal/domain"
)

// MemoryStore is an in-memory implementation of the three store interfaces.
// It backs unit tests and dry runs of the pipeline; the uniqueness
// invariants match the persistent stores.
type MemoryStore struct {
	mu          sync.Mutex
	byHash      map[string]*domain.CanonicalIDEntry
	byCanonical map[string]*domain.SecondLevelIDEntry
	records     map[string]*domain.BiomarkerRecord
	unreviewed  []*domain.BiomarkerRecord
	stats       *domain.ReleaseStats
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:      make(map[string]*domain.CanonicalIDEntry),
		byCanonical: make(map[string]*domain.SecondLevelIDEntry),
		records:     make(map[string]*domain.BiomarkerRecord),
	}
}

// GetByHash implements domain.CanonicalIDStore.
func (m *MemoryStore) GetByHash(ctx context.Context, hashValue string) (*domain.CanonicalIDEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byHash[hashValue]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

// MaxCanonicalID implements domain.CanonicalIDStore.
func (m *MemoryStore) MaxCanonicalID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := ""
	for _, entry := range m.byHash {
		if entry.CanonicalID > max {
			max = entry.CanonicalID
		}
	}
	if max == "" {
		return "", domain.ErrNotFound
	}
	return max, nil
}

// Insert implements domain.CanonicalIDStore.
func (m *MemoryStore) Insert(ctx context.Context, entry *domain.CanonicalIDEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byHash[entry.HashValue]; ok {
		return domain.ErrDuplicateHash
	}
	cp := *entry
	m.byHash[entry.HashValue] = &cp
	return nil
}

// All implements domain.CanonicalIDStore.
func (m *MemoryStore) All(ctx context.Context) ([]domain.CanonicalIDEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]domain.CanonicalIDEntry, 0, len(m.byHash))
	for _, e := range m.byHash {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CanonicalID < entries[j].CanonicalID
	})
	return entries, nil
}

// SecondLevel returns the second level ID map view of the store.
func (m *MemoryStore) SecondLevel() domain.SecondLevelIDStore {
	return (*memorySecondLevel)(m)
}

// memorySecondLevel keeps the two interface implementations from clashing on
// the shared All method name.
type memorySecondLevel MemoryStore

func (m *memorySecondLevel) Get(ctx context.Context, canonicalID string) (*domain.SecondLevelIDEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byCanonical[canonicalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *entry
	cp.Entries = append([]domain.SecondLevelEntry(nil), entry.Entries...)
	return &cp, nil
}

func (m *memorySecondLevel) Create(ctx context.Context, entry *domain.SecondLevelIDEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCanonical[entry.CanonicalID]; ok {
		return domain.ErrDuplicateHash
	}
	cp := *entry
	cp.Entries = append([]domain.SecondLevelEntry(nil), entry.Entries...)
	m.byCanonical[entry.CanonicalID] = &cp
	return nil
}

func (m *memorySecondLevel) Append(ctx context.Context, canonicalID string, newIndex int, entry domain.SecondLevelEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byCanonical[canonicalID]
	if !ok {
		return domain.ErrNotFound
	}
	existing.CurrIndex = newIndex
	existing.Entries = append(existing.Entries, entry)
	return nil
}

func (m *memorySecondLevel) All(ctx context.Context) ([]domain.SecondLevelIDEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]domain.SecondLevelIDEntry, 0, len(m.byCanonical))
	for _, e := range m.byCanonical {
		cp := *e
		cp.Entries = append([]domain.SecondLevelEntry(nil), e.Entries...)
		entries = append(entries, cp)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CanonicalID < entries[j].CanonicalID
	})
	return entries, nil
}

// Records returns the biomarker record store view of the store.
func (m *MemoryStore) Records() domain.RecordStore {
	return (*memoryRecords)(m)
}

type memoryRecords MemoryStore

func (m *memoryRecords) GetByBiomarkerID(ctx context.Context, biomarkerID string) (*domain.BiomarkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[biomarkerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(record)
}

func (m *memoryRecords) GetByCanonicalID(ctx context.Context, canonicalID string) ([]*domain.BiomarkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BiomarkerRecord
	for _, record := range m.records {
		if record.CanonicalID == canonicalID {
			cp, err := cloneRecord(record)
			if err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BiomarkerID < out[j].BiomarkerID
	})
	return out, nil
}

func (m *memoryRecords) Insert(ctx context.Context, records []*domain.BiomarkerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		if _, ok := m.records[record.BiomarkerID]; ok {
			return domain.ErrDuplicateHash
		}
	}
	for _, record := range records {
		cp, err := cloneRecord(record)
		if err != nil {
			return err
		}
		m.records[record.BiomarkerID] = cp
	}
	return nil
}

func (m *memoryRecords) Replace(ctx context.Context, record *domain.BiomarkerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.BiomarkerID]; !ok {
		return domain.ErrNotFound
	}
	cp, err := cloneRecord(record)
	if err != nil {
		return err
	}
	m.records[record.BiomarkerID] = cp
	return nil
}

func (m *memoryRecords) Delete(ctx context.Context, biomarkerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[biomarkerID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.records, biomarkerID)
	return nil
}

// Unreviewed returns an unreviewed-collection view backed by the same store.
func (m *MemoryStore) Unreviewed() domain.RecordStore {
	return &memoryUnreviewed{store: m}
}

// memoryUnreviewed allows duplicate biomarker IDs, matching the persistent
// unreviewed collections which hold every unmerged collision record.
type memoryUnreviewed struct {
	store *MemoryStore
}

func (m *memoryUnreviewed) GetByBiomarkerID(ctx context.Context, biomarkerID string) (*domain.BiomarkerRecord, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, record := range m.store.unreviewed {
		if record.BiomarkerID == biomarkerID {
			return cloneRecord(record)
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memoryUnreviewed) GetByCanonicalID(ctx context.Context, canonicalID string) ([]*domain.BiomarkerRecord, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*domain.BiomarkerRecord
	for _, record := range m.store.unreviewed {
		if record.CanonicalID == canonicalID {
			cp, err := cloneRecord(record)
			if err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *memoryUnreviewed) Insert(ctx context.Context, records []*domain.BiomarkerRecord) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, record := range records {
		cp, err := cloneRecord(record)
		if err != nil {
			return err
		}
		m.store.unreviewed = append(m.store.unreviewed, cp)
	}
	return nil
}

func (m *memoryUnreviewed) Replace(ctx context.Context, record *domain.BiomarkerRecord) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for i, existing := range m.store.unreviewed {
		if existing.BiomarkerID == record.BiomarkerID {
			cp, err := cloneRecord(record)
			if err != nil {
				return err
			}
			m.store.unreviewed[i] = cp
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memoryUnreviewed) Delete(ctx context.Context, biomarkerID string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for i, existing := range m.store.unreviewed {
		if existing.BiomarkerID == biomarkerID {
			m.store.unreviewed = append(m.store.unreviewed[:i], m.store.unreviewed[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// SaveStats implements domain.StatsStore.
func (m *MemoryStore) SaveStats(ctx context.Context, stats *domain.ReleaseStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *stats
	m.stats = &cp
	return nil
}

// GetStats implements domain.StatsStore.
func (m *MemoryStore) GetStats(ctx context.Context) (*domain.ReleaseStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		return nil, domain.ErrNotFound
	}
	cp := *m.stats
	return &cp, nil
}

// cloneRecord deep copies a record through its JSON form so callers never
// share slices with the store.
func cloneRecord(record *domain.BiomarkerRecord) (*domain.BiomarkerRecord, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var cp domain.BiomarkerRecord
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
