package domain

import (
	"context"
)

// CanonicalIDStore is the canonical ID map: one row per distinct canonical
// hash ever seen. Implementations must enforce uniqueness on both the hash
// value and the canonical ID.
type CanonicalIDStore interface {
	// GetByHash returns the entry for a canonical hash, or ErrNotFound.
	GetByHash(ctx context.Context, hashValue string) (*CanonicalIDEntry, error)
	// MaxCanonicalID returns the lexicographically greatest canonical ID in
	// the map, or ErrNotFound when the map is empty.
	MaxCanonicalID(ctx context.Context) (string, error)
	// Insert adds a new entry. A uniqueness violation on the hash surfaces
	// as ErrDuplicateHash.
	Insert(ctx context.Context, entry *CanonicalIDEntry) error
	// All returns every entry, for the ID map export.
	All(ctx context.Context) ([]CanonicalIDEntry, error)
}

// CanonicalIDAllocator is an optional extension of CanonicalIDStore for
// stores that can run the read-max / increment / insert sequence atomically
// (a row-locked counter row). Stores without it fall back to read-then-write
// backstopped by the hash uniqueness constraint, which is only safe under
// the single-writer operational invariant.
type CanonicalIDAllocator interface {
	// AllocateNext atomically allocates the next canonical ID and inserts
	// the map entry for it. Returns ErrIDSpaceExhausted when the ordinal
	// space is spent and ErrDuplicateHash when the hash already exists.
	AllocateNext(ctx context.Context, hashValue, coreValuesStr string) (string, error)
}

// SecondLevelIDStore is the second level ID map, keyed by canonical ID.
type SecondLevelIDStore interface {
	// Get returns the map entry for a canonical ID, or ErrNotFound.
	Get(ctx context.Context, canonicalID string) (*SecondLevelIDEntry, error)
	// Create inserts the first entry for a canonical group.
	Create(ctx context.Context, entry *SecondLevelIDEntry) error
	// Append adds a new key/ID pair under an existing canonical group and
	// advances curr_index to newIndex.
	Append(ctx context.Context, canonicalID string, newIndex int, entry SecondLevelEntry) error
	// All returns every entry, for the ID map export.
	All(ctx context.Context) ([]SecondLevelIDEntry, error)
}

// RecordStore persists biomarker records. biomarker_id is unique; the
// canonical ID is a non-unique index.
type RecordStore interface {
	// GetByBiomarkerID returns the record with the given second level ID,
	// or ErrNotFound.
	GetByBiomarkerID(ctx context.Context, biomarkerID string) (*BiomarkerRecord, error)
	// GetByCanonicalID returns every record under a canonical group.
	GetByCanonicalID(ctx context.Context, canonicalID string) ([]*BiomarkerRecord, error)
	// Insert adds records in one batch write.
	Insert(ctx context.Context, records []*BiomarkerRecord) error
	// Replace overwrites the stored record sharing the record's biomarker ID.
	Replace(ctx context.Context, record *BiomarkerRecord) error
	// Delete removes the record with the given biomarker ID.
	Delete(ctx context.Context, biomarkerID string) error
}

// StatsStore persists per-release statistics.
type StatsStore interface {
	SaveStats(ctx context.Context, stats *ReleaseStats) error
	GetStats(ctx context.Context) (*ReleaseStats, error)
}
