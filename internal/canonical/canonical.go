// Package canonical derives a content hash from the identifying fields of a
// biomarker record and maps it to a stable ordinal canonical ID.
package canonical

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/ordinal"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Assignment is the result of assigning a canonical ID to one record.
type Assignment struct {
	ID            string
	Hash          string
	CoreValuesStr string
	// Collided reports that the hash was already present in the map. At the
	// canonical layer this is not an error: the existing ID is reused
	// silently. It feeds the second level assigner, which only needs to run
	// its collision check when the canonical group already existed.
	Collided bool
}

// HashCache is a read-through cache over canonical hash lookups. Misses fall
// through to the store; Set failures are logged and ignored.
type HashCache interface {
	Get(ctx context.Context, hashValue string) (*domain.CanonicalIDEntry, bool)
	Set(ctx context.Context, entry *domain.CanonicalIDEntry) error
}

// Assigner assigns canonical IDs against a canonical ID map store.
type Assigner struct {
	store domain.CanonicalIDStore
	cache HashCache
	log   *logrus.Logger
}

// NewAssigner creates a canonical ID assigner. cache may be nil.
func NewAssigner(store domain.CanonicalIDStore, cache HashCache, logger *logrus.Logger) *Assigner {
	return &Assigner{
		store: store,
		cache: cache,
		log:   logger,
	}
}

// Hash computes the canonical content hash of a record and the underlying
// core values string. Core values are, per component, the change token of the
// biomarker field and the assessed entity ID, plus the condition ID (or
// exposure agent ID) once at the end. Values are stripped to alphanumerics,
// lowercased and sorted before joining, so component order and field order
// never affect the hash.
func Hash(record *domain.BiomarkerRecord) (hashValue, coreValuesStr string, err error) {
	if err := record.ValidateForID(); err != nil {
		return "", "", err
	}

	coreValues := make([]string, 0, len(record.Components)*2+1)
	for _, comp := range record.Components {
		coreValues = append(coreValues, extractChange(comp.Biomarker))
		coreValues = append(coreValues, comp.EntityID)
	}
	key, _ := record.SecondLevelKey()
	coreValues = append(coreValues, key)

	for i, v := range coreValues {
		coreValues[i] = cleanValue(v)
	}
	sort.Strings(coreValues)
	coreValuesStr = strings.Join(coreValues, "_")

	digest := sha256.Sum256([]byte(coreValuesStr))
	return hex.EncodeToString(digest[:]), coreValuesStr, nil
}

// Assign computes the canonical ID for a record, reusing the existing ID on a
// hash match and allocating the next ordinal otherwise.
func (a *Assigner) Assign(ctx context.Context, record *domain.BiomarkerRecord) (*Assignment, error) {
	hashValue, coreValuesStr, err := Hash(record)
	if err != nil {
		return nil, err
	}

	entry, ok, err := a.lookup(ctx, hashValue)
	if err != nil {
		return nil, err
	}
	if ok {
		return &Assignment{
			ID:            entry.CanonicalID,
			Hash:          hashValue,
			CoreValuesStr: coreValuesStr,
			Collided:      true,
		}, nil
	}

	id, err := a.allocate(ctx, hashValue, coreValuesStr)
	if err != nil {
		return nil, err
	}
	return &Assignment{
		ID:            id,
		Hash:          hashValue,
		CoreValuesStr: coreValuesStr,
		Collided:      false,
	}, nil
}

// lookup resolves a hash through the cache and store. Only ErrNotFound means
// the hash is unseen; any other store failure propagates, since treating it
// as a miss would push a transient read error into allocation.
func (a *Assigner) lookup(ctx context.Context, hashValue string) (*domain.CanonicalIDEntry, bool, error) {
	if a.cache != nil {
		if entry, ok := a.cache.Get(ctx, hashValue); ok {
			return entry, true, nil
		}
	}

	entry, err := a.store.GetByHash(ctx, hashValue)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("looking up canonical hash %s: %w", hashValue, err)
	}

	if a.cache != nil {
		if cacheErr := a.cache.Set(ctx, entry); cacheErr != nil {
			a.log.WithError(cacheErr).Warn("Failed to cache canonical ID entry")
		}
	}
	return entry, true, nil
}

// allocate reads the current map maximum, increments it and inserts the new
// entry. The store's hash uniqueness constraint is the backstop against a
// concurrent writer; a duplicate insert surfaces as ErrDuplicateHash and the
// run driver treats it as fatal.
func (a *Assigner) allocate(ctx context.Context, hashValue, coreValuesStr string) (string, error) {
	// Stores with an atomic allocator close the check-then-act race
	// entirely; prefer that path when available.
	if allocator, ok := a.store.(domain.CanonicalIDAllocator); ok {
		newID, err := allocator.AllocateNext(ctx, hashValue, coreValuesStr)
		if err != nil {
			if errors.Is(err, domain.ErrIDSpaceExhausted) {
				a.log.Error("Canonical ID space exhausted")
			}
			return "", err
		}
		if a.cache != nil {
			entry := &domain.CanonicalIDEntry{HashValue: hashValue, CanonicalID: newID, CoreValuesStr: coreValuesStr}
			if cacheErr := a.cache.Set(ctx, entry); cacheErr != nil {
				a.log.WithError(cacheErr).Warn("Failed to cache canonical ID entry")
			}
		}
		return newID, nil
	}

	maxID, err := a.store.MaxCanonicalID(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("reading max canonical ID: %w", err)
		}
		maxID = ordinal.Seed
	}

	newID, err := ordinal.Next(maxID)
	if err != nil {
		if errors.Is(err, domain.ErrIDSpaceExhausted) {
			a.log.WithField("max_id", maxID).Error("Canonical ID space exhausted")
		}
		return "", err
	}

	entry := &domain.CanonicalIDEntry{
		HashValue:     hashValue,
		CanonicalID:   newID,
		CoreValuesStr: coreValuesStr,
	}
	if err := a.store.Insert(ctx, entry); err != nil {
		return "", fmt.Errorf("inserting canonical ID entry %s: %w", newID, err)
	}

	if a.cache != nil {
		if cacheErr := a.cache.Set(ctx, entry); cacheErr != nil {
			a.log.WithError(cacheErr).Warn("Failed to cache canonical ID entry")
		}
	}

	a.log.WithFields(logrus.Fields{
		"canonical_id": newID,
		"hash_value":   hashValue,
	}).Debug("Allocated new canonical ID")
	return newID, nil
}

// extractChange pulls the change token out of the biomarker field: the first
// whitespace-delimited token ("increased" from "increased level of IL6").
func extractChange(biomarker string) string {
	fields := strings.Fields(biomarker)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// cleanValue strips everything outside [A-Za-z0-9] and lowercases the rest.
func cleanValue(value string) string {
	return strings.ToLower(nonAlphanumeric.ReplaceAllString(value, ""))
}
