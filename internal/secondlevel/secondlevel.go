// Package secondlevel assigns the sub-identifier scoped within a canonical
// group: one per distinct condition or exposure-agent association, of the
// form <canonicalID>-<n> with n a 1-based ordinal local to the group.
package secondlevel

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/domain"
)

// Assignment is the result of assigning a second level ID to one record.
type Assignment struct {
	ID string
	// Collided reports that the record's condition/exposure key was already
	// allocated under the canonical group. The returned ID is the existing
	// one and the record must go through the merge engine.
	Collided bool
}

// Assigner assigns second level IDs against a second level ID map store.
type Assigner struct {
	store domain.SecondLevelIDStore
	log   *logrus.Logger
}

// NewAssigner creates a second level ID assigner.
func NewAssigner(store domain.SecondLevelIDStore, logger *logrus.Logger) *Assigner {
	return &Assigner{
		store: store,
		log:   logger,
	}
}

// Assign computes the second level ID for a record under canonicalID.
// canonicalCollided is the canonical layer's hash-match flag: only a record
// whose canonical group already existed can collide at the second level, so
// the collision check is skipped otherwise.
func (a *Assigner) Assign(ctx context.Context, canonicalID string, canonicalCollided bool, record *domain.BiomarkerRecord) (*Assignment, error) {
	key, ok := record.SecondLevelKey()
	if !ok {
		return nil, &domain.MalformedRecordError{
			Field:  "condition/exposure_agent",
			Reason: "record carries neither a condition nor an exposure agent ID",
		}
	}

	if canonicalCollided {
		collided, err := a.checkCollision(ctx, canonicalID, key)
		if err != nil {
			return nil, err
		}
		if collided {
			id, err := a.existingID(ctx, canonicalID, key)
			if err != nil {
				return nil, err
			}
			return &Assignment{ID: id, Collided: true}, nil
		}
	}

	id, err := a.allocate(ctx, canonicalID, key)
	if err != nil {
		return nil, err
	}
	return &Assignment{ID: id, Collided: false}, nil
}

// checkCollision reports whether key already has an allocation under the
// canonical group. A missing group entry here is an invariant violation: the
// canonical layer said the group exists, so its second level bookkeeping
// must too.
func (a *Assigner) checkCollision(ctx context.Context, canonicalID, key string) (bool, error) {
	entry, err := a.store.Get(ctx, canonicalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, &domain.InvariantViolationError{
				Op:     "second level collision check",
				Detail: fmt.Sprintf("no second level entry for canonical ID %s despite canonical hash match", canonicalID),
			}
		}
		return false, fmt.Errorf("fetching second level entry for %s: %w", canonicalID, err)
	}

	for _, e := range entry.Entries {
		if e.Key == key {
			return true, nil
		}
	}
	return false, nil
}

// existingID returns the second level ID already allocated for key. Called
// only after a positive collision check, so not finding the key means the
// map is corrupt relative to the collision flag.
func (a *Assigner) existingID(ctx context.Context, canonicalID, key string) (string, error) {
	entry, err := a.store.Get(ctx, canonicalID)
	if err != nil {
		return "", &domain.InvariantViolationError{
			Op:     "second level ID lookup",
			Detail: fmt.Sprintf("canonical ID %s: %v", canonicalID, err),
		}
	}

	for _, e := range entry.Entries {
		if e.Key == key {
			return e.SecondLevelID, nil
		}
	}

	a.log.WithFields(logrus.Fields{
		"canonical_id": canonicalID,
		"key":          key,
	}).Error("Did not find existing second level ID despite expecting collision")
	return "", &domain.InvariantViolationError{
		Op:     "second level ID lookup",
		Detail: fmt.Sprintf("key %s missing from existing entries of canonical ID %s despite collision flag", key, canonicalID),
	}
}

// allocate hands out the next second level ID under the canonical group,
// creating the group entry with index 1 on first sight.
func (a *Assigner) allocate(ctx context.Context, canonicalID, key string) (string, error) {
	entry, err := a.store.Get(ctx, canonicalID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("fetching second level entry for %s: %w", canonicalID, err)
		}
		id := fmt.Sprintf("%s-1", canonicalID)
		created := &domain.SecondLevelIDEntry{
			CanonicalID: canonicalID,
			CurrIndex:   1,
			Entries: []domain.SecondLevelEntry{
				{Key: key, SecondLevelID: id},
			},
		}
		if err := a.store.Create(ctx, created); err != nil {
			return "", fmt.Errorf("creating second level entry for %s: %w", canonicalID, err)
		}
		return id, nil
	}

	newIndex := entry.CurrIndex + 1
	id := fmt.Sprintf("%s-%d", canonicalID, newIndex)
	if err := a.store.Append(ctx, canonicalID, newIndex, domain.SecondLevelEntry{Key: key, SecondLevelID: id}); err != nil {
		return "", fmt.Errorf("appending second level entry for %s: %w", canonicalID, err)
	}
	return id, nil
}
