package secondlevel

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/repository"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func conditionRecord(conditionID string) *domain.BiomarkerRecord {
	return &domain.BiomarkerRecord{
		Components: []domain.BiomarkerComponent{{Biomarker: "increased IL6", EntityID: "UPKB:P05231-1"}},
		Condition:  &domain.Condition{ID: conditionID},
	}
}

func TestAssign_FirstEntry(t *testing.T) {
	store := repository.NewMemoryStore().SecondLevel()
	assigner := NewAssigner(store, testLogger())

	assignment, err := assigner.Assign(context.Background(), "AA0001", false, conditionRecord("DOID:9351"))
	require.NoError(t, err)
	assert.Equal(t, "AA0001-1", assignment.ID)
	assert.False(t, assignment.Collided)
}

func TestAssign_DistinctKeysGetDistinctIDs(t *testing.T) {
	store := repository.NewMemoryStore().SecondLevel()
	assigner := NewAssigner(store, testLogger())
	ctx := context.Background()

	first, err := assigner.Assign(ctx, "AA0001", false, conditionRecord("DOID:9351"))
	require.NoError(t, err)
	assert.Equal(t, "AA0001-1", first.ID)

	second, err := assigner.Assign(ctx, "AA0001", true, conditionRecord("DOID:10283"))
	require.NoError(t, err)
	assert.Equal(t, "AA0001-2", second.ID)
	assert.False(t, second.Collided)
}

func TestAssign_CollisionReturnsExistingID(t *testing.T) {
	store := repository.NewMemoryStore().SecondLevel()
	assigner := NewAssigner(store, testLogger())
	ctx := context.Background()

	first, err := assigner.Assign(ctx, "AA0001", false, conditionRecord("DOID:9351"))
	require.NoError(t, err)

	repeat, err := assigner.Assign(ctx, "AA0001", true, conditionRecord("DOID:9351"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, repeat.ID)
	assert.True(t, repeat.Collided)

	// The index never advanced for the collision.
	entry, err := store.Get(ctx, "AA0001")
	require.NoError(t, err)
	assert.Equal(t, 1, entry.CurrIndex)
	assert.Len(t, entry.Entries, 1)
}

func TestAssign_ExposureAgentKey(t *testing.T) {
	store := repository.NewMemoryStore().SecondLevel()
	assigner := NewAssigner(store, testLogger())

	record := &domain.BiomarkerRecord{
		Components:    []domain.BiomarkerComponent{{Biomarker: "increased IL6", EntityID: "UPKB:P05231-1"}},
		ExposureAgent: &domain.ExposureAgent{ID: "CHEBI:27732"},
	}
	assignment, err := assigner.Assign(context.Background(), "AA0001", false, record)
	require.NoError(t, err)
	assert.Equal(t, "AA0001-1", assignment.ID)
}

func TestAssign_MissingKeyIsMalformed(t *testing.T) {
	store := repository.NewMemoryStore().SecondLevel()
	assigner := NewAssigner(store, testLogger())

	record := &domain.BiomarkerRecord{
		Components: []domain.BiomarkerComponent{{Biomarker: "increased IL6", EntityID: "UPKB:P05231-1"}},
	}
	_, err := assigner.Assign(context.Background(), "AA0001", false, record)
	require.Error(t, err)
	assert.True(t, domain.IsMalformed(err))
}

func TestAssign_MissingGroupEntryIsInvariantViolation(t *testing.T) {
	store := repository.NewMemoryStore().SecondLevel()
	assigner := NewAssigner(store, testLogger())

	// The canonical layer reported a hash match but the second level map has
	// no entry for the group: corrupt bookkeeping, must abort.
	_, err := assigner.Assign(context.Background(), "AA0001", true, conditionRecord("DOID:9351"))
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
	assert.False(t, domain.IsMalformed(err))
}
