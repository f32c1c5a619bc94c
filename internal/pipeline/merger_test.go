package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/repository"
)

func TestMergePass_MergesCompatibleRecord(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	stored := loadRecord("AA0001-1", "AA0001", domain.CollisionNone)
	stored.EvidenceSources = []domain.EvidenceSource{{
		ID: "10914713", Database: "PubMed",
		EvidenceList: []domain.Evidence{{Evidence: "first observation"}},
	}}
	require.NoError(t, store.Records().Insert(ctx, []*domain.BiomarkerRecord{stored}))

	collision := loadRecord("AA0001-1", "AA0001", domain.CollisionReview)
	collision.EvidenceSources = []domain.EvidenceSource{{
		ID: "24081313", Database: "PubMed",
		EvidenceList: []domain.Evidence{{Evidence: "replication cohort"}},
	}}
	require.NoError(t, store.Unreviewed().Insert(ctx, []*domain.BiomarkerRecord{collision}))

	merger := NewMerger(store.Records(), store.Unreviewed(), testLogger())
	result, err := merger.MergePass(ctx, []*domain.BiomarkerRecord{collision}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 0, result.Unmerged)

	merged, err := store.Records().GetByBiomarkerID(ctx, "AA0001-1")
	require.NoError(t, err)
	assert.Len(t, merged.EvidenceSources, 2)

	// Merged collision records leave the unreviewed collection.
	_, err = store.Unreviewed().GetByBiomarkerID(ctx, "AA0001-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMergePass_RebuildsSearchText(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	stored := loadRecord("AA0001-1", "AA0001", domain.CollisionNone)
	stored.EvidenceSources = []domain.EvidenceSource{{
		ID: "10914713", Database: "PubMed",
		EvidenceList: []domain.Evidence{{Evidence: "first observation"}},
	}}
	stored.AllText = "aa0001-1 aa0001 first observation"
	require.NoError(t, store.Records().Insert(ctx, []*domain.BiomarkerRecord{stored}))

	collision := loadRecord("AA0001-1", "AA0001", domain.CollisionReview)
	collision.EvidenceSources = []domain.EvidenceSource{{
		ID: "24081313", Database: "PubMed",
		EvidenceList: []domain.Evidence{{Evidence: "replication cohort"}},
	}}
	require.NoError(t, store.Unreviewed().Insert(ctx, []*domain.BiomarkerRecord{collision}))

	merger := NewMerger(store.Records(), store.Unreviewed(), testLogger())
	_, err := merger.MergePass(ctx, []*domain.BiomarkerRecord{collision}, nil)
	require.NoError(t, err)

	// The merged-in evidence is searchable, not just stored.
	merged, err := store.Records().GetByBiomarkerID(ctx, "AA0001-1")
	require.NoError(t, err)
	assert.Contains(t, merged.AllText, "replication cohort")
	assert.Contains(t, merged.AllText, "first observation")
}

func TestMergePass_IncompatibleRecordStaysForReview(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	report := NewReport()

	stored := loadRecord("AA0001-1", "AA0001", domain.CollisionNone)
	require.NoError(t, store.Records().Insert(ctx, []*domain.BiomarkerRecord{stored}))

	collision := loadRecord("AA0001-1", "AA0001", domain.CollisionReview)
	collision.Components[0].Biomarker = "decreased IL6 level"
	require.NoError(t, store.Unreviewed().Insert(ctx, []*domain.BiomarkerRecord{collision}))

	merger := NewMerger(store.Records(), store.Unreviewed(), testLogger())
	result, err := merger.MergePass(ctx, []*domain.BiomarkerRecord{collision}, report)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Unmerged)
	assert.Equal(t, 0, result.Merged)

	require.Len(t, report.Unmerged, 1)
	assert.Equal(t, "AA0001-1", report.Unmerged[0].BiomarkerID)
	require.NotEmpty(t, report.Unmerged[0].Diff)

	// The collision record waits in the unreviewed collection.
	_, err = store.Unreviewed().GetByBiomarkerID(ctx, "AA0001-1")
	require.NoError(t, err)
}

func TestMergePass_MissingStoredRecordAbortsRun(t *testing.T) {
	store := repository.NewMemoryStore()

	collision := loadRecord("AA0001-1", "AA0001", domain.CollisionReview)

	merger := NewMerger(store.Records(), store.Unreviewed(), testLogger())
	_, err := merger.MergePass(context.Background(), []*domain.BiomarkerRecord{collision}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
}
