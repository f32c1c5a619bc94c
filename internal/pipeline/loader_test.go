package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/repository"
	"github.com/biomarker-kb-server/internal/stats"
)

// loadRecord builds an assigned record ready for the load phase.
func loadRecord(biomarkerID, canonicalID string, collision domain.CollisionStatus) *domain.BiomarkerRecord {
	record := releaseRecord("increased IL6 level", "UPKB:P05231-1", "DOID:9351")
	record.BiomarkerID = biomarkerID
	record.CanonicalID = canonicalID
	record.Collision = collision
	return record
}

func TestLoadRecords_Routing(t *testing.T) {
	store := repository.NewMemoryStore()
	collector := stats.NewCollector()
	loader := NewLoader(store.Records(), store.Unreviewed(), collector,
		domain.PipelineConfig{BatchSize: 1000, MaxRetries: 1}, testLogger())

	records := []*domain.BiomarkerRecord{
		loadRecord("AA0001-1", "AA0001", domain.CollisionNone),
		loadRecord("AA0002-1", "AA0002", domain.CollisionReview),
		loadRecord("AA0003-1", "AA0003", domain.CollisionDiscard),
	}

	result, err := loader.LoadRecords(context.Background(), "release.json", records, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Reviewed)
	assert.Equal(t, 1, result.Unreviewed)
	assert.Equal(t, 1, result.Skipped)

	reviewed, err := store.Records().GetByBiomarkerID(context.Background(), "AA0001-1")
	require.NoError(t, err)
	assert.NotEmpty(t, reviewed.AllText, "reviewed records are indexed")

	unreviewed, err := store.Unreviewed().GetByBiomarkerID(context.Background(), "AA0002-1")
	require.NoError(t, err)
	assert.Empty(t, unreviewed.AllText, "unreviewed records are not indexed")

	// Hard collisions never reach either collection.
	_, err = store.Records().GetByBiomarkerID(context.Background(), "AA0003-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Unreviewed().GetByBiomarkerID(context.Background(), "AA0003-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Only the reviewed record fed the stats.
	assert.Equal(t, 1, collector.Stats().UniqueBiomarkerCount)
}

func TestLoadRecords_UnreviewedFullFile(t *testing.T) {
	store := repository.NewMemoryStore()
	collector := stats.NewCollector()
	loader := NewLoader(store.Records(), store.Unreviewed(), collector,
		domain.PipelineConfig{BatchSize: 1000, MaxRetries: 1}, testLogger())

	records := []*domain.BiomarkerRecord{
		loadRecord("AA0001-1", "AA0001", domain.CollisionNone),
	}

	result, err := loader.LoadRecords(context.Background(), "pending.json", records, true)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Reviewed)
	assert.Equal(t, 1, result.Unreviewed)

	got, err := store.Unreviewed().GetByBiomarkerID(context.Background(), "AA0001-1")
	require.NoError(t, err)
	assert.Empty(t, got.AllText)
	assert.Equal(t, 0, collector.Stats().UniqueBiomarkerCount)
}

func TestLoadRecords_InvalidCollisionValue(t *testing.T) {
	store := repository.NewMemoryStore()
	loader := NewLoader(store.Records(), store.Unreviewed(), nil,
		domain.PipelineConfig{BatchSize: 1000, MaxRetries: 1}, testLogger())

	records := []*domain.BiomarkerRecord{
		loadRecord("AA0001-1", "AA0001", domain.CollisionStatus(7)),
	}

	_, err := loader.LoadRecords(context.Background(), "release.json", records, false)
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
}

func TestLoadRecords_BatchFlush(t *testing.T) {
	store := repository.NewMemoryStore()
	loader := NewLoader(store.Records(), store.Unreviewed(), nil,
		domain.PipelineConfig{BatchSize: 2, MaxRetries: 1}, testLogger())

	var records []*domain.BiomarkerRecord
	ids := []string{"AA0001-1", "AA0002-1", "AA0003-1", "AA0004-1", "AA0005-1"}
	for _, id := range ids {
		records = append(records, loadRecord(id, id[:6], domain.CollisionNone))
	}

	result, err := loader.LoadRecords(context.Background(), "release.json", records, false)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Reviewed)

	for _, id := range ids {
		_, err := store.Records().GetByBiomarkerID(context.Background(), id)
		require.NoError(t, err, "record %s should be flushed", id)
	}
}

func TestLoadRecords_RetriesTransientWriteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := repository.NewSQLiteStoreWithDB(db)
	loader := NewLoader(store.Records(), store.Unreviewed(), nil,
		domain.PipelineConfig{BatchSize: 10, MaxRetries: 3}, testLogger())

	// First attempt fails at transaction start, the retry goes through.
	mock.ExpectBegin().WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO biomarker").
		ExpectExec().
		WithArgs("AA0001-1", "AA0001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	records := []*domain.BiomarkerRecord{
		loadRecord("AA0001-1", "AA0001", domain.CollisionNone),
	}

	result, err := loader.LoadRecords(context.Background(), "release.json", records, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reviewed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRecords_GivesUpAfterRetryCeiling(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := repository.NewSQLiteStoreWithDB(db)
	loader := NewLoader(store.Records(), store.Unreviewed(), nil,
		domain.PipelineConfig{BatchSize: 10, MaxRetries: 2}, testLogger())

	mock.ExpectBegin().WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectBegin().WillReturnError(errors.New("connection reset by peer"))

	records := []*domain.BiomarkerRecord{
		loadRecord("AA0001-1", "AA0001", domain.CollisionNone),
	}

	_, err = loader.LoadRecords(context.Background(), "release.json", records, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.NoError(t, mock.ExpectationsWereMet())
}
