package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/repository"
)

func statsRecord(biomarkerID, conditionID string, components ...domain.BiomarkerComponent) *domain.BiomarkerRecord {
	return &domain.BiomarkerRecord{
		BiomarkerID: biomarkerID,
		Components:  components,
		Condition:   &domain.Condition{ID: conditionID},
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.Add(statsRecord("AA0001-1", "DOID:9351",
		domain.BiomarkerComponent{EntityID: "UPKB:P05231-1", EntityType: "protein"}))
	c.Add(statsRecord("AA0002-1", "DOID:9351",
		domain.BiomarkerComponent{EntityID: "UPKB:Q15848", EntityType: "protein"},
		domain.BiomarkerComponent{EntityID: "NCBI:3569", EntityType: "gene"}))
	c.Add(statsRecord("AA0003-1", "DOID:10283",
		domain.BiomarkerComponent{EntityID: "CHEBI:17234", EntityType: "metabolite"}))

	got := c.Stats()
	assert.Equal(t, 2, got.UniqueConditionCount)
	assert.Equal(t, 3, got.UniqueBiomarkerCount)
	assert.Equal(t, 2, got.SingleBiomarkerCount)
	assert.Equal(t, 1, got.MulticomponentBiomarkerCnt)

	// Splits are sorted by entity type for stable output.
	assert.Equal(t, []domain.EntityTypeSplit{
		{EntityType: "gene", Count: 1},
		{EntityType: "metabolite", Count: 1},
		{EntityType: "protein", Count: 2},
	}, got.EntityTypeSplits)
}

func TestCollector_DuplicatesCountedOnce(t *testing.T) {
	c := NewCollector()

	record := statsRecord("AA0001-1", "DOID:9351",
		domain.BiomarkerComponent{EntityID: "UPKB:P05231-1", EntityType: "protein"})
	c.Add(record)
	c.Add(record)

	got := c.Stats()
	assert.Equal(t, 1, got.UniqueConditionCount)
	assert.Equal(t, 1, got.UniqueBiomarkerCount)
}

func TestCollector_Publish(t *testing.T) {
	store := repository.NewMemoryStore()
	c := NewCollector()
	c.Add(statsRecord("AA0001-1", "DOID:9351",
		domain.BiomarkerComponent{EntityID: "UPKB:P05231-1", EntityType: "protein"}))

	require.NoError(t, c.Publish(context.Background(), store))

	saved, err := store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c.Stats(), saved)
}
