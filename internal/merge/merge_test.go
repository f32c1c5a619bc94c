package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-kb-server/internal/domain"
)

func baseRecord() *domain.BiomarkerRecord {
	return &domain.BiomarkerRecord{
		BiomarkerID: "AA0001-1",
		CanonicalID: "AA0001",
		Components: []domain.BiomarkerComponent{{
			Biomarker: "increased IL6 level",
			Entity: domain.AssessedEntity{
				RecommendedName: "Interleukin-6",
				Synonyms:        []domain.Synonym{{Synonym: "IL-6"}},
			},
			EntityID:   "UPKB:P05231-1",
			EntityType: "protein",
			Specimens: []domain.Specimen{
				{Name: "blood serum", ID: "UBERON:0001977"},
			},
		}},
		Roles: []domain.BiomarkerRole{{Role: "diagnostic"}},
		Condition: &domain.Condition{
			ID: "DOID:9351",
			RecommendedName: domain.ResourceName{
				ID: "DOID:9351", Name: "diabetes mellitus", Resource: "Disease Ontology",
			},
			Synonyms: []domain.ResourceName{
				{ID: "DOID:9351", Name: "diabetes", Resource: "Disease Ontology"},
			},
		},
		EvidenceSources: []domain.EvidenceSource{{
			ID:       "10914713",
			Database: "PubMed",
			URL:      "https://pubmed.ncbi.nlm.nih.gov/10914713/",
			EvidenceList: []domain.Evidence{
				{Evidence: "IL6 levels were elevated in patients"},
			},
			Tags: []domain.Tag{{Tag: "biomarker"}},
		}},
		Citations: []domain.Citation{{Title: "IL6 in diabetes", Journal: "J Clin Invest"}},
	}
}

func TestAttempt_Idempotent(t *testing.T) {
	existing := baseRecord()
	incoming := baseRecord()

	merged, err := Attempt(existing, incoming)
	require.NoError(t, err)
	require.NotNil(t, merged)

	assert.Equal(t, baseRecord(), merged)
}

func TestAttempt_SynonymUnionWithoutDuplicates(t *testing.T) {
	existing := baseRecord()
	incoming := baseRecord()
	incoming.Components[0].Entity.Synonyms = []domain.Synonym{
		{Synonym: "IL-6"},
		{Synonym: "interleukin 6"},
	}

	merged, err := Attempt(existing, incoming)
	require.NoError(t, err)
	require.NotNil(t, merged)

	// Existing order preserved, duplicate dropped, new entry appended.
	assert.Equal(t, []domain.Synonym{
		{Synonym: "IL-6"},
		{Synonym: "interleukin 6"},
	}, merged.Components[0].Entity.Synonyms)
}

func TestAttempt_RoleAndSpecimenUnion(t *testing.T) {
	existing := baseRecord()
	incoming := baseRecord()
	incoming.Roles = []domain.BiomarkerRole{{Role: "diagnostic"}, {Role: "prognostic"}}
	incoming.Components[0].Specimens = append(incoming.Components[0].Specimens,
		domain.Specimen{Name: "urine", ID: "UBERON:0001088"})

	merged, err := Attempt(existing, incoming)
	require.NoError(t, err)
	require.NotNil(t, merged)

	assert.Len(t, merged.Roles, 2)
	assert.Len(t, merged.Components[0].Specimens, 2)
}

func TestAttempt_HardFail(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.BiomarkerRecord)
	}{
		{"entity type differs", func(r *domain.BiomarkerRecord) {
			r.Components[0].EntityType = "gene"
		}},
		{"biomarker text differs", func(r *domain.BiomarkerRecord) {
			r.Components[0].Biomarker = "decreased IL6 level"
		}},
		{"recommended name differs", func(r *domain.BiomarkerRecord) {
			r.Components[0].Entity.RecommendedName = "Interleukin-6 receptor"
		}},
		{"entity ID differs", func(r *domain.BiomarkerRecord) {
			r.Components[0].EntityID = "UPKB:P08887"
		}},
		{"component count differs", func(r *domain.BiomarkerRecord) {
			r.Components = append(r.Components, r.Components[0])
		}},
		{"condition ID differs", func(r *domain.BiomarkerRecord) {
			r.Condition.ID = "DOID:10283"
		}},
		{"condition name differs", func(r *domain.BiomarkerRecord) {
			r.Condition.RecommendedName.Name = "prostate cancer"
		}},
		{"condition dropped", func(r *domain.BiomarkerRecord) {
			r.Condition = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := baseRecord()
			incoming := baseRecord()
			tt.mutate(incoming)

			merged, err := Attempt(existing, incoming)
			require.NoError(t, err)
			assert.Nil(t, merged)
		})
	}
}

func TestAttempt_IDMismatchIsInvariantViolation(t *testing.T) {
	existing := baseRecord()
	incoming := baseRecord()
	incoming.BiomarkerID = "AA0002-1"

	_, err := Attempt(existing, incoming)
	require.Error(t, err)
	assert.True(t, domain.IsInvariantViolation(err))
}

func TestAttempt_ComponentOrderInsensitive(t *testing.T) {
	second := domain.BiomarkerComponent{
		Biomarker:  "decreased ADIPOQ level",
		Entity:     domain.AssessedEntity{RecommendedName: "Adiponectin"},
		EntityID:   "UPKB:Q15848",
		EntityType: "protein",
	}

	existing := baseRecord()
	existing.Components = append(existing.Components, second)

	incoming := baseRecord()
	incoming.Components = []domain.BiomarkerComponent{second, incoming.Components[0]}

	merged, err := Attempt(existing, incoming)
	require.NoError(t, err)
	assert.NotNil(t, merged)
}

func TestMergeEvidenceSources_TripleMatch(t *testing.T) {
	existing := []domain.EvidenceSource{{
		ID:           "10914713",
		Database:     "PubMed",
		URL:          "https://pubmed.ncbi.nlm.nih.gov/10914713/",
		EvidenceList: []domain.Evidence{{Evidence: "first observation"}},
		Tags:         []domain.Tag{{Tag: "biomarker"}},
	}}
	incoming := []domain.EvidenceSource{
		{
			ID:       "10914713",
			Database: "PubMed",
			URL:      "https://pubmed.ncbi.nlm.nih.gov/10914713/",
			EvidenceList: []domain.Evidence{
				{Evidence: "first observation"},
				{Evidence: "replicated in second cohort"},
			},
			Tags: []domain.Tag{{Tag: "specimen"}},
		},
		{
			ID:       "10914713",
			Database: "CIViC",
			EvidenceList: []domain.Evidence{
				{Evidence: "curated assertion"},
			},
		},
	}

	merged := MergeEvidenceSources(existing, incoming)

	// Matching triple merged in place, non-matching database appended whole.
	require.Len(t, merged, 2)
	assert.Equal(t, []domain.Evidence{
		{Evidence: "first observation"},
		{Evidence: "replicated in second cohort"},
	}, merged[0].EvidenceList)
	assert.Equal(t, []domain.Tag{{Tag: "biomarker"}, {Tag: "specimen"}}, merged[0].Tags)
	assert.Equal(t, "CIViC", merged[1].Database)
}

func TestAttempt_EvidenceGrowsAdditively(t *testing.T) {
	existing := baseRecord()
	incoming := baseRecord()
	incoming.EvidenceSources = append(incoming.EvidenceSources, domain.EvidenceSource{
		ID:       "24081313",
		Database: "PubMed",
	})

	merged, err := Attempt(existing, incoming)
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Len(t, merged.EvidenceSources, 2)
}
