package search

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/biomarker-kb-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestAllText_StopWordsAndCase(t *testing.T) {
	s := NewSynthesizer(testLogger())

	record := &domain.BiomarkerRecord{
		Components: []domain.BiomarkerComponent{{
			Biomarker: "Increased levels of IL6 in the serum",
		}},
	}

	got := s.AllText(record)
	assert.Equal(t, "increased levels il6 serum", got)
}

func TestAllText_DeduplicatesRepeatedValues(t *testing.T) {
	s := NewSynthesizer(testLogger())

	record := &domain.BiomarkerRecord{
		Components: []domain.BiomarkerComponent{{
			Entity: domain.AssessedEntity{
				RecommendedName: "Interleukin-6",
				Synonyms: []domain.Synonym{
					{Synonym: "Interleukin-6"},
					{Synonym: "IL-6"},
				},
			},
		}},
	}

	got := s.AllText(record)
	assert.Equal(t, "interleukin-6 il-6", got)
}

func TestAllText_WalksConditionAndEvidence(t *testing.T) {
	s := NewSynthesizer(testLogger())

	record := &domain.BiomarkerRecord{
		BiomarkerID: "AA0001-1",
		CanonicalID: "AA0001",
		Components: []domain.BiomarkerComponent{{
			Biomarker:  "increased IL6 level",
			EntityID:   "UPKB:P05231-1",
			EntityType: "protein",
			Specimens: []domain.Specimen{
				{Name: "blood serum", ID: "UBERON:0001977", LoincCode: "26881-3"},
			},
		}},
		Roles: []domain.BiomarkerRole{{Role: "diagnostic"}},
		Condition: &domain.Condition{
			ID: "DOID:9351",
			RecommendedName: domain.ResourceName{
				ID: "DOID:9351", Name: "diabetes mellitus", Resource: "Disease Ontology",
			},
		},
		EvidenceSources: []domain.EvidenceSource{{
			ID:           "10914713",
			Database:     "PubMed",
			EvidenceList: []domain.Evidence{{Evidence: "IL6 elevated in patients"}},
		}},
		Citations: []domain.Citation{{
			Title:   "IL6 in diabetes",
			Journal: "J Clin Invest",
			References: []domain.Reference{
				{ID: "10914713", Type: "pubmed"},
			},
		}},
	}

	got := s.AllText(record)
	for _, want := range []string{
		"aa0001-1", "aa0001", "upkb:p05231-1", "protein", "blood serum",
		"uberon:0001977", "26881-3", "diagnostic", "doid:9351",
		"diabetes mellitus", "disease ontology", "pubmed",
		"il6 elevated patients", "j clin invest",
	} {
		assert.Contains(t, got, want)
	}
}

func TestAllText_SizeCapDropsOverflow(t *testing.T) {
	s := &Synthesizer{maxSize: 35, log: testLogger()}

	record := &domain.BiomarkerRecord{
		Components: []domain.BiomarkerComponent{{
			Biomarker: "increased IL6 level",
			Entity: domain.AssessedEntity{
				RecommendedName: strings.Repeat("x", 40),
			},
			EntityID: "UPKB:P05231-1",
		}},
	}

	got := s.AllText(record)
	assert.Contains(t, got, "increased il6 level")
	assert.NotContains(t, got, strings.Repeat("x", 40))
	// Later short contributions still fit under the cap.
	assert.Contains(t, got, "upkb:p05231-1")
}
