package domain

// Core Enums and Types

// CollisionStatus is the tri-state collision marker stamped onto every record
// during ID assignment. It decides the record's routing during the load phase.
type CollisionStatus int

const (
	// CollisionNone marks a clean insert into the reviewed collection.
	CollisionNone CollisionStatus = 0
	// CollisionReview marks a soft collision routed to the unreviewed
	// collection for merge attempt / human adjudication.
	CollisionReview CollisionStatus = 1
	// CollisionDiscard marks a hard collision that is skipped entirely.
	CollisionDiscard CollisionStatus = 2
)

// Record Schema
//
// Only the subset of the biomarker data model that the ID assignment and
// merge logic touches is typed here. Anything else a release file carries is
// preserved opaquely in Extra so a round trip through the pipeline does not
// lose curated fields.

// BiomarkerRecord is the unit of identity assignment.
type BiomarkerRecord struct {
	BiomarkerID     string               `json:"biomarker_id,omitempty"`
	CanonicalID     string               `json:"biomarker_canonical_id,omitempty"`
	Collision       CollisionStatus      `json:"collision"`
	Components      []BiomarkerComponent `json:"biomarker_component"`
	Roles           []BiomarkerRole      `json:"best_biomarker_role"`
	Condition       *Condition           `json:"condition,omitempty"`
	ExposureAgent   *ExposureAgent       `json:"exposure_agent,omitempty"`
	EvidenceSources []EvidenceSource     `json:"evidence_source,omitempty"`
	Citations       []Citation           `json:"citation,omitempty"`
	AllText         string               `json:"all_text,omitempty"`
}

// BiomarkerComponent is one assessed entity / change pair within a record.
type BiomarkerComponent struct {
	Biomarker       string           `json:"biomarker"`
	Entity          AssessedEntity   `json:"assessed_biomarker_entity"`
	EntityID        string           `json:"assessed_biomarker_entity_id"`
	EntityType      string           `json:"assessed_entity_type"`
	Specimens       []Specimen       `json:"specimen,omitempty"`
	EvidenceSources []EvidenceSource `json:"evidence_source,omitempty"`
}

// AssessedEntity holds the recommended name and synonyms of the entity a
// component assesses.
type AssessedEntity struct {
	RecommendedName string    `json:"recommended_name"`
	Synonyms        []Synonym `json:"synonyms,omitempty"`
}

// Synonym is a single synonym entry for an assessed entity.
type Synonym struct {
	Synonym string `json:"synonym"`
}

// Specimen describes where a component was measured.
type Specimen struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	NameSpace string `json:"name_space,omitempty"`
	URL       string `json:"url,omitempty"`
	LoincCode string `json:"loinc_code,omitempty"`
}

// ResourceName is a named reference into an external resource (DOID, UBERON,
// ...). Used for condition/exposure agent recommended names and synonyms.
type ResourceName struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Resource    string `json:"resource"`
	URL         string `json:"url,omitempty"`
}

// Condition is the disease association of a record. Mutually exclusive with
// ExposureAgent in practice.
type Condition struct {
	ID              string         `json:"id"`
	RecommendedName ResourceName   `json:"recommended_name"`
	Synonyms        []ResourceName `json:"synonyms,omitempty"`
}

// ExposureAgent mirrors Condition for exposure-agent associated records.
type ExposureAgent struct {
	ID              string         `json:"id"`
	RecommendedName ResourceName   `json:"recommended_name"`
	Synonyms        []ResourceName `json:"synonyms,omitempty"`
}

// BiomarkerRole is one best-biomarker-role entry.
type BiomarkerRole struct {
	Role string `json:"role"`
}

// EvidenceSource ties evidence items to a source database entry. Two sources
// are the same source iff (ID, Database, URL) match.
type EvidenceSource struct {
	ID           string     `json:"id"`
	Database     string     `json:"database"`
	URL          string     `json:"url,omitempty"`
	EvidenceList []Evidence `json:"evidence_list,omitempty"`
	Tags         []Tag      `json:"tags,omitempty"`
}

// Evidence is a single evidence text entry.
type Evidence struct {
	Evidence string `json:"evidence"`
}

// Tag is an evidence tag.
type Tag struct {
	Tag string `json:"tag"`
}

// Citation is a literature citation attached to a record.
type Citation struct {
	Title      string      `json:"title,omitempty"`
	Journal    string      `json:"journal,omitempty"`
	Authors    string      `json:"authors,omitempty"`
	Date       string      `json:"date,omitempty"`
	Evidence   []Evidence  `json:"evidence,omitempty"`
	References []Reference `json:"reference,omitempty"`
}

// Reference is an external reference within a citation (PubMed ID etc).
type Reference struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Identifier Map Rows

// CanonicalIDEntry is one row of the canonical ID map. HashValue and
// CanonicalID are both unique across the map.
type CanonicalIDEntry struct {
	HashValue     string `json:"hash_value"`
	CanonicalID   string `json:"biomarker_canonical_id"`
	CoreValuesStr string `json:"core_values_str"`
}

// SecondLevelEntry maps a condition or exposure-agent ID to the second level
// ID allocated for it under a canonical group.
type SecondLevelEntry struct {
	Key           string `json:"key"`
	SecondLevelID string `json:"second_level_id"`
}

// SecondLevelIDEntry is one row of the second level ID map, keyed by
// canonical ID. CurrIndex equals the count of entries ever allocated under
// the canonical group.
type SecondLevelIDEntry struct {
	CanonicalID string             `json:"biomarker_canonical_id"`
	CurrIndex   int                `json:"curr_index"`
	Entries     []SecondLevelEntry `json:"existing_entries"`
}

// SecondLevelKey returns the key used for second level ID scoping: the
// condition ID when present, else the exposure agent ID. The second return
// value reports whether a key exists at all.
func (r *BiomarkerRecord) SecondLevelKey() (string, bool) {
	if r.Condition != nil && r.Condition.ID != "" {
		return r.Condition.ID, true
	}
	if r.ExposureAgent != nil && r.ExposureAgent.ID != "" {
		return r.ExposureAgent.ID, true
	}
	return "", false
}

// ValidateForID checks that a record is well formed enough to enter the ID
// assignment core: it must carry at least one component and a condition or
// exposure agent association. Records failing this are rejected per record,
// never by halting the run.
func (r *BiomarkerRecord) ValidateForID() error {
	if len(r.Components) == 0 {
		return &MalformedRecordError{Field: "biomarker_component", Reason: "record has no biomarker components"}
	}
	for i, comp := range r.Components {
		if comp.EntityID == "" {
			return &MalformedRecordError{
				Field:  "biomarker_component.assessed_biomarker_entity_id",
				Reason: "component is missing the assessed entity ID",
				Index:  i,
			}
		}
	}
	if _, ok := r.SecondLevelKey(); !ok {
		return &MalformedRecordError{
			Field:  "condition/exposure_agent",
			Reason: "record carries neither a condition nor an exposure agent ID",
		}
	}
	return nil
}
