// Package merge decides whether two records colliding on a second level ID
// describe the identical entity (safe to merge) or a genuine conflict that
// must go to human review, and performs the field union for mergeable pairs.
package merge

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/biomarker-kb-server/internal/domain"
)

// Attempt merges incoming into existing. It returns the merged record on
// success and (nil, nil) when the records conflict on a hard-fail field, in
// which case both records are preserved for human adjudication. A biomarker
// or canonical ID mismatch between the two records is a programming error
// and surfaces as an InvariantViolationError.
//
// Hard-fail fields (any difference blocks the merge): per component pair,
// the biomarker text, entity recommended name, entity ID and entity type;
// differing component counts; and the condition identity (ID plus
// recommended name ID/name/resource). Everything list-valued is unioned by
// deep equality, existing entries first.
func Attempt(existing, incoming *domain.BiomarkerRecord) (*domain.BiomarkerRecord, error) {
	if existing.BiomarkerID != incoming.BiomarkerID {
		return nil, &domain.InvariantViolationError{
			Op:     "merge",
			Detail: fmt.Sprintf("mismatched biomarker IDs %s and %s", existing.BiomarkerID, incoming.BiomarkerID),
		}
	}
	if existing.CanonicalID != incoming.CanonicalID {
		return nil, &domain.InvariantViolationError{
			Op:     "merge",
			Detail: fmt.Sprintf("mismatched canonical IDs %s and %s", existing.CanonicalID, incoming.CanonicalID),
		}
	}

	// Pair components deterministically regardless of input order.
	sortComponents(existing.Components)
	sortComponents(incoming.Components)

	if conflicts(existing, incoming) {
		return nil, nil
	}

	mergeRecords(existing, incoming)
	return existing, nil
}

func sortComponents(comps []domain.BiomarkerComponent) {
	sort.SliceStable(comps, func(i, j int) bool {
		return comps[i].EntityID < comps[j].EntityID
	})
}

// conflicts checks the hard-fail conditions. Records conflicting here are
// routed to review, never merged partially.
func conflicts(existing, incoming *domain.BiomarkerRecord) bool {
	if len(existing.Components) != len(incoming.Components) {
		return true
	}

	for i := range existing.Components {
		ec, ic := &existing.Components[i], &incoming.Components[i]
		if ec.Biomarker != ic.Biomarker ||
			ec.Entity.RecommendedName != ic.Entity.RecommendedName ||
			ec.EntityID != ic.EntityID ||
			ec.EntityType != ic.EntityType {
			return true
		}
	}

	if existing.Condition != nil || incoming.Condition != nil {
		if existing.Condition == nil || incoming.Condition == nil {
			return true
		}
		e, c := existing.Condition, incoming.Condition
		if e.ID != c.ID ||
			e.RecommendedName.ID != c.RecommendedName.ID ||
			e.RecommendedName.Name != c.RecommendedName.Name ||
			e.RecommendedName.Resource != c.RecommendedName.Resource {
			return true
		}
	}

	return false
}

// mergeRecords unions the mergeable fields of incoming into existing in
// place. Called only after conflicts() cleared the pair, so component lists
// are equal length and pair up index by index.
func mergeRecords(existing, incoming *domain.BiomarkerRecord) {
	for i := range existing.Components {
		ec, ic := &existing.Components[i], &incoming.Components[i]

		ec.Entity.Synonyms = unionSynonyms(ec.Entity.Synonyms, ic.Entity.Synonyms)
		ec.Specimens = unionSpecimens(ec.Specimens, ic.Specimens)
		ec.EvidenceSources = MergeEvidenceSources(ec.EvidenceSources, ic.EvidenceSources)
	}

	if existing.Condition != nil && incoming.Condition != nil {
		existing.Condition.Synonyms = unionResourceNames(existing.Condition.Synonyms, incoming.Condition.Synonyms)
	}

	existing.Roles = unionRoles(existing.Roles, incoming.Roles)
	existing.EvidenceSources = MergeEvidenceSources(existing.EvidenceSources, incoming.EvidenceSources)
	existing.Citations = unionCitations(existing.Citations, incoming.Citations)
}

// MergeEvidenceSources merges two evidence source lists. Sources are matched
// by the (ID, Database, URL) triple; matched sources have their evidence
// lists and tags unioned, unmatched incoming sources are appended whole.
func MergeEvidenceSources(existing, incoming []domain.EvidenceSource) []domain.EvidenceSource {
	for _, src := range incoming {
		idx := -1
		for i := range existing {
			if existing[i].ID == src.ID &&
				existing[i].Database == src.Database &&
				existing[i].URL == src.URL {
				idx = i
				break
			}
		}
		if idx < 0 {
			existing = append(existing, src)
			continue
		}
		existing[idx].EvidenceList = unionEvidence(existing[idx].EvidenceList, src.EvidenceList)
		existing[idx].Tags = unionTags(existing[idx].Tags, src.Tags)
	}
	return existing
}

func unionSynonyms(dst, src []domain.Synonym) []domain.Synonym {
	for _, s := range src {
		if !containsDeep(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func unionSpecimens(dst, src []domain.Specimen) []domain.Specimen {
	for _, s := range src {
		if !containsDeep(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func unionResourceNames(dst, src []domain.ResourceName) []domain.ResourceName {
	for _, s := range src {
		if !containsDeep(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func unionRoles(dst, src []domain.BiomarkerRole) []domain.BiomarkerRole {
	for _, s := range src {
		if !containsDeep(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func unionEvidence(dst, src []domain.Evidence) []domain.Evidence {
	for _, s := range src {
		if !containsDeep(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func unionTags(dst, src []domain.Tag) []domain.Tag {
	for _, s := range src {
		if !containsDeep(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func unionCitations(dst, src []domain.Citation) []domain.Citation {
	for _, s := range src {
		if !containsDeep(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func containsDeep[T any](list []T, v T) bool {
	for i := range list {
		if reflect.DeepEqual(list[i], v) {
			return true
		}
	}
	return false
}
