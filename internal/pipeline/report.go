package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/biomarker-kb-server/internal/domain"
)

// Report is the structured per-run collision/merge report: every record
// rejected as malformed and every collision record that failed to auto-merge,
// the latter with a field-level diff against the stored record.
type Report struct {
	mu sync.Mutex

	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Files     []FileResult     `json:"files,omitempty"`
	Loads     []LoadResult     `json:"loads,omitempty"`
	Merge     *MergeResult     `json:"merge,omitempty"`
	Malformed []MalformedEntry `json:"malformed,omitempty"`
	Unmerged  []UnmergedEntry  `json:"unmerged,omitempty"`
}

// MalformedEntry records one rejected input record.
type MalformedEntry struct {
	FilePath string `json:"file_path"`
	Index    int    `json:"index"`
	Reason   string `json:"reason"`
}

// UnmergedEntry records one collision record left for human review.
type UnmergedEntry struct {
	BiomarkerID string      `json:"biomarker_id"`
	CanonicalID string      `json:"biomarker_canonical_id"`
	Diff        []FieldDiff `json:"diff"`
}

// FieldDiff is one differing field between the stored and collision records.
type FieldDiff struct {
	Field    string `json:"field"`
	Existing string `json:"existing"`
	Incoming string `json:"incoming"`
}

// NewReport creates a report for a fresh run.
func NewReport() *Report {
	return &Report{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
}

// AddFileResult appends an assignment pass summary.
func (r *Report) AddFileResult(result *FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files = append(r.Files, *result)
}

// AddLoadResult appends a load pass summary.
func (r *Report) AddLoadResult(result *LoadResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Loads = append(r.Loads, *result)
}

// SetMergeResult records the merge pass summary.
func (r *Report) SetMergeResult(result *MergeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Merge = result
}

// AddMalformed records a rejected input record.
func (r *Report) AddMalformed(filePath string, index int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Malformed = append(r.Malformed, MalformedEntry{
		FilePath: filePath,
		Index:    index,
		Reason:   reason,
	})
}

// AddUnmerged records a collision record that failed to auto-merge, with the
// diff against the stored record.
func (r *Report) AddUnmerged(collision, stored *domain.BiomarkerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unmerged = append(r.Unmerged, UnmergedEntry{
		BiomarkerID: collision.BiomarkerID,
		CanonicalID: collision.CanonicalID,
		Diff:        diffRecords(stored, collision),
	})
}

// Write dumps the report as JSON into the report directory, named by run ID.
func (r *Report) Write(reportDir string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}

	path := filepath.Join(reportDir, fmt.Sprintf("run-%s.json", r.RunID))
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

// diffRecords produces a field-level diff over the identity fields the merge
// engine hard-fails on. List-valued mergeable fields never appear here since
// they cannot block a merge.
func diffRecords(existing, incoming *domain.BiomarkerRecord) []FieldDiff {
	var diffs []FieldDiff

	add := func(field, ev, iv string) {
		if ev != iv {
			diffs = append(diffs, FieldDiff{Field: field, Existing: ev, Incoming: iv})
		}
	}

	add("biomarker_component.length",
		fmt.Sprintf("%d", len(existing.Components)),
		fmt.Sprintf("%d", len(incoming.Components)))

	n := len(existing.Components)
	if len(incoming.Components) < n {
		n = len(incoming.Components)
	}
	for i := 0; i < n; i++ {
		ec, ic := existing.Components[i], incoming.Components[i]
		prefix := fmt.Sprintf("biomarker_component[%d].", i)
		add(prefix+"biomarker", ec.Biomarker, ic.Biomarker)
		add(prefix+"assessed_biomarker_entity.recommended_name",
			ec.Entity.RecommendedName, ic.Entity.RecommendedName)
		add(prefix+"assessed_biomarker_entity_id", ec.EntityID, ic.EntityID)
		add(prefix+"assessed_entity_type", ec.EntityType, ic.EntityType)
	}

	switch {
	case existing.Condition != nil && incoming.Condition != nil:
		e, c := existing.Condition, incoming.Condition
		add("condition.id", e.ID, c.ID)
		add("condition.recommended_name.id", e.RecommendedName.ID, c.RecommendedName.ID)
		add("condition.recommended_name.name", e.RecommendedName.Name, c.RecommendedName.Name)
		add("condition.recommended_name.resource", e.RecommendedName.Resource, c.RecommendedName.Resource)
	case existing.Condition != nil:
		add("condition", existing.Condition.ID, "")
	case incoming.Condition != nil:
		add("condition", "", incoming.Condition.ID)
	}

	return diffs
}
