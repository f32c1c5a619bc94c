package pipeline

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biomarker-kb-server/internal/domain"
)

func TestReport_Write(t *testing.T) {
	report := NewReport()
	report.AddFileResult(&FileResult{FilePath: "release_a.json", Processed: 10, Collisions: 2})
	report.AddLoadResult(&LoadResult{FilePath: "release_a.json", Reviewed: 8, Unreviewed: 2})
	report.SetMergeResult(&MergeResult{Attempted: 2, Merged: 1, Unmerged: 1})
	report.AddMalformed("release_a.json", 4, "record has no biomarker components")

	path, err := report.Write(t.TempDir())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	require.Len(t, decoded.Files, 1)
	require.Len(t, decoded.Loads, 1)
	require.NotNil(t, decoded.Merge)
	require.Len(t, decoded.Malformed, 1)
	assert.Equal(t, 4, decoded.Malformed[0].Index)
}

func TestAddUnmerged_DiffsIdentityFields(t *testing.T) {
	stored := loadRecord("AA0001-1", "AA0001", domain.CollisionNone)
	collision := loadRecord("AA0001-1", "AA0001", domain.CollisionReview)
	collision.Components[0].Biomarker = "decreased IL6 level"
	collision.Condition.ID = "DOID:10283"

	report := NewReport()
	report.AddUnmerged(collision, stored)

	require.Len(t, report.Unmerged, 1)
	entry := report.Unmerged[0]
	assert.Equal(t, "AA0001-1", entry.BiomarkerID)
	assert.Equal(t, "AA0001", entry.CanonicalID)

	fields := make(map[string]FieldDiff, len(entry.Diff))
	for _, d := range entry.Diff {
		fields[d.Field] = d
	}
	require.Contains(t, fields, "biomarker_component[0].biomarker")
	assert.Equal(t, "increased IL6 level", fields["biomarker_component[0].biomarker"].Existing)
	assert.Equal(t, "decreased IL6 level", fields["biomarker_component[0].biomarker"].Incoming)
	require.Contains(t, fields, "condition.id")
	assert.Equal(t, "DOID:10283", fields["condition.id"].Incoming)
}

func TestAddUnmerged_DroppedCondition(t *testing.T) {
	stored := loadRecord("AA0001-1", "AA0001", domain.CollisionNone)
	collision := loadRecord("AA0001-1", "AA0001", domain.CollisionReview)
	collision.Condition = nil

	report := NewReport()
	report.AddUnmerged(collision, stored)

	require.Len(t, report.Unmerged, 1)
	require.Len(t, report.Unmerged[0].Diff, 1)
	diff := report.Unmerged[0].Diff[0]
	assert.Equal(t, "condition", diff.Field)
	assert.Equal(t, "DOID:9351", diff.Existing)
	assert.Empty(t, diff.Incoming)
}
