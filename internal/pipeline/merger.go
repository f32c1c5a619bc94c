package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/merge"
	"github.com/biomarker-kb-server/internal/search"
)

// MergeResult summarizes the merge pass over the unreviewed records.
type MergeResult struct {
	Attempted int           `json:"attempted"`
	Merged    int           `json:"merged"`
	Unmerged  int           `json:"unmerged"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Merger runs the second pass over soft-collision records: each is merged
// into the stored record sharing its biomarker ID where the merge engine
// allows, otherwise it stays in the unreviewed store for human review.
type Merger struct {
	records    domain.RecordStore
	unreviewed domain.RecordStore
	synth      *search.Synthesizer
	log        *logrus.Logger
}

// NewMerger creates a merge pass runner.
func NewMerger(records, unreviewed domain.RecordStore, logger *logrus.Logger) *Merger {
	return &Merger{
		records:    records,
		unreviewed: unreviewed,
		synth:      search.NewSynthesizer(logger),
		log:        logger,
	}
}

// MergePass attempts to merge every collision record into its stored
// counterpart. A collision record whose source record does not exist is an
// invariant violation: the assignment phase guaranteed a record already owns
// that biomarker ID.
func (m *Merger) MergePass(ctx context.Context, collisionRecords []*domain.BiomarkerRecord, report *Report) (*MergeResult, error) {
	m.log.WithField("collision_records", len(collisionRecords)).Info("Starting merge pass")

	result := &MergeResult{}
	start := time.Now()

	for _, collisionRecord := range collisionRecords {
		result.Attempted++

		stored, err := m.records.GetByBiomarkerID(ctx, collisionRecord.BiomarkerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, &domain.InvariantViolationError{
					Op:     "merge pass",
					Detail: fmt.Sprintf("no stored record for collision biomarker ID %s", collisionRecord.BiomarkerID),
				}
			}
			return nil, fmt.Errorf("fetching stored record %s: %w", collisionRecord.BiomarkerID, err)
		}

		merged, err := merge.Attempt(stored, collisionRecord)
		if err != nil {
			return nil, err
		}
		if merged == nil {
			result.Unmerged++
			if report != nil {
				report.AddUnmerged(collisionRecord, stored)
			}
			m.log.WithField("biomarker_id", collisionRecord.BiomarkerID).
				Info("Record could not be auto-merged, leaving for review")
			continue
		}

		// A merge grows the searchable fields, so the stored search text is
		// stale; rebuild it from the merged record before the replace.
		merged.AllText = m.synth.AllText(merged)
		if err := m.records.Replace(ctx, merged); err != nil {
			return nil, fmt.Errorf("replacing merged record %s: %w", merged.BiomarkerID, err)
		}
		if err := m.unreviewed.Delete(ctx, collisionRecord.BiomarkerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("removing merged collision record %s: %w", collisionRecord.BiomarkerID, err)
		}
		result.Merged++
	}

	result.Elapsed = time.Since(start)
	m.log.WithFields(logrus.Fields{
		"attempted": result.Attempted,
		"merged":    result.Merged,
		"unmerged":  result.Unmerged,
		"elapsed":   result.Elapsed.String(),
	}).Info("Finished merge pass")
	return result, nil
}
