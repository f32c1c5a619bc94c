// Package pipeline drives batch runs over a data release: ID assignment,
// collision routing, bulk loading and the post-assignment merge pass.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/canonical"
	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/secondlevel"
)

// logCheckpoint is the per-record interval for progress log lines during a
// file pass.
const logCheckpoint = 5_000

// loadMapFile is the release metadata file skipped during file globbing.
const loadMapFile = "load_map.json"

// FileResult summarizes one file's pass through ID assignment.
type FileResult struct {
	FilePath      string        `json:"file_path"`
	Processed     int           `json:"processed"`
	Collisions    int           `json:"collisions"`
	NewBiomarkers int           `json:"new_biomarkers"`
	Malformed     int           `json:"malformed"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Processor assigns the two-level IDs and stamps the collision status on
// every record of a release.
type Processor struct {
	canonical *canonical.Assigner
	second    *secondlevel.Assigner
	log       *logrus.Logger
}

// NewProcessor creates an ID assignment processor.
func NewProcessor(canonicalAssigner *canonical.Assigner, secondAssigner *secondlevel.Assigner, logger *logrus.Logger) *Processor {
	return &Processor{
		canonical: canonicalAssigner,
		second:    secondAssigner,
		log:       logger,
	}
}

// ProcessRecords assigns IDs for a file's records in place. Malformed
// records are counted, reported and skipped; invariant violations and
// ID exhaustion abort the pass with the error. A pre-existing collision
// stamp on an input record is discarded before assignment.
func (p *Processor) ProcessRecords(ctx context.Context, filePath string, records []*domain.BiomarkerRecord, report *Report) (*FileResult, error) {
	p.log.WithField("file", filePath).Info("Assigning IDs")

	result := &FileResult{FilePath: filePath}
	start := time.Now()

	for idx, record := range records {
		if (idx+1)%logCheckpoint == 0 {
			p.log.WithFields(logrus.Fields{
				"file":  filePath,
				"index": idx + 1,
			}).Info("Hit assignment log checkpoint")
		}

		record.Collision = domain.CollisionNone

		canonicalAssignment, err := p.canonical.Assign(ctx, record)
		if err != nil {
			if domain.IsMalformed(err) {
				p.reportMalformed(filePath, idx, err, result, report)
				continue
			}
			return nil, fmt.Errorf("canonical assignment for record %d of %s: %w", idx, filePath, err)
		}

		secondAssignment, err := p.second.Assign(ctx, canonicalAssignment.ID, canonicalAssignment.Collided, record)
		if err != nil {
			if domain.IsMalformed(err) {
				p.reportMalformed(filePath, idx, err, result, report)
				continue
			}
			return nil, fmt.Errorf("second level assignment for record %d of %s: %w", idx, filePath, err)
		}

		record.CanonicalID = canonicalAssignment.ID
		record.BiomarkerID = secondAssignment.ID
		if secondAssignment.Collided {
			record.Collision = domain.CollisionReview
			result.Collisions++
		} else {
			result.NewBiomarkers++
		}
		result.Processed++
	}

	result.Elapsed = time.Since(start)
	p.log.WithFields(logrus.Fields{
		"file":           filePath,
		"elapsed":        result.Elapsed.String(),
		"collisions":     result.Collisions,
		"new_biomarkers": result.NewBiomarkers,
		"malformed":      result.Malformed,
	}).Info("Finished assigning IDs")
	return result, nil
}

// ProcessFile reads a release file, assigns IDs and writes the updated
// records back over the file.
func (p *Processor) ProcessFile(ctx context.Context, filePath string, report *Report) (*FileResult, error) {
	records, err := ReadReleaseFile(filePath)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		p.log.WithField("file", filePath).Warn("No records found in release file")
		return &FileResult{FilePath: filePath}, nil
	}

	result, err := p.ProcessRecords(ctx, filePath, records, report)
	if err != nil {
		return nil, err
	}

	if err := WriteReleaseFile(filePath, records); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Processor) reportMalformed(filePath string, idx int, err error, result *FileResult, report *Report) {
	result.Malformed++
	p.log.WithFields(logrus.Fields{
		"file":  filePath,
		"index": idx,
		"error": err,
	}).Warn("Skipping malformed record")
	if report != nil {
		report.AddMalformed(filePath, idx, err.Error())
	}
}

// ReleaseFiles lists the release's JSON files in sorted order, skipping the
// load map.
func ReleaseFiles(dataDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dataDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("globbing release files in %s: %w", dataDir, err)
	}
	files := matches[:0]
	for _, m := range matches {
		if filepath.Base(m) == loadMapFile {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// ReadReleaseFile decodes a release file's record array.
func ReadReleaseFile(filePath string) ([]*domain.BiomarkerRecord, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading release file %s: %w", filePath, err)
	}
	var records []*domain.BiomarkerRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding release file %s: %w", filePath, err)
	}
	return records, nil
}

// WriteReleaseFile writes the record array back to a release file.
func WriteReleaseFile(filePath string, records []*domain.BiomarkerRecord) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding release file %s: %w", filePath, err)
	}
	if err := os.WriteFile(filePath, raw, 0644); err != nil {
		return fmt.Errorf("writing release file %s: %w", filePath, err)
	}
	return nil
}

// LoadMap is the optional release metadata declaring which files load wholly
// into the unreviewed collection.
type LoadMap struct {
	Unreviewed []string `json:"unreviewed"`
}

// ReadLoadMap reads the release's load map. A missing file is not an error;
// it means every file loads as reviewed.
func ReadLoadMap(dataDir string) (*LoadMap, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, loadMapFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &LoadMap{}, nil
		}
		return nil, fmt.Errorf("reading load map: %w", err)
	}
	var lm LoadMap
	if err := json.Unmarshal(raw, &lm); err != nil {
		return nil, fmt.Errorf("decoding load map: %w", err)
	}
	return &lm, nil
}

// IsUnreviewed reports whether the named file is marked for whole-file
// unreviewed loading.
func (lm *LoadMap) IsUnreviewed(filePath string) bool {
	base := filepath.Base(filePath)
	for _, f := range lm.Unreviewed {
		if f == base {
			return true
		}
	}
	return false
}
