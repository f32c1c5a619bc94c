// Package stats aggregates the per-release statistics published alongside a
// loaded data release.
package stats

import (
	"context"
	"fmt"
	"sort"

	"github.com/biomarker-kb-server/internal/domain"
)

// Collector accumulates release statistics record by record as the loader
// streams a release through. Only reviewed (collision-free or merged) records
// should be fed in; unreviewed records are excluded from the published
// counts.
type Collector struct {
	conditions  map[string]struct{}
	biomarkers  map[string]struct{}
	single      int
	multi       int
	entityTypes map[string]int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		conditions:  make(map[string]struct{}),
		biomarkers:  make(map[string]struct{}),
		entityTypes: make(map[string]int),
	}
}

// Add folds one record into the running counts.
func (c *Collector) Add(record *domain.BiomarkerRecord) {
	if record.Condition != nil && record.Condition.ID != "" {
		c.conditions[record.Condition.ID] = struct{}{}
	}
	if record.BiomarkerID != "" {
		c.biomarkers[record.BiomarkerID] = struct{}{}
	}

	switch {
	case len(record.Components) == 1:
		c.single++
	case len(record.Components) > 1:
		c.multi++
	}

	for _, comp := range record.Components {
		c.entityTypes[comp.EntityType]++
	}
}

// Stats returns the aggregated statistics. Entity type splits are sorted by
// type name for stable output.
func (c *Collector) Stats() *domain.ReleaseStats {
	splits := make([]domain.EntityTypeSplit, 0, len(c.entityTypes))
	for entityType, count := range c.entityTypes {
		splits = append(splits, domain.EntityTypeSplit{EntityType: entityType, Count: count})
	}
	sort.Slice(splits, func(i, j int) bool {
		return splits[i].EntityType < splits[j].EntityType
	})

	return &domain.ReleaseStats{
		UniqueConditionCount:       len(c.conditions),
		UniqueBiomarkerCount:       len(c.biomarkers),
		SingleBiomarkerCount:       c.single,
		MulticomponentBiomarkerCnt: c.multi,
		EntityTypeSplits:           splits,
	}
}

// Publish saves the collected statistics to the stats store.
func (c *Collector) Publish(ctx context.Context, store domain.StatsStore) error {
	if err := store.SaveStats(ctx, c.Stats()); err != nil {
		return fmt.Errorf("saving release stats: %w", err)
	}
	return nil
}
