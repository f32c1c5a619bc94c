package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/search"
	"github.com/biomarker-kb-server/internal/stats"
)

// LoadResult summarizes a load pass over one file.
type LoadResult struct {
	FilePath   string        `json:"file_path"`
	Reviewed   int           `json:"reviewed"`
	Unreviewed int           `json:"unreviewed"`
	Skipped    int           `json:"skipped"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Loader performs the bulk load of assigned records into the record stores,
// routing on each record's collision status. Writes run through a circuit
// breaker and an optional rate limiter since the record store is shared
// production infrastructure.
type Loader struct {
	records    domain.RecordStore
	unreviewed domain.RecordStore
	synth      *search.Synthesizer
	collector  *stats.Collector
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	batchSize  int
	maxRetries int
	log        *logrus.Logger
}

// NewLoader creates a bulk loader. collector may be nil to skip stats
// accumulation.
func NewLoader(records, unreviewed domain.RecordStore, collector *stats.Collector, cfg domain.PipelineConfig, logger *logrus.Logger) *Loader {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "record-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state change")
		},
	})

	var limiter *rate.Limiter
	if cfg.WriteRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.WriteRateLimit), 1)
	}

	return &Loader{
		records:    records,
		unreviewed: unreviewed,
		synth:      search.NewSynthesizer(logger),
		collector:  collector,
		breaker:    breaker,
		limiter:    limiter,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		log:        logger,
	}
}

// LoadRecords routes and bulk-writes one file's assigned records.
// unreviewedFull sends the whole file to the unreviewed store regardless of
// per-record status (release files the curators have not signed off on).
// The searchable text field is synthesized for reviewed records only;
// unreviewed records are not indexed.
func (l *Loader) LoadRecords(ctx context.Context, filePath string, records []*domain.BiomarkerRecord, unreviewedFull bool) (*LoadResult, error) {
	result := &LoadResult{FilePath: filePath}
	start := time.Now()

	var reviewedBatch, unreviewedBatch []*domain.BiomarkerRecord

	for idx, record := range records {
		switch record.Collision {
		case domain.CollisionDiscard:
			l.log.WithFields(logrus.Fields{
				"file":         filePath,
				"index":        idx,
				"canonical_id": record.CanonicalID,
				"biomarker_id": record.BiomarkerID,
			}).Info("Skipping record for hard collision")
			result.Skipped++
			continue
		case domain.CollisionNone:
			if unreviewedFull {
				unreviewedBatch = append(unreviewedBatch, record)
				result.Unreviewed++
			} else {
				record.AllText = l.synth.AllText(record)
				if l.collector != nil {
					l.collector.Add(record)
				}
				reviewedBatch = append(reviewedBatch, record)
				result.Reviewed++
			}
		case domain.CollisionReview:
			unreviewedBatch = append(unreviewedBatch, record)
			result.Unreviewed++
		default:
			return nil, &domain.InvariantViolationError{
				Op:     "load routing",
				Detail: fmt.Sprintf("invalid collision value %d at index %d of %s", record.Collision, idx, filePath),
			}
		}

		if len(reviewedBatch) >= l.batchSize {
			if err := l.flush(ctx, l.records, reviewedBatch); err != nil {
				return nil, err
			}
			reviewedBatch = nil
		}
		if len(unreviewedBatch) >= l.batchSize {
			if err := l.flush(ctx, l.unreviewed, unreviewedBatch); err != nil {
				return nil, err
			}
			unreviewedBatch = nil
		}
	}

	if len(reviewedBatch) > 0 {
		if err := l.flush(ctx, l.records, reviewedBatch); err != nil {
			return nil, err
		}
	}
	if len(unreviewedBatch) > 0 {
		if err := l.flush(ctx, l.unreviewed, unreviewedBatch); err != nil {
			return nil, err
		}
	}

	result.Elapsed = time.Since(start)
	l.log.WithFields(logrus.Fields{
		"file":       filePath,
		"reviewed":   result.Reviewed,
		"unreviewed": result.Unreviewed,
		"skipped":    result.Skipped,
		"elapsed":    result.Elapsed.String(),
	}).Info("Finished loading file")
	return result, nil
}

// flush writes one batch with retries: exponential backoff doubling from one
// second, giving up after the configured attempt ceiling.
func (l *Loader) flush(ctx context.Context, store domain.RecordStore, batch []*domain.BiomarkerRecord) error {
	attempts := l.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			l.log.WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"backoff": backoff.String(),
				"error":   lastErr,
			}).Warn("Bulk write failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		_, err := l.breaker.Execute(func() (interface{}, error) {
			return nil, store.Insert(ctx, batch)
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("bulk write failed after %d attempts: %w", attempts, lastErr)
}
