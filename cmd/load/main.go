// Command load bulk-loads an ID-assigned data release into the record
// stores, runs the merge pass over soft collisions, and publishes release
// statistics.
//
// Exit codes: 0 success, 1 invalid arguments or declined confirmation, 2 on
// any fatal run condition.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/config"
	"github.com/biomarker-kb-server/internal/database"
	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/logging"
	"github.com/biomarker-kb-server/internal/pipeline"
	"github.com/biomarker-kb-server/internal/repository"
	"github.com/biomarker-kb-server/internal/stats"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dataDir = flag.String("data-dir", "", "data release directory (overrides config)")
		backend = flag.String("store", "postgres", "store backend: postgres or sqlite")
		yes     = flag.Bool("yes", false, "skip confirmation prompts")
	)
	flag.Parse()

	configManager, err := config.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if err := configManager.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return 1
	}
	cfg := configManager.GetConfig()
	if *dataDir != "" {
		cfg.Pipeline.DataDir = *dataDir
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	resolved, err := filepath.EvalSymlinks(cfg.Pipeline.DataDir)
	if err != nil {
		logger.WithError(err).Error("Failed to resolve data directory")
		return 2
	}
	fmt.Printf("Resolved data directory %s points to:\n\t%s\n", cfg.Pipeline.DataDir, resolved)
	if !*yes && !promptConfirm() {
		return 1
	}

	records, unreviewed, statsStore, closeStores, err := buildStores(ctx, *backend, cfg, configManager, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to build stores")
		return 2
	}
	defer closeStores()

	files, err := pipeline.ReleaseFiles(resolved)
	if err != nil {
		logger.WithError(err).Error("Failed to list release files")
		return 2
	}
	if len(files) == 0 {
		logger.WithField("data_dir", resolved).Warn("No release files found")
		return 0
	}

	loadMap, err := pipeline.ReadLoadMap(resolved)
	if err != nil {
		logger.WithError(err).Error("Failed to read load map")
		return 2
	}

	collector := stats.NewCollector()
	loader := pipeline.NewLoader(records, unreviewed, collector, cfg.Pipeline, logger)
	report := pipeline.NewReport()

	// Soft-collision records feed the merge pass after every file is loaded.
	var collisionRecords []*domain.BiomarkerRecord

	for _, fp := range files {
		fileRecords, err := pipeline.ReadReleaseFile(fp)
		if err != nil {
			logger.WithFields(logrus.Fields{"file": fp, "error": err}).Error("Failed to read release file")
			return 2
		}

		unreviewedFull := loadMap.IsUnreviewed(fp)
		result, err := loader.LoadRecords(ctx, fp, fileRecords, unreviewedFull)
		if err != nil {
			logger.WithFields(logrus.Fields{"file": fp, "error": err}).Error("Bulk load failed")
			return 2
		}
		report.AddLoadResult(result)

		if !unreviewedFull {
			for _, record := range fileRecords {
				if record.Collision == domain.CollisionReview {
					collisionRecords = append(collisionRecords, record)
				}
			}
		}
	}

	merger := pipeline.NewMerger(records, unreviewed, logger)
	mergeResult, err := merger.MergePass(ctx, collisionRecords, report)
	if err != nil {
		logger.WithError(err).Error("Merge pass failed")
		return 2
	}
	report.SetMergeResult(mergeResult)

	if err := collector.Publish(ctx, statsStore); err != nil {
		logger.WithError(err).Error("Failed to publish release stats")
		return 2
	}

	reportPath, err := report.Write(cfg.Pipeline.ReportDir)
	if err != nil {
		logger.WithError(err).Error("Failed to write run report")
		return 2
	}
	logger.WithField("report", reportPath).Info("Wrote run report")

	logger.Info("Finished loading data release")
	return 0
}

func buildStores(ctx context.Context, backend string, cfg *domain.Config, configManager *config.Manager, logger *logrus.Logger) (domain.RecordStore, domain.RecordStore, domain.StatsStore, func(), error) {
	switch backend {
	case "postgres":
		runner, err := database.NewMigrationRunner(configManager.GetMigrationDatabaseURL(), "migrations", logger)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := runner.Up(ctx); err != nil {
			runner.Close()
			return nil, nil, nil, nil, err
		}
		runner.Close()

		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return repository.NewPostgresRecordStore(db.Pool, "biomarker", logger),
			repository.NewPostgresRecordStore(db.Pool, "unreviewed", logger),
			repository.NewPostgresStatsStore(db.Pool),
			db.Close, nil
	case "sqlite":
		store, err := repository.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return store.Records(), store.Unreviewed(), store, func() { store.Close() }, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("invalid store backend %q", backend)
	}
}

func promptConfirm() bool {
	fmt.Print("Continue? (y/n) ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
