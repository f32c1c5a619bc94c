// Command idassign assigns canonical and second level biomarker IDs for a
// data release directory of JSON files, rewrites the files with the assigned
// IDs and collision stamps, and exports the ID maps.
//
// Exit codes: 0 success, 1 invalid arguments or declined confirmation, 2 on
// any fatal run condition (ID space exhaustion, invariant violation, store
// failure).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/canonical"
	"github.com/biomarker-kb-server/internal/config"
	"github.com/biomarker-kb-server/internal/database"
	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/logging"
	"github.com/biomarker-kb-server/internal/pipeline"
	"github.com/biomarker-kb-server/internal/repository"
	"github.com/biomarker-kb-server/internal/secondlevel"
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

	canonicalStore, secondStore, closeStores, err := buildStores(ctx, *backend, cfg, configManager, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to build stores")
		return 2
	}
	defer closeStores()

	cache, err := buildCache(cfg.Cache, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to build hash cache")
		return 2
	}

	canonicalAssigner := canonical.NewAssigner(canonicalStore, cache, logger)
	secondAssigner := secondlevel.NewAssigner(secondStore, logger)
	processor := pipeline.NewProcessor(canonicalAssigner, secondAssigner, logger)
	report := pipeline.NewReport()

	files, err := pipeline.ReleaseFiles(resolved)
	if err != nil {
		logger.WithError(err).Error("Failed to list release files")
		return 2
	}
	if len(files) == 0 {
		logger.WithField("data_dir", resolved).Warn("No release files found")
		return 0
	}

	checkpoint, resumeFrom, code := resolveCheckpoint(cfg.Pipeline, *yes, logger)
	if code != 0 {
		return code
	}

	pending, found := pipeline.SkipCompleted(files, resumeFrom)
	if !found {
		logger.WithField("file", resumeFrom).
			Warn("Checkpointed file is not part of the release, starting fresh run")
		checkpoint = pipeline.NewCheckpoint()
	} else if skipped := len(files) - len(pending); skipped > 0 {
		logger.WithField("skipped", skipped).Info("Skipping already committed files")
	}

	for _, fp := range pending {
		result, err := processor.ProcessFile(ctx, fp, report)
		if err != nil {
			logger.WithFields(logrus.Fields{"file": fp, "error": err}).Error("ID assignment failed")
			return 2
		}
		report.AddFileResult(result)

		checkpoint.Advance(fp, result.Processed)
		if err := checkpoint.Save(cfg.Pipeline.CheckpointPath); err != nil {
			logger.WithError(err).Error("Failed to save checkpoint")
			return 2
		}
	}

	if err := exportIDMaps(ctx, resolved, canonicalStore, secondStore); err != nil {
		logger.WithError(err).Error("Failed to export ID maps")
		return 2
	}

	reportPath, err := report.Write(cfg.Pipeline.ReportDir)
	if err != nil {
		logger.WithError(err).Error("Failed to write run report")
		return 2
	}
	logger.WithField("report", reportPath).Info("Wrote run report")

	if err := pipeline.RemoveCheckpoint(cfg.Pipeline.CheckpointPath); err != nil {
		logger.WithError(err).Warn("Failed to remove checkpoint")
	}

	logger.Info("Finished ID assignment run")
	return 0
}

// resolveCheckpoint loads an existing checkpoint and gates resumption on its
// age: a stale checkpoint requires explicit confirmation, a declined
// confirmation starts the run fresh.
func resolveCheckpoint(cfg domain.PipelineConfig, yes bool, logger *logrus.Logger) (*pipeline.Checkpoint, string, int) {
	existing, err := pipeline.LoadCheckpoint(cfg.CheckpointPath)
	if err != nil {
		logger.WithError(err).Error("Failed to read checkpoint")
		return nil, "", 2
	}
	if existing == nil {
		return pipeline.NewCheckpoint(), "", 0
	}

	if existing.IsStale(cfg.CheckpointStaleAfter) && !yes {
		fmt.Printf("Found checkpoint from %s (run %s), older than %s.\nResume from %s?\n",
			existing.Timestamp.Format("2006-01-02 15:04:05"), existing.RunID,
			cfg.CheckpointStaleAfter, existing.FilePath)
		if !promptConfirm() {
			logger.Info("Stale checkpoint declined, starting fresh run")
			return pipeline.NewCheckpoint(), "", 0
		}
	}

	logger.WithFields(logrus.Fields{
		"run_id": existing.RunID,
		"file":   existing.FilePath,
	}).Info("Resuming from checkpoint")
	return existing, existing.FilePath, 0
}

func buildStores(ctx context.Context, backend string, cfg *domain.Config, configManager *config.Manager, logger *logrus.Logger) (domain.CanonicalIDStore, domain.SecondLevelIDStore, func(), error) {
	switch backend {
	case "postgres":
		runner, err := database.NewMigrationRunner(configManager.GetMigrationDatabaseURL(), "migrations", logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := runner.Up(ctx); err != nil {
			runner.Close()
			return nil, nil, nil, err
		}
		runner.Close()

		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return repository.NewPostgresCanonicalIDStore(db.Pool, logger),
			repository.NewPostgresSecondLevelIDStore(db.Pool, logger),
			db.Close, nil
	case "sqlite":
		store, err := repository.NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store.SecondLevel(), func() { store.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("invalid store backend %q", backend)
	}
}

func buildCache(cfg domain.CacheConfig, logger *logrus.Logger) (canonical.HashCache, error) {
	switch cfg.Backend {
	case "redis":
		return repository.NewRedisHashCache(cfg, logger)
	case "lru":
		return repository.NewLRUHashCache(cfg.LRUSize)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid cache backend %q", cfg.Backend)
	}
}

// exportIDMaps dumps both ID maps as JSON next to the release directory so
// they can be carried to other environments.
func exportIDMaps(ctx context.Context, dataDir string, canonicalStore domain.CanonicalIDStore, secondStore domain.SecondLevelIDStore) error {
	exportDir := filepath.Dir(dataDir)

	canonicalEntries, err := canonicalStore.All(ctx)
	if err != nil {
		return fmt.Errorf("reading canonical ID map: %w", err)
	}
	if err := writeJSON(filepath.Join(exportDir, "canonical_id_collection.json"), canonicalEntries); err != nil {
		return err
	}

	secondEntries, err := secondStore.All(ctx)
	if err != nil {
		return fmt.Errorf("reading second level ID map: %w", err)
	}
	return writeJSON(filepath.Join(exportDir, "second_level_id_collection.json"), secondEntries)
}

func writeJSON(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
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
