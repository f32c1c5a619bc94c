package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/biomarker-kb-server/internal/domain"
)

// SQLiteStore backs local and dry runs of the pipeline with an embedded
// database. One store carries all maps and collections; the schema mirrors
// the Postgres layout with JSON records.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (or creates) the embedded store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency between the assign and load phases.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS canonical_id_map (
		hash_value TEXT PRIMARY KEY,
		biomarker_canonical_id TEXT NOT NULL UNIQUE,
		core_values_str TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS second_level_id_map (
		biomarker_canonical_id TEXT PRIMARY KEY,
		curr_index INTEGER NOT NULL,
		existing_entries TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS biomarker (
		biomarker_id TEXT PRIMARY KEY,
		biomarker_canonical_id TEXT NOT NULL,
		record TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS unreviewed (
		rowid_seq INTEGER PRIMARY KEY AUTOINCREMENT,
		biomarker_id TEXT NOT NULL,
		biomarker_canonical_id TEXT NOT NULL,
		record TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS release_stats (
		id TEXT PRIMARY KEY,
		stats TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_biomarker_canonical ON biomarker(biomarker_canonical_id);
	CREATE INDEX IF NOT EXISTS idx_unreviewed_biomarker ON unreviewed(biomarker_id);
	CREATE INDEX IF NOT EXISTS idx_unreviewed_canonical ON unreviewed(biomarker_canonical_id);
	`

	_, err := db.Exec(schema)
	return err
}

// NewSQLiteStoreWithDB wraps an existing database/sql handle. Schema setup
// is the caller's responsibility; used by tests injecting mock handles.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetByHash implements domain.CanonicalIDStore.
func (s *SQLiteStore) GetByHash(ctx context.Context, hashValue string) (*domain.CanonicalIDEntry, error) {
	var entry domain.CanonicalIDEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT hash_value, biomarker_canonical_id, core_values_str
		FROM canonical_id_map WHERE hash_value = ?
	`, hashValue).Scan(&entry.HashValue, &entry.CanonicalID, &entry.CoreValuesStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query canonical ID entry: %w", err)
	}
	return &entry, nil
}

// MaxCanonicalID implements domain.CanonicalIDStore.
func (s *SQLiteStore) MaxCanonicalID(ctx context.Context) (string, error) {
	var max string
	err := s.db.QueryRowContext(ctx, `
		SELECT biomarker_canonical_id FROM canonical_id_map
		ORDER BY biomarker_canonical_id DESC LIMIT 1
	`).Scan(&max)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("failed to query max canonical ID: %w", err)
	}
	return max, nil
}

// Insert implements domain.CanonicalIDStore.
func (s *SQLiteStore) Insert(ctx context.Context, entry *domain.CanonicalIDEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical_id_map (hash_value, biomarker_canonical_id, core_values_str)
		VALUES (?, ?, ?)
	`, entry.HashValue, entry.CanonicalID, entry.CoreValuesStr)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("hash %s: %w", entry.HashValue, domain.ErrDuplicateHash)
		}
		return fmt.Errorf("failed to insert canonical ID entry: %w", err)
	}
	return nil
}

// All implements domain.CanonicalIDStore.
func (s *SQLiteStore) All(ctx context.Context) ([]domain.CanonicalIDEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash_value, biomarker_canonical_id, core_values_str
		FROM canonical_id_map ORDER BY biomarker_canonical_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical ID entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.CanonicalIDEntry
	for rows.Next() {
		var entry domain.CanonicalIDEntry
		if err := rows.Scan(&entry.HashValue, &entry.CanonicalID, &entry.CoreValuesStr); err != nil {
			return nil, fmt.Errorf("failed to scan canonical ID entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SecondLevel returns the second level ID map view of the store.
func (s *SQLiteStore) SecondLevel() domain.SecondLevelIDStore {
	return (*sqliteSecondLevel)(s)
}

type sqliteSecondLevel SQLiteStore

func (s *sqliteSecondLevel) Get(ctx context.Context, canonicalID string) (*domain.SecondLevelIDEntry, error) {
	var entry domain.SecondLevelIDEntry
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT biomarker_canonical_id, curr_index, existing_entries
		FROM second_level_id_map WHERE biomarker_canonical_id = ?
	`, canonicalID).Scan(&entry.CanonicalID, &entry.CurrIndex, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query second level entry: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &entry.Entries); err != nil {
		return nil, fmt.Errorf("failed to decode second level entries for %s: %w", canonicalID, err)
	}
	return &entry, nil
}

func (s *sqliteSecondLevel) Create(ctx context.Context, entry *domain.SecondLevelIDEntry) error {
	raw, err := json.Marshal(entry.Entries)
	if err != nil {
		return fmt.Errorf("failed to encode second level entries: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO second_level_id_map (biomarker_canonical_id, curr_index, existing_entries)
		VALUES (?, ?, ?)
	`, entry.CanonicalID, entry.CurrIndex, string(raw))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("canonical ID %s: %w", entry.CanonicalID, domain.ErrDuplicateHash)
		}
		return fmt.Errorf("failed to create second level entry: %w", err)
	}
	return nil
}

func (s *sqliteSecondLevel) Append(ctx context.Context, canonicalID string, newIndex int, entry domain.SecondLevelEntry) error {
	existing, err := s.Get(ctx, canonicalID)
	if err != nil {
		return err
	}
	existing.Entries = append(existing.Entries, entry)
	raw, err := json.Marshal(existing.Entries)
	if err != nil {
		return fmt.Errorf("failed to encode second level entries: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE second_level_id_map SET curr_index = ?, existing_entries = ?
		WHERE biomarker_canonical_id = ?
	`, newIndex, string(raw), canonicalID)
	if err != nil {
		return fmt.Errorf("failed to append second level entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("second level entry for %s: %w", canonicalID, domain.ErrNotFound)
	}
	return nil
}

func (s *sqliteSecondLevel) All(ctx context.Context) ([]domain.SecondLevelIDEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT biomarker_canonical_id, curr_index, existing_entries
		FROM second_level_id_map ORDER BY biomarker_canonical_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query second level entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.SecondLevelIDEntry
	for rows.Next() {
		var entry domain.SecondLevelIDEntry
		var raw string
		if err := rows.Scan(&entry.CanonicalID, &entry.CurrIndex, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan second level entry: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &entry.Entries); err != nil {
			return nil, fmt.Errorf("failed to decode second level entries for %s: %w", entry.CanonicalID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Records returns the reviewed record collection view of the store.
func (s *SQLiteStore) Records() domain.RecordStore {
	return &sqliteRecords{store: s, table: "biomarker", unique: true}
}

// Unreviewed returns the unreviewed record collection view of the store.
// Duplicate biomarker IDs are allowed there, matching the collision routing.
func (s *SQLiteStore) Unreviewed() domain.RecordStore {
	return &sqliteRecords{store: s, table: "unreviewed", unique: false}
}

type sqliteRecords struct {
	store  *SQLiteStore
	table  string
	unique bool
}

func (s *sqliteRecords) GetByBiomarkerID(ctx context.Context, biomarkerID string) (*domain.BiomarkerRecord, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE biomarker_id = ? LIMIT 1`, s.table)
	var raw string
	err := s.store.db.QueryRowContext(ctx, query, biomarkerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query record %s: %w", biomarkerID, err)
	}

	var record domain.BiomarkerRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", biomarkerID, err)
	}
	return &record, nil
}

func (s *sqliteRecords) GetByCanonicalID(ctx context.Context, canonicalID string) ([]*domain.BiomarkerRecord, error) {
	query := fmt.Sprintf(`
		SELECT record FROM %s WHERE biomarker_canonical_id = ?
		ORDER BY biomarker_id`, s.table)
	rows, err := s.store.db.QueryContext(ctx, query, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records for %s: %w", canonicalID, err)
	}
	defer rows.Close()

	var records []*domain.BiomarkerRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		var record domain.BiomarkerRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

func (s *sqliteRecords) Insert(ctx context.Context, records []*domain.BiomarkerRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (biomarker_id, biomarker_canonical_id, record)
		VALUES (?, ?, ?)`, s.table)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", record.BiomarkerID, err)
		}
		if _, err := stmt.ExecContext(ctx, record.BiomarkerID, record.CanonicalID, string(raw)); err != nil {
			if s.unique && isSQLiteUniqueViolation(err) {
				return fmt.Errorf("record %s: %w", record.BiomarkerID, domain.ErrDuplicateHash)
			}
			return fmt.Errorf("failed to insert record %s: %w", record.BiomarkerID, err)
		}
	}

	return tx.Commit()
}

func (s *sqliteRecords) Replace(ctx context.Context, record *domain.BiomarkerRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.BiomarkerID, err)
	}
	query := fmt.Sprintf(`
		UPDATE %s SET record = ?, biomarker_canonical_id = ?
		WHERE biomarker_id = ?`, s.table)
	result, err := s.store.db.ExecContext(ctx, query, string(raw), record.CanonicalID, record.BiomarkerID)
	if err != nil {
		return fmt.Errorf("failed to replace record %s: %w", record.BiomarkerID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record %s: %w", record.BiomarkerID, domain.ErrNotFound)
	}
	return nil
}

func (s *sqliteRecords) Delete(ctx context.Context, biomarkerID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE biomarker_id = ?`, s.table)
	result, err := s.store.db.ExecContext(ctx, query, biomarkerID)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", biomarkerID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record %s: %w", biomarkerID, domain.ErrNotFound)
	}
	return nil
}

// SaveStats implements domain.StatsStore.
func (s *SQLiteStore) SaveStats(ctx context.Context, stats *domain.ReleaseStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO release_stats (id, stats) VALUES ('stats', ?)
		ON CONFLICT(id) DO UPDATE SET stats = excluded.stats
	`, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

// GetStats implements domain.StatsStore.
func (s *SQLiteStore) GetStats(ctx context.Context) (*domain.ReleaseStats, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT stats FROM release_stats WHERE id = 'stats'`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	var stats domain.ReleaseStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return &stats, nil
}

// isSQLiteUniqueViolation matches the driver's constraint error text. The
// modernc driver does not export a typed error for this.
func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
