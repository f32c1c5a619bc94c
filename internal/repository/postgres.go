package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/biomarker-kb-server/internal/domain"
	"github.com/biomarker-kb-server/internal/ordinal"
)

const pgUniqueViolation = "23505"

// PostgresCanonicalIDStore is the canonical ID map over Postgres. It also
// implements domain.CanonicalIDAllocator: allocation runs in a transaction
// holding the ordinal counter row lock, so concurrent pipeline runs serialize
// instead of racing on the read-max/write-max pattern.
type PostgresCanonicalIDStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresCanonicalIDStore creates a canonical ID map store.
func NewPostgresCanonicalIDStore(db *pgxpool.Pool, logger *logrus.Logger) *PostgresCanonicalIDStore {
	return &PostgresCanonicalIDStore{db: db, log: logger}
}

// GetByHash implements domain.CanonicalIDStore.
func (s *PostgresCanonicalIDStore) GetByHash(ctx context.Context, hashValue string) (*domain.CanonicalIDEntry, error) {
	query := `
		SELECT hash_value, biomarker_canonical_id, core_values_str
		FROM canonical_id_map
		WHERE hash_value = $1`

	var entry domain.CanonicalIDEntry
	err := s.db.QueryRow(ctx, query, hashValue).Scan(&entry.HashValue, &entry.CanonicalID, &entry.CoreValuesStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting canonical ID entry by hash: %w", err)
	}
	return &entry, nil
}

// MaxCanonicalID implements domain.CanonicalIDStore.
func (s *PostgresCanonicalIDStore) MaxCanonicalID(ctx context.Context) (string, error) {
	query := `
		SELECT biomarker_canonical_id
		FROM canonical_id_map
		ORDER BY biomarker_canonical_id DESC
		LIMIT 1`

	var max string
	err := s.db.QueryRow(ctx, query).Scan(&max)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("getting max canonical ID: %w", err)
	}
	return max, nil
}

// Insert implements domain.CanonicalIDStore.
func (s *PostgresCanonicalIDStore) Insert(ctx context.Context, entry *domain.CanonicalIDEntry) error {
	query := `
		INSERT INTO canonical_id_map (hash_value, biomarker_canonical_id, core_values_str)
		VALUES ($1, $2, $3)`

	_, err := s.db.Exec(ctx, query, entry.HashValue, entry.CanonicalID, entry.CoreValuesStr)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("hash %s: %w", entry.HashValue, domain.ErrDuplicateHash)
		}
		s.log.WithFields(logrus.Fields{
			"canonical_id": entry.CanonicalID,
			"hash_value":   entry.HashValue,
			"error":        err,
		}).Error("Failed to insert canonical ID entry")
		return fmt.Errorf("inserting canonical ID entry: %w", err)
	}
	return nil
}

// AllocateNext implements domain.CanonicalIDAllocator. The ordinal_counter
// row lock serializes allocation across writers; the counter always carries
// the last allocated ID (seeded with AA0000, which is therefore never
// assigned).
func (s *PostgresCanonicalIDStore) AllocateNext(ctx context.Context, hashValue, coreValuesStr string) (string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning allocation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT current_max FROM ordinal_counter WHERE id = 1 FOR UPDATE`).Scan(&current)
	if err != nil {
		return "", fmt.Errorf("locking ordinal counter: %w", err)
	}

	newID, err := ordinal.Next(current)
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(ctx, `UPDATE ordinal_counter SET current_max = $1 WHERE id = 1`, newID); err != nil {
		return "", fmt.Errorf("advancing ordinal counter: %w", err)
	}

	insert := `
		INSERT INTO canonical_id_map (hash_value, biomarker_canonical_id, core_values_str)
		VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insert, hashValue, newID, coreValuesStr); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("hash %s: %w", hashValue, domain.ErrDuplicateHash)
		}
		return "", fmt.Errorf("inserting canonical ID entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing allocation: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"canonical_id": newID,
		"hash_value":   hashValue,
	}).Debug("Allocated canonical ID")
	return newID, nil
}

// All implements domain.CanonicalIDStore.
func (s *PostgresCanonicalIDStore) All(ctx context.Context) ([]domain.CanonicalIDEntry, error) {
	query := `
		SELECT hash_value, biomarker_canonical_id, core_values_str
		FROM canonical_id_map
		ORDER BY biomarker_canonical_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing canonical ID entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.CanonicalIDEntry
	for rows.Next() {
		var entry domain.CanonicalIDEntry
		if err := rows.Scan(&entry.HashValue, &entry.CanonicalID, &entry.CoreValuesStr); err != nil {
			return nil, fmt.Errorf("scanning canonical ID entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating canonical ID entries: %w", err)
	}
	return entries, nil
}

// PostgresSecondLevelIDStore is the second level ID map over Postgres. The
// entry list lives in a JSONB column mirroring the document layout.
type PostgresSecondLevelIDStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresSecondLevelIDStore creates a second level ID map store.
func NewPostgresSecondLevelIDStore(db *pgxpool.Pool, logger *logrus.Logger) *PostgresSecondLevelIDStore {
	return &PostgresSecondLevelIDStore{db: db, log: logger}
}

// Get implements domain.SecondLevelIDStore.
func (s *PostgresSecondLevelIDStore) Get(ctx context.Context, canonicalID string) (*domain.SecondLevelIDEntry, error) {
	query := `
		SELECT biomarker_canonical_id, curr_index, existing_entries
		FROM second_level_id_map
		WHERE biomarker_canonical_id = $1`

	var entry domain.SecondLevelIDEntry
	var raw []byte
	err := s.db.QueryRow(ctx, query, canonicalID).Scan(&entry.CanonicalID, &entry.CurrIndex, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting second level entry: %w", err)
	}
	if err := json.Unmarshal(raw, &entry.Entries); err != nil {
		return nil, fmt.Errorf("decoding second level entries for %s: %w", canonicalID, err)
	}
	return &entry, nil
}

// Create implements domain.SecondLevelIDStore.
func (s *PostgresSecondLevelIDStore) Create(ctx context.Context, entry *domain.SecondLevelIDEntry) error {
	raw, err := json.Marshal(entry.Entries)
	if err != nil {
		return fmt.Errorf("encoding second level entries: %w", err)
	}

	query := `
		INSERT INTO second_level_id_map (biomarker_canonical_id, curr_index, existing_entries)
		VALUES ($1, $2, $3)`
	if _, err := s.db.Exec(ctx, query, entry.CanonicalID, entry.CurrIndex, raw); err != nil {
		s.log.WithFields(logrus.Fields{
			"canonical_id": entry.CanonicalID,
			"error":        err,
		}).Error("Failed to create second level entry")
		return fmt.Errorf("creating second level entry: %w", err)
	}
	return nil
}

// Append implements domain.SecondLevelIDStore.
func (s *PostgresSecondLevelIDStore) Append(ctx context.Context, canonicalID string, newIndex int, entry domain.SecondLevelEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding second level entry: %w", err)
	}

	query := `
		UPDATE second_level_id_map
		SET curr_index = $2, existing_entries = existing_entries || $3::jsonb
		WHERE biomarker_canonical_id = $1`
	result, err := s.db.Exec(ctx, query, canonicalID, newIndex, raw)
	if err != nil {
		return fmt.Errorf("appending second level entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("second level entry for %s: %w", canonicalID, domain.ErrNotFound)
	}
	return nil
}

// All implements domain.SecondLevelIDStore.
func (s *PostgresSecondLevelIDStore) All(ctx context.Context) ([]domain.SecondLevelIDEntry, error) {
	query := `
		SELECT biomarker_canonical_id, curr_index, existing_entries
		FROM second_level_id_map
		ORDER BY biomarker_canonical_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing second level entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.SecondLevelIDEntry
	for rows.Next() {
		var entry domain.SecondLevelIDEntry
		var raw []byte
		if err := rows.Scan(&entry.CanonicalID, &entry.CurrIndex, &raw); err != nil {
			return nil, fmt.Errorf("scanning second level entry: %w", err)
		}
		if err := json.Unmarshal(raw, &entry.Entries); err != nil {
			return nil, fmt.Errorf("decoding second level entries for %s: %w", entry.CanonicalID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating second level entries: %w", err)
	}
	return entries, nil
}

// PostgresRecordStore persists biomarker records as JSONB documents. table
// selects between the reviewed and unreviewed collections; only the
// reviewed table enforces biomarker_id uniqueness.
type PostgresRecordStore struct {
	db    *pgxpool.Pool
	table string
	log   *logrus.Logger
}

// NewPostgresRecordStore creates a record store over the named table.
func NewPostgresRecordStore(db *pgxpool.Pool, table string, logger *logrus.Logger) *PostgresRecordStore {
	return &PostgresRecordStore{db: db, table: table, log: logger}
}

// GetByBiomarkerID implements domain.RecordStore.
func (s *PostgresRecordStore) GetByBiomarkerID(ctx context.Context, biomarkerID string) (*domain.BiomarkerRecord, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE biomarker_id = $1`, s.table)

	var raw []byte
	err := s.db.QueryRow(ctx, query, biomarkerID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting record %s: %w", biomarkerID, err)
	}

	var record domain.BiomarkerRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", biomarkerID, err)
	}
	return &record, nil
}

// GetByCanonicalID implements domain.RecordStore.
func (s *PostgresRecordStore) GetByCanonicalID(ctx context.Context, canonicalID string) ([]*domain.BiomarkerRecord, error) {
	query := fmt.Sprintf(`
		SELECT record FROM %s
		WHERE biomarker_canonical_id = $1
		ORDER BY biomarker_id`, s.table)

	rows, err := s.db.Query(ctx, query, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("listing records for %s: %w", canonicalID, err)
	}
	defer rows.Close()

	var records []*domain.BiomarkerRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		var record domain.BiomarkerRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record rows: %w", err)
	}
	return records, nil
}

// Insert implements domain.RecordStore using a single batched round trip.
func (s *PostgresRecordStore) Insert(ctx context.Context, records []*domain.BiomarkerRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := fmt.Sprintf(`
		INSERT INTO %s (biomarker_id, biomarker_canonical_id, record)
		VALUES ($1, $2, $3)`, s.table)
	for _, record := range records {
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", record.BiomarkerID, err)
		}
		batch.Queue(query, record.BiomarkerID, record.CanonicalID, raw)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("batch insert into %s: %w", s.table, domain.ErrDuplicateHash)
			}
			return fmt.Errorf("batch insert into %s: %w", s.table, err)
		}
	}
	return nil
}

// Replace implements domain.RecordStore.
func (s *PostgresRecordStore) Replace(ctx context.Context, record *domain.BiomarkerRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", record.BiomarkerID, err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET record = $2, biomarker_canonical_id = $3
		WHERE biomarker_id = $1`, s.table)
	result, err := s.db.Exec(ctx, query, record.BiomarkerID, raw, record.CanonicalID)
	if err != nil {
		return fmt.Errorf("replacing record %s: %w", record.BiomarkerID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", record.BiomarkerID, domain.ErrNotFound)
	}
	return nil
}

// Delete implements domain.RecordStore.
func (s *PostgresRecordStore) Delete(ctx context.Context, biomarkerID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE biomarker_id = $1`, s.table)
	result, err := s.db.Exec(ctx, query, biomarkerID)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", biomarkerID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("record %s: %w", biomarkerID, domain.ErrNotFound)
	}
	return nil
}

// PostgresStatsStore persists release statistics.
type PostgresStatsStore struct {
	db *pgxpool.Pool
}

// NewPostgresStatsStore creates a stats store.
func NewPostgresStatsStore(db *pgxpool.Pool) *PostgresStatsStore {
	return &PostgresStatsStore{db: db}
}

// SaveStats implements domain.StatsStore.
func (s *PostgresStatsStore) SaveStats(ctx context.Context, stats *domain.ReleaseStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}

	query := `
		INSERT INTO release_stats (id, stats) VALUES ('stats', $1)
		ON CONFLICT (id) DO UPDATE SET stats = EXCLUDED.stats`
	if _, err := s.db.Exec(ctx, query, raw); err != nil {
		return fmt.Errorf("saving stats: %w", err)
	}
	return nil
}

// GetStats implements domain.StatsStore.
func (s *PostgresStatsStore) GetStats(ctx context.Context) (*domain.ReleaseStats, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT stats FROM release_stats WHERE id = 'stats'`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting stats: %w", err)
	}

	var stats domain.ReleaseStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return &stats, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
