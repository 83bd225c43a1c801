// Package store provides durable keyed storage for raw per-source data.
//
// A SourceRecord is one fetched datum, keyed by (source, date, entity_id).
// Records are written only by source clients via job handlers and are
// read-only to the aggregation engine. Re-collection overwrites a record
// wholesale; records are never patched in place.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sentivane/sentivane/errors"
)

// SourceRecord is one raw datum fetched from a source for a given date/entity.
type SourceRecord struct {
	Source    string          `json:"source"`
	Date      string          `json:"date"` // YYYY-MM-DD
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Store handles persistence of source records.
type Store struct {
	db *sql.DB
}

// NewStore creates a source record store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSourceRecord upserts one record. The (source, date, entity_id) key is
// overwritten wholesale on conflict.
func (s *Store) SaveSourceRecord(rec *SourceRecord) error {
	query := `
		INSERT INTO source_records (source, date, entity_id, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source, date, entity_id) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`

	_, err := s.db.Exec(query, rec.Source, rec.Date, rec.EntityID, string(rec.Payload), rec.FetchedAt)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return errors.Wrapf(err, "failed to save source record %s/%s/%s", rec.Source, rec.Date, rec.EntityID)
	}

	return nil
}

// GetSourceRecords returns all records for one source and date.
func (s *Store) GetSourceRecords(source string, date string) ([]*SourceRecord, error) {
	query := `
		SELECT source, date, entity_id, payload, fetched_at
		FROM source_records
		WHERE source = ? AND date = ?
		ORDER BY entity_id ASC
	`

	rows, err := s.db.Query(query, source, date)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return nil, errors.Wrapf(err, "failed to list source records for %s/%s", source, date)
	}
	defer rows.Close()

	var records []*SourceRecord
	for rows.Next() {
		var rec SourceRecord
		var payload string
		if err := rows.Scan(&rec.Source, &rec.Date, &rec.EntityID, &payload, &rec.FetchedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan source record")
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating source records")
	}

	return records, nil
}

// CountSourceRecords returns the number of records stored for one source and
// date. Used by handlers to report collection summaries.
func (s *Store) CountSourceRecords(source string, date string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM source_records WHERE source = ? AND date = ?`, source, date).Scan(&count)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return 0, errors.Wrapf(err, "failed to count source records for %s/%s", source, date)
	}
	return count, nil
}
