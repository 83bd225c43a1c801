package index

import (
	"database/sql"
	"encoding/json"

	"github.com/sentivane/sentivane/errors"
)

// Store handles persistence of composite index records.
type Store struct {
	db *sql.DB
}

// NewStore creates an index history store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveIndex upserts one record keyed by date. Recomputing an
// already-computed date replaces the prior record.
func (s *Store) SaveIndex(idx *CompositeIndex) error {
	components, err := json.Marshal(idx.Components)
	if err != nil {
		return errors.Wrap(err, "failed to marshal component scores")
	}
	weights, err := json.Marshal(idx.Weights)
	if err != nil {
		return errors.Wrap(err, "failed to marshal weight snapshot")
	}

	query := `
		INSERT INTO index_history (date, value, level, confidence, components, weights, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			value = excluded.value,
			level = excluded.level,
			confidence = excluded.confidence,
			components = excluded.components,
			weights = excluded.weights,
			computed_at = excluded.computed_at
	`

	_, err = s.db.Exec(query, idx.Date, idx.Value, string(idx.Level), idx.Confidence,
		string(components), string(weights), idx.ComputedAt)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return errors.Wrapf(err, "failed to save index for %s", idx.Date)
	}

	return nil
}

// GetIndex returns the record for one date, or nil if none has been computed.
func (s *Store) GetIndex(date string) (*CompositeIndex, error) {
	query := `
		SELECT date, value, level, confidence, components, weights, computed_at
		FROM index_history
		WHERE date = ?
	`
	return s.scanOne(s.db.QueryRow(query, date))
}

// GetLatestIndex returns the most recent record by date, or nil if the
// history is empty.
func (s *Store) GetLatestIndex() (*CompositeIndex, error) {
	query := `
		SELECT date, value, level, confidence, components, weights, computed_at
		FROM index_history
		ORDER BY date DESC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRow(query))
}

// GetIndexHistory returns up to n records, most recent first.
func (s *Store) GetIndexHistory(n int) ([]*CompositeIndex, error) {
	query := `
		SELECT date, value, level, confidence, components, weights, computed_at
		FROM index_history
		ORDER BY date DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, n)
	if err != nil {
		err = errors.Wrap(errors.ErrPersistence, err.Error())
		return nil, errors.Wrap(err, "failed to list index history")
	}
	defer rows.Close()

	var history []*CompositeIndex
	for rows.Next() {
		idx, err := scanIndex(rows.Scan)
		if err != nil {
			return nil, err
		}
		history = append(history, idx)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating index history")
	}

	return history, nil
}

func (s *Store) scanOne(row *sql.Row) (*CompositeIndex, error) {
	idx, err := scanIndex(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not yet computed - this is not an error
	}
	return idx, err
}

func scanIndex(scan func(dest ...interface{}) error) (*CompositeIndex, error) {
	var idx CompositeIndex
	var level, components, weights string

	if err := scan(&idx.Date, &idx.Value, &level, &idx.Confidence, &components, &weights, &idx.ComputedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan index record")
	}

	idx.Level = Level(level)
	if err := json.Unmarshal([]byte(components), &idx.Components); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal component scores for %s", idx.Date)
	}
	if err := json.Unmarshal([]byte(weights), &idx.Weights); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal weight snapshot for %s", idx.Date)
	}

	return &idx, nil
}
