package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/bibflow/bibflow/internal/record"
)

// InsertOrUpdateRecord upserts one global record row inside tx.
//
// A conflict on (local_id, source_id, source_version) updates the
// payload and returns the existing row id; otherwise candidateID is
// inserted and returned. The caller compares the returned id against
// candidateID to learn whether the record was inserted or updated.
func (s *Store) InsertOrUpdateRecord(ctx context.Context, tx *sql.Tx, candidateID uuid.UUID,
	localID string, sourceID record.SourceID, sourceVersion int, payload map[string]any) (uuid.UUID, error) {

	payloadJSON, err := marshalDocument(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert record: %w", err)
	}

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO global_records (id, local_id, source_id, source_version, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (local_id, source_id, source_version) DO UPDATE SET payload = $5
		RETURNING id
	`, candidateID.String(), localID, sourceID.String(), sourceVersion, payloadJSON).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert record: %w", err)
	}
	return id, nil
}

// DeleteRecord removes one global record row inside tx. ClusterRecord
// rows referencing it go away via the foreign key cascade. Returns the
// number of rows deleted (0 or 1).
func (s *Store) DeleteRecord(ctx context.Context, tx *sql.Tx,
	localID string, sourceID record.SourceID, sourceVersion int) (int64, error) {

	res, err := tx.ExecContext(ctx, `
		DELETE FROM global_records
		WHERE local_id = $1 AND source_id = $2 AND source_version = $3
	`, localID, sourceID.String(), sourceVersion)
	if err != nil {
		return 0, fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete record: rows affected: %w", err)
	}
	return n, nil
}

// DeleteRecordsBySource removes all global records for a source inside
// tx. sourceVersion 0 means all versions. Returns rows deleted.
func (s *Store) DeleteRecordsBySource(ctx context.Context, tx *sql.Tx,
	sourceID record.SourceID, sourceVersion int) (int64, error) {

	var (
		res sql.Result
		err error
	)
	if sourceVersion > 0 {
		res, err = tx.ExecContext(ctx, `
			DELETE FROM global_records WHERE source_id = $1 AND source_version = $2
		`, sourceID.String(), sourceVersion)
	} else {
		res, err = tx.ExecContext(ctx, `
			DELETE FROM global_records WHERE source_id = $1
		`, sourceID.String())
	}
	if err != nil {
		return 0, fmt.Errorf("delete records by source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete records by source: rows affected: %w", err)
	}
	return n, nil
}

// SelectRecord retrieves a single global record by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) SelectRecord(ctx context.Context, id uuid.UUID) (record.GlobalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, local_id, source_id, source_version, payload
		FROM global_records
		WHERE id = $1
	`, id.String())
	return scanGlobalRecord(row.Scan)
}

// SelectRecordByKey retrieves a single global record by its natural
// key. Returns sql.ErrNoRows if not found.
func (s *Store) SelectRecordByKey(ctx context.Context,
	localID string, sourceID record.SourceID, sourceVersion int) (record.GlobalRecord, error) {

	row := s.db.QueryRowContext(ctx, `
		SELECT id, local_id, source_id, source_version, payload
		FROM global_records
		WHERE local_id = $1 AND source_id = $2 AND source_version = $3
	`, localID, sourceID.String(), sourceVersion)
	return scanGlobalRecord(row.Scan)
}

// RecordPage returns up to limit global records with id greater than
// afterID, ordered by id. Used for keyset iteration over the whole
// record table: the page is fully materialized before the caller
// issues any writes, so the single-connection SQLite pool never
// deadlocks on an open cursor.
func (s *Store) RecordPage(ctx context.Context, afterID string, limit int) ([]record.GlobalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, local_id, source_id, source_version, payload
		FROM global_records
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query record page: %w", err)
	}
	defer rows.Close()

	var page []record.GlobalRecord
	for rows.Next() {
		rec, err := scanGlobalRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record page: %w", err)
	}
	return page, nil
}

func scanGlobalRecord(scan func(dest ...any) error) (record.GlobalRecord, error) {
	var (
		rec     record.GlobalRecord
		idStr   string
		srcStr  string
		payload sql.NullString
	)
	if err := scan(&idStr, &rec.LocalID, &srcStr, &rec.SourceVersion, &payload); err != nil {
		return record.GlobalRecord{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return record.GlobalRecord{}, fmt.Errorf("scan record: invalid id %q: %w", idStr, err)
	}
	rec.ID = id
	rec.SourceID = record.SourceID(srcStr)
	rec.Payload, err = unmarshalDocument(payload)
	if err != nil {
		return record.GlobalRecord{}, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}
