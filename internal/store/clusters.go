package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValueLookup is the result of probing the cluster_values table with a
// set of candidate match values.
type ValueLookup struct {
	// Clusters holds the distinct clusters that already own at least
	// one of the candidate values, in first-seen order.
	Clusters []uuid.UUID
	// FoundValues holds the candidate values that are already present.
	FoundValues map[string]bool
}

// LookupClusterValues finds which existing clusters (for one match-key
// configuration) already own any of the candidate values. This is the
// index lookup that decides between creating a cluster, joining one, or
// merging several.
func (s *Store) LookupClusterValues(ctx context.Context, tx *sql.Tx,
	configID string, values []string) (ValueLookup, error) {

	lookup := ValueLookup{FoundValues: make(map[string]bool, len(values))}
	if len(values) == 0 {
		return lookup, nil
	}

	var q strings.Builder
	q.WriteString("SELECT cluster_id, match_value FROM cluster_values WHERE match_key_config_id = $1 AND (")
	args := make([]any, 0, len(values)+1)
	args = append(args, configID)
	for i, v := range values {
		if i > 0 {
			q.WriteString(" OR ")
		}
		fmt.Fprintf(&q, "match_value = $%d", i+2)
		args = append(args, v)
	}
	q.WriteString(")")

	rows, err := tx.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return ValueLookup{}, fmt.Errorf("lookup cluster values: %w", err)
	}
	defer rows.Close()

	seen := make(map[uuid.UUID]bool)
	for rows.Next() {
		var (
			clusterID  uuid.UUID
			matchValue string
		)
		if err := rows.Scan(&clusterID, &matchValue); err != nil {
			return ValueLookup{}, fmt.Errorf("lookup cluster values: scan: %w", err)
		}
		lookup.FoundValues[matchValue] = true
		if !seen[clusterID] {
			seen[clusterID] = true
			lookup.Clusters = append(lookup.Clusters, clusterID)
		}
	}
	if err := rows.Err(); err != nil {
		return ValueLookup{}, fmt.Errorf("lookup cluster values: iterate: %w", err)
	}
	return lookup, nil
}

// InsertClusterValues attaches match values to a cluster. Values
// already present for the configuration must be filtered out by the
// caller; inserting a value owned by another cluster violates the
// unique index and surfaces as a retryable conflict.
func (s *Store) InsertClusterValues(ctx context.Context, tx *sql.Tx,
	clusterID uuid.UUID, configID string, values []string) error {

	if len(values) == 0 {
		return nil
	}
	var q strings.Builder
	q.WriteString("INSERT INTO cluster_values (cluster_id, match_key_config_id, match_value) VALUES")
	args := make([]any, 0, len(values)+2)
	args = append(args, clusterID.String(), configID)
	for i := range values {
		if i > 0 {
			q.WriteString(",")
		}
		fmt.Fprintf(&q, " ($1, $2, $%d)", i+3)
		args = append(args, values[i])
	}
	if _, err := tx.ExecContext(ctx, q.String(), args...); err != nil {
		return fmt.Errorf("insert cluster values: %w", err)
	}
	return nil
}

// InsertClusterMeta creates the meta row for a brand-new cluster.
func (s *Store) InsertClusterMeta(ctx context.Context, tx *sql.Tx,
	clusterID uuid.UUID, configID string, now time.Time) error {

	_, err := tx.ExecContext(ctx, `
		INSERT INTO cluster_meta (cluster_id, datestamp, match_key_config_id)
		VALUES ($1, $2, $3)
	`, clusterID.String(), now, configID)
	if err != nil {
		return fmt.Errorf("insert cluster meta: %w", err)
	}
	return nil
}

// TouchClusterMeta bumps the datestamp of every listed cluster in one
// statement. Incremental-change consumers observe the membership
// change through this.
func (s *Store) TouchClusterMeta(ctx context.Context, tx *sql.Tx,
	clusterIDs []uuid.UUID, now time.Time) error {

	if len(clusterIDs) == 0 {
		return nil
	}
	var q strings.Builder
	q.WriteString("UPDATE cluster_meta SET datestamp = $1 WHERE ")
	args := make([]any, 0, len(clusterIDs)+1)
	args = append(args, now)
	for i, id := range clusterIDs {
		if i > 0 {
			q.WriteString(" OR ")
		}
		fmt.Fprintf(&q, "cluster_id = $%d", i+2)
		args = append(args, id.String())
	}
	if _, err := tx.ExecContext(ctx, q.String(), args...); err != nil {
		return fmt.Errorf("touch cluster meta: %w", err)
	}
	return nil
}

// ReassignClusters moves every cluster_values and cluster_records row
// owned by one of the loser clusters to the winner, one batched UPDATE
// per table. Meta rows of the losers stay behind: cluster ids are
// never reused, so nothing will reference them again.
func (s *Store) ReassignClusters(ctx context.Context, tx *sql.Tx,
	winner uuid.UUID, losers []uuid.UUID) error {

	if len(losers) == 0 {
		return nil
	}
	var where strings.Builder
	args := make([]any, 0, len(losers)+1)
	args = append(args, winner.String())
	for i, id := range losers {
		if i > 0 {
			where.WriteString(" OR ")
		}
		fmt.Fprintf(&where, "cluster_id = $%d", i+2)
		args = append(args, id.String())
	}
	setClause := " SET cluster_id = $1 WHERE " + where.String()

	if _, err := tx.ExecContext(ctx, "UPDATE cluster_values"+setClause, args...); err != nil {
		return fmt.Errorf("reassign cluster values: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE cluster_records"+setClause, args...); err != nil {
		return fmt.Errorf("reassign cluster records: %w", err)
	}
	return nil
}

// UpsertClusterRecord records a cluster assignment for (record,
// configuration). The assignment for a record can change over time, so
// a conflict overwrites the cluster id.
func (s *Store) UpsertClusterRecord(ctx context.Context, tx *sql.Tx,
	recordID uuid.UUID, configID string, clusterID uuid.UUID) error {

	_, err := tx.ExecContext(ctx, `
		INSERT INTO cluster_records (record_id, match_key_config_id, cluster_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (record_id, match_key_config_id) DO UPDATE SET cluster_id = $3
	`, recordID.String(), configID, clusterID.String())
	if err != nil {
		return fmt.Errorf("upsert cluster record: %w", err)
	}
	return nil
}

// TouchClustersForRecord bumps the datestamp of every cluster the
// given record belongs to, across all configurations. Used on logical
// delete, before the record row (and its memberships) go away.
func (s *Store) TouchClustersForRecord(ctx context.Context, tx *sql.Tx,
	localID string, sourceID string, sourceVersion int, now time.Time) (int64, error) {

	res, err := tx.ExecContext(ctx, `
		UPDATE cluster_meta SET datestamp = $1
		WHERE cluster_id IN (
			SELECT r.cluster_id
			FROM cluster_records r
			JOIN global_records g ON r.record_id = g.id
			WHERE g.local_id = $2 AND g.source_id = $3 AND g.source_version = $4
		)
	`, now, localID, sourceID, sourceVersion)
	if err != nil {
		return 0, fmt.Errorf("touch clusters for record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("touch clusters for record: rows affected: %w", err)
	}
	return n, nil
}

// TouchClustersForSourceDelete bumps the datestamp of clusters about
// to lose records in a source-scoped bulk delete. With sourceVersion 0
// every cluster holding a record of the source is touched. With a
// specific version, a cluster is only touched when it holds no records
// of the source under any other version: those clusters were already
// stamped when the other version was ingested.
func (s *Store) TouchClustersForSourceDelete(ctx context.Context, tx *sql.Tx,
	sourceID string, sourceVersion int, now time.Time) (int64, error) {

	var (
		res sql.Result
		err error
	)
	if sourceVersion > 0 {
		res, err = tx.ExecContext(ctx, `
			UPDATE cluster_meta SET datestamp = $1
			WHERE cluster_id IN (
				SELECT r.cluster_id
				FROM cluster_records r
				JOIN global_records g ON r.record_id = g.id
				WHERE g.source_id = $2 AND g.source_version = $3
			)
			AND NOT EXISTS (
				SELECT 1
				FROM cluster_records r2
				JOIN global_records g2 ON r2.record_id = g2.id
				WHERE r2.cluster_id = cluster_meta.cluster_id
				AND g2.source_id = $2 AND g2.source_version != $3
			)
		`, now, sourceID, sourceVersion)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE cluster_meta SET datestamp = $1
			WHERE cluster_id IN (
				SELECT r.cluster_id
				FROM cluster_records r
				JOIN global_records g ON r.record_id = g.id
				WHERE g.source_id = $2
			)
		`, now, sourceID)
	}
	if err != nil {
		return 0, fmt.Errorf("touch clusters for source delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("touch clusters for source delete: rows affected: %w", err)
	}
	return n, nil
}

// TouchClustersBySource bumps the datestamp of every cluster of one
// configuration that contains at least one record from the source.
// Used by the administrative bulk touch to force re-export without
// recomputation. Returns the number of meta rows updated.
func (s *Store) TouchClustersBySource(ctx context.Context,
	configID string, sourceID string, now time.Time) (int64, error) {

	res, err := s.db.ExecContext(ctx, `
		UPDATE cluster_meta SET datestamp = $1
		WHERE match_key_config_id = $2
		AND cluster_id IN (
			SELECT r.cluster_id
			FROM cluster_records r
			JOIN global_records g ON r.record_id = g.id
			WHERE g.source_id = $3
		)
	`, now, configID, sourceID)
	if err != nil {
		return 0, fmt.Errorf("touch clusters by source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("touch clusters by source: rows affected: %w", err)
	}
	return n, nil
}

// PurgeClusters drops every cluster row of one configuration across
// all three cluster tables. Used before a from-scratch recompute.
func (s *Store) PurgeClusters(ctx context.Context, tx *sql.Tx, configID string) error {
	for _, table := range []string{"cluster_values", "cluster_records", "cluster_meta"} {
		q := fmt.Sprintf("DELETE FROM %s WHERE match_key_config_id = $1", table)
		if _, err := tx.ExecContext(ctx, q, configID); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}

// ClusterMeta is one row of the cluster_meta table.
type ClusterMeta struct {
	ClusterID uuid.UUID
	ConfigID  string
	Datestamp time.Time
}

// SelectClusterMeta retrieves the meta row for a cluster.
// Returns sql.ErrNoRows if not found.
func (s *Store) SelectClusterMeta(ctx context.Context, clusterID uuid.UUID) (ClusterMeta, error) {
	var meta ClusterMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT cluster_id, match_key_config_id, datestamp
		FROM cluster_meta
		WHERE cluster_id = $1
	`, clusterID.String()).Scan(&meta.ClusterID, &meta.ConfigID, &meta.Datestamp)
	if err != nil {
		return ClusterMeta{}, err
	}
	return meta, nil
}

// ClusterMembers returns the global records belonging to a cluster.
func (s *Store) ClusterMembers(ctx context.Context, clusterID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id FROM cluster_records WHERE cluster_id = $1
	`, clusterID.String())
	if err != nil {
		return nil, fmt.Errorf("query cluster members: %w", err)
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cluster member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster members: %w", err)
	}
	return members, nil
}

// ClusterValuesOf returns the match values owned by a cluster.
func (s *Store) ClusterValuesOf(ctx context.Context, clusterID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_value FROM cluster_values WHERE cluster_id = $1 ORDER BY match_value
	`, clusterID.String())
	if err != nil {
		return nil, fmt.Errorf("query cluster values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan cluster value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster values: %w", err)
	}
	return values, nil
}

// ClusterPage returns up to limit cluster meta rows for a
// configuration with cluster_id greater than afterID, ordered by
// cluster_id. Keyset iteration for the export stream.
func (s *Store) ClusterPage(ctx context.Context, configID string,
	afterID string, limit int) ([]ClusterMeta, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, match_key_config_id, datestamp
		FROM cluster_meta
		WHERE match_key_config_id = $1 AND cluster_id > $2
		ORDER BY cluster_id
		LIMIT $3
	`, configID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query cluster page: %w", err)
	}
	defer rows.Close()

	var page []ClusterMeta
	for rows.Next() {
		var meta ClusterMeta
		if err := rows.Scan(&meta.ClusterID, &meta.ConfigID, &meta.Datestamp); err != nil {
			return nil, fmt.Errorf("scan cluster page: %w", err)
		}
		page = append(page, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster page: %w", err)
	}
	return page, nil
}

// StatsRow is one row of the membership/value join consumed by the
// statistics aggregation. MatchValue is NULL for clusters that have
// records but no values.
type StatsRow struct {
	ClusterID  uuid.UUID
	RecordID   uuid.UUID
	MatchValue sql.NullString
}

// ForEachStatsRow streams the cluster_records x cluster_values join
// for one configuration, ordered by cluster id, to fn. The query is
// read-only, so holding the cursor open is safe even on the
// single-connection SQLite pool as long as fn does not write.
func (s *Store) ForEachStatsRow(ctx context.Context, configID string, fn func(StatsRow) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_records.cluster_id, cluster_records.record_id, cluster_values.match_value
		FROM cluster_records
		LEFT JOIN cluster_values ON cluster_values.cluster_id = cluster_records.cluster_id
		WHERE cluster_records.match_key_config_id = $1
		ORDER BY cluster_records.cluster_id
	`, configID)
	if err != nil {
		return fmt.Errorf("query stats rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sr StatsRow
		if err := rows.Scan(&sr.ClusterID, &sr.RecordID, &sr.MatchValue); err != nil {
			return fmt.Errorf("scan stats row: %w", err)
		}
		if err := fn(sr); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate stats rows: %w", err)
	}
	return nil
}
