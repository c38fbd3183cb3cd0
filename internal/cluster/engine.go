// Package cluster implements incremental clustering of global records
// by configured match keys. Records sharing at least one match value
// under a configuration belong to the same cluster; clusters converge
// by merging whenever a new record bridges several of them.
package cluster

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bibflow/bibflow/internal/matcher"
	"github.com/bibflow/bibflow/internal/record"
	"github.com/bibflow/bibflow/internal/store"
)

// Outcome reports what an ingest operation did to a record.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeDeleted  Outcome = "deleted"
)

// Engine applies ingested records to the store and keeps the cluster
// tables consistent.
//
// Thread-safety model:
//   - All methods are safe from any goroutine; every operation runs in
//     its own transaction
//   - Concurrent upserts racing to claim the same new match value are
//     resolved by a bounded retry on unique violations
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the datestamp source. Used by tests that need
// deterministic datestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine on top of s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest applies one incoming record under the given source. A record
// flagged for deletion is removed; anything else is upserted and
// clustered with matchers.
func (e *Engine) Ingest(ctx context.Context, sourceID record.SourceID, sourceVersion int,
	rec record.IngestRecord, matchers []*matcher.Matcher) (Outcome, error) {

	if rec.LocalID == "" {
		return "", NewValidationError("", "ingest record must include 'localId'")
	}
	if !rec.Delete && rec.Payload == nil {
		return "", NewValidationError(rec.LocalID, "ingest record must include 'payload'")
	}
	if rec.Delete {
		if err := e.Delete(ctx, sourceID, sourceVersion, rec.LocalID); err != nil {
			return "", err
		}
		return OutcomeDeleted, nil
	}
	return e.Upsert(ctx, sourceID, sourceVersion, rec.LocalID, rec.Payload, matchers)
}

// Upsert stores one record and updates its clusters under every
// matcher. The whole operation runs in one transaction.
//
// Two upserts racing to claim the same new match value both pass the
// lookup and one loses on the unique value index. The transaction is
// retried once per matcher result; the retry finds the value the
// winner inserted and joins its cluster instead.
func (e *Engine) Upsert(ctx context.Context, sourceID record.SourceID, sourceVersion int,
	localID string, payload map[string]any, matchers []*matcher.Matcher) (Outcome, error) {

	results := make([]record.MatcherResult, 0, len(matchers))
	for _, m := range matchers {
		result, err := m.Run(ctx, payload)
		if err != nil {
			return "", &Error{Code: ErrCodeConfig, Message: err.Error(), LocalID: localID, Err: err}
		}
		results = append(results, result)
	}

	attempts := len(results) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		outcome, err := e.upsertOnce(ctx, sourceID, sourceVersion, localID, payload, results)
		if err == nil {
			return outcome, nil
		}
		if !store.IsUniqueViolation(err) {
			return "", fmt.Errorf("upsert %s: %w", localID, err)
		}
		lastErr = err
		e.logger.Debug("retrying upsert after value conflict",
			"localId", localID, "sourceId", sourceID, "attempt", attempt+1)
	}
	return "", NewConflictError(localID, attempts, lastErr)
}

func (e *Engine) upsertOnce(ctx context.Context, sourceID record.SourceID, sourceVersion int,
	localID string, payload map[string]any, results []record.MatcherResult) (Outcome, error) {

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	candidate := uuid.New()
	id, err := e.store.InsertOrUpdateRecord(ctx, tx, candidate, localID, sourceID, sourceVersion, payload)
	if err != nil {
		return "", err
	}

	for _, result := range results {
		if err := e.updateClusterForRecord(ctx, tx, id, result); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	if id == candidate {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

// updateClusterForRecord places one record into a cluster under one
// match-key configuration:
//
//   - no existing cluster owns any of the record's values: a new
//     cluster is created and claims all of them
//   - exactly one does: the record joins it and contributes the
//     missing values
//   - several do: the record bridges them and they merge into the
//     first one found
//
// A record that produced no keys gets a fresh single-record cluster.
func (e *Engine) updateClusterForRecord(ctx context.Context, tx *sql.Tx, recordID uuid.UUID,
	result record.MatcherResult) error {

	newClusterID := uuid.New()

	lookup, err := e.store.LookupClusterValues(ctx, tx, result.ConfigID, result.Keys)
	if err != nil {
		return err
	}

	var clusterID uuid.UUID
	if len(lookup.Clusters) == 0 {
		clusterID = newClusterID
	} else {
		clusterID = lookup.Clusters[0]
	}

	missing := make([]string, 0, len(result.Keys))
	for _, key := range result.Keys {
		if !lookup.FoundValues[key] {
			missing = append(missing, key)
		}
	}
	if err := e.store.InsertClusterValues(ctx, tx, clusterID, result.ConfigID, missing); err != nil {
		return err
	}

	if len(lookup.Clusters) == 0 {
		if err := e.store.InsertClusterMeta(ctx, tx, clusterID, result.ConfigID, e.now()); err != nil {
			return err
		}
	} else {
		if err := e.store.TouchClusterMeta(ctx, tx, lookup.Clusters, e.now()); err != nil {
			return err
		}
		if losers := lookup.Clusters[1:]; len(losers) > 0 {
			if err := e.store.ReassignClusters(ctx, tx, clusterID, losers); err != nil {
				return err
			}
			e.logger.Info("merged clusters",
				"matchkey", result.ConfigID, "winner", clusterID, "merged", len(losers))
		}
	}

	return e.store.UpsertClusterRecord(ctx, tx, recordID, result.ConfigID, clusterID)
}

// Delete removes one record. The clusters it belonged to are stamped
// first so incremental consumers see them change, then the record row
// goes away and the membership rows follow by cascade.
func (e *Engine) Delete(ctx context.Context, sourceID record.SourceID, sourceVersion int,
	localID string) error {

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.store.TouchClustersForRecord(ctx, tx, localID, sourceID.String(), sourceVersion, e.now()); err != nil {
		return err
	}
	n, err := e.store.DeleteRecord(ctx, tx, localID, sourceID, sourceVersion)
	if err != nil {
		return err
	}
	if n == 0 {
		return NewNotFoundError(fmt.Sprintf("record %s not found for source %s", localID, sourceID))
	}
	return tx.Commit()
}

// DeleteBySource removes every record of a source, or of one version
// of a source when sourceVersion is positive. Clusters losing records
// are stamped, except those that keep records of the source under a
// different version: those were already stamped when that version
// arrived. Returns the number of records deleted.
func (e *Engine) DeleteBySource(ctx context.Context, sourceID record.SourceID, sourceVersion int) (int64, error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := e.store.TouchClustersForSourceDelete(ctx, tx, sourceID.String(), sourceVersion, e.now()); err != nil {
		return 0, err
	}
	n, err := e.store.DeleteRecordsBySource(ctx, tx, sourceID, sourceVersion)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.logger.Info("deleted records by source",
		"sourceId", sourceID, "sourceVersion", sourceVersion, "records", n)
	return n, nil
}

// TouchClusters stamps every cluster of one configuration that holds
// at least one record of the source, forcing incremental consumers to
// re-export them. Both identifiers are required; stamping a whole
// configuration or a whole source would invalidate far too much.
func (e *Engine) TouchClusters(ctx context.Context, configID string, sourceID record.SourceID) (int64, error) {
	if configID == "" || sourceID == "" {
		return 0, NewValidationError("", "touch too broad, requires both 'matchkeyId' and 'sourceId'")
	}
	if _, err := e.store.SelectMatchKeyConfig(ctx, configID); err != nil {
		return 0, NewNotFoundError(fmt.Sprintf("match key config %s not found", configID))
	}
	return e.store.TouchClustersBySource(ctx, configID, sourceID.String(), e.now())
}

// Cluster is one cluster with its members and owned values resolved.
type Cluster struct {
	Meta    store.ClusterMeta
	Records []record.GlobalRecord
	Values  []string
}

// GetCluster resolves one cluster by id.
func (e *Engine) GetCluster(ctx context.Context, clusterID uuid.UUID) (Cluster, error) {
	meta, err := e.store.SelectClusterMeta(ctx, clusterID)
	if err != nil {
		return Cluster{}, NewNotFoundError(fmt.Sprintf("cluster %s not found", clusterID))
	}
	members, err := e.store.ClusterMembers(ctx, clusterID)
	if err != nil {
		return Cluster{}, err
	}
	records := make([]record.GlobalRecord, 0, len(members))
	for _, id := range members {
		rec, err := e.store.SelectRecord(ctx, id)
		if err != nil {
			return Cluster{}, err
		}
		records = append(records, rec)
	}
	values, err := e.store.ClusterValuesOf(ctx, clusterID)
	if err != nil {
		return Cluster{}, err
	}
	return Cluster{Meta: meta, Records: records, Values: values}, nil
}
