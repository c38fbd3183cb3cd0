package cluster

import (
	"context"

	"github.com/google/uuid"

	"github.com/bibflow/bibflow/internal/matcher"
)

// recomputePageSize is how many records are materialized per keyset
// page during a recompute. Pages are read fully before any write so
// reads and writes never interleave on one connection.
const recomputePageSize = 50

// Recompute re-derives the cluster tables of one match-key
// configuration from the stored records. With reset the existing
// clusters of the configuration are dropped first; without it the keys
// are re-applied on top of the current state, which only ever merges
// clusters further.
//
// Returns the number of records processed.
func (e *Engine) Recompute(ctx context.Context, m *matcher.Matcher, reset bool) (int, error) {
	if reset {
		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			return 0, err
		}
		if err := e.store.PurgeClusters(ctx, tx, m.ConfigID); err != nil {
			tx.Rollback()
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}

	processed := 0
	after := uuid.Nil.String()
	for {
		page, err := e.store.RecordPage(ctx, after, recomputePageSize)
		if err != nil {
			return processed, err
		}
		if len(page) == 0 {
			break
		}

		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			return processed, err
		}
		for _, rec := range page {
			result, err := m.Run(ctx, rec.Payload)
			if err != nil {
				tx.Rollback()
				return processed, &Error{Code: ErrCodeConfig, Message: err.Error(), LocalID: rec.LocalID, Err: err}
			}
			if err := e.updateClusterForRecord(ctx, tx, rec.ID, result); err != nil {
				tx.Rollback()
				return processed, err
			}
			processed++
		}
		if err := tx.Commit(); err != nil {
			return processed, err
		}

		after = page[len(page)-1].ID.String()
		e.logger.Debug("recompute progress", "matchkey", m.ConfigID, "processed", processed)
	}

	e.logger.Info("recompute finished", "matchkey", m.ConfigID, "records", processed)
	return processed, nil
}
