package cluster

import (
	"context"

	"github.com/google/uuid"

	"github.com/bibflow/bibflow/internal/store"
)

// maxClusterSamples bounds how many example cluster ids are reported
// per records-per-cluster bucket.
const maxClusterSamples = 3

// Stats summarizes the cluster population of one match-key
// configuration. The histogram maps are keyed by bucket size: a
// RecordsPerCluster entry {3: 7} means seven clusters hold three
// records each.
type Stats struct {
	RecordsTotal            int              `json:"recordsTotal"`
	ClustersTotal           int              `json:"clustersTotal"`
	MatchValuesPerCluster   map[int]int      `json:"matchValuesPerCluster"`
	RecordsPerCluster       map[int]int      `json:"recordsPerCluster"`
	RecordsPerClusterSample map[int][]string `json:"recordsPerClusterSample"`
}

// statsTrack accumulates the per-cluster sets while streaming the
// membership/value join, which arrives ordered by cluster id.
type statsTrack struct {
	clusterID uuid.UUID
	started   bool
	values    map[string]bool
	recordIDs map[uuid.UUID]bool
	stats     Stats
}

func newStatsTrack() *statsTrack {
	return &statsTrack{
		values:    make(map[string]bool),
		recordIDs: make(map[uuid.UUID]bool),
		stats: Stats{
			MatchValuesPerCluster:   make(map[int]int),
			RecordsPerCluster:       make(map[int]int),
			RecordsPerClusterSample: make(map[int][]string),
		},
	}
}

// closeCluster folds the finished cluster's sets into the histograms.
func (st *statsTrack) closeCluster() {
	if !st.started {
		return
	}
	st.stats.MatchValuesPerCluster[len(st.values)]++
	size := len(st.recordIDs)
	st.stats.RecordsPerCluster[size]++
	if samples := st.stats.RecordsPerClusterSample[size]; len(samples) < maxClusterSamples {
		st.stats.RecordsPerClusterSample[size] = append(samples, st.clusterID.String())
	}
}

func (st *statsTrack) add(row store.StatsRow) {
	if !st.started || row.ClusterID != st.clusterID {
		st.closeCluster()
		st.stats.ClustersTotal++
		st.values = make(map[string]bool)
		st.recordIDs = make(map[uuid.UUID]bool)
		st.clusterID = row.ClusterID
		st.started = true
	}
	if row.MatchValue.Valid {
		st.values[row.MatchValue.String] = true
	}
	st.recordIDs[row.RecordID] = true
}

func (st *statsTrack) finish() Stats {
	st.closeCluster()
	for size, count := range st.stats.RecordsPerCluster {
		st.stats.RecordsTotal += size * count
	}
	return st.stats
}

// MatchKeyStats computes the cluster statistics of one configuration
// by streaming the membership/value join. Read-only, so the open
// cursor is safe on the single-connection SQLite pool.
func (e *Engine) MatchKeyStats(ctx context.Context, configID string) (Stats, error) {
	if _, err := e.store.SelectMatchKeyConfig(ctx, configID); err != nil {
		return Stats{}, NewNotFoundError("match key config " + configID + " not found")
	}

	st := newStatsTrack()
	err := e.store.ForEachStatsRow(ctx, configID, func(row store.StatsRow) error {
		st.add(row)
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st.finish(), nil
}
