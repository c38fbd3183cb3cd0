package ingest

import (
	"fmt"
	"sync/atomic"
)

// Stats counts the outcomes of one ingest run. Safe for concurrent
// updates from sink handlers.
type Stats struct {
	processed atomic.Int64
	ignored   atomic.Int64
	inserted  atomic.Int64
	updated   atomic.Int64
	deleted   atomic.Int64
}

func (s *Stats) Processed() int64 { return s.processed.Load() }
func (s *Stats) Ignored() int64   { return s.ignored.Load() }
func (s *Stats) Inserted() int64  { return s.inserted.Load() }
func (s *Stats) Updated() int64   { return s.updated.Load() }
func (s *Stats) Deleted() int64   { return s.deleted.Load() }

func (s *Stats) String() string {
	return fmt.Sprintf("processed %d, ignored %d, inserted %d, updated %d, deleted %d",
		s.Processed(), s.Ignored(), s.Inserted(), s.Updated(), s.Deleted())
}
