// Package store provides SQL-backed durable storage for global records
// and their match-key clusters.
//
// The schema holds:
//   - Global Records: one row per ingested record, unique on
//     (local_id, source_id, source_version)
//   - Match Key Configs: the configured key extractors
//   - Cluster Meta: one row per cluster with its change datestamp
//   - Cluster Records: record membership per configuration
//   - Cluster Values: match values owned by a cluster, unique per
//     configuration
//
// # Critical Patterns
//
// CP-1: Value-Level Uniqueness
//   - UNIQUE(match_key_config_id, match_value) constraint
//   - Concurrent writers racing on the same value get a unique
//     violation; the engine retries the whole transaction
//
// CP-2: Portable SQL
//   - Every statement uses $N placeholders, ON CONFLICT upserts and
//     IF NOT EXISTS DDL, valid on both PostgreSQL and SQLite 3.35+
//   - "update" is quoted everywhere, it is a reserved word on PostgreSQL
//
// CP-3: No Open Cursors Across Writes
//   - SQLite runs on a single-connection pool; reads that interleave
//     with writes use keyset pagination (RecordPage, ClusterPage)
//     instead of holding a cursor
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce the cascades the engine relies on
package store
