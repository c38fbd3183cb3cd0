package ingest

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/bibflow/bibflow/internal/cluster"
	"github.com/bibflow/bibflow/internal/matcher"
	"github.com/bibflow/bibflow/internal/record"
)

// Pipeline drives a stream of parsed record objects into the cluster
// engine through a flow-controlled sink.
type Pipeline struct {
	engine        *cluster.Engine
	matchers      []*matcher.Matcher
	sourceID      record.SourceID
	sourceVersion int
	localIDPath   *matcher.JSONPath
	watermark     int
	logger        *slog.Logger
	stats         Stats
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLocalIDPath sets a jsonpath expression used to extract the local
// identifier from the payload of records that carry none themselves.
func WithLocalIDPath(path *matcher.JSONPath) PipelineOption {
	return func(p *Pipeline) {
		p.localIDPath = path
	}
}

// WithWatermark bounds the number of in-flight record operations.
func WithWatermark(n int) PipelineOption {
	return func(p *Pipeline) {
		p.watermark = n
	}
}

// WithPipelineLogger sets the structured logger. Defaults to
// slog.Default().
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline creates a pipeline ingesting under the given source for
// the given matchers.
func NewPipeline(engine *cluster.Engine, matchers []*matcher.Matcher,
	sourceID record.SourceID, sourceVersion int, opts ...PipelineOption) *Pipeline {

	p := &Pipeline{
		engine:        engine,
		matchers:      matchers,
		sourceID:      sourceID,
		sourceVersion: sourceVersion,
		watermark:     DefaultHighWatermark,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats returns the pipeline's counters. Final once Consume has
// returned.
func (p *Pipeline) Stats() *Stats {
	return &p.stats
}

// Consume drains the record sequence into the engine. The sequence
// yields parsed records or a parse error; a parse error stops
// consumption. Record-level ingest failures latch: the remaining
// records drain through without effect and the first failure is
// returned, so one bad record fails the batch exactly once.
//
// Records without a local identifier (direct or extracted) and upsert
// records without a payload are counted as ignored and skipped.
func (p *Pipeline) Consume(ctx context.Context, records iter.Seq2[record.IngestRecord, error]) error {
	sink := NewSink(p.handle, WithHighWatermark[record.IngestRecord](p.watermark))

	var parseErr error
	for rec, err := range records {
		if err != nil {
			parseErr = fmt.Errorf("parse record: %w", err)
			break
		}
		rec, ok := p.resolveLocalID(rec)
		n := p.stats.processed.Add(1)
		p.logRecord(rec, n)
		if !ok {
			p.stats.ignored.Add(1)
			continue
		}
		if !rec.Delete && rec.Payload == nil {
			p.stats.ignored.Add(1)
			p.logger.Warn("missing payload", "sourceId", p.sourceID, "localId", rec.LocalID, "processed", n)
			continue
		}
		if _, err := sink.Write(ctx, rec); err != nil {
			parseErr = err
			break
		}
	}

	err := sink.Close()
	p.logger.Info("ingest finished",
		"sourceId", p.sourceID, "sourceVersion", p.sourceVersion, "stats", p.stats.String())
	if parseErr != nil {
		return parseErr
	}
	return err
}

// handle ingests one record. Runs on a sink goroutine.
func (p *Pipeline) handle(ctx context.Context, rec record.IngestRecord) error {
	outcome, err := p.engine.Ingest(ctx, p.sourceID, p.sourceVersion, rec, p.matchers)
	if err != nil {
		// Delete feeds reference records this instance never saw.
		// Removing an absent record is a no-op, not a batch failure.
		if rec.Delete && cluster.IsNotFoundError(err) {
			p.stats.deleted.Add(1)
			return nil
		}
		return err
	}
	switch outcome {
	case cluster.OutcomeInserted:
		p.stats.inserted.Add(1)
	case cluster.OutcomeUpdated:
		p.stats.updated.Add(1)
	case cluster.OutcomeDeleted:
		p.stats.deleted.Add(1)
	}
	return nil
}

// resolveLocalID fills in the record's local identifier from the
// configured payload path when it is not set directly. The second
// result is false when no identifier could be found.
func (p *Pipeline) resolveLocalID(rec record.IngestRecord) (record.IngestRecord, bool) {
	if rec.LocalID != "" {
		return rec, true
	}
	if p.localIDPath == nil {
		return rec, false
	}
	keys, err := p.localIDPath.Keys(context.Background(), rec.Payload)
	if err != nil || len(keys) == 0 {
		return rec, false
	}
	id := strings.TrimSpace(keys[0])
	if id == "" {
		return rec, false
	}
	rec.LocalID = id
	return rec, true
}

// logRecord mirrors the operator-facing progress logging: the first
// few identifiers at info level, then a heartbeat every 10000 records,
// and a warning per record that carries no identifier.
func (p *Pipeline) logRecord(rec record.IngestRecord, n int64) {
	switch {
	case n <= 10 && rec.LocalID != "":
		p.logger.Info("found ID", "sourceId", p.sourceID, "localId", rec.LocalID, "processed", n)
	case n%10000 == 0:
		p.logger.Info("ingest progress", "sourceId", p.sourceID, "processed", n)
	}
	if rec.LocalID == "" {
		p.logger.Warn("missing ID", "sourceId", p.sourceID, "processed", n)
	}
}
