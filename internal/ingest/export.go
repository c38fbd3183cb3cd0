package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bibflow/bibflow/internal/cluster"
	"github.com/bibflow/bibflow/internal/record"
	"github.com/bibflow/bibflow/internal/store"
)

// exportPageSize is how many cluster meta rows are materialized per
// keyset page while exporting.
const exportPageSize = 100

// ClusterDocument is the exported form of one cluster, one JSON
// document per line.
type ClusterDocument struct {
	ClusterID   string           `json:"clusterId"`
	Datestamp   time.Time        `json:"datestamp"`
	MatchValues []string         `json:"matchValues,omitempty"`
	Records     []ExportedRecord `json:"records"`
}

// ExportedRecord is one member record inside a ClusterDocument.
type ExportedRecord struct {
	GlobalID string         `json:"globalId"`
	LocalID  string         `json:"localId"`
	SourceID string         `json:"sourceId"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Exporter streams the clusters of one match-key configuration as
// line-delimited JSON.
type Exporter struct {
	engine *cluster.Engine
	lister ClusterLister
	logger *slog.Logger

	// From filters to clusters stamped at or after this instant.
	// Zero exports everything.
	From time.Time
	// Watermark bounds concurrent document production. Zero means
	// DefaultHighWatermark.
	Watermark int
}

// ClusterLister pages cluster meta rows in id order. The store
// implements this.
type ClusterLister interface {
	ClusterPage(ctx context.Context, configID string, afterID string, limit int) ([]store.ClusterMeta, error)
}

// NewExporter creates an exporter over engine and its store.
func NewExporter(engine *cluster.Engine, lister ClusterLister, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{engine: engine, lister: lister, logger: logger}
}

// Run writes every matching cluster of configID to w, one document per
// line. Document production runs through the same flow-controlled sink
// as ingest: meta rows fill it up to the watermark and paging pauses
// until the backlog drains, so a slow consumer never piles up
// materialized clusters. A cluster that cannot be produced does not
// abort the stream: a comment marker takes its line and the export
// continues, so one broken cluster cannot hide the rest. Returns the
// number of documents written.
func (e *Exporter) Run(ctx context.Context, w io.Writer, configID string) (int, error) {
	em := &clusterEmitter{exporter: e, w: w}
	watermark := e.Watermark
	if watermark <= 0 {
		watermark = DefaultHighWatermark
	}
	sink := NewSink(em.emit, WithHighWatermark[store.ClusterMeta](watermark))

	after := uuid.Nil.String()
	for {
		page, err := e.lister.ClusterPage(ctx, configID, after, exportPageSize)
		if err != nil {
			_ = sink.Close()
			return em.count(), err
		}
		if len(page) == 0 {
			break
		}
		for _, meta := range page {
			after = meta.ClusterID.String()
			if !e.From.IsZero() && meta.Datestamp.Before(e.From) {
				continue
			}
			if _, err := sink.Write(ctx, meta); err != nil {
				_ = sink.Close()
				return em.count(), err
			}
		}
	}
	if err := sink.Close(); err != nil {
		return em.count(), err
	}
	return em.count(), nil
}

// clusterEmitter materializes cluster documents on sink goroutines and
// serializes them onto the output writer.
type clusterEmitter struct {
	exporter *Exporter

	mu      sync.Mutex
	w       io.Writer
	written int
}

func (c *clusterEmitter) emit(ctx context.Context, meta store.ClusterMeta) error {
	doc, err := c.exporter.buildDocument(ctx, meta.ClusterID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.exporter.logger.Error("failed to produce cluster",
			"clusterId", meta.ClusterID, "error", err)
		_, werr := fmt.Fprintf(c.w, "<!-- Failed to produce cluster %s -->\n", meta.ClusterID)
		return werr
	}
	if err := json.NewEncoder(c.w).Encode(doc); err != nil {
		return err
	}
	c.written++
	return nil
}

func (c *clusterEmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

func (e *Exporter) buildDocument(ctx context.Context, clusterID uuid.UUID) (ClusterDocument, error) {
	c, err := e.engine.GetCluster(ctx, clusterID)
	if err != nil {
		return ClusterDocument{}, err
	}
	doc := ClusterDocument{
		ClusterID:   c.Meta.ClusterID.String(),
		Datestamp:   c.Meta.Datestamp,
		MatchValues: c.Values,
		Records:     make([]ExportedRecord, 0, len(c.Records)),
	}
	for _, rec := range c.Records {
		doc.Records = append(doc.Records, exportedRecord(rec))
	}
	return doc, nil
}

func exportedRecord(rec record.GlobalRecord) ExportedRecord {
	return ExportedRecord{
		GlobalID: rec.ID.String(),
		LocalID:  rec.LocalID,
		SourceID: rec.SourceID.String(),
		Payload:  rec.Payload,
	}
}
