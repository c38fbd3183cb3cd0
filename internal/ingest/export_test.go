package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibflow/bibflow/internal/matcher"
	"github.com/bibflow/bibflow/internal/store"
)

func TestExporter_WritesClusterDocuments(t *testing.T) {
	e, s := newTestEngine(t)
	m := isbnMatcher(t, s)
	ctx := context.Background()

	for _, r := range []struct{ localID, isbn string }{
		{"rec-1", "111"},
		{"rec-2", "111"},
		{"rec-3", "222"},
	} {
		_, err := e.Upsert(ctx, "SRC", 1, r.localID,
			map[string]any{"isbn": []any{r.isbn}}, []*matcher.Matcher{m})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	exp := NewExporter(e, s, nil)
	n, err := exp.Run(ctx, &buf, "isbn")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var docs []ClusterDocument
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var doc ClusterDocument
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &doc))
		docs = append(docs, doc)
	}
	require.Len(t, docs, 2)

	members := map[string]int{}
	for _, doc := range docs {
		members[doc.MatchValues[0]] = len(doc.Records)
	}
	assert.Equal(t, map[string]int{"111": 2, "222": 1}, members)
}

func TestExporter_FromFilter(t *testing.T) {
	e, s := newTestEngine(t)
	m := isbnMatcher(t, s)
	ctx := context.Background()

	_, err := e.Upsert(ctx, "SRC", 1, "rec-1",
		map[string]any{"isbn": []any{"111"}}, []*matcher.Matcher{m})
	require.NoError(t, err)

	var buf bytes.Buffer
	exp := NewExporter(e, s, nil)
	exp.From = time.Now().UTC().Add(time.Hour)
	n, err := exp.Run(ctx, &buf, "isbn")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "clusters stamped before From are filtered out")
	assert.Zero(t, buf.Len())
}

func TestExporter_EmptyConfig(t *testing.T) {
	e, s := newTestEngine(t)
	isbnMatcher(t, s)

	var buf bytes.Buffer
	n, err := NewExporter(e, s, nil).Run(context.Background(), &buf, "isbn")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExporter_ConcurrentProductionKeepsLinesIntact(t *testing.T) {
	e, s := newTestEngine(t)
	m := isbnMatcher(t, s)
	ctx := context.Background()

	// Disjoint keys, one cluster per record, far more clusters than
	// the watermark allows in flight at once.
	for i := 0; i < 25; i++ {
		_, err := e.Upsert(ctx, "SRC", 1, fmt.Sprintf("rec-%d", i),
			map[string]any{"isbn": []any{fmt.Sprintf("%03d", i)}}, []*matcher.Matcher{m})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	exp := NewExporter(e, s, nil)
	exp.Watermark = 4
	n, err := exp.Run(ctx, &buf, "isbn")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	seen := map[string]bool{}
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var doc ClusterDocument
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &doc), "lines must not interleave")
		assert.False(t, seen[doc.ClusterID], "cluster %s emitted twice", doc.ClusterID)
		seen[doc.ClusterID] = true
	}
	assert.Len(t, seen, 25)
}

// phantomLister hands out a cluster id that resolves to nothing, the
// way a cluster dropped between paging and production would.
type phantomLister struct {
	id     uuid.UUID
	served bool
}

func (l *phantomLister) ClusterPage(ctx context.Context, configID, afterID string, limit int) ([]store.ClusterMeta, error) {
	if l.served {
		return nil, nil
	}
	l.served = true
	return []store.ClusterMeta{{ClusterID: l.id, ConfigID: configID, Datestamp: time.Now().UTC()}}, nil
}

func TestExporter_UnproducibleClusterLeavesMarker(t *testing.T) {
	e, s := newTestEngine(t)
	isbnMatcher(t, s)

	var buf bytes.Buffer
	lister := &phantomLister{id: uuid.New()}
	n, err := NewExporter(e, lister, nil).Run(context.Background(), &buf, "isbn")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), "<!-- Failed to produce cluster "+lister.id.String()+" -->")
}
