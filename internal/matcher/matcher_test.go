package matcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibflow/bibflow/internal/record"
)

func jsonPathConfig(id, expression string) record.MatchKeyConfig {
	return record.MatchKeyConfig{
		ID:     id,
		Method: "jsonpath",
		Params: map[string]any{"expression": expression},
		Update: record.UpdateIngest,
	}
}

func TestBuild_JSONPathMethod(t *testing.T) {
	m, err := Build(context.Background(), jsonPathConfig("isbn", "$.isbn[*]"), nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), map[string]any{
		"isbn": []any{"111", "222"},
	})
	require.NoError(t, err)
	assert.Equal(t, "isbn", result.ConfigID)
	assert.Equal(t, []string{"111", "222"}, result.Keys)
}

func TestBuild_InvalidConfig(t *testing.T) {
	_, err := Build(context.Background(), record.MatchKeyConfig{ID: "broken"}, nil)
	assert.Error(t, err)
}

func TestBuild_MissingExpression(t *testing.T) {
	cfg := record.MatchKeyConfig{ID: "isbn", Method: "jsonpath"}
	_, err := Build(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "expression")
}

func TestBuild_UnknownMethod(t *testing.T) {
	cfg := record.MatchKeyConfig{ID: "isbn", Method: "levenshtein"}
	_, err := Build(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown method")
}

func TestBuild_BadExpression(t *testing.T) {
	_, err := Build(context.Background(), jsonPathConfig("isbn", "$.["), nil)
	assert.Error(t, err)
}

func TestRun_NormalizesKeys(t *testing.T) {
	m, err := Build(context.Background(), jsonPathConfig("isbn", "$.isbn[*]"), nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), map[string]any{
		"isbn": []any{" 111 ", "111", "", "   ", "222"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222"}, result.Keys)
}

func TestRun_TruncatesLongKeys(t *testing.T) {
	m, err := Build(context.Background(), jsonPathConfig("title", "$.title"), nil)
	require.NoError(t, err)

	long := strings.Repeat("x", record.MatchValueMaxLength+100)
	result, err := m.Run(context.Background(), map[string]any{"title": long})
	require.NoError(t, err)
	require.Len(t, result.Keys, 1)
	assert.Len(t, result.Keys[0], record.MatchValueMaxLength)
}

func TestRun_TruncationCollapsesDuplicates(t *testing.T) {
	m, err := Build(context.Background(), jsonPathConfig("title", "$.titles[*]"), nil)
	require.NoError(t, err)

	// Same prefix, differing only past the cap: one key after
	// truncation.
	prefix := strings.Repeat("x", record.MatchValueMaxLength)
	result, err := m.Run(context.Background(), map[string]any{
		"titles": []any{prefix + "a", prefix + "b"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Keys, 1)
}

func TestRun_MissingPathYieldsNoKeys(t *testing.T) {
	m, err := Build(context.Background(), jsonPathConfig("isbn", "$.isbn[*]"), nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), map[string]any{"title": "no isbn here"})
	require.NoError(t, err)
	assert.Empty(t, result.Keys)
}

func TestRun_NonStringListYieldsNoKeys(t *testing.T) {
	m, err := Build(context.Background(), jsonPathConfig("isbn", "$.isbn[*]"), nil)
	require.NoError(t, err)

	result, err := m.Run(context.Background(), map[string]any{
		"isbn": []any{"111", 42},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Keys)
}

func TestBuildAll_FailsFast(t *testing.T) {
	configs := []record.MatchKeyConfig{
		jsonPathConfig("isbn", "$.isbn[*]"),
		{ID: "broken", Method: "nope"},
	}
	_, err := BuildAll(context.Background(), configs, nil)
	assert.Error(t, err)
}

func TestBuildAll(t *testing.T) {
	configs := []record.MatchKeyConfig{
		jsonPathConfig("isbn", "$.isbn[*]"),
		jsonPathConfig("title", "$.title"),
	}
	matchers, err := BuildAll(context.Background(), configs, nil)
	require.NoError(t, err)
	assert.Len(t, matchers, 2)
}
