// Package matcher turns record payloads into match keys. A matcher is
// configured per match-key configuration and is either a built-in
// method (jsonpath) or a reference to a stored code module.
package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/bibflow/bibflow/internal/record"
)

// KeyComputer extracts raw match keys from one record payload.
//
// Implementations return the keys as found; normalization (trimming,
// deduplication, length capping) happens in Matcher.Run.
type KeyComputer interface {
	Keys(ctx context.Context, payload map[string]any) ([]string, error)
}

// Matcher binds a match-key configuration to its key computer.
type Matcher struct {
	ConfigID string
	computer KeyComputer
}

// Run computes the normalized match keys for a payload: whitespace
// trimmed, empty keys dropped, duplicates removed in first-seen order,
// and each key capped at the stored value length.
func (m *Matcher) Run(ctx context.Context, payload map[string]any) (record.MatcherResult, error) {
	raw, err := m.computer.Keys(ctx, payload)
	if err != nil {
		return record.MatcherResult{}, fmt.Errorf("matcher %s: %w", m.ConfigID, err)
	}

	result := record.MatcherResult{ConfigID: m.ConfigID}
	seen := make(map[string]bool, len(raw))
	for _, key := range raw {
		key = record.TruncateKey(strings.TrimSpace(key))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		result.Keys = append(result.Keys, key)
	}
	return result, nil
}

// ModuleResolver resolves a module id to a loaded code module. The
// module cache implements this.
type ModuleResolver interface {
	Get(ctx context.Context, id string) (Module, error)
}

// Build constructs the matcher for one configuration. A configuration
// naming a missing or broken module fails here, before any record is
// processed.
func Build(ctx context.Context, cfg record.MatchKeyConfig, modules ModuleResolver) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Method != "" {
		computer, err := buildMethod(cfg)
		if err != nil {
			return nil, fmt.Errorf("match key %s: %w", cfg.ID, err)
		}
		return &Matcher{ConfigID: cfg.ID, computer: computer}, nil
	}

	ref, err := record.ParseModuleRef(cfg.Matcher)
	if err != nil {
		return nil, fmt.Errorf("match key %s: %w", cfg.ID, err)
	}
	mod, err := modules.Get(ctx, ref.Module)
	if err != nil {
		return nil, fmt.Errorf("match key %s: %w", cfg.ID, err)
	}
	return &Matcher{ConfigID: cfg.ID, computer: &moduleComputer{module: mod, symbol: ref.Symbol}}, nil
}

// BuildAll constructs matchers for a set of configurations. Any single
// failure aborts the whole build: ingesting with a partial matcher set
// would cluster records inconsistently.
func BuildAll(ctx context.Context, configs []record.MatchKeyConfig, modules ModuleResolver) ([]*Matcher, error) {
	matchers := make([]*Matcher, 0, len(configs))
	for _, cfg := range configs {
		m, err := Build(ctx, cfg, modules)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

// buildMethod constructs the computer for a built-in method.
func buildMethod(cfg record.MatchKeyConfig) (KeyComputer, error) {
	switch cfg.Method {
	case "jsonpath":
		expr, _ := cfg.Params["expression"].(string)
		if expr == "" {
			return nil, fmt.Errorf("method jsonpath requires params.expression")
		}
		return NewJSONPath(expr)
	default:
		return nil, fmt.Errorf("unknown method %q", cfg.Method)
	}
}

// moduleComputer adapts a loaded code module to the KeyComputer
// interface.
type moduleComputer struct {
	module Module
	symbol string
}

func (c *moduleComputer) Keys(ctx context.Context, payload map[string]any) ([]string, error) {
	return c.module.Keys(ctx, c.symbol, payload)
}
