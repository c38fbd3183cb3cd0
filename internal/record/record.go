// Package record defines the domain types shared by the store, the
// cluster engine and the ingest pipeline: global records, match-key
// configurations, matcher results and code-module entities.
package record

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MatchValueMaxLength is the maximum length of a stored match value.
// Longer keys are truncated, not rejected. Kept well under the 2704/4
// btree index entry limit of the backing database.
const MatchValueMaxLength = 600

// GlobalRecord is the canonical stored form of one ingested record.
// Unique on (LocalID, SourceID, SourceVersion).
type GlobalRecord struct {
	ID            uuid.UUID
	LocalID       string
	SourceID      SourceID
	SourceVersion int
	Payload       map[string]any
}

// IngestRecord is one incoming record object as produced by an
// external parser. LocalID may be absent when the pipeline is
// configured with a key-path extractor; Delete marks a logical delete.
type IngestRecord struct {
	LocalID string         `json:"localId,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Delete  bool           `json:"delete,omitempty"`
}

// SourceID identifies a record source. Normalized to upper case.
type SourceID string

// ParseSourceID validates and normalizes a source identifier.
// Allowed characters are letters, digits, '-' and '_'.
func ParseSourceID(s string) (SourceID, error) {
	if s == "" {
		return "", fmt.Errorf("sourceId required")
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return "", fmt.Errorf("invalid sourceId %q: character %q not allowed", s, r)
		}
	}
	return SourceID(strings.ToUpper(s)), nil
}

func (s SourceID) String() string {
	return string(s)
}

// Update policies for a match-key configuration. Configurations with
// UpdateManual are skipped during ingest and only re-clustered on
// explicit recompute.
const (
	UpdateIngest = "ingest"
	UpdateManual = "manual"
)

// MatchKeyConfig describes one configured match key. Exactly one of
// Matcher (external module reference) and Method (built-in method
// name) must be set.
type MatchKeyConfig struct {
	ID      string
	Matcher string
	Method  string
	Params  map[string]any
	Update  string
}

// Validate checks structural validity of the configuration.
func (c *MatchKeyConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("match key config must include 'id'")
	}
	if c.Matcher == "" && c.Method == "" {
		return fmt.Errorf("match key config %q must include 'method' or 'matcher'", c.ID)
	}
	if c.Matcher != "" && c.Method != "" {
		return fmt.Errorf("match key config %q must include only one of 'method' and 'matcher'", c.ID)
	}
	switch c.Update {
	case "", UpdateIngest, UpdateManual:
	default:
		return fmt.Errorf("match key config %q: unknown update policy %q", c.ID, c.Update)
	}
	return nil
}

// MatcherResult holds the keys one matcher produced for one record.
// Keys are deduplicated and truncated to MatchValueMaxLength.
type MatcherResult struct {
	ConfigID string
	Keys     []string
}

// CodeModule is a stored code-module entity referenced by match-key
// configurations through the Matcher field.
type CodeModule struct {
	ID       string
	Type     string
	URL      string
	Function string
	Script   string
	Hash     string
}

// ModuleRef is a parsed matcher reference: a module id with an
// optional symbol, written as "module" or "module::symbol".
type ModuleRef struct {
	Module string
	Symbol string
}

// ParseModuleRef parses a matcher reference string.
func ParseModuleRef(s string) (ModuleRef, error) {
	if s == "" {
		return ModuleRef{}, fmt.Errorf("empty module reference")
	}
	module, symbol, found := strings.Cut(s, "::")
	if module == "" {
		return ModuleRef{}, fmt.Errorf("invalid module reference %q", s)
	}
	if found && symbol == "" {
		return ModuleRef{}, fmt.Errorf("invalid module reference %q: empty symbol", s)
	}
	return ModuleRef{Module: module, Symbol: symbol}, nil
}

func (r ModuleRef) String() string {
	if r.Symbol == "" {
		return r.Module
	}
	return r.Module + "::" + r.Symbol
}

// TruncateKey enforces the match value length policy. Truncation is by
// rune so multi-byte keys are never cut mid-character.
func TruncateKey(k string) string {
	runes := []rune(k)
	if len(runes) <= MatchValueMaxLength {
		return k
	}
	return string(runes[:MatchValueMaxLength])
}
