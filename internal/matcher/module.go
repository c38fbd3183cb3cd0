package matcher

import (
	"context"
	"fmt"

	"github.com/bibflow/bibflow/internal/record"
)

// ModuleTypeJSONPath is the only supported code-module type. The
// module's script is a jsonpath expression evaluated against each
// payload; the symbol of a "module::symbol" reference is ignored.
const ModuleTypeJSONPath = "jsonpath"

// Module is a loaded, ready-to-run code module.
type Module interface {
	Keys(ctx context.Context, symbol string, payload map[string]any) ([]string, error)
}

// loadModule instantiates a module from its stored entity.
func loadModule(entity record.CodeModule) (Module, error) {
	switch entity.Type {
	case ModuleTypeJSONPath:
		if entity.Script == "" {
			return nil, fmt.Errorf("module %s: config must include 'script'", entity.ID)
		}
		jp, err := NewJSONPath(entity.Script)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", entity.ID, err)
		}
		return &jsonPathModule{path: jp}, nil
	default:
		return nil, fmt.Errorf("module %s: unsupported type %q", entity.ID, entity.Type)
	}
}

type jsonPathModule struct {
	path *JSONPath
}

func (m *jsonPathModule) Keys(ctx context.Context, symbol string, payload map[string]any) ([]string, error) {
	return m.path.Keys(ctx, payload)
}
