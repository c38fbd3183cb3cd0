package matcher

import (
	"context"
	"fmt"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
)

// pathLanguage is the shared jsonpath dialect. gval's full language
// with the jsonpath placeholder extension supports filters and
// script-style expressions on top of plain paths.
var pathLanguage = gval.Full(jsonpath.PlaceholderExtension())

// JSONPath is a KeyComputer that evaluates one jsonpath expression
// against the record payload. A missing path yields no keys rather
// than an error; list results keep string elements only.
type JSONPath struct {
	expression string
	eval       gval.Evaluable
}

// NewJSONPath compiles the expression. Compilation errors are
// configuration errors and fail the matcher build.
func NewJSONPath(expression string) (*JSONPath, error) {
	eval, err := pathLanguage.NewEvaluable(expression)
	if err != nil {
		return nil, fmt.Errorf("compile jsonpath %q: %w", expression, err)
	}
	return &JSONPath{expression: expression, eval: eval}, nil
}

func (p *JSONPath) Keys(ctx context.Context, payload map[string]any) ([]string, error) {
	v, err := p.eval(ctx, map[string]any(payload))
	if err != nil {
		// Evaluation errors mean the path does not exist in this
		// payload. The record simply produces no keys here.
		return nil, nil
	}
	return stringKeys(v), nil
}

func (p *JSONPath) String() string {
	return p.expression
}

// stringKeys converts a jsonpath result to a key list. A bare string
// is one key; a list contributes its string elements and is rejected
// wholesale when it holds anything else.
func stringKeys(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		keys := make([]string, 0, len(t))
		for _, elem := range t {
			s, ok := elem.(string)
			if !ok {
				return nil
			}
			keys = append(keys, s)
		}
		return keys
	default:
		return nil
	}
}
