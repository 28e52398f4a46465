package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
	"github.com/roach88/factgraph/internal/storage"
)

var errNoQuery = errors.New("a query argument or --spec with --name is required")

// parseReferences reads Type:hash arguments.
func parseReferences(args []string) ([]fact.Reference, error) {
	refs := make([]fact.Reference, len(args))
	for i, arg := range args {
		ref, err := fact.ParseReference(arg)
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", arg, err)
		}
		refs[i] = ref
	}
	return refs, nil
}

// pathStrings renders a path as Type:hash strings.
func pathStrings(p storage.FactPath) []string {
	out := make([]string, len(p))
	for i, ref := range p {
		out[i] = ref.String()
	}
	return out
}

// Row is one projected result in command output.
type Row struct {
	Tuple  map[string]string `json:"tuple"`
	Result any               `json:"result"`
}

func toRows(results []storage.ProjectedResult) []Row {
	rows := make([]Row, len(results))
	for i, r := range results {
		tuple := make(map[string]string, len(r.Tuple))
		for label, ref := range r.Tuple {
			tuple[label] = ref.String()
		}
		rows[i] = Row{Tuple: tuple, Result: plain(r.Result)}
	}
	return rows
}

// plain converts a projection value to JSON-friendly Go values. References
// become Type:hash strings.
func plain(v any) any {
	switch val := v.(type) {
	case fact.Reference:
		return val.String()
	case ir.Value:
		return ir.ToAny(val)
	case []storage.ProjectedResult:
		return toRows(val)
	case map[string]fact.Reference:
		out := make(map[string]any, len(val))
		for k, ref := range val {
			out[k] = ref.String()
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = plain(elem)
		}
		return out
	default:
		return val
	}
}

// text renders a plain value on one line, maps with sorted keys.
func text(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case []Row:
		parts := make([]string, len(val))
		for i, r := range val {
			parts[i] = text(r.Result)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = text(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + text(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", val)
	}
}
