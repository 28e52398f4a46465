package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
	"github.com/roach88/factgraph/internal/storage"
)

// renderer turns engine output into trace text, naming facts by their
// scenario ids.
type renderer struct {
	facts *FactSet
}

// path renders "[a b c]".
func (r renderer) path(p storage.FactPath) string {
	parts := make([]string, len(p))
	for i, ref := range p {
		parts[i] = r.facts.Name(ref)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// paths renders query results, or "(none)".
func (r renderer) paths(ps []storage.FactPath) string {
	if len(ps) == 0 {
		return "(none)"
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = r.path(p)
	}
	return strings.Join(parts, ", ")
}

// results renders the projected values of a read as "[v1, v2]".
func (r renderer) results(rows []storage.ProjectedResult) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = r.value(row.Result)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// value renders one projection result. Field values use canonical JSON;
// hashes are written #id when the fact is known.
func (r renderer) value(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case fact.Reference:
		return r.facts.Name(val)
	case ir.Null:
		return "null"
	case ir.Value:
		data, err := ir.Marshal(val)
		if err != nil {
			return fmt.Sprintf("<%v>", err)
		}
		return string(data)
	case string:
		if name, ok := r.facts.nameOfHash(val); ok {
			return "#" + name
		}
		return val
	case []storage.ProjectedResult:
		return r.results(val)
	case map[string]fact.Reference:
		m := make(map[string]any, len(val))
		for k, ref := range val {
			m[k] = ref
		}
		return r.object(m)
	case map[string]any:
		return r.object(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (r renderer) object(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + r.value(m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
