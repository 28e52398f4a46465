package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
)

// FactDef authors one fact under a local id. Predecessor values are a
// local id, a list of local ids, or a stored reference written Type:hash.
//
//	- id: dishes
//	  type: Task
//	  fields: {title: dishes}
//	  predecessors: {list: chores}
type FactDef struct {
	ID           string         `yaml:"id" json:"id"`
	Type         string         `yaml:"type" json:"type"`
	Fields       map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
	Predecessors map[string]any `yaml:"predecessors,omitempty" json:"predecessors,omitempty"`
}

// FactSet is a built set of authored facts.
type FactSet struct {
	records map[string]fact.Record
	names   map[fact.Reference]string
	order   []string
}

// BuildFacts hashes defs in order. A predecessor id must be defined
// earlier in the list.
func BuildFacts(defs []FactDef) (*FactSet, error) {
	fs := &FactSet{
		records: map[string]fact.Record{},
		names:   map[fact.Reference]string{},
	}
	for i, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("facts[%d]: id is required", i)
		}
		if _, dup := fs.records[def.ID]; dup {
			return nil, fmt.Errorf("facts[%d]: duplicate id %q", i, def.ID)
		}
		rec, err := fs.build(def)
		if err != nil {
			return nil, fmt.Errorf("facts[%d] %s: %w", i, def.ID, err)
		}
		fs.records[def.ID] = rec
		fs.order = append(fs.order, def.ID)
		if _, named := fs.names[rec.Reference()]; !named {
			fs.names[rec.Reference()] = def.ID
		}
	}
	return fs, nil
}

func (fs *FactSet) build(def FactDef) (fact.Record, error) {
	fields, err := ir.ObjectFromMap(def.Fields)
	if err != nil {
		return fact.Record{}, err
	}
	preds := make(map[string]fact.Predecessor, len(def.Predecessors))
	for role, v := range def.Predecessors {
		switch val := v.(type) {
		case string:
			ref, err := fs.resolve(val)
			if err != nil {
				return fact.Record{}, fmt.Errorf("role %q: %w", role, err)
			}
			preds[role] = fact.One(ref)
		case []any:
			refs := make([]fact.Reference, len(val))
			for i, elem := range val {
				s, ok := elem.(string)
				if !ok {
					return fact.Record{}, fmt.Errorf("role %q[%d]: expected id, got %T", role, i, elem)
				}
				if refs[i], err = fs.resolve(s); err != nil {
					return fact.Record{}, fmt.Errorf("role %q[%d]: %w", role, i, err)
				}
			}
			preds[role] = fact.Many(refs...)
		default:
			return fact.Record{}, fmt.Errorf("role %q: expected id or list of ids, got %T", role, v)
		}
	}
	return fact.NewRecord(def.Type, fields, preds)
}

// resolve maps a local id, or a Type:hash literal, to a reference.
func (fs *FactSet) resolve(id string) (fact.Reference, error) {
	if rec, ok := fs.records[id]; ok {
		return rec.Reference(), nil
	}
	if strings.Contains(id, ":") {
		return fact.ParseReference(id)
	}
	return fact.Reference{}, fmt.Errorf("unknown fact id %q", id)
}

// Record returns the fact with the given local id.
func (fs *FactSet) Record(id string) (fact.Record, error) {
	rec, ok := fs.records[id]
	if !ok {
		return fact.Record{}, fmt.Errorf("unknown fact id %q", id)
	}
	return rec, nil
}

// Reference resolves a local id or a Type:hash literal.
func (fs *FactSet) Reference(id string) (fact.Reference, error) {
	return fs.resolve(id)
}

// Envelopes returns unsigned envelopes for ids, in the order given.
func (fs *FactSet) Envelopes(ids ...string) ([]fact.Envelope, error) {
	out := make([]fact.Envelope, len(ids))
	for i, id := range ids {
		rec, err := fs.Record(id)
		if err != nil {
			return nil, err
		}
		out[i] = fact.NewEnvelope(rec)
	}
	return out, nil
}

// All returns envelopes for every fact in definition order.
func (fs *FactSet) All() []fact.Envelope {
	envs, _ := fs.Envelopes(fs.order...)
	return envs
}

// Name returns the local id of ref, or its Type:hash form when ref was not
// authored here.
func (fs *FactSet) Name(ref fact.Reference) string {
	if name, ok := fs.names[ref]; ok {
		return name
	}
	return ref.String()
}

// nameOfHash finds the id whose fact has hash h.
func (fs *FactSet) nameOfHash(h string) (string, bool) {
	for ref, name := range fs.names {
		if ref.Hash == h {
			return name, true
		}
	}
	return "", false
}

// factFile is the YAML form read by LoadFactFile.
type factFile struct {
	Facts []FactDef `yaml:"facts"`
}

// LoadFactFile reads facts to save from path. A file starting with '['
// is a JSON array of envelopes whose hashes are verified; anything else is
// YAML with a facts list of FactDef.
func LoadFactFile(path string) ([]fact.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fact file: %w", err)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return fact.DecodeEnvelopes(trimmed)
	}

	var ff factFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		return nil, fmt.Errorf("parse fact file %s: %w", path, err)
	}
	fs, err := BuildFacts(ff.Facts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fs.All(), nil
}
