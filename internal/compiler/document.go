// Package compiler turns CUE documents into specifications and queries.
//
// A document holds two optional structs:
//
//	specifications: <name>: { given, match, select }
//	queries:        <name>: "<descriptive string>"
//
// Field order in the document is kept: names are reported in the order they
// are declared.
package compiler

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
)

// ErrUnknownName is returned when a document has no entry of that name.
var ErrUnknownName = errors.New("unknown name")

// Document is a compiled CUE document.
type Document struct {
	specs      map[string]specification.Specification
	queries    map[string]query.Query
	specNames  []string
	queryNames []string
}

// CompileFile reads and compiles the CUE document at path.
func CompileFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return CompileString(path, string(data))
}

// CompileString compiles src, reporting positions against filename.
func CompileString(filename, src string) (*Document, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return CompileValue(v)
}

// CompileValue compiles a document value. It stops at the first error;
// use Validate to collect every problem.
func CompileValue(v cue.Value) (*Document, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("cue", err)
	}
	doc := &Document{
		specs:   map[string]specification.Specification{},
		queries: map[string]query.Query{},
	}

	specsVal := v.LookupPath(cue.ParsePath("specifications"))
	if specsVal.Exists() {
		iter, err := specsVal.Fields()
		if err != nil {
			return nil, formatCUEError("specifications", err)
		}
		for iter.Next() {
			spec, err := CompileSpecification(iter.Value())
			if err != nil {
				return nil, err
			}
			doc.specs[iter.Label()] = spec
			doc.specNames = append(doc.specNames, iter.Label())
		}
	}

	queriesVal := v.LookupPath(cue.ParsePath("queries"))
	if queriesVal.Exists() {
		iter, err := queriesVal.Fields()
		if err != nil {
			return nil, formatCUEError("queries", err)
		}
		for iter.Next() {
			q, err := compileQuery(iter.Value())
			if err != nil {
				return nil, err
			}
			doc.queries[iter.Label()] = q
			doc.queryNames = append(doc.queryNames, iter.Label())
		}
	}
	return doc, nil
}

func compileQuery(v cue.Value) (query.Query, error) {
	text, err := v.String()
	if err != nil {
		return query.Query{}, formatCUEError(fieldOf(v), err)
	}
	q, err := query.Parse(text)
	if err != nil {
		return query.Query{}, &CompileError{Field: fieldOf(v), Message: err.Error(), Pos: v.Pos(), Err: err}
	}
	if err := query.Validate(q); err != nil {
		return query.Query{}, &CompileError{Field: fieldOf(v), Message: err.Error(), Pos: v.Pos(), Err: err}
	}
	return q, nil
}

// Specification returns the named specification.
func (d *Document) Specification(name string) (specification.Specification, error) {
	spec, ok := d.specs[name]
	if !ok {
		return specification.Specification{}, fmt.Errorf("specification %q: %w", name, ErrUnknownName)
	}
	return spec, nil
}

// Query returns the named query.
func (d *Document) Query(name string) (query.Query, error) {
	q, ok := d.queries[name]
	if !ok {
		return query.Query{}, fmt.Errorf("query %q: %w", name, ErrUnknownName)
	}
	return q, nil
}

// SpecificationNames returns specification names in declaration order.
func (d *Document) SpecificationNames() []string {
	return append([]string(nil), d.specNames...)
}

// QueryNames returns query names in declaration order.
func (d *Document) QueryNames() []string {
	return append([]string(nil), d.queryNames...)
}
