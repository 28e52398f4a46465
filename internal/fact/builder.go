package fact

import (
	"github.com/roach88/factgraph/internal/ir"
)

// Builder assembles a Record field by field.
//
//	list := fact.Build("List").Field("name", ir.String("Chores")).One("owner", user.Reference()).MustRecord()
type Builder struct {
	factType     string
	fields       ir.Object
	predecessors map[string]Predecessor
}

// Build starts a Record of the given type.
func Build(factType string) *Builder {
	return &Builder{
		factType:     factType,
		fields:       ir.Object{},
		predecessors: map[string]Predecessor{},
	}
}

// Field sets a field value.
func (b *Builder) Field(name string, v ir.Value) *Builder {
	b.fields[name] = v
	return b
}

// One sets a single-valued predecessor role.
func (b *Builder) One(role string, ref Reference) *Builder {
	b.predecessors[role] = One(ref)
	return b
}

// Many sets a list-valued predecessor role.
func (b *Builder) Many(role string, refs ...Reference) *Builder {
	b.predecessors[role] = Many(refs...)
	return b
}

// Record constructs the Record.
func (b *Builder) Record() (Record, error) {
	return NewRecord(b.factType, b.fields, b.predecessors)
}

// MustRecord is like Record but panics on error.
func (b *Builder) MustRecord() Record {
	return MustRecord(b.factType, b.fields, b.predecessors)
}
