package compiler

import (
	"errors"
	"os"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
)

func uncompletedTasks() specification.Specification {
	return specification.Specification{
		Given: []specification.Label{specification.L("p1", "List")},
		Matches: []specification.Match{
			specification.M(specification.L("u1", "Task"),
				specification.Path([]specification.Role{specification.R("list", "List")}, "p1"),
				specification.NotExists(specification.M(specification.L("u2", "Completion"),
					specification.Path([]specification.Role{specification.R("task", "Task")}, "u1"))),
			),
		},
	}
}

func TestCompileFile(t *testing.T) {
	doc, err := CompileFile("testdata/chores.cue")
	require.NoError(t, err)

	assert.Equal(t, []string{"uncompletedTasks", "currentNames", "officePresidents"}, doc.SpecificationNames())
	assert.Equal(t, []string{"openTasks"}, doc.QueryNames())

	spec, err := doc.Specification("uncompletedTasks")
	require.NoError(t, err)
	assert.Equal(t, uncompletedTasks().Describe(), spec.Describe())

	names, err := doc.Specification("currentNames")
	require.NoError(t, err)
	assert.Equal(t, specification.FieldProjection{Label: "u1", Field: "value"}, names.Projection)

	presidents, err := doc.Specification("officePresidents")
	require.NoError(t, err)
	comp, ok := presidents.Projection.(specification.CompositeProjection)
	require.True(t, ok)
	require.Len(t, comp.Components, 2)
	assert.Equal(t, "presidents", comp.Components[0].Name)
	assert.Equal(t, "identifier", comp.Components[1].Name)

	q, err := doc.Query("openTasks")
	require.NoError(t, err)
	assert.Equal(t, `S.list F.type="Task" N(S.task F.type="Completion")`, q.String())
}

func TestCompiledSpecificationLowersToQuery(t *testing.T) {
	doc, err := CompileFile("testdata/chores.cue")
	require.NoError(t, err)
	spec, err := doc.Specification("uncompletedTasks")
	require.NoError(t, err)
	want, err := doc.Query("openTasks")
	require.NoError(t, err)

	got, err := spec.ToQuery()
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %s", got)
}

func TestDocument_UnknownName(t *testing.T) {
	doc, err := CompileString("empty.cue", `specifications: {}`)
	require.NoError(t, err)

	_, err = doc.Specification("missing")
	assert.ErrorIs(t, err, ErrUnknownName)
	_, err = doc.Query("missing")
	assert.ErrorIs(t, err, ErrUnknownName)
}

func TestCompileSpecification_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		message string
	}{
		{
			name:    "missing given",
			src:     `specifications: s: {match: []}`,
			message: "given is required",
		},
		{
			name: "condition with two kinds",
			src: `specifications: s: {
				given: [{name: "p1", type: "List"}]
				match: [{name: "u1", type: "Task", conditions: [{path: {label: "p1"}, exists: []}]}]
			}`,
			message: "exactly one of path, exists or notExists",
		},
		{
			name: "unknown projection",
			src: `specifications: s: {
				given: [{name: "p1", type: "List"}]
				select: {bogus: "p1"}
			}`,
			message: "projection must be one of",
		},
		{
			name: "empty label name",
			src: `specifications: s: {
				given: [{name: "", type: "List"}]
			}`,
			message: "name must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString("bad.cue", tt.src)
			require.Error(t, err)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Contains(t, ce.Message, tt.message)
		})
	}
}

func TestCompileSpecification_UnknownLabelIsMalformed(t *testing.T) {
	_, err := CompileString("bad.cue", `specifications: s: {
		given: [{name: "p1", type: "List"}]
		match: [{
			name: "u1"
			type: "Task"
			conditions: [{path: {left: [{role: "list", type: "List"}], label: "nope"}}]
		}]
	}`)
	require.Error(t, err)
	assert.True(t, specification.HasCode(err, specification.CodeUnknownLabel))

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bad.cue", ce.Pos.Filename())
}

func TestCompileQuery_SyntaxError(t *testing.T) {
	_, err := CompileString("bad.cue", `queries: q: "S.list F.type="`)
	require.Error(t, err)
	assert.ErrorIs(t, err, query.ErrSyntax)
}

func TestCompile_CUEError(t *testing.T) {
	_, err := CompileString("bad.cue", `specifications: {`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cue", ce.Field)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	v := cuecontext.New().CompileString(`
specifications: {
	good: {
		given: [{name: "p1", type: "List"}]
		match: [{name: "u1", type: "Task", conditions: [{path: {left: [{role: "list", type: "List"}], label: "p1"}}]}]
	}
	noGiven: {match: []}
	badLabel: {
		given: [{name: "p1", type: "List"}]
		match: [{name: "u1", type: "Task", conditions: [{path: {left: [{role: "list", type: "List"}], label: "zz"}}]}]
	}
}
queries: {
	good: "S.list F.type=\"Task\""
	broken: "S."
}
`)
	errs := Validate(v)
	codes := map[string]string{}
	for _, e := range errs {
		codes[e.Field] = e.Code
	}
	assert.Equal(t, map[string]string{
		"specifications.noGiven":  ErrSpecificationShape,
		"specifications.badLabel": ErrMalformed,
		"queries.good":            ErrDuplicateName,
		"queries.broken":          ErrQuerySyntax,
	}, codes)
}

func TestValidate_Clean(t *testing.T) {
	data, err := os.ReadFile("testdata/chores.cue")
	require.NoError(t, err)

	v := cuecontext.New().CompileBytes(data)
	assert.Empty(t, Validate(v))
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "queries.q", Message: "bad", Code: ErrQuerySyntax, Line: 3}
	assert.Equal(t, "[E103] line 3: queries.q: bad", e.Error())
	e.Line = 0
	assert.Equal(t, "[E103] queries.q: bad", e.Error())
}
