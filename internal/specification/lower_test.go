package specification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToQuery(t *testing.T) {
	tests := []struct {
		name     string
		spec     Specification
		expected string
	}{
		{"successor join", officesSpec(), `S.company F.type="Office"`},
		{"current names", currentNamesSpec(), `S.user F.type="Name" N(S.prior F.type="Name")`},
		{"uncompleted tasks", uncompletedTasksSpec(), `S.list F.type="Task" N(S.task F.type="Completion")`},
		{
			name: "siblings through a predecessor",
			spec: Specification{
				Given: []Label{L("p1", "Office")},
				Matches: []Match{
					M(L("u1", "Office"), Path([]Role{R("company", "Company")}, "p1", R("company", "Company"))),
				},
			},
			expected: `P.company F.type="Company" S.company F.type="Office"`,
		},
		{
			name: "two roles deep",
			spec: Specification{
				Given: []Label{L("p1", "Company")},
				Matches: []Match{
					M(L("u1", "President"), Path([]Role{R("office", "Office"), R("company", "Company")}, "p1")),
				},
			},
			expected: `S.company F.type="Office" S.office F.type="President"`,
		},
		{
			name: "chained matches with positive condition",
			spec: Specification{
				Given: []Label{L("p1", "Company")},
				Matches: []Match{
					M(L("u1", "Office"), Path([]Role{R("company", "Company")}, "p1")),
					M(L("u2", "President"),
						Path([]Role{R("office", "Office")}, "u1"),
						Exists(M(L("u3", "Acceptance"), Path([]Role{R("president", "President")}, "u2"))),
					),
				},
			},
			expected: `S.company F.type="Office" S.office F.type="President" E(S.president F.type="Acceptance")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.spec.ToQuery()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, q.String())
		})
	}
}

func TestToQueryRejects(t *testing.T) {
	tests := []struct {
		name string
		spec Specification
		code MalformedCode
	}{
		{
			name: "two givens",
			spec: Specification{
				Given:   []Label{L("p1", "Company"), L("p2", "User")},
				Matches: officesSpec().Matches,
			},
			code: CodeMultiGiven,
		},
		{
			name: "no matches",
			spec: Specification{Given: []Label{L("p1", "Company")}},
			code: CodeNoSteps,
		},
		{
			name: "anchored on the given twice",
			spec: Specification{
				Given: []Label{L("p1", "Company")},
				Matches: []Match{
					M(L("u1", "Office"), Path([]Role{R("company", "Company")}, "p1")),
					M(L("u2", "Office"), Path([]Role{R("company", "Company")}, "p1")),
				},
			},
			code: CodeNotLinear,
		},
		{
			name: "second path condition",
			spec: Specification{
				Given: []Label{L("p1", "Company")},
				Matches: []Match{
					M(L("u1", "Office"),
						Path([]Role{R("company", "Company")}, "p1"),
						Path([]Role{R("company", "Company")}, "p1"),
					),
				},
			},
			code: CodeNotLinear,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.ToQuery()
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
			assert.True(t, HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, currentNamesSpec().Validate())
	require.NoError(t, officePresidentsSpec().Validate())

	tests := []struct {
		name string
		spec Specification
		code MalformedCode
	}{
		{"no given", Specification{}, CodeNoGiven},
		{
			"untyped given",
			Specification{Given: []Label{L("p1", "")}},
			CodeMissingType,
		},
		{
			"duplicate label",
			Specification{
				Given:   []Label{L("p1", "Company")},
				Matches: []Match{M(L("p1", "Office"), Path([]Role{R("company", "Company")}, "p1"))},
			},
			CodeDuplicateLabel,
		},
		{
			"unknown anchor",
			Specification{
				Given:   []Label{L("p1", "Company")},
				Matches: []Match{M(L("u1", "Office"), Path([]Role{R("company", "Company")}, "nope"))},
			},
			CodeUnknownLabel,
		},
		{
			"match without path",
			Specification{
				Given: []Label{L("p1", "Company")},
				Matches: []Match{M(L("u1", "Office"),
					NotExists(M(L("u2", "Closure"), Path([]Role{R("office", "Office")}, "u1"))))},
			},
			CodeEmptyMatch,
		},
		{
			"untyped role",
			Specification{
				Given:   []Label{L("p1", "Company")},
				Matches: []Match{M(L("u1", "Office"), Path([]Role{R("company", "")}, "p1"))},
			},
			CodeMissingType,
		},
		{
			"projection of nested label",
			Specification{
				Given:      []Label{L("p1", "User")},
				Matches:    currentNamesSpec().Matches,
				Projection: FactProjection{Label: "u2"},
			},
			CodeUnknownLabel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			require.Error(t, err)
			assert.True(t, HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestRequireSingleGiven(t *testing.T) {
	assert.NoError(t, officesSpec().RequireSingleGiven())
	err := Specification{Given: []Label{L("a", "A"), L("b", "B")}}.RequireSingleGiven()
	assert.True(t, HasCode(err, CodeMultiGiven))
}
