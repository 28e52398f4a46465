package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptiveString(t *testing.T) {
	tests := []struct {
		name     string
		query    Query
		expected string
	}{
		{
			name:     "successor join",
			query:    New(Succ("list"), TypeIs("Task")),
			expected: `S.list F.type="Task"`,
		},
		{
			name:     "predecessor then successor",
			query:    New(Pred("list"), TypeIs("List"), Succ("list"), TypeIs("Task")),
			expected: `P.list F.type="List" S.list F.type="Task"`,
		},
		{
			name: "negative existential",
			query: New(Pred("list"), TypeIs("List"), Succ("list"), TypeIs("Task"),
				NotExist(Succ("task"), TypeIs("Completion"))),
			expected: `P.list F.type="List" S.list F.type="Task" N(S.task F.type="Completion")`,
		},
		{
			name: "positive and negative",
			query: New(Succ("x"), TypeIs("A"),
				Exist(Succ("y"), TypeIs("B")),
				NotExist(Succ("z"), TypeIs("C"))),
			expected: `S.x F.type="A" E(S.y F.type="B") N(S.z F.type="C")`,
		},
		{
			name: "nested",
			query: New(Succ("list"), TypeIs("Task"),
				NotExist(Succ("task"), TypeIs("Completion"),
					NotExist(Succ("completion"), TypeIs("Revocation")))),
			expected: `S.list F.type="Task" N(S.task F.type="Completion" N(S.completion F.type="Revocation"))`,
		},
		{
			name:     "quoted value",
			query:    New(PropertyCondition{Name: "title", Value: `say "hi"`}),
			expected: `F.title="say \"hi\""`,
		},
		{
			name:     "empty",
			query:    New(),
			expected: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.query.String())

			parsed, err := Parse(tt.expected)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, parsed.String())
			assert.True(t, parsed.Equal(tt.query))
		})
	}
}

func TestIndependentlyBuiltQueriesRenderIdentically(t *testing.T) {
	completion := []Step{Succ("task"), TypeIs("Completion")}
	a := New(Succ("list"), TypeIs("Task"), NotExist(completion...))

	tasks := New(Succ("list"), TypeIs("Task"))
	b := tasks.Concat(New(NotExist(Succ("task"), TypeIs("Completion"))))

	assert.Equal(t, a.String(), b.String())
	assert.True(t, a.Equal(b))
}

func TestQueryIsImmutable(t *testing.T) {
	steps := []Step{Succ("list"), TypeIs("Task"), NotExist(Succ("task"), TypeIs("Completion"))}
	q := New(steps...)

	steps[0] = Pred("other")
	steps[2].(ExistentialCondition).Steps[0] = Pred("changed")
	got := q.Steps()
	got[1] = TypeIs("Changed")

	assert.Equal(t, `S.list F.type="Task" N(S.task F.type="Completion")`, q.String())
	assert.Equal(t, Succ("list"), q.Steps()[0])
}

func TestPathLength(t *testing.T) {
	q := MustParse(`P.list F.type="List" S.list F.type="Task" N(S.task F.type="Completion")`)
	assert.Equal(t, 2, q.PathLength())
	assert.Equal(t, []Join{Pred("list"), Succ("list")}, q.Joins())
	assert.True(t, q.HasConditions())
	assert.Equal(t, 0, New(TypeIs("Task")).PathLength())
}

func TestParseToleratesExtraWhitespace(t *testing.T) {
	q, err := Parse("  S.list   F.type=\"Task\"\tN( S.task F.type=\"Completion\" ) ")
	require.NoError(t, err)
	assert.Equal(t, `S.list F.type="Task" N(S.task F.type="Completion")`, q.String())
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		`S.`,
		`X.list`,
		`F.type`,
		`F.type=Task`,
		`F.type="Task`,
		`N(S.task`,
		`E()`,
		`S.list)`,
		`S`,
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(MustParse(`S.list F.type="Task"`)))

	err := Validate(New(Join{Direction: Successor}, ExistentialCondition{Quantifier: NotExists}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step[0]: join has empty role")
	assert.Contains(t, err.Error(), "step[1]: empty N condition")
}

func TestDirectionAndQuantifier(t *testing.T) {
	assert.Equal(t, Predecessor, Successor.Flip())
	assert.Equal(t, Successor, Predecessor.Flip())
	assert.Equal(t, NotExists, Exists.Negate())
	assert.Equal(t, "E", Exists.String())
	assert.Equal(t, "N", NotExists.String())
}
