package storage

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
)

func TestCoalesceMergesSignatures(t *testing.T) {
	user := fact.Build("User").Field("publicKey", ir.String("pk1")).MustRecord()
	list := fact.Build("List").Field("name", ir.String("chores")).MustRecord()

	sigA := fact.Signature{PublicKey: "a", Signature: "sa"}
	sigB := fact.Signature{PublicKey: "b", Signature: "sb"}

	out := Coalesce([]fact.Envelope{
		fact.NewEnvelope(user, sigA),
		fact.NewEnvelope(list),
		fact.NewEnvelope(user, sigB, sigA),
	})

	require.Len(t, out, 2)
	assert.Equal(t, user.Reference(), out[0].Reference())
	assert.Equal(t, []fact.Signature{sigA, sigB}, out[0].Signatures)
	assert.Equal(t, list.Reference(), out[1].Reference())
}

func TestCheckPredecessors(t *testing.T) {
	user := fact.Build("User").Field("publicKey", ir.String("pk1")).MustRecord()
	name := fact.Build("Name").Field("value", ir.String("A")).One("user", user.Reference()).MustRecord()

	t.Run("in batch", func(t *testing.T) {
		err := CheckPredecessors([]fact.Record{name, user}, func(fact.Reference) (bool, error) {
			t.Fatal("batch members must not be looked up")
			return false, nil
		})
		assert.NoError(t, err)
	})

	t.Run("stored", func(t *testing.T) {
		err := CheckPredecessors([]fact.Record{name}, func(ref fact.Reference) (bool, error) {
			return ref == user.Reference(), nil
		})
		assert.NoError(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		err := CheckPredecessors([]fact.Record{name}, func(fact.Reference) (bool, error) {
			return false, nil
		})
		require.Error(t, err)
		assert.True(t, IsMissingPredecessor(err))
		var mp *MissingPredecessorError
		require.ErrorAs(t, err, &mp)
		assert.Equal(t, user.Reference(), mp.Predecessor)
		assert.Equal(t, name.Reference(), mp.Fact)
	})

	t.Run("lookup error", func(t *testing.T) {
		boom := errors.New("boom")
		err := CheckPredecessors([]fact.Record{name}, func(fact.Reference) (bool, error) {
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	err := error(&NotFoundError{Ref: fact.Reference{Type: "User", Hash: "abc"}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "User:abc")
}

func TestClockIsMonotonicUnderConcurrency(t *testing.T) {
	c := NewClockAt(10)
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(c.Next(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(60), c.Current())
}

func TestFactPath(t *testing.T) {
	a := fact.Reference{Type: "A", Hash: "1"}
	b := fact.Reference{Type: "B", Hash: "2"}
	p := FactPath{a, b}

	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, b, last)
	assert.True(t, p.Equal(FactPath{a, b}))
	assert.False(t, p.Equal(FactPath{b, a}))
	assert.Equal(t, "[A:1 B:2]", p.String())

	_, ok = FactPath{}.Last()
	assert.False(t, ok)
}
