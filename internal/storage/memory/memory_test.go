package memory

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/storage"
	fixtures "github.com/roach88/factgraph/internal/testutil"
)

func TestSave_ReturnsOnlyNewFacts(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := fixtures.NewChores("pk1")

	saved, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	saved, err = s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	assert.Empty(t, saved)
	assert.Equal(t, 2, s.Len())
}

func TestSave_DuplicateInBatchStoredOnce(t *testing.T) {
	s := New()
	user := fixtures.User("pk1")

	saved, err := s.Save(context.Background(), fact.Envelopes(user, user))
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestSave_MissingPredecessorRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := fixtures.NewChores("pk1")
	task := c.Task("dishes")

	_, err := s.Save(ctx, fact.Envelopes(c.User, task))
	require.Error(t, err)
	assert.True(t, storage.IsMissingPredecessor(err))

	existing, err := s.WhichExist(ctx, []fact.Reference{c.User.Reference()})
	require.NoError(t, err)
	assert.Empty(t, existing, "no fact of a rejected batch may become visible")
}

func TestSave_MergesSignatures(t *testing.T) {
	ctx := context.Background()
	s := New()
	user := fixtures.User("pk1")
	sigA := fact.Signature{PublicKey: "a", Signature: "1"}
	sigB := fact.Signature{PublicKey: "b", Signature: "2"}

	_, err := s.Save(ctx, []fact.Envelope{fact.NewEnvelope(user, sigA)})
	require.NoError(t, err)
	saved, err := s.Save(ctx, []fact.Envelope{fact.NewEnvelope(user, sigB)})
	require.NoError(t, err)
	assert.Empty(t, saved)

	sigs, err := s.Signatures(user.Reference())
	require.NoError(t, err)
	assert.Equal(t, []fact.Signature{sigA, sigB}, sigs)
}

func TestSave_CountsMetrics(t *testing.T) {
	m := metrics.New(nil)
	s := New(WithMetrics(m))
	c := fixtures.NewChores("pk1")

	_, err := s.Save(context.Background(), fact.Envelopes(c.User, c.List, c.User))
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FactsSaved.WithLabelValues("memory")))
}

func TestLoad_NotFound(t *testing.T) {
	s := New()
	_, err := s.Load(context.Background(), []fact.Reference{{Type: "User", Hash: "missing"}})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSuccessors_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := fixtures.NewChores("pk1")
	t1, t2, t3 := c.Task("c"), c.Task("a"), c.Task("b")

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List, t1))
	require.NoError(t, err)
	_, err = s.Save(ctx, fact.Envelopes(t2, t3))
	require.NoError(t, err)

	succ, err := s.Successors(ctx, c.List.Reference(), "list")
	require.NoError(t, err)
	assert.Equal(t, []fact.Reference{t1.Reference(), t2.Reference(), t3.Reference()}, succ)
}

func TestQuery_DelegatesToMatcher(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := fixtures.NewChores("pk1")
	task := c.Task("dishes")
	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List, task))
	require.NoError(t, err)

	paths, err := s.Query(ctx, c.List.Reference(), query.MustParse(`S.list F.type="Task"`))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, storage.FactPath{task.Reference()}, paths[0])
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Save(ctx, fact.Envelopes(fixtures.User("pk1")))
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = s.WhichExist(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrClosed)
}
