package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/ir"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/query"
	"github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
	fixtures "github.com/roach88/factgraph/internal/testutil"
)

const postgresDSNEnv = "FACTGRAPH_TEST_POSTGRES_DSN"

func openSQLiteStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facts.db")
	s, err := Open(context.Background(), DriverSQLite, path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

// forEachDriver runs fn against SQLite and, when a DSN is configured,
// against an emptied PostgreSQL database.
func forEachDriver(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Run(DriverSQLite, func(t *testing.T) {
		s, _ := openSQLiteStore(t)
		fn(t, s)
	})
	t.Run(DriverPostgres, func(t *testing.T) {
		dsn := os.Getenv(postgresDSNEnv)
		if dsn == "" {
			t.Skipf("%s not set", postgresDSNEnv)
		}
		ctx := context.Background()
		s, err := Open(ctx, DriverPostgres, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		_, err = s.DB().ExecContext(ctx, `TRUNCATE signatures, edges, facts RESTART IDENTITY`)
		require.NoError(t, err)
		fn(t, s)
	})
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s, _ := openSQLiteStore(t)

	var journal string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)

	var foreignKeys int
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.ErrorContains(t, err, `unknown driver "oracle"`)
}

func TestOpen_ReopenKeepsFacts(t *testing.T) {
	ctx := context.Background()
	s, path := openSQLiteStore(t)
	c := fixtures.NewChores("pk1")
	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.Load(ctx, []fact.Reference{c.List.Reference()})
	require.NoError(t, err)
	assert.True(t, recs[0].Equal(c.List))

	var versions int
	require.NoError(t, reopened.DB().QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&versions))
	assert.Equal(t, 1, versions, "reopening must not record the version twice")
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	s, path := openSQLiteStore(t)
	_, err := s.DB().Exec(`INSERT INTO schema_version (version) VALUES (99)`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, DriverSQLite, path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestRebind(t *testing.T) {
	q := `SELECT seq FROM facts WHERE type = ? AND hash = ?`
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, `SELECT seq FROM facts WHERE type = $1 AND hash = $2`, postgresDialect.rebind(q))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(sqliteSchema)
	assert.Len(t, stmts, 4)
	for _, stmt := range stmts {
		assert.Contains(t, stmt, "CREATE TABLE IF NOT EXISTS")
	}
}

func TestSave_ReturnsOnlyNewFacts(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := fixtures.NewChores("pk1")

		saved, err := s.Save(ctx, fact.Envelopes(c.User, c.List, c.User))
		require.NoError(t, err)
		assert.Len(t, saved, 2)

		saved, err = s.Save(ctx, fact.Envelopes(c.User, c.List))
		require.NoError(t, err)
		assert.Empty(t, saved)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestSave_MissingPredecessorRollsBack(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := fixtures.NewChores("pk1")

		_, err := s.Save(ctx, fact.Envelopes(c.User, c.Task("dishes")))
		require.Error(t, err)
		assert.True(t, storage.IsMissingPredecessor(err))

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "no fact of a rejected batch may be written")
	})
}

func TestSave_MergesSignatures(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		user := fixtures.User("pk1")
		sigA := fact.Signature{PublicKey: "a", Signature: "1"}
		sigB := fact.Signature{PublicKey: "b", Signature: "2"}

		_, err := s.Save(ctx, []fact.Envelope{fact.NewEnvelope(user, sigA)})
		require.NoError(t, err)
		saved, err := s.Save(ctx, []fact.Envelope{fact.NewEnvelope(user, sigB, sigA)})
		require.NoError(t, err)
		assert.Empty(t, saved)

		sigs, err := s.Signatures(ctx, user.Reference())
		require.NoError(t, err)
		assert.Equal(t, []fact.Signature{sigA, sigB}, sigs)
	})
}

func TestLoad_RoundTripsFieldsAndPredecessors(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLiteStore(t, WithCacheSize(0))
	user := fixtures.User("pk1")
	first := fixtures.Name(user, "Ada")
	second := fixtures.Name(user, "Grace", first)
	rich := fact.Build("Profile").
		Field("age", ir.Int(36)).
		Field("active", ir.Bool(true)).
		Field("tags", ir.Array{ir.String("x"), ir.String("y")}).
		One("user", user.Reference()).
		MustRecord()

	_, err := s.Save(ctx, fact.Envelopes(user, first, second, rich))
	require.NoError(t, err)

	recs, err := s.Load(ctx, []fact.Reference{second.Reference(), rich.Reference()})
	require.NoError(t, err)
	assert.True(t, recs[0].Equal(second))
	assert.Equal(t, []fact.Reference{first.Reference()}, recs[0].PredecessorsOf("prior"))
	assert.True(t, recs[1].Equal(rich))
}

func TestLoad_NotFound(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		_, err := s.Load(context.Background(), []fact.Reference{{Type: "User", Hash: "missing"}})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestLoad_DetectsTamperedRow(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLiteStore(t, WithCacheSize(0))
	user := fixtures.User("pk1")
	_, err := s.Save(ctx, fact.Envelopes(user))
	require.NoError(t, err)

	_, err = s.DB().Exec(`UPDATE facts SET fields = ? WHERE hash = ?`, `{"publicKey":"mallory"}`, user.Hash())
	require.NoError(t, err)

	_, err = s.Load(ctx, []fact.Reference{user.Reference()})
	require.Error(t, err)
	assert.True(t, fact.IsIntegrityError(err))
}

func TestLoad_UsesCache(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(nil)
	s, _ := openSQLiteStore(t, WithMetrics(m), WithCacheSize(8))
	user := fixtures.User("pk1")
	_, err := s.Save(ctx, fact.Envelopes(user))
	require.NoError(t, err)
	assert.Equal(t, 1, s.cache.len())

	// Corrupting the row is invisible while the verified record is cached.
	_, err = s.DB().Exec(`UPDATE facts SET fields = '{}' WHERE hash = ?`, user.Hash())
	require.NoError(t, err)
	recs, err := s.Load(ctx, []fact.Reference{user.Reference()})
	require.NoError(t, err)
	assert.True(t, recs[0].Equal(user))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
}

func TestWhichExist(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := fixtures.NewChores("pk1")
		_, err := s.Save(ctx, fact.Envelopes(c.User))
		require.NoError(t, err)

		got, err := s.WhichExist(ctx, []fact.Reference{c.List.Reference(), c.User.Reference()})
		require.NoError(t, err)
		assert.Equal(t, []fact.Reference{c.User.Reference()}, got)
	})
}

func TestSuccessors_InsertionOrder(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := fixtures.NewChores("pk1")
		t1, t2, t3 := c.Task("c"), c.Task("a"), c.Task("b")

		_, err := s.Save(ctx, fact.Envelopes(c.User, c.List, t1))
		require.NoError(t, err)
		_, err = s.Save(ctx, fact.Envelopes(t2, t3))
		require.NoError(t, err)

		succ, err := s.Successors(ctx, c.List.Reference(), "list")
		require.NoError(t, err)
		assert.Equal(t, []fact.Reference{t1.Reference(), t2.Reference(), t3.Reference()}, succ)

		preds, err := s.Predecessors(ctx, t1.Reference(), "list")
		require.NoError(t, err)
		assert.Equal(t, []fact.Reference{c.List.Reference()}, preds)
	})
}

func TestQuery_UncompletedTasks(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := fixtures.NewChores("pk1")
		dishes, laundry := c.Task("dishes"), c.Task("laundry")
		_, err := s.Save(ctx, fact.Envelopes(c.User, c.List, dishes, laundry, fixtures.Completion(dishes)))
		require.NoError(t, err)

		q := query.MustParse(`S.list F.type="Task" N(S.task F.type="Completion")`)
		paths, err := s.Query(ctx, c.List.Reference(), q)
		require.NoError(t, err)
		assert.Equal(t, []storage.FactPath{{laundry.Reference()}}, paths)
	})
}

func TestRead_FieldProjection(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		user := fixtures.User("pk1")
		first := fixtures.Name(user, "Ada")
		second := fixtures.Name(user, "Grace", first)
		_, err := s.Save(ctx, fact.Envelopes(user, first, second))
		require.NoError(t, err)

		spec := specification.Specification{
			Given: []specification.Label{specification.L("p1", "User")},
			Matches: []specification.Match{
				specification.M(specification.L("u1", "Name"),
					specification.Path([]specification.Role{specification.R("user", "User")}, "p1"),
					specification.NotExists(specification.M(specification.L("u2", "Name"),
						specification.Path([]specification.Role{specification.R("prior", "Name")}, "u1"))),
				),
			},
			Projection: specification.FieldProjection{Label: "u1", Field: "value"},
		}
		rows, err := s.Read(ctx, []fact.Reference{user.Reference()}, spec)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, ir.String("Grace"), rows[0].Result)
		assert.Equal(t, second.Reference(), rows[0].Tuple["u1"])
	})
}

func TestSave_CountsMetrics(t *testing.T) {
	m := metrics.New(nil)
	s, _ := openSQLiteStore(t, WithMetrics(m))
	c := fixtures.NewChores("pk1")

	_, err := s.Save(context.Background(), fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FactsSaved.WithLabelValues(DriverSQLite)))
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLiteStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Save(ctx, fact.Envelopes(fixtures.User("pk1")))
	assert.ErrorIs(t, err, storage.ErrClosed)
	_, err = s.Query(ctx, fixtures.User("pk1").Reference(), query.MustParse(`S.owner F.type="List"`))
	assert.ErrorIs(t, err, storage.ErrClosed)
}
