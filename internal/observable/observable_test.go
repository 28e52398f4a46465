package observable

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factgraph/internal/fact"
	"github.com/roach88/factgraph/internal/inverse"
	"github.com/roach88/factgraph/internal/ir"
	"github.com/roach88/factgraph/internal/metrics"
	"github.com/roach88/factgraph/internal/query"
	spec "github.com/roach88/factgraph/internal/specification"
	"github.com/roach88/factgraph/internal/storage"
	"github.com/roach88/factgraph/internal/storage/memory"
	"github.com/roach88/factgraph/internal/topo"
	fixtures "github.com/roach88/factgraph/internal/testutil"
)

// recorder renders deliveries as "+a b" / "-a b" using short labels.
type recorder struct {
	mu     sync.Mutex
	labels map[fact.Reference]string
	events []string
}

func newRecorder() *recorder {
	return &recorder{labels: map[fact.Reference]string{}}
}

func (r *recorder) label(name string, rec fact.Record) fact.Record {
	r.labels[rec.Reference()] = name
	return rec
}

func (r *recorder) record(sign string, path storage.FactPath) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := make([]string, len(path))
	for i, ref := range path {
		if l, ok := r.labels[ref]; ok {
			parts[i] = l
		} else {
			parts[i] = ref.String()
		}
	}
	r.events = append(r.events, sign+strings.Join(parts, " "))
}

func (r *recorder) added(_ context.Context, path storage.FactPath) error {
	r.record("+", path)
	return nil
}

func (r *recorder) removed(_ context.Context, path storage.FactPath) error {
	r.record("-", path)
	return nil
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func newSource(t *testing.T, opts ...Option) *Source {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(fixtures.NewSequentialIDs("sub")),
	}, opts...)
	return NewSource(memory.New(), opts...)
}

func subscribe(t *testing.T, s *Source, root fact.Record, q string, r *recorder) *Subscription {
	t.Helper()
	o, err := s.From(root.Reference(), query.MustParse(q))
	require.NoError(t, err)
	sub, err := o.Subscribe(context.Background(), r.added, r.removed)
	require.NoError(t, err)
	return sub
}

func chain(r *recorder) (a, b, c fact.Record) {
	a = r.label("A", fact.Build("A").Field("n", ir.Int(1)).MustRecord())
	b = r.label("B", fact.Build("B").One("a", a.Reference()).MustRecord())
	c = r.label("C", fact.Build("C").One("b", b.Reference()).MustRecord())
	return a, b, c
}

func TestSave_PathReversal(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	r := newRecorder()
	a, b, c := chain(r)

	_, err := s.Save(ctx, fact.Envelopes(a))
	require.NoError(t, err)
	subscribe(t, s, a, `S.a F.type="B" S.b F.type="C"`, r)
	assert.Empty(t, r.take())

	_, err = s.Save(ctx, fact.Envelopes(c, b))
	require.NoError(t, err)
	assert.Equal(t, []string{"+A B C"}, r.take())
}

func TestSave_WholeChainInOneBatch(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	r := newRecorder()
	a, b, c := chain(r)

	// Subscribing on a root that is not stored yet is allowed.
	subscribe(t, s, a, `S.a F.type="B" S.b F.type="C"`, r)

	saved, err := s.Save(ctx, fact.Envelopes(c, b, a))
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.Equal(t, []fact.Reference{a.Reference(), b.Reference(), c.Reference()},
		[]fact.Reference{saved[0].Reference(), saved[1].Reference(), saved[2].Reference()})
	assert.Equal(t, []string{"+A B C"}, r.take())
}

func TestSave_MissingPredecessorIsIncomplete(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	r := newRecorder()
	a, _, c := chain(r)
	subscribe(t, s, a, `S.a F.type="B" S.b F.type="C"`, r)

	_, err := s.Save(ctx, fact.Envelopes(a, c))
	require.Error(t, err)
	assert.True(t, topo.IsIncomplete(err))

	existing, err := s.WhichExist(ctx, []fact.Reference{a.Reference()})
	require.NoError(t, err)
	assert.Empty(t, existing, "an incomplete batch persists nothing")
	assert.Empty(t, r.take())
}

func TestSave_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	r := newRecorder()
	a, b, c := chain(r)
	subscribe(t, s, a, `S.a F.type="B" S.b F.type="C"`, r)

	saved, err := s.Save(ctx, fact.Envelopes(a, b, c))
	require.NoError(t, err)
	assert.Len(t, saved, 3)
	assert.Len(t, r.take(), 1)

	saved, err = s.Save(ctx, fact.Envelopes(a, b, c))
	require.NoError(t, err)
	assert.Empty(t, saved)
	assert.Empty(t, r.take())
}

func TestSave_SharedPredecessorStoredOnce(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	c := fixtures.NewChores("pk1")

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	saved, err := s.Save(ctx, fact.Envelopes(c.Task("dishes"), c.Task("laundry"), c.List))
	require.NoError(t, err)
	assert.Len(t, saved, 2)
}

const (
	uncompleted = `S.list F.type="Task" N(S.task F.type="Completion")`
	completed   = `S.list F.type="Task" E(S.task F.type="Completion")`
)

func TestExistentialNegation(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	open, done := newRecorder(), newRecorder()
	c := fixtures.NewChores("pk1")
	task := c.Task("dishes")
	for _, r := range []*recorder{open, done} {
		r.label("L", c.List)
		r.label("T", task)
	}

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	subscribe(t, s, c.List, uncompleted, open)
	subscribe(t, s, c.List, completed, done)

	_, err = s.Save(ctx, fact.Envelopes(task))
	require.NoError(t, err)
	assert.Equal(t, []string{"+L T"}, open.take())
	assert.Empty(t, done.take())

	_, err = s.Save(ctx, fact.Envelopes(fixtures.Completion(task)))
	require.NoError(t, err)
	assert.Equal(t, []string{"-L T"}, open.take())
	assert.Equal(t, []string{"+L T"}, done.take())

	// A second completion changes nothing.
	second := fact.Build("Completion").Field("by", ir.String("bob")).One("task", task.Reference()).MustRecord()
	_, err = s.Save(ctx, fact.Envelopes(second))
	require.NoError(t, err)
	assert.Empty(t, open.take())
	assert.Empty(t, done.take())
}

func TestExistentialNegation_SameBatch(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	open := newRecorder()
	c := fixtures.NewChores("pk1")
	task := open.label("T", c.Task("dishes"))
	open.label("L", c.List)

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	subscribe(t, s, c.List, uncompleted, open)

	_, err = s.Save(ctx, fact.Envelopes(fixtures.Completion(task), task))
	require.NoError(t, err)
	assert.Equal(t, []string{"+L T", "-L T"}, open.take())
}

func TestPropertyOnlyConditionBeforeJoin(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	r := newRecorder()
	c := fixtures.NewChores("pk1")
	r.label("L", c.List)
	open := r.label("open", fact.Build("Task").Field("done", ir.String("false")).One("list", c.List.Reference()).MustRecord())
	closed := r.label("closed", fact.Build("Task").Field("done", ir.String("true")).One("list", c.List.Reference()).MustRecord())
	noteOn := func(task fact.Record) fact.Record {
		return fact.Build("Note").Field("text", ir.String(r.labels[task.Reference()])).One("task", task.Reference()).MustRecord()
	}
	openNote := r.label("N1", noteOn(open))
	closedNote := r.label("N2", noteOn(closed))

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List, open, closed))
	require.NoError(t, err)
	subscribe(t, s, c.List, `S.list F.type="Task" N(F.done="true") S.task F.type="Note"`, r)
	assert.Empty(t, r.take())

	_, err = s.Save(ctx, fact.Envelopes(openNote, closedNote))
	require.NoError(t, err)
	assert.Equal(t, []string{"+L open N1"}, r.take())

	rows, err := s.Query(ctx, c.List.Reference(), query.MustParse(`S.list F.type="Task" N(F.done="true") S.task F.type="Note"`))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, openNote.Reference(), rows[0][1])
}

func TestNestedConditions(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	r := newRecorder()
	c := fixtures.NewChores("pk1")
	task := r.label("T", c.Task("dishes"))
	r.label("L", c.List)
	completion := fixtures.Completion(task)

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List, task))
	require.NoError(t, err)
	subscribe(t, s, c.List, `S.list F.type="Task" N(S.task F.type="Completion" N(S.completion F.type="Revocation"))`, r)
	assert.Equal(t, []string{"+L T"}, r.take())

	_, err = s.Save(ctx, fact.Envelopes(completion))
	require.NoError(t, err)
	assert.Equal(t, []string{"-L T"}, r.take())

	_, err = s.Save(ctx, fact.Envelopes(fixtures.Revocation(completion)))
	require.NoError(t, err)
	assert.Equal(t, []string{"+L T"}, r.take())
}

func namesSpec() spec.Specification {
	return spec.Specification{
		Given: []spec.Label{spec.L("p1", "User")},
		Matches: []spec.Match{
			spec.M(spec.L("u1", "Name"), spec.Path([]spec.Role{spec.R("user", "User")}, "p1")),
		},
		Projection: spec.FieldProjection{Label: "u1", Field: "value"},
	}
}

func currentNamesSpec() spec.Specification {
	s := namesSpec()
	s.Matches = []spec.Match{
		spec.M(spec.L("u1", "Name"),
			spec.Path([]spec.Role{spec.R("user", "User")}, "p1"),
			spec.NotExists(spec.M(spec.L("u2", "Name"), spec.Path([]spec.Role{spec.R("prior", "Name")}, "u1"))),
		),
	}
	return s
}

func TestUserNameScenario(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	r := newRecorder()
	user := r.label("U", fixtures.User("pk1"))
	nameA := r.label("A", fixtures.Name(user, "A"))
	nameB := r.label("B", fixtures.Name(user, "B", nameA))

	o, err := s.FromSpecification(user.Reference(), currentNamesSpec())
	require.NoError(t, err)
	_, err = o.Subscribe(ctx, r.added, r.removed)
	require.NoError(t, err)

	saved, err := s.Save(ctx, fact.Envelopes(nameB, nameA, user))
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.Equal(t, nameA.Reference(), saved[1].Reference(), "Name A is ordered before Name B")
	assert.Equal(t, nameB.Reference(), saved[2].Reference())

	assert.Equal(t, []string{"+U A", "-U A", "+U B"}, r.take())

	all, err := s.Read(ctx, []fact.Reference{user.Reference()}, namesSpec())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ir.String("A"), all[0].Result)
	assert.Equal(t, ir.String("B"), all[1].Result)

	current, err := s.Read(ctx, []fact.Reference{user.Reference()}, currentNamesSpec())
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, ir.String("B"), current[0].Result)
}

func TestSubscribe_InitialLoad(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	r := newRecorder()
	c := fixtures.NewChores("pk1")
	r.label("L", c.List)
	dishes := r.label("dishes", c.Task("dishes"))
	laundry := r.label("laundry", c.Task("laundry"))

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List, dishes, laundry, fixtures.Completion(laundry)))
	require.NoError(t, err)

	subscribe(t, s, c.List, uncompleted, r)
	assert.Equal(t, []string{"+L dishes"}, r.take())
}

func TestListenerFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(nil)
	s := newSource(t, WithMetrics(m))
	r := newRecorder()
	a, b, c := chain(r)
	q := query.MustParse(`S.a F.type="B" S.b F.type="C"`)

	o, err := s.From(a.Reference(), q)
	require.NoError(t, err)
	_, err = o.Subscribe(ctx, func(context.Context, storage.FactPath) error { return errors.New("boom") }, nil)
	require.NoError(t, err)
	_, err = o.Subscribe(ctx, func(context.Context, storage.FactPath) error { panic("kaboom") }, nil)
	require.NoError(t, err)
	_, err = o.Subscribe(ctx, r.added, r.removed)
	require.NoError(t, err)

	_, err = s.Save(ctx, fact.Envelopes(a, b, c))
	require.NoError(t, err, "listener failures never fail the save")
	assert.Equal(t, []string{"+A B C"}, r.take())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues(metrics.StageHandler)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Notifications.WithLabelValues(metrics.KindAdded)))
}

var errLookup = errors.New("lookup failed")

// failingStore fails Successors under the given roles, and every graph
// lookup once broken is set.
type failingStore struct {
	Store
	roles  map[string]bool
	broken atomic.Bool
}

func newFailingStore(roles ...string) *failingStore {
	f := &failingStore{Store: memory.New(), roles: map[string]bool{}}
	for _, role := range roles {
		f.roles[role] = true
	}
	return f
}

func (f *failingStore) Load(ctx context.Context, refs []fact.Reference) ([]fact.Record, error) {
	if f.broken.Load() {
		return nil, errLookup
	}
	return f.Store.Load(ctx, refs)
}

func (f *failingStore) Predecessors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	if f.broken.Load() {
		return nil, errLookup
	}
	return f.Store.Predecessors(ctx, ref, role)
}

func (f *failingStore) Successors(ctx context.Context, ref fact.Reference, role string) ([]fact.Reference, error) {
	if f.broken.Load() || f.roles[role] {
		return nil, errLookup
	}
	return f.Store.Successors(ctx, ref, role)
}

func TestStorageFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(nil)
	s := NewSource(newFailingStore("task", "user"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(m),
	)
	c, other := fixtures.NewChores("pk1"), fixtures.NewChores("pk2")
	open, all, lists := newRecorder(), newRecorder(), newRecorder()
	task := c.Task("dishes")
	for _, r := range []*recorder{open, all} {
		r.label("L", c.List)
		r.label("T", task)
	}
	lists.label("U", other.User)
	lists.label("L", other.List)

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	subscribe(t, s, c.List, uncompleted, open)
	subscribe(t, s, c.List, `S.list F.type="Task"`, all)
	subscribe(t, s, other.User, `S.owner F.type="List"`, lists)
	var names [][]storage.ProjectedResult
	_, err = s.AddSpecificationListener(namesSpec(), func(_ context.Context, results []storage.ProjectedResult) error {
		names = append(names, results)
		return nil
	})
	require.NoError(t, err)

	// The uncompleted rule walks S.task from the new task and fails there.
	_, err = s.Save(ctx, fact.Envelopes(task))
	require.NoError(t, err, "storage failures during notification never fail the save")
	assert.Empty(t, open.take())
	assert.Equal(t, []string{"+L T"}, all.take())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues(metrics.StageAdded)))

	// Reading names from the new user walks S.user and fails there.
	_, err = s.Save(ctx, fact.Envelopes(other.User, other.List))
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, []string{"+U L"}, lists.take())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues(metrics.StageRead)))
}

func TestFailuresSkipDisposedListeners(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(nil)
	logs := &logBuffer{}
	store := newFailingStore()
	s := NewSource(store, WithLogger(slog.New(slog.NewTextHandler(logs, nil))), WithMetrics(m))
	c := fixtures.NewChores("pk1")
	task := c.Task("dishes")

	rules, err := inverse.InvertFrom("List", query.MustParse(`S.list F.type="Task"`))
	require.NoError(t, err)
	r := newRecorder()
	live := &pathListener{id: "live-1", root: c.List.Reference(), onAdded: r.added, disposed: &atomic.Bool{}}
	gone := &pathListener{id: "gone-1", root: c.List.Reference(), onAdded: r.added, disposed: &atomic.Bool{}}
	gone.disposed.Store(true)

	store.broken.Store(true)
	snap := ruleSnapshot{rule: rules[0], listeners: []*pathListener{live, gone}}
	s.notifyRule(ctx, visibility{Graph: store}, task, snap)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues(metrics.StageAffected)))
	assert.Contains(t, logs.String(), "live-1")
	assert.NotContains(t, logs.String(), "gone-1")
	assert.Empty(t, r.take())

	// Nothing is walked or counted once every listener is disposed.
	live.disposed.Store(true)
	s.notifyRule(ctx, visibility{Graph: store}, task, snap)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationFailures.WithLabelValues(metrics.StageAffected)))
}

// logBuffer is a bytes.Buffer safe for concurrent use.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSaveWaitingOnCallbackIsLogged(t *testing.T) {
	ctx := context.Background()
	logs := &logBuffer{}
	s := newSource(t, WithLogger(slog.New(slog.NewTextHandler(logs, nil))))
	c, other := fixtures.NewChores("pk1"), fixtures.NewChores("pk2")

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)

	done := make(chan error, 1)
	o, err := s.From(c.List.Reference(), query.MustParse(`S.list F.type="Task"`))
	require.NoError(t, err)
	_, err = o.Subscribe(ctx, func(context.Context, storage.FactPath) error {
		// A save with a fresh context waits for this callback to return.
		go func() {
			_, err := s.Save(context.Background(), fact.Envelopes(other.User))
			done <- err
		}()
		assert.Eventually(t, func() bool {
			return strings.Contains(logs.String(), "save waiting for a listener callback")
		}, time.Second, 5*time.Millisecond)
		return nil
	}, nil)
	require.NoError(t, err)

	_, err = s.Save(ctx, fact.Envelopes(c.Task("dishes")))
	require.NoError(t, err)
	require.NoError(t, <-done)

	existing, err := s.WhichExist(ctx, []fact.Reference{other.User.Reference()})
	require.NoError(t, err)
	assert.Len(t, existing, 1)
}

func TestDispose(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(nil)
	s := newSource(t, WithMetrics(m))
	r := newRecorder()
	a, b, c := chain(r)

	sub := subscribe(t, s, a, `S.a F.type="B" S.b F.type="C"`, r)
	assert.Equal(t, "sub-1", sub.ID())
	buckets, listeners := s.registry.size()
	assert.Equal(t, 2, buckets)
	assert.Equal(t, 2, listeners)

	sub.Dispose()
	sub.Dispose()
	buckets, listeners = s.registry.size()
	assert.Zero(t, buckets)
	assert.Zero(t, listeners)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Listeners.WithLabelValues("path")))

	_, err := s.Save(ctx, fact.Envelopes(a, b, c))
	require.NoError(t, err)
	assert.Empty(t, r.take())
}

func TestListenersShareBuckets(t *testing.T) {
	s := newSource(t)
	c := fixtures.NewChores("pk1")
	other := fixtures.NewChores("pk2")

	first := subscribe(t, s, c.List, uncompleted, newRecorder())
	subscribe(t, s, other.List, uncompleted, newRecorder())

	buckets, listeners := s.registry.size()
	assert.Equal(t, 2, buckets, "one bucket per rule, shared across roots")
	assert.Equal(t, 4, listeners)

	first.Dispose()
	buckets, listeners = s.registry.size()
	assert.Equal(t, 2, buckets)
	assert.Equal(t, 2, listeners)
}

func TestRootsAreStrictlyFiltered(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	mine, theirs := fixtures.NewChores("pk1"), fixtures.NewChores("pk2")
	r := newRecorder()
	subscribe(t, s, mine.List, `S.list F.type="Task"`, r)

	_, err := s.Save(ctx, fact.Envelopes(theirs.User, theirs.List, theirs.Task("x")))
	require.NoError(t, err)
	assert.Empty(t, r.take())
}

func TestReentrantSave(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	c := fixtures.NewChores("pk1")
	done := newRecorder()
	done.label("L", c.List)

	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)
	subscribe(t, s, c.List, completed, done)

	// Completes every task as soon as it appears.
	o, err := s.From(c.List.Reference(), query.MustParse(`S.list F.type="Task"`))
	require.NoError(t, err)
	_, err = o.Subscribe(ctx, func(ctx context.Context, path storage.FactPath) error {
		task, err := s.Load(ctx, path[1:])
		if err != nil {
			return err
		}
		_, err = s.Save(ctx, fact.Envelopes(fixtures.Completion(task[0])))
		return err
	}, nil)
	require.NoError(t, err)

	task := done.label("T", c.Task("dishes"))
	_, err = s.Save(ctx, fact.Envelopes(task))
	require.NoError(t, err)
	assert.Equal(t, []string{"+L T"}, done.take())
}

func TestSpecificationListener(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	user := fixtures.User("pk1")

	ownerOfName := spec.Specification{
		Given: []spec.Label{spec.L("p1", "Name")},
		Matches: []spec.Match{
			spec.M(spec.L("u1", "User"), spec.Path(nil, "p1", spec.R("user", "User"))),
		},
		Projection: spec.FactProjection{Label: "u1"},
	}

	var got [][]storage.ProjectedResult
	h, err := s.AddSpecificationListener(ownerOfName, func(_ context.Context, results []storage.ProjectedResult) error {
		got = append(got, results)
		return nil
	})
	require.NoError(t, err)

	_, err = s.Save(ctx, fact.Envelopes(user, fixtures.Name(user, "A")))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0], 1)
	assert.Equal(t, user.Reference(), got[0][0].Result)

	s.RemoveSpecificationListener(h)
	s.RemoveSpecificationListener(h)
	_, err = s.Save(ctx, fact.Envelopes(fixtures.Name(user, "B")))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRegistrationRejectsMalformed(t *testing.T) {
	s := newSource(t)
	user := fixtures.User("pk1")

	_, err := s.From(user.Reference(), query.MustParse(`F.type="User"`))
	assert.True(t, spec.HasCode(err, spec.CodeNoSteps))

	_, err = s.From(user.Reference(), query.MustParse(`S.user`))
	assert.True(t, spec.HasCode(err, spec.CodeMissingType))

	twoGivens := namesSpec()
	twoGivens.Given = append(twoGivens.Given, spec.L("p2", "User"))
	_, err = s.FromSpecification(user.Reference(), twoGivens)
	assert.True(t, spec.HasCode(err, spec.CodeMultiGiven))
	_, err = s.AddSpecificationListener(twoGivens, func(context.Context, []storage.ProjectedResult) error { return nil })
	assert.True(t, spec.HasCode(err, spec.CodeMultiGiven))

	_, err = s.FromSpecification(fixtures.NewChores("pk1").List.Reference(), namesSpec())
	assert.Error(t, err)
}

func TestConcurrentRegistrationDuringSave(t *testing.T) {
	ctx := context.Background()
	s := newSource(t)
	c := fixtures.NewChores("pk1")
	_, err := s.Save(ctx, fact.Envelopes(c.User, c.List))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			o, err := s.From(c.List.Reference(), query.MustParse(uncompleted))
			if !assert.NoError(t, err) {
				return
			}
			sub, err := o.Subscribe(ctx, func(context.Context, storage.FactPath) error { return nil }, nil)
			if assert.NoError(t, err) {
				sub.Dispose()
			}
		}()
		go func(i int) {
			defer wg.Done()
			_, err := s.Save(ctx, fact.Envelopes(c.Task(strings.Repeat("t", i+1))))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	buckets, listeners := s.registry.size()
	assert.Zero(t, buckets)
	assert.Zero(t, listeners)
}
