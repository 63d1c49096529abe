package syncengine

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/persistence"
	"github.com/leafscan/leafscan/internal/remote"
	"github.com/leafscan/leafscan/internal/retry"
	"github.com/leafscan/leafscan/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errOffline = errors.New(errors.NewStd("connection refused")).
	Component("test").
	Category(errors.CategoryNetwork).
	Build()

// fakeService is an in-memory remote collection.
type fakeService[T model.Record] struct {
	mu         sync.Mutex
	records    map[string]T
	failures   int // calls failing with errOffline before succeeding
	rejections int // calls failing with a validation error before succeeding
	lists      []remote.Scope
	creates    []string
	updates    []model.Patch
}

func newFakeService[T model.Record]() *fakeService[T] {
	return &fakeService[T]{records: make(map[string]T)}
}

func (f *fakeService[T]) fail() error {
	if f.rejections > 0 {
		f.rejections--
		return errors.ValidationError("test", "rejected")
	}
	if f.failures > 0 {
		f.failures--
		return errOffline
	}
	return nil
}

func (f *fakeService[T]) List(_ context.Context, scope remote.Scope) ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, scope)
	if err := f.fail(); err != nil {
		return nil, err
	}
	var out []T
	for _, r := range f.records {
		if r.ModifiedAt().After(scope.Since) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b T) int { return a.ModifiedAt().Compare(b.ModifiedAt()) })
	return out, nil
}

func (f *fakeService[T]) Create(_ context.Context, rec T) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	if err := f.fail(); err != nil {
		return zero, err
	}
	f.creates = append(f.creates, rec.RecordID())
	if _, ok := f.records[rec.RecordID()]; ok {
		return zero, remote.ErrAlreadyExists
	}
	f.records[rec.RecordID()] = rec
	return rec, nil
}

func (f *fakeService[T]) Update(_ context.Context, patch model.Patch) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	if err := f.fail(); err != nil {
		return zero, err
	}
	f.updates = append(f.updates, patch)
	cur, ok := f.records[patch.ID]
	if !ok {
		return zero, errors.Newf("missing").Component("test").Category(errors.CategoryNotFound).Build()
	}
	merged, err := model.Apply(cur, patch)
	if err != nil {
		return zero, err
	}
	f.records[patch.ID] = merged
	return merged, nil
}

func (f *fakeService[T]) put(rec T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.RecordID()] = rec
}

func (f *fakeService[T]) get(id string) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	return r, ok
}

type testEnv struct {
	dir     string
	adapter *persistence.Adapter
	writer  *persistence.Writer
	sc      *store.Context
}

// newTestEnv opens storage in dir with a started writer.
func newTestEnv(t *testing.T, dir string) *testEnv {
	t.Helper()
	a, err := persistence.Open(t.Context(), persistence.Config{Dir: dir, Name: "sync_test.db"})
	require.NoError(t, err)
	w := persistence.NewWriter(a)
	require.NoError(t, w.Start(t.Context()))
	env := &testEnv{dir: dir, adapter: a, writer: w, sc: store.NewContext()}
	t.Cleanup(env.close)
	return env
}

func (e *testEnv) close() {
	_ = e.writer.Stop(context.Background())
	_ = e.adapter.Close()
}

func newFarmEngine(env *testEnv, svc remote.Service[model.Farm]) *Engine[model.Farm] {
	return New(Config[model.Farm]{
		Service: svc,
		Map:     env.sc.Farms,
		Policy:  retry.Forever(5 * time.Millisecond),
		Adapter: env.adapter,
		Writer:  env.writer,
		Scope:   func() remote.Scope { return remote.Scope{UserID: "u1"} },
	})
}

func startEngine[T model.Record](t *testing.T, e *Engine[T]) {
	t.Helper()
	require.NoError(t, e.Start(t.Context()))
	t.Cleanup(func() { require.NoError(t, e.Stop(context.Background())) })
}

func flush(t *testing.T, s Syncer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func TestCreateIsVisibleImmediatelyAndPushedAfterFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	svc.failures = 3
	e := newFarmEngine(env, svc)
	startEngine(t, e)

	_, err := e.Create(t.Context(), model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	require.NoError(t, err)

	local, ok := env.sc.Farms.Get("f1")
	require.True(t, ok, "optimistic write must be visible before the push")
	assert.Equal(t, "North", local.Name)

	flush(t, e)
	remoteRec, ok := svc.get("f1")
	require.True(t, ok)
	assert.Equal(t, "North", remoteRec.Name)
	assert.Zero(t, e.Pending())

	n, err := env.adapter.Count(t.Context(), persistence.TableOutbox)
	require.NoError(t, err)
	assert.Zero(t, n, "acknowledged entries leave the durable outbox")
}

func TestCreateRejectsMissingID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	e := newFarmEngine(env, newFakeService[model.Farm]())

	_, err := e.Create(t.Context(), model.Farm{Name: "no id"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Zero(t, env.sc.Farms.Len())

	_, err = e.Update(t.Context(), model.NewPatch("", map[string]any{"name": "x"}))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestCreateThenUpdateCoalesceIntoOneCreate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	e := newFarmEngine(env, svc)

	// worker not started: entries accumulate
	_, err := e.Create(t.Context(), model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	require.NoError(t, err)
	_, err = e.Update(t.Context(), model.NewPatch("f1", map[string]any{"address": "Road 1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Pending())

	startEngine(t, e)
	flush(t, e)

	assert.Equal(t, []string{"f1"}, svc.creates)
	assert.Empty(t, svc.updates)
	rec, _ := svc.get("f1")
	assert.Equal(t, "Road 1", rec.Address)
	assert.Equal(t, "North", rec.Name)
}

func TestUpdatesCoalesceIntoMergedPatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	svc.put(model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	env.sc.Farms.Set(model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	e := newFarmEngine(env, svc)

	_, err := e.Update(t.Context(), model.NewPatch("f1", map[string]any{"name": "North orchard"}))
	require.NoError(t, err)
	_, err = e.Update(t.Context(), model.NewPatch("f1", map[string]any{"status": model.StatusTrashed}))
	require.NoError(t, err)

	startEngine(t, e)
	flush(t, e)

	require.Len(t, svc.updates, 1)
	assert.Equal(t, []string{"name", "status"}, svc.updates[0].Columns())
	rec, _ := svc.get("f1")
	assert.Equal(t, "North orchard", rec.Name)
	assert.Equal(t, model.StatusTrashed, rec.Status)
}

func TestUpdateIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	env.sc.Farms.Set(model.Farm{ID: "f1", Name: "North", Address: "Road 1"})
	e := newFarmEngine(env, newFakeService[model.Farm]())

	patch := model.NewPatch("f1", map[string]any{"name": "South"})
	first, err := e.Update(t.Context(), patch)
	require.NoError(t, err)
	second, err := e.Update(t.Context(), patch)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "Road 1", second.Address)
}

func TestUpdateOfUnknownRecordIsNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	e := newFarmEngine(env, newFakeService[model.Farm]())
	_, err := e.Update(t.Context(), model.NewPatch("nope", map[string]any{"name": "x"}))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestCreateConflictIsResentAsUpdate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	svc.put(model.Farm{ID: "f1", UserID: "u1", Name: "stale"})
	e := newFarmEngine(env, svc)
	startEngine(t, e)

	_, err := e.Create(t.Context(), model.Farm{ID: "f1", UserID: "u1", Name: "fresh"})
	require.NoError(t, err)
	flush(t, e)

	rec, _ := svc.get("f1")
	assert.Equal(t, "fresh", rec.Name)
	require.Len(t, svc.updates, 1)
}

func TestRejectedChangeIsRetriedUntilAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	svc.rejections = 3
	e := newFarmEngine(env, svc)
	startEngine(t, e)

	_, err := e.Create(t.Context(), model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	require.NoError(t, err)
	flush(t, e)

	rec, ok := svc.get("f1")
	require.True(t, ok, "rejected create must reach the backend eventually")
	assert.Equal(t, "North", rec.Name)
	assert.Equal(t, []string{"f1"}, svc.creates)
	assert.Zero(t, e.Pending())
}

func TestUpdateOfRecordMissingRemotelyStaysQueued(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	env.sc.Farms.Set(model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	e := newFarmEngine(env, svc)
	startEngine(t, e)

	_, err := e.Update(t.Context(), model.NewPatch("f1", map[string]any{"name": "South"}))
	require.NoError(t, err)

	// the backend answers not found until the record arrives there
	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.updates) >= 2
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, e.Pending())

	svc.put(model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	flush(t, e)

	rec, _ := svc.get("f1")
	assert.Equal(t, "South", rec.Name)
	assert.Zero(t, e.Pending())
}

func TestBoundedPolicyKeepsChangeQueued(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	svc.failures = 4
	e := New(Config[model.Farm]{
		Service: svc,
		Map:     env.sc.Farms,
		Policy:  retry.Policy{MaxAttempts: 2, Delay: time.Millisecond},
		Adapter: env.adapter,
		Writer:  env.writer,
		Scope:   func() remote.Scope { return remote.Scope{UserID: "u1"} },
	})
	startEngine(t, e)

	_, err := e.Create(t.Context(), model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	require.NoError(t, err)
	flush(t, e)

	_, ok := svc.get("f1")
	assert.True(t, ok)
}

func TestOutboxSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	env := newTestEnv(t, dir)
	svc := newFakeService[model.Farm]()
	e := newFarmEngine(env, svc)

	_, err := e.Create(t.Context(), model.Farm{ID: "f1", UserID: "u1", Name: "North"})
	require.NoError(t, err)
	env.close()

	env2 := newTestEnv(t, dir)
	e2 := newFarmEngine(env2, svc)
	startEngine(t, e2)
	flush(t, e2)

	_, ok := svc.get("f1")
	assert.True(t, ok, "change queued before restart is pushed after it")
}

func TestSyncMergesWithoutRemovingAndKeepsPendingLocal(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.put(model.Farm{ID: "f1", UserID: "u1", Name: "remote f1", UpdatedAt: base})
	svc.put(model.Farm{ID: "f2", UserID: "u1", Name: "remote f2", UpdatedAt: base.Add(time.Hour)})

	env.sc.Farms.Set(model.Farm{ID: "local-only", UserID: "u1", Name: "never synced"})
	env.sc.Farms.Set(model.Farm{ID: "f2", UserID: "u1", Name: "old"})

	e := newFarmEngine(env, svc)
	// f2 has a queued local change, the worker is not running
	_, err := e.Update(t.Context(), model.NewPatch("f2", map[string]any{"name": "local edit"}))
	require.NoError(t, err)

	n, err := e.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f1, _ := env.sc.Farms.Get("f1")
	assert.Equal(t, "remote f1", f1.Name)
	f2, _ := env.sc.Farms.Get("f2")
	assert.Equal(t, "local edit", f2.Name)
	_, ok := env.sc.Farms.Get("local-only")
	assert.True(t, ok, "sync never removes local records")

	// the next sync asks only for newer changes
	_, err = e.Sync(t.Context())
	require.NoError(t, err)
	require.Len(t, svc.lists, 2)
	assert.True(t, svc.lists[0].Since.IsZero())
	assert.Equal(t, base.Add(time.Hour), svc.lists[1].Since)
}

func TestSyncWithEmptyParentScopeSkipsRequest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Tree]()
	e := New(Config[model.Tree]{
		Service: svc,
		Map:     env.sc.Trees,
		Adapter: env.adapter,
		Writer:  env.writer,
		Scope:   func() remote.Scope { return remote.Scope{ParentColumn: "farm_id"} },
	})

	n, err := e.Sync(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, svc.lists)
}

func TestSyncRetriesFailedList(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	svc.put(model.Farm{ID: "f1", UserID: "u1", Name: "North", UpdatedAt: time.Now().UTC()})
	svc.failures = 2
	e := newFarmEngine(env, svc)

	n, err := e.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, svc.lists, 3)
	_, ok := env.sc.Farms.Get("f1")
	assert.True(t, ok)
}

func TestSyncStopsRetryingWhenCancelled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, t.TempDir())
	svc := newFakeService[model.Farm]()
	svc.failures = 1 << 20
	e := newFarmEngine(env, svc)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	_, err := e.Sync(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
