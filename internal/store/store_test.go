package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/model"
)

func TestMapSetGetList(t *testing.T) {
	t.Parallel()

	m := NewMap[model.Tree](model.TableTrees)
	m.Set(model.Tree{ID: "b", Code: "B"})
	m.Set(model.Tree{ID: "a", Code: "A"})
	m.Set(model.Tree{ID: "b", Code: "B2"})

	got, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, "B2", got.Code)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, 2, m.Len())
}

func TestMapObserversSeeWritesInOrder(t *testing.T) {
	t.Parallel()

	m := NewMap[model.Farm](model.TableFarms)
	var seen []Change[model.Farm]
	unsubscribe := m.Subscribe(func(c Change[model.Farm]) { seen = append(seen, c) })

	m.Set(model.Farm{ID: "f1", Name: "one"})
	m.Delete("f1")
	m.Delete("f1") // absent, no notification
	unsubscribe()
	m.Set(model.Farm{ID: "f2"})

	require.Len(t, seen, 2)
	assert.Equal(t, ChangeSet, seen[0].Kind)
	assert.Equal(t, "one", seen[0].Value.Name)
	assert.Equal(t, ChangeDelete, seen[1].Kind)
}

func TestMapLoadDoesNotNotify(t *testing.T) {
	t.Parallel()

	m := NewMap[model.Image](model.TableImages)
	calls := 0
	m.Subscribe(func(Change[model.Image]) { calls++ })

	m.Load([]model.Image{{ID: "i1"}, {ID: "i2"}})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 2, m.Len())
}

func TestMapUpsertKeepsGuardedRecords(t *testing.T) {
	t.Parallel()

	m := NewMap[model.Tree](model.TableTrees)
	m.Set(model.Tree{ID: "t1", Code: "local"})

	n := m.Upsert([]model.Tree{{ID: "t1", Code: "remote"}, {ID: "t2", Code: "remote"}},
		func(cur model.Tree) bool { return cur.ID == "t1" })

	assert.Equal(t, 1, n)
	got, _ := m.Get("t1")
	assert.Equal(t, "local", got.Code)
	got, _ = m.Get("t2")
	assert.Equal(t, "remote", got.Code)
}

func TestMapConcurrentWrites(t *testing.T) {
	t.Parallel()

	m := NewMap[model.Tree](model.TableTrees)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			m.Set(model.Tree{ID: fmt.Sprintf("t%02d", i)})
			_ = m.List()
		})
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}

type fakeComponent struct {
	name    string
	failOn  bool
	events  *[]string
	stopped bool
}

func (f *fakeComponent) Start(context.Context) error {
	*f.events = append(*f.events, "start:"+f.name)
	if f.failOn {
		return fmt.Errorf("%s failed", f.name)
	}
	return nil
}

func (f *fakeComponent) Stop(context.Context) error {
	*f.events = append(*f.events, "stop:"+f.name)
	f.stopped = true
	return nil
}

func TestContextLifecycleOrder(t *testing.T) {
	t.Parallel()

	var events []string
	sc := NewContext()
	require.NoError(t, sc.Register("persistence", &fakeComponent{name: "persistence", events: &events}))
	require.NoError(t, sc.Register("sync", &fakeComponent{name: "sync", events: &events}))

	require.NoError(t, sc.Init(context.Background()))
	assert.True(t, sc.Running())
	require.Error(t, sc.Register("late", &fakeComponent{name: "late", events: &events}))

	require.NoError(t, sc.Dispose(context.Background()))
	require.NoError(t, sc.Dispose(context.Background()))
	assert.False(t, sc.Running())

	assert.Equal(t, []string{"start:persistence", "start:sync", "stop:sync", "stop:persistence"}, events)
}

func TestContextInitRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	var events []string
	first := &fakeComponent{name: "first", events: &events}
	sc := NewContext()
	require.NoError(t, sc.Register("first", first))
	require.NoError(t, sc.Register("second", &fakeComponent{name: "second", failOn: true, events: &events}))

	err := sc.Init(context.Background())
	require.Error(t, err)
	assert.True(t, first.stopped)
	assert.Equal(t, []string{"start:first", "start:second", "stop:first"}, events)
}

func TestContextsAreIsolated(t *testing.T) {
	t.Parallel()

	a, b := NewContext(), NewContext()
	a.Farms.Set(model.Farm{ID: "f1"})
	assert.Equal(t, 0, b.Farms.Len())

	snap := a.Snapshot()
	a.Farms.Set(model.Farm{ID: "f2"})
	assert.Len(t, snap.Farms, 1)
}
