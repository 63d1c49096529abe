package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// openTestAdapter opens a database in a per-test directory.
func openTestAdapter(t *testing.T, dir string, version int) *Adapter {
	t.Helper()
	a, err := Open(t.Context(), Config{Dir: dir, Name: "leafscan_test.db", SchemaVersion: version})
	require.NoError(t, err, "failed to open database")
	return a
}

func TestOpenCreatesKnownTables(t *testing.T) {
	t.Parallel()

	a := openTestAdapter(t, t.TempDir(), 1)
	defer func() { require.NoError(t, a.Close()) }()

	tables, err := a.Tables(t.Context())
	require.NoError(t, err)
	for _, name := range KnownTables {
		assert.Contains(t, tables, name)
	}
	assert.False(t, a.WasReset(), "a fresh database is not a reset")
}

func TestPutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	a := openTestAdapter(t, t.TempDir(), 1)
	defer func() { require.NoError(t, a.Close()) }()

	tree := model.Tree{ID: "t1", FarmID: "f1", Code: "A-01", Status: model.StatusActive}
	require.NoError(t, a.Put(ctx, model.TableTrees, tree.ID, tree))

	var got model.Tree
	found, err := a.Get(ctx, model.TableTrees, "t1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, tree, got)

	// upsert replaces the value
	tree.Code = "A-02"
	require.NoError(t, a.Put(ctx, model.TableTrees, tree.ID, tree))
	n, err := a.Count(ctx, model.TableTrees)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, a.Delete(ctx, model.TableTrees, "t1"))
	found, err = a.Get(ctx, model.TableTrees, "t1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSchemaVersionMismatchEmptiesAllTables(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dir := t.TempDir()

	a := openTestAdapter(t, dir, 1)
	require.NoError(t, a.Put(ctx, model.TableFarms, "f1", model.Farm{ID: "f1", Name: "North"}))
	require.NoError(t, a.Put(ctx, model.TableTrees, "t1", model.Tree{ID: "t1", FarmID: "f1"}))
	require.NoError(t, a.Put(ctx, model.TablePendingItems, "p1", model.PendingItem{ID: "p1", Status: model.PendingQueued}))
	require.NoError(t, a.Put(ctx, TableOutbox, "trees/t1", map[string]string{"op": "create"}))
	require.NoError(t, a.Close())

	// same version keeps data
	a = openTestAdapter(t, dir, 1)
	n, err := a.Count(ctx, model.TableFarms)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, a.Close())

	// new version drops everything
	a = openTestAdapter(t, dir, 2)
	defer func() { require.NoError(t, a.Close()) }()
	assert.True(t, a.WasReset())
	assert.Equal(t, 2, a.Version())
	for _, name := range KnownTables {
		n, err := a.Count(ctx, name)
		require.NoError(t, err)
		assert.Zero(t, n, "table %s should be empty after a version change", name)
	}
}

func TestOpenDropsUnknownTables(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dir := t.TempDir()

	a := openTestAdapter(t, dir, 1)
	require.NoError(t, a.db.Exec("CREATE TABLE legacy_notes (id TEXT PRIMARY KEY)").Error)
	require.NoError(t, a.Close())

	a = openTestAdapter(t, dir, 1)
	defer func() { require.NoError(t, a.Close()) }()
	tables, err := a.Tables(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tables, "legacy_notes")
}

func TestOpenRequiresName(t *testing.T) {
	t.Parallel()

	_, err := Open(t.Context(), Config{Dir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestOpenRefusesWhenQuotaExceeded(t *testing.T) {
	t.Parallel()

	_, err := Open(t.Context(), Config{Dir: t.TempDir(), Name: "x.db", MinFreeBytes: 1 << 62})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryQuota))
}

func TestBlockedDatabaseIsReported(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dir := t.TempDir()

	a := openTestAdapter(t, dir, 1)
	defer func() { require.NoError(t, a.Close()) }()

	b, err := Open(ctx, Config{Dir: dir, Name: "leafscan_test.db", SchemaVersion: 1, BusyTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	// hold an exclusive lock on the first connection
	err = a.db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, tx.Exec("INSERT INTO farms (id, value, updated_at) VALUES ('f1', '{}', CURRENT_TIMESTAMP)").Error)
		werr := b.Put(ctx, model.TableFarms, "f2", model.Farm{ID: "f2"})
		require.Error(t, werr)
		assert.True(t, IsBlocked(werr), "expected blocked error, got %v", werr)
		assert.True(t, errors.IsCategory(werr, errors.CategoryStorageBlocked))
		return nil
	})
	require.NoError(t, err)
}

func TestLoadAllSkipsUndecodableRows(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	a := openTestAdapter(t, t.TempDir(), 1)
	defer func() { require.NoError(t, a.Close()) }()

	require.NoError(t, a.Put(ctx, model.TableFarms, "f1", model.Farm{ID: "f1"}))
	require.NoError(t, a.Apply(ctx, []Op{{Table: model.TableFarms, ID: "bad", Value: []byte("{not json")}}))

	farms, err := LoadAll[model.Farm](ctx, a, model.TableFarms)
	require.NoError(t, err)
	require.Len(t, farms, 1)
	assert.Equal(t, "f1", farms[0].ID)
}

func TestWriterOrderAndDurability(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	a := openTestAdapter(t, t.TempDir(), 1)
	defer func() { require.NoError(t, a.Close()) }()

	w := NewWriter(a)
	require.NoError(t, w.Start(ctx))

	w.Submit(Op{Table: model.TableFarms, ID: "f1", Value: []byte(`{"id":"f1","name":"one"}`)})
	w.Submit(Op{Table: model.TableFarms, ID: "f1", Value: []byte(`{"id":"f1","name":"two"}`)})
	require.NoError(t, w.Do(ctx, Op{Table: model.TableTrees, ID: "t1", Value: []byte(`{"id":"t1"}`)}))

	var farm model.Farm
	found, err := a.Get(ctx, model.TableFarms, "f1", &farm)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "two", farm.Name, "later submission must win")

	require.NoError(t, w.Stop(ctx))
	err = w.Do(ctx, Op{Table: model.TableFarms, ID: "f2", Value: []byte(`{}`)})
	require.ErrorIs(t, err, ErrWriterClosed)
}

func TestMirrorPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	a := openTestAdapter(t, dir, 1)
	sc := store.NewContext()
	require.NoError(t, MirrorAll(sc, a, NewWriter(a)))
	require.NoError(t, sc.Init(ctx))

	sc.Farms.Set(model.Farm{ID: "f1", Name: "North", Status: model.StatusActive})
	sc.Trees.Set(model.Tree{ID: "t1", FarmID: "f1", Code: "A-01", Status: model.StatusActive})
	sc.Trees.Set(model.Tree{ID: "t2", FarmID: "f1", Code: "A-02", Status: model.StatusActive})
	sc.Trees.Delete("t2")

	require.NoError(t, sc.Dispose(ctx))
	require.NoError(t, a.Close())

	a = openTestAdapter(t, dir, 1)
	defer func() { require.NoError(t, a.Close()) }()
	sc2 := store.NewContext()
	w2 := NewWriter(a)
	require.NoError(t, MirrorAll(sc2, a, w2))
	require.NoError(t, sc2.Init(ctx))
	defer func() { require.NoError(t, sc2.Dispose(ctx)) }()

	farm, ok := sc2.Farms.Get("f1")
	require.True(t, ok)
	assert.Equal(t, "North", farm.Name)
	assert.Equal(t, 1, sc2.Trees.Len())
	_, ok = sc2.Trees.Get("t2")
	assert.False(t, ok)
}
