package trash

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/store"
)

// mapWriter applies writes directly to a store map, the way an engine does
// before the push reaches the backend.
type mapWriter[T model.Record] struct {
	m      *store.Map[T]
	writes []string
}

func (w *mapWriter[T]) Update(_ context.Context, p model.Patch) (T, error) {
	cur, ok := w.m.Get(p.ID)
	if !ok {
		var zero T
		return zero, errors.Newf("%s not found", p.ID).Category(errors.CategoryNotFound).Build()
	}
	next, err := model.Apply(cur, p)
	if err != nil {
		return next, err
	}
	w.m.Set(next)
	w.writes = append(w.writes, "update:"+p.ID)
	return next, nil
}

func (w *mapWriter[T]) Create(_ context.Context, rec T) (T, error) {
	w.m.Set(rec)
	w.writes = append(w.writes, "create:"+rec.RecordID())
	return rec, nil
}

type fixture struct {
	sc     *store.Context
	mgr    *Manager
	trees  *mapWriter[model.Tree]
	images *mapWriter[model.Image]
	rows   *mapWriter[model.Trash]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc := store.NewContext()
	f := &fixture{
		sc:     sc,
		trees:  &mapWriter[model.Tree]{m: sc.Trees},
		images: &mapWriter[model.Image]{m: sc.Images},
		rows:   &mapWriter[model.Trash]{m: sc.Trash},
	}
	f.mgr = NewManager(sc, Writers{Trees: f.trees, Images: f.images, Trash: f.rows})
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.mgr.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	sc.Trees.Set(model.Tree{ID: "t1", FarmID: "f1", Code: "A-1", Status: model.StatusActive})
	sc.Trees.Set(model.Tree{ID: "t2", FarmID: "f1", Code: "A-2", Status: model.StatusActive})
	sc.Images.Set(model.Image{ID: "i1", TreeID: "t1", Status: model.StatusActive})
	sc.Images.Set(model.Image{ID: "i2", TreeID: "t1", Status: model.StatusActive})
	sc.Images.Set(model.Image{ID: "i3", TreeID: "t1", Status: model.StatusActive})
	sc.Images.Set(model.Image{ID: "i4", TreeID: "t2", Status: model.StatusActive})
	return f
}

func (f *fixture) treeStatus(id string) model.RecordStatus {
	t, _ := f.sc.Trees.Get(id)
	return t.Status
}

func (f *fixture) imageStatus(id string) model.RecordStatus {
	i, _ := f.sc.Images.Get(id)
	return i.Status
}

func TestMoveTreeToTrashCascades(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	row, err := f.mgr.MoveToTrash(t.Context(), "u1", model.TreeRef{ID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, model.StatusTrashed, f.treeStatus("t1"))
	for _, id := range []string{"i1", "i2", "i3"} {
		assert.Equal(t, model.StatusTrashed, f.imageStatus(id), id)
	}
	assert.Equal(t, model.StatusActive, f.imageStatus("i4"), "other trees are untouched")
	assert.Equal(t, model.StatusActive, f.treeStatus("t2"))

	assert.Equal(t, model.TrashPending, row.Status)
	assert.Equal(t, model.ItemTypeTree, row.ItemType)
	assert.Equal(t, []string{"i1", "i2", "i3"}, row.CascadedImageIDs)
	stored, ok := f.sc.Trash.Get(row.ID)
	require.True(t, ok)
	assert.Equal(t, row, stored)

	tree, _ := f.sc.Trees.Get("t1")
	assert.False(t, tree.UpdatedAt.IsZero(), "updated_at travels with the patch")

	// target first, then the images, then the audit row
	assert.Equal(t, []string{"update:t1"}, f.trees.writes)
	assert.Equal(t, []string{"update:i1", "update:i2", "update:i3"}, f.images.writes)
	assert.Equal(t, []string{"create:" + row.ID}, f.rows.writes)
}

func TestRestoreLeavesIndependentlyTrashedImages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	imgRow, err := f.mgr.MoveToTrash(t.Context(), "u1", model.ImageRef{ID: "i2"})
	require.NoError(t, err)
	assert.Empty(t, imgRow.CascadedImageIDs)

	treeRow, err := f.mgr.MoveToTrash(t.Context(), "u1", model.TreeRef{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"i1", "i3"}, treeRow.CascadedImageIDs)

	require.NoError(t, f.mgr.Restore(t.Context(), treeRow.ID))
	assert.Equal(t, model.StatusActive, f.treeStatus("t1"))
	assert.Equal(t, model.StatusActive, f.imageStatus("i1"))
	assert.Equal(t, model.StatusActive, f.imageStatus("i3"))
	assert.Equal(t, model.StatusTrashed, f.imageStatus("i2"), "independently trashed image stays trashed")

	row, _ := f.sc.Trash.Get(treeRow.ID)
	assert.Equal(t, model.TrashRestored, row.Status)
	assert.Len(t, f.mgr.List("u1"), 1)
}

func TestPermanentlyDeleteSkipsImagesRestoredMeanwhile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	row, err := f.mgr.MoveToTrash(t.Context(), "u1", model.TreeRef{ID: "t1"})
	require.NoError(t, err)

	// i1 was reactivated on its own after the cascade
	_, err = f.images.Update(t.Context(), model.NewPatch("i1", map[string]any{"status": model.StatusActive}))
	require.NoError(t, err)

	require.NoError(t, f.mgr.PermanentlyDelete(t.Context(), row.ID))
	assert.Equal(t, model.StatusDeleted, f.treeStatus("t1"))
	assert.Equal(t, model.StatusActive, f.imageStatus("i1"))
	assert.Equal(t, model.StatusDeleted, f.imageStatus("i2"))
	assert.Equal(t, model.StatusDeleted, f.imageStatus("i3"))

	stored, _ := f.sc.Trash.Get(row.ID)
	assert.Equal(t, model.TrashDeleted, stored.Status)
}

func TestResolvedRowsAreRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	row, err := f.mgr.MoveToTrash(t.Context(), "u1", model.ImageRef{ID: "i4"})
	require.NoError(t, err)
	require.NoError(t, f.mgr.Restore(t.Context(), row.ID))

	err = f.mgr.PermanentlyDelete(t.Context(), row.ID)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, model.StatusActive, f.imageStatus("i4"))

	err = f.mgr.Restore(t.Context(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestBulkResolveValidatesBeforeWriting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	good, err := f.mgr.MoveToTrash(t.Context(), "u1", model.TreeRef{ID: "t2"})
	require.NoError(t, err)
	writes := len(f.trees.writes)

	err = f.mgr.Restore(t.Context(), good.ID, "missing")
	require.Error(t, err)
	assert.Len(t, f.trees.writes, writes, "no write may happen when any row is invalid")
	assert.Equal(t, model.StatusTrashed, f.treeStatus("t2"))
}

func TestResolveIgnoresRepeatedIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	row, err := f.mgr.MoveToTrash(t.Context(), "u1", model.TreeRef{ID: "t2"})
	require.NoError(t, err)
	trees, images, rows := len(f.trees.writes), len(f.images.writes), len(f.rows.writes)

	require.NoError(t, f.mgr.Restore(t.Context(), row.ID, row.ID, row.ID))
	assert.Len(t, f.trees.writes, trees+1)
	assert.Len(t, f.images.writes, images+1)
	assert.Len(t, f.rows.writes, rows+1)

	stored, _ := f.sc.Trash.Get(row.ID)
	assert.Equal(t, model.TrashRestored, stored.Status)
	assert.Equal(t, model.StatusActive, f.treeStatus("t2"))
}

func TestMoveToTrashRejectsInvalidTargets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.mgr.MoveToTrash(t.Context(), "u1", model.TreeRef{ID: "nope"})
	assert.True(t, errors.IsNotFound(err))

	_, err = f.mgr.MoveToTrash(t.Context(), "u1", nil)
	assert.True(t, errors.IsValidation(err))

	_, err = f.mgr.MoveToTrash(t.Context(), "u1", model.ImageRef{ID: "i1"})
	require.NoError(t, err)
	_, err = f.mgr.MoveToTrash(t.Context(), "u1", model.ImageRef{ID: "i1"})
	assert.True(t, errors.IsValidation(err), "an item cannot be trashed twice")
}

func TestPlanHasNoSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, err := f.mgr.PlanMoveToTrash("u1", model.TreeRef{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"i1", "i2", "i3"}, p.Images)
	assert.Equal(t, model.StatusActive, f.treeStatus("t1"))
	assert.Empty(t, f.trees.writes)
	assert.Zero(t, f.sc.Trash.Len())
}
