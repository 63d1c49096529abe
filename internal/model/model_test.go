package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/errors"
)

func TestApplyChangesOnlySuppliedFields(t *testing.T) {
	t.Parallel()

	tree := Tree{
		ID:          "t1",
		FarmID:      "f1",
		Code:        "A-01",
		Description: "north row",
		Status:      StatusActive,
		AddedAt:     time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}

	got, err := Apply(tree, NewPatch("t1", map[string]any{"status": StatusTrashed}))
	require.NoError(t, err)

	assert.Equal(t, StatusTrashed, got.Status)
	assert.Equal(t, "A-01", got.Code)
	assert.Equal(t, "north row", got.Description)
	assert.True(t, tree.AddedAt.Equal(got.AddedAt))
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	img := Image{ID: "i1", TreeID: "t1", Data: []byte{1, 2, 3}, Status: StatusActive}
	p := NewPatch("i1", map[string]any{"status": StatusTrashed, "tree_id": "t2"})

	once, err := Apply(img, p)
	require.NoError(t, err)
	twice, err := Apply(once, p)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, []byte{1, 2, 3}, twice.Data)
}

func TestApplyNullResetsField(t *testing.T) {
	t.Parallel()

	f := Farm{ID: "f1", Name: "Orchard", Description: "old"}
	got, err := Apply(f, NewPatch("f1", map[string]any{"description": nil}))
	require.NoError(t, err)
	assert.Empty(t, got.Description)
	assert.Equal(t, "Orchard", got.Name)
}

func TestApplyRejectsUnknownAndMissingID(t *testing.T) {
	t.Parallel()

	_, err := Apply(Farm{ID: "f1"}, NewPatch("f1", map[string]any{"colour": "red"}))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = Apply(Farm{ID: "f1"}, Patch{Fields: map[string]any{"name": "x"}})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = Apply(Farm{ID: "f1"}, NewPatch("f2", map[string]any{"name": "x"}))
	require.Error(t, err)
}

func TestPatchJSONRoundTripKeepsID(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewPatch("t1", map[string]any{"status": 3}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1","status":3}`, string(raw))

	var back Patch
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "t1", back.ID)
	assert.Equal(t, []string{"status"}, back.Columns())
}

func TestPatchMerge(t *testing.T) {
	t.Parallel()

	a := NewPatch("t1", map[string]any{"status": 3, "code": "A"})
	b := NewPatch("t1", map[string]any{"status": 1})
	m := a.Merge(b)

	assert.Equal(t, 1, m.Fields["status"])
	assert.Equal(t, "A", m.Fields["code"])
	assert.Equal(t, 3, a.Fields["status"], "merge must not mutate the receiver")
}

func TestPendingStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, PendingQueued.CanTransition(PendingDone))
	assert.True(t, PendingQueued.CanTransition(PendingFailed))
	assert.False(t, PendingDone.CanTransition(PendingFailed))
	assert.False(t, PendingFailed.CanTransition(PendingQueued))
	assert.False(t, PendingDone.CanTransition(PendingQueued))
	assert.True(t, PendingFailed.Terminal())
}

func TestTrashStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, TrashPending.CanTransition(TrashDeleted))
	assert.True(t, TrashPending.CanTransition(TrashRestored))
	assert.False(t, TrashRestored.CanTransition(TrashPending))
	assert.False(t, TrashDeleted.CanTransition(TrashRestored))
}

func TestParseItemRef(t *testing.T) {
	t.Parallel()

	ref, err := ParseItemRef(ItemTypeTree, "t1")
	require.NoError(t, err)
	assert.Equal(t, TreeRef{ID: "t1"}, ref)

	ref, err = ParseItemRef(ItemTypeImage, "i1")
	require.NoError(t, err)
	assert.Equal(t, ImageRef{ID: "i1"}, ref)

	_, err = ParseItemRef(ItemType(7), "x")
	require.Error(t, err)

	_, err = ParseItemRef(ItemTypeTree, "")
	require.Error(t, err)
}
