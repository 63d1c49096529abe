// Package trash moves trees and images to the trash and back.
//
// Every operation computes its full plan from the stores before issuing any
// write. The writes themselves are independent upserts through the sync
// engines, so a reader may briefly see a trashed tree whose images are not
// trashed yet.
package trash

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/store"
	"github.com/leafscan/leafscan/internal/syncengine"
)

// Updater patches one record through its sync engine.
type Updater[T model.Record] interface {
	Update(ctx context.Context, patch model.Patch) (T, error)
}

// RowWriter creates and patches trash rows.
type RowWriter interface {
	Updater[model.Trash]
	Create(ctx context.Context, rec model.Trash) (model.Trash, error)
}

// Writers are the engines trash operations write through.
type Writers struct {
	Trees  Updater[model.Tree]
	Images Updater[model.Image]
	Trash  RowWriter
}

// WritersFrom takes the writers from a sync registry.
func WritersFrom(reg *syncengine.Registry) Writers {
	return Writers{Trees: reg.Trees, Images: reg.Images, Trash: reg.Trash}
}

// Manager runs trash operations for one store context.
type Manager struct {
	trees   *store.Map[model.Tree]
	images  *store.Map[model.Image]
	rows    *store.Map[model.Trash]
	writers Writers
	now     func() time.Time
	log     logger.Logger
}

// NewManager creates a manager over the maps of sc.
func NewManager(sc *store.Context, writers Writers) *Manager {
	return &Manager{
		trees:   sc.Trees,
		images:  sc.Images,
		rows:    sc.Trash,
		writers: writers,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.Global().Module("trash"),
	}
}

// Plan is the complete set of writes of one trash operation.
type Plan struct {
	Target       model.ItemRef
	TargetStatus model.RecordStatus
	Images       []string // cascaded image ids, sorted
	Row          model.Trash
	RowStatus    model.TrashStatus // zero when a new row is created
}

// List returns the pending trash rows of userID, newest first.
func (m *Manager) List(userID string) []model.Trash {
	rows := m.rows.Filter(func(t model.Trash) bool {
		return t.Status == model.TrashPending && (userID == "" || t.UserID == userID)
	})
	slices.SortFunc(rows, func(a, b model.Trash) int {
		return cmp.Or(b.DeletedAt.Compare(a.DeletedAt), cmp.Compare(a.ID, b.ID))
	})
	return rows
}

// PlanMoveToTrash computes the writes of MoveToTrash without applying them.
func (m *Manager) PlanMoveToTrash(userID string, ref model.ItemRef) (Plan, error) {
	if ref == nil || ref.ItemID() == "" {
		return Plan{}, errors.ValidationError("trash", "item reference is required")
	}
	status, ok := m.status(ref)
	if !ok {
		return Plan{}, notFound(ref)
	}
	if status == model.StatusTrashed || status == model.StatusDeleted {
		return Plan{}, errors.Newf("%v is already %s", ref, status).
			Component("trash").
			Category(errors.CategoryValidation).
			Build()
	}

	p := Plan{Target: ref, TargetStatus: model.StatusTrashed}
	if tr, isTree := ref.(model.TreeRef); isTree {
		for _, img := range m.images.Filter(func(i model.Image) bool {
			return i.TreeID == tr.ID && i.Status == model.StatusActive
		}) {
			p.Images = append(p.Images, img.ID)
		}
		slices.Sort(p.Images)
	}
	now := m.now()
	p.Row = model.Trash{
		ID:               uuid.NewString(),
		UserID:           userID,
		ItemID:           ref.ItemID(),
		ItemType:         ref.ItemType(),
		Status:           model.TrashPending,
		DeletedAt:        now,
		CascadedImageIDs: p.Images,
		UpdatedAt:        now,
	}
	return p, nil
}

// MoveToTrash trashes the item, and for a tree its active images, and
// appends a pending trash row recording the cascaded images.
func (m *Manager) MoveToTrash(ctx context.Context, userID string, ref model.ItemRef) (model.Trash, error) {
	p, err := m.PlanMoveToTrash(userID, ref)
	if err != nil {
		return model.Trash{}, err
	}
	if err := m.apply(ctx, p); err != nil {
		return model.Trash{}, err
	}
	m.log.Info("moved to trash",
		logger.String("item", p.Row.ItemType.String()),
		logger.String("id", p.Row.ItemID),
		logger.Int("cascaded_images", len(p.Images)))
	return p.Row, nil
}

// Restore reactivates the items of the given pending trash rows.
func (m *Manager) Restore(ctx context.Context, trashIDs ...string) error {
	return m.resolve(ctx, trashIDs, model.StatusActive, model.TrashRestored)
}

// PermanentlyDelete marks the items of the given pending trash rows deleted.
func (m *Manager) PermanentlyDelete(ctx context.Context, trashIDs ...string) error {
	return m.resolve(ctx, trashIDs, model.StatusDeleted, model.TrashDeleted)
}

// PlanResolve computes the writes of Restore or PermanentlyDelete for one row.
// Only cascaded images that are still trashed follow the tree.
func (m *Manager) PlanResolve(trashID string, target model.RecordStatus, rowStatus model.TrashStatus) (Plan, error) {
	row, ok := m.rows.Get(trashID)
	if !ok {
		return Plan{}, errors.Newf("trash row %s not found", trashID).
			Component("trash").
			Category(errors.CategoryNotFound).
			Build()
	}
	if !row.Status.CanTransition(rowStatus) {
		return Plan{}, errors.Newf("trash row %s is %s, not pending", trashID, row.Status).
			Component("trash").
			Category(errors.CategoryValidation).
			Build()
	}
	ref, err := row.Ref()
	if err != nil {
		return Plan{}, err
	}
	if _, ok := m.status(ref); !ok {
		return Plan{}, notFound(ref)
	}

	p := Plan{Target: ref, TargetStatus: target, Row: row, RowStatus: rowStatus}
	for _, id := range row.CascadedImageIDs {
		if img, ok := m.images.Get(id); ok && img.Status == model.StatusTrashed {
			p.Images = append(p.Images, id)
		}
	}
	return p, nil
}

func (m *Manager) resolve(ctx context.Context, trashIDs []string, target model.RecordStatus, rowStatus model.TrashStatus) error {
	trashIDs = unique(trashIDs)
	if len(trashIDs) == 0 {
		return nil
	}
	plans := make([]Plan, 0, len(trashIDs))
	for _, id := range trashIDs {
		p, err := m.PlanResolve(id, target, rowStatus)
		if err != nil {
			return err
		}
		plans = append(plans, p)
	}
	cascaded := 0
	for _, p := range plans {
		if err := m.apply(ctx, p); err != nil {
			return err
		}
		cascaded += len(p.Images)
	}
	m.log.Info("trash rows resolved",
		logger.Strings("trash_ids", trashIDs),
		logger.String("status", rowStatus.String()),
		logger.Int("cascaded_images", cascaded))
	return nil
}

// unique drops repeated ids, keeping the first occurrence.
func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// apply issues the writes of p: target, images, then the trash row.
func (m *Manager) apply(ctx context.Context, p Plan) error {
	now := m.now()
	fields := func() map[string]any {
		return map[string]any{"status": p.TargetStatus, "updated_at": now}
	}

	var err error
	switch ref := p.Target.(type) {
	case model.TreeRef:
		_, err = m.writers.Trees.Update(ctx, model.NewPatch(ref.ID, fields()))
	case model.ImageRef:
		_, err = m.writers.Images.Update(ctx, model.NewPatch(ref.ID, fields()))
	}
	if err != nil {
		return err
	}
	for _, id := range p.Images {
		if _, err := m.writers.Images.Update(ctx, model.NewPatch(id, fields())); err != nil {
			return err
		}
	}

	if p.RowStatus == 0 {
		_, err = m.writers.Trash.Create(ctx, p.Row)
		return err
	}
	_, err = m.writers.Trash.Update(ctx, model.NewPatch(p.Row.ID, map[string]any{
		"status":     p.RowStatus,
		"updated_at": now,
	}))
	return err
}

func (m *Manager) status(ref model.ItemRef) (model.RecordStatus, bool) {
	switch r := ref.(type) {
	case model.TreeRef:
		t, ok := m.trees.Get(r.ID)
		return t.Status, ok
	case model.ImageRef:
		i, ok := m.images.Get(r.ID)
		return i.Status, ok
	}
	return 0, false
}

func notFound(ref model.ItemRef) error {
	return errors.Newf("%v not found", ref).
		Component("trash").
		Category(errors.CategoryNotFound).
		Build()
}
