package persistence

import (
	"context"
	"encoding/json"

	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/store"
)

// Mirror keeps one store.Map and its table in step: Start hydrates the map
// from the table, then every change to the map is written through the Writer.
type Mirror[T model.Record] struct {
	m           *store.Map[T]
	adapter     *Adapter
	writer      *Writer
	log         logger.Logger
	unsubscribe func()
}

// NewMirror binds m to the table of the same name.
func NewMirror[T model.Record](a *Adapter, w *Writer, m *store.Map[T]) *Mirror[T] {
	return &Mirror[T]{
		m:       m,
		adapter: a,
		writer:  w,
		log:     logger.Global().Module("persistence").Module("mirror").With(logger.String("table", m.Name())),
	}
}

// Start loads the stored records into the map and subscribes to changes.
func (mr *Mirror[T]) Start(ctx context.Context) error {
	recs, err := LoadAll[T](ctx, mr.adapter, mr.m.Name())
	if err != nil {
		return err
	}
	mr.m.Load(recs)
	mr.unsubscribe = mr.m.Subscribe(mr.onChange)
	mr.log.Debug("store hydrated", logger.Int("records", len(recs)))
	return nil
}

// Stop unsubscribes; already submitted writes are completed by the Writer.
func (mr *Mirror[T]) Stop(context.Context) error {
	if mr.unsubscribe != nil {
		mr.unsubscribe()
		mr.unsubscribe = nil
	}
	return nil
}

func (mr *Mirror[T]) onChange(c store.Change[T]) {
	if c.Kind == store.ChangeDelete {
		mr.writer.Submit(Op{Table: mr.m.Name(), ID: c.ID, Delete: true})
		return
	}
	raw, err := json.Marshal(c.Value)
	if err != nil {
		mr.log.Error("cannot encode record", logger.String("id", c.ID), logger.Error(err))
		return
	}
	mr.writer.Submit(Op{Table: mr.m.Name(), ID: c.ID, Value: raw})
}

// MirrorAll registers the writer and one mirror per entity map of sc.
// The writer is registered first so it starts before and stops after the mirrors.
func MirrorAll(sc *store.Context, a *Adapter, w *Writer) error {
	regs := []struct {
		name string
		comp store.Component
	}{
		{"persistence.writer", w},
		{"mirror." + sc.Farms.Name(), NewMirror(a, w, sc.Farms)},
		{"mirror." + sc.Trees.Name(), NewMirror(a, w, sc.Trees)},
		{"mirror." + sc.Images.Name(), NewMirror(a, w, sc.Images)},
		{"mirror." + sc.Analyses.Name(), NewMirror(a, w, sc.Analyses)},
		{"mirror." + sc.AnalyzedImages.Name(), NewMirror(a, w, sc.AnalyzedImages)},
		{"mirror." + sc.DiseasesIdentified.Name(), NewMirror(a, w, sc.DiseasesIdentified)},
		{"mirror." + sc.Diseases.Name(), NewMirror(a, w, sc.Diseases)},
		{"mirror." + sc.Feedbacks.Name(), NewMirror(a, w, sc.Feedbacks)},
		{"mirror." + sc.FeedbackResponses.Name(), NewMirror(a, w, sc.FeedbackResponses)},
		{"mirror." + sc.Trash.Name(), NewMirror(a, w, sc.Trash)},
		{"mirror." + sc.Pending.Name(), NewMirror(a, w, sc.Pending)},
	}
	for _, r := range regs {
		if err := sc.Register(r.name, r.comp); err != nil {
			return err
		}
	}
	return nil
}
