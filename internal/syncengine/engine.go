// Package syncengine keeps the local stores and the remote backend in step:
// local writes are applied optimistically and pushed from a durable outbox,
// remote changes are pulled incrementally and merged into the stores.
package syncengine

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/observability/metrics"
	"github.com/leafscan/leafscan/internal/persistence"
	"github.com/leafscan/leafscan/internal/remote"
	"github.com/leafscan/leafscan/internal/retry"
	"github.com/leafscan/leafscan/internal/store"
)

// DefaultRetryDelay is the fixed pause between push attempts.
const DefaultRetryDelay = 5 * time.Second

// errMalformedEntry marks a stored outbox entry that cannot be decoded.
var errMalformedEntry = errors.NewStd("malformed outbox entry")

// ScopeFunc returns the current list scope of an entity, typically derived
// from the parent records already in the store.
type ScopeFunc func() remote.Scope

// Config wires one engine.
type Config[T model.Record] struct {
	Service remote.Service[T]
	Map     *store.Map[T]
	Scope   ScopeFunc
	Policy  retry.Policy // defaults to retry.Forever(DefaultRetryDelay)
	Adapter *persistence.Adapter
	Writer  *persistence.Writer
	Metrics *metrics.SyncMetrics
}

// syncState is the incremental cursor of one table. The cursor is only valid
// for the parent set it was computed with.
type syncState struct {
	Cursor  time.Time `json:"cursor"`
	Parents string    `json:"parents"`
}

// Engine synchronizes one entity type.
type Engine[T model.Record] struct {
	name    string
	svc     remote.Service[T]
	m       *store.Map[T]
	scope   ScopeFunc
	policy  retry.Policy
	adapter *persistence.Adapter
	writer  *persistence.Writer
	metrics *metrics.SyncMetrics
	log     logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	seq     int64
	empty   chan struct{} // closed while the outbox is empty
	wake    chan struct{}

	syncMu sync.Mutex
	state  syncState

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an engine for the map's table.
func New[T model.Record](cfg Config[T]) *Engine[T] {
	if cfg.Policy.MaxAttempts == 0 && cfg.Policy.Delay == 0 {
		cfg.Policy = retry.Forever(DefaultRetryDelay)
	}
	if cfg.Scope == nil {
		cfg.Scope = func() remote.Scope { return remote.Scope{} }
	}
	empty := make(chan struct{})
	close(empty)
	return &Engine[T]{
		name:    cfg.Map.Name(),
		svc:     cfg.Service,
		m:       cfg.Map,
		scope:   cfg.Scope,
		policy:  cfg.Policy,
		adapter: cfg.Adapter,
		writer:  cfg.Writer,
		metrics: cfg.Metrics,
		log:     logger.Global().Module("sync").With(logger.String("entity", cfg.Map.Name())),
		entries: make(map[string]*entry),
		empty:   empty,
		wake:    make(chan struct{}, 1),
	}
}

// Name returns the table the engine serves.
func (e *Engine[T]) Name() string { return e.name }

// Start restores the outbox and cursor, then starts the push worker.
func (e *Engine[T]) Start(ctx context.Context) error {
	rows, err := e.adapter.Rows(ctx, persistence.TableOutbox)
	if err != nil {
		return err
	}
	restored, err := decodeOutbox(rows, e.name)
	if err != nil {
		return errors.New(err).
			Component("sync").
			Category(errors.CategoryStorage).
			Context("entity", e.name).
			Context("operation", "restore_outbox").
			Build()
	}

	var st syncState
	if _, err := e.adapter.Get(ctx, persistence.TableSyncState, e.name, &st); err != nil {
		return err
	}

	e.mu.Lock()
	for i := range restored {
		ent := restored[i]
		e.entries[ent.ID] = &ent
		e.seq = max(e.seq, ent.Seq)
	}
	if len(e.entries) > 0 {
		e.empty = make(chan struct{})
	}
	e.metrics.SetOutboxDepth(e.name, len(e.entries))
	e.mu.Unlock()

	e.syncMu.Lock()
	e.state = st
	e.syncMu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(runCtx)

	if len(restored) > 0 {
		e.log.Info("restored outbox", logger.Int("entries", len(restored)))
		e.signal()
	}
	return nil
}

// Stop stops the push worker. Unacknowledged entries stay in the outbox.
func (e *Engine[T]) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	select {
	case <-e.done:
		e.cancel = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create stores rec locally and queues it for the backend.
func (e *Engine[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := remote.ValidateID(e.name, rec.RecordID()); err != nil {
		return zero, err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return zero, errors.New(err).Component("sync").Category(errors.CategoryValidation).Build()
	}

	e.enqueue(rec.RecordID(), func(prev *entry) entry {
		return entry{Table: e.name, ID: rec.RecordID(), Kind: opCreate, Record: raw}
	})
	e.m.Set(rec)
	if err := e.writer.Flush(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// Update merges patch into the local record and queues it. Applying the
// same patch twice yields the same record.
func (e *Engine[T]) Update(ctx context.Context, patch model.Patch) (T, error) {
	var zero T
	if err := patch.Validate(); err != nil {
		return zero, err
	}
	cur, ok := e.m.Get(patch.ID)
	if !ok {
		return zero, errors.Newf("%s %s not found", e.name, patch.ID).
			Component("sync").
			Category(errors.CategoryNotFound).
			Build()
	}
	merged, err := model.Apply(cur, patch)
	if err != nil {
		return zero, err
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return zero, errors.New(err).Component("sync").Category(errors.CategoryValidation).Build()
	}

	e.enqueue(patch.ID, func(prev *entry) entry {
		switch {
		case prev != nil && prev.Kind == opCreate:
			return entry{Table: e.name, ID: patch.ID, Kind: opCreate, Record: raw}
		case prev != nil && prev.Patch != nil:
			p := prev.Patch.Merge(patch)
			return entry{Table: e.name, ID: patch.ID, Kind: opUpdate, Patch: &p}
		default:
			p := model.NewPatch(patch.ID, patch.Fields)
			return entry{Table: e.name, ID: patch.ID, Kind: opUpdate, Patch: &p}
		}
	})
	e.m.Set(merged)
	if err := e.writer.Flush(ctx); err != nil {
		return merged, err
	}
	return merged, nil
}

// enqueue coalesces the entry for id and submits it to the writer while
// holding the lock, so outbox writes land in the same order as the entries.
func (e *Engine[T]) enqueue(id string, build func(prev *entry) entry) {
	e.mu.Lock()
	prev := e.entries[id]
	next := build(prev)
	if prev != nil {
		next.Seq = prev.Seq
		next.Version = prev.Version + 1
	} else {
		e.seq++
		next.Seq = e.seq
		next.Version = 1
	}
	if len(e.entries) == 0 {
		e.empty = make(chan struct{})
	}
	e.entries[id] = &next
	if op, err := next.op(); err == nil {
		e.writer.Submit(op)
	} else {
		e.log.Error("cannot encode outbox entry", logger.String("id", id), logger.Error(err))
	}
	e.metrics.SetOutboxDepth(e.name, len(e.entries))
	e.mu.Unlock()
	e.signal()
}

func (e *Engine[T]) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of unacknowledged entries.
func (e *Engine[T]) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// HasPending reports whether id has an unacknowledged local change.
func (e *Engine[T]) HasPending(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[id]
	return ok
}

// Flush waits until every queued change has been acknowledged or discarded as undecodable.
func (e *Engine[T]) Flush(ctx context.Context) error {
	e.mu.Lock()
	empty := e.empty
	e.mu.Unlock()
	select {
	case <-empty:
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("sync").
			Category(errors.CategoryTimeout).
			Context("entity", e.name).
			Context("pending", e.Pending()).
			Build()
	}
}

func (e *Engine[T]) next() (entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first *entry
	for _, ent := range e.entries {
		if first == nil || ent.Seq < first.Seq {
			first = ent
		}
	}
	if first == nil {
		return entry{}, false
	}
	return *first, true
}

// ack removes ent unless it was superseded while in flight.
func (e *Engine[T]) ack(ent entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.entries[ent.ID]
	if !ok || cur.Version != ent.Version {
		return
	}
	delete(e.entries, ent.ID)
	e.writer.Submit(ent.deleteOp())
	if len(e.entries) == 0 {
		close(e.empty)
	}
	e.metrics.SetOutboxDepth(e.name, len(e.entries))
}

func (e *Engine[T]) run(ctx context.Context) {
	defer close(e.done)

	policy := e.policy
	hook := policy.OnRetry
	for {
		ent, ok := e.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
				continue
			}
		}

		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			e.metrics.RecordPushFailure(e.name, string(ent.Kind))
			e.log.Warn("push failed, will retry",
				logger.String("id", ent.ID),
				logger.String("operation", string(ent.Kind)),
				logger.Int("attempt", attempt),
				logger.Duration("retry_in", wait),
				logger.Error(err))
			if hook != nil {
				hook(attempt, err, wait)
			}
		}
		err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
			return e.push(ctx, ent)
		})
		switch {
		case err == nil:
			e.metrics.RecordPush(e.name, string(ent.Kind))
			e.ack(ent)
		case ctx.Err() != nil:
			return
		case errors.Is(err, errMalformedEntry):
			e.metrics.RecordPushFailure(e.name, string(ent.Kind))
			e.log.Error("discarding undecodable outbox entry",
				logger.String("id", ent.ID),
				logger.String("operation", string(ent.Kind)),
				logger.Error(err))
			e.ack(ent)
		default:
			// a bounded policy gave up; the change stays queued
			e.metrics.RecordPushFailure(e.name, string(ent.Kind))
			e.log.Warn("push still failing, change kept in outbox",
				logger.String("id", ent.ID),
				logger.String("operation", string(ent.Kind)),
				logger.Error(err))
			if !pause(ctx, policy.DelayFor(1)) {
				return
			}
		}
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = DefaultRetryDelay
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine[T]) push(ctx context.Context, ent entry) error {
	var err error
	switch ent.Kind {
	case opCreate:
		var rec T
		if jerr := json.Unmarshal(ent.Record, &rec); jerr != nil {
			return retry.Permanent(errors.Join(errMalformedEntry, jerr))
		}
		_, err = e.svc.Create(ctx, rec)
		if err != nil && errors.Is(err, remote.ErrAlreadyExists) {
			// an earlier attempt may have landed before its response was lost
			patch, perr := model.FullPatch(rec)
			if perr != nil {
				return retry.Permanent(errors.Join(errMalformedEntry, perr))
			}
			_, err = e.svc.Update(ctx, patch)
		}
	case opUpdate:
		if ent.Patch == nil {
			return retry.Permanent(errMalformedEntry)
		}
		_, err = e.svc.Update(ctx, *ent.Patch)
	default:
		return retry.Permanent(errors.Join(errMalformedEntry,
			errors.Newf("unknown outbox operation %q", ent.Kind).Component("sync").Build()))
	}
	// every backend failure is retried, a rejected write may succeed once
	// its parent has been pushed
	return err
}

// Sync pulls remote changes within the current scope and merges them into
// the store. Failed list calls are retried with the engine policy until they
// succeed or ctx ends. Records are never removed locally, and records with
// queued local changes keep their local version. It returns the number of
// records written to the store.
func (e *Engine[T]) Sync(ctx context.Context) (int, error) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	scope := e.scope()
	if scope.Empty() {
		e.metrics.RecordList(e.name, "skipped", 0)
		return 0, nil
	}
	parents := parentKey(scope)
	state := e.state
	if state.Parents != parents {
		state = syncState{Parents: parents}
	}
	scope.Since = state.Cursor

	var (
		recs  []T
		start time.Time
	)
	policy := e.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.metrics.RecordList(e.name, "error", time.Since(start).Seconds())
		e.log.Warn("list failed, will retry",
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", wait),
			logger.Error(err))
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		start = time.Now()
		var err error
		recs, err = e.svc.List(ctx, scope)
		return err
	})
	if err != nil {
		e.metrics.RecordList(e.name, "error", time.Since(start).Seconds())
		return 0, err
	}
	e.metrics.RecordList(e.name, "ok", time.Since(start).Seconds())

	n := e.m.Upsert(recs, func(cur T) bool { return e.HasPending(cur.RecordID()) })
	e.metrics.RecordMerged(e.name, n)

	for _, r := range recs {
		if r.ModifiedAt().After(state.Cursor) {
			state.Cursor = r.ModifiedAt()
		}
	}
	if state != e.state {
		raw, err := json.Marshal(state)
		if err != nil {
			return n, errors.New(err).Component("sync").Build()
		}
		if err := e.writer.Do(ctx, persistence.Op{Table: persistence.TableSyncState, ID: e.name, Value: raw}); err != nil {
			return n, err
		}
		e.state = state
	}
	e.metrics.MarkSynced(e.name)
	e.log.Debug("synced", logger.Int("received", len(recs)), logger.Int("merged", n))
	return n, nil
}

// parentKey identifies the parent set a cursor belongs to.
func parentKey(s remote.Scope) string {
	if s.ParentColumn == "" {
		return s.UserID
	}
	ids := slices.Clone(s.ParentIDs)
	slices.Sort(ids)
	return s.UserID + "|" + s.ParentColumn + "=" + strings.Join(ids, ",")
}
