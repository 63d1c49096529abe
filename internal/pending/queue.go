// Package pending holds scan requests made while the classifier was
// unreachable and processes them, one at a time, once connectivity returns.
//
// Each item moves queued -> done or queued -> failed exactly once. A failed
// item is retried only by deleting it and enqueueing the request again.
package pending

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/observability/metrics"
	"github.com/leafscan/leafscan/internal/persistence"
	"github.com/leafscan/leafscan/internal/store"
)

// DefaultInterval is the minimum gap between two classifier calls in a drain.
const DefaultInterval = 2 * time.Second

// DefaultCacheTTL is how long a processed result stays in memory.
const DefaultCacheTTL = 30 * time.Minute

// Processor runs one scan against the classifier.
type Processor interface {
	Process(ctx context.Context, req model.ScanRequest) (model.ScanResult, error)
}

// Saver stores a processed result as regular entities.
type Saver interface {
	Save(ctx context.Context, req model.ScanRequest, res model.ScanResult) error
}

// Config wires a Queue.
type Config struct {
	Items     *store.Map[model.PendingItem]
	Adapter   *persistence.Adapter
	Writer    *persistence.Writer
	Processor Processor
	Saver     Saver    // optional
	Notifier  Notifier // optional

	Interval   time.Duration
	AutoCommit bool
	CacheTTL   time.Duration
	Metrics    *metrics.QueueMetrics
}

// Queue is the offline pending-scan queue.
type Queue struct {
	cfg     Config
	results *cache.Cache
	log     logger.Logger

	// itemMu serializes state changes of individual items; procMu serializes
	// classifier calls so a drain and manual processing never overlap.
	itemMu sync.Mutex
	procMu sync.Mutex
	seq    int64

	online   atomic.Bool
	draining atomic.Bool
	rerun    atomic.Bool
	closed   atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a queue. It does nothing until Start.
func New(cfg Config) (*Queue, error) {
	if cfg.Items == nil || cfg.Adapter == nil || cfg.Writer == nil || cfg.Processor == nil {
		return nil, errors.Newf("pending queue requires items, adapter, writer and processor").
			Component("pending").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg: cfg,
		// no janitor goroutine; expired entries are purged after each drain
		results: cache.New(cfg.CacheTTL, 0),
		log:     logger.Global().Module("pending"),
		baseCtx: baseCtx,
		cancel:  cancel,
	}, nil
}

// Start implements store.Component. Items are hydrated by the persistence
// mirror registered before the queue.
func (q *Queue) Start(context.Context) error {
	q.updateGauges()
	if q.online.Load() {
		q.startDrain()
	}
	return nil
}

// Stop waits for a running drain to finish. When ctx expires first the
// drain is cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.closed.Store(true)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		q.cancel()
		<-done
	}
	q.cancel()
	q.results.Flush()
	return nil
}

// List returns every item in enqueue order.
func (q *Queue) List() []model.PendingItem {
	items := q.cfg.Items.List()
	slices.SortFunc(items, func(a, b model.PendingItem) int { return cmp.Compare(a.Seq, b.Seq) })
	return items
}

// Get returns one item.
func (q *Queue) Get(id string) (model.PendingItem, bool) {
	return q.cfg.Items.Get(id)
}

func (q *Queue) nextSeqLocked() int64 {
	if q.seq == 0 {
		for _, it := range q.cfg.Items.List() {
			q.seq = max(q.seq, it.Seq)
		}
	}
	q.seq++
	return q.seq
}

// Enqueue queues req. The item is durable when Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, req model.ScanRequest) (model.PendingItem, error) {
	return q.enqueue(ctx, req, "offline")
}

func (q *Queue) enqueue(ctx context.Context, req model.ScanRequest, reason string) (model.PendingItem, error) {
	if err := req.Validate(); err != nil {
		return model.PendingItem{}, err
	}

	q.itemMu.Lock()
	item := model.PendingItem{
		ID:       uuid.NewString(),
		UserID:   req.UserID,
		TreeCode: req.TreeCode,
		ImageURL: req.ImageURL,
		Status:   model.PendingQueued,
		Seq:      q.nextSeqLocked(),
		QueuedAt: time.Now().UTC(),
	}
	err := q.persist(ctx, item)
	if err == nil {
		q.cfg.Items.Set(item)
	}
	q.itemMu.Unlock()
	if err != nil {
		return model.PendingItem{}, err
	}

	q.cfg.Metrics.RecordEnqueued(reason)
	q.updateGauges()
	q.log.Info("scan queued",
		logger.String("id", item.ID),
		logger.String("tree_code", item.TreeCode),
		logger.Int64("seq", item.Seq))
	if q.online.Load() {
		q.startDrain()
	}
	return item, nil
}

func (q *Queue) persist(ctx context.Context, item model.PendingItem, extra ...persistence.Op) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return errors.New(err).Component("pending").Category(errors.CategoryValidation).Build()
	}
	ops := append([]persistence.Op{{Table: model.TablePendingItems, ID: item.ID, Value: raw}}, extra...)
	return q.cfg.Writer.Do(ctx, ops...)
}

// Delete removes items and their results. Unknown ids are ignored.
func (q *Queue) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	ops := make([]persistence.Op, 0, 2*len(ids))
	for _, id := range ids {
		ops = append(ops,
			persistence.Op{Table: model.TablePendingItems, ID: id, Delete: true},
			persistence.Op{Table: persistence.TablePendingResults, ID: id, Delete: true})
	}

	q.itemMu.Lock()
	defer q.itemMu.Unlock()
	if err := q.cfg.Writer.Do(ctx, ops...); err != nil {
		return err
	}
	for _, id := range ids {
		q.cfg.Items.Delete(id)
		q.results.Delete(id)
	}
	q.updateGauges()
	return nil
}

// Result returns the classifier output of a processed item.
func (q *Queue) Result(ctx context.Context, id string) (model.ScanResult, bool, error) {
	if v, ok := q.results.Get(id); ok {
		return v.(model.ScanResult), true, nil
	}
	var res model.ScanResult
	found, err := q.cfg.Adapter.Get(ctx, persistence.TablePendingResults, id, &res)
	if err != nil || !found {
		return model.ScanResult{}, false, err
	}
	q.results.SetDefault(id, res)
	return res, true, nil
}

// Commit saves the result of a done item through the Saver and then removes
// the item and its result.
func (q *Queue) Commit(ctx context.Context, id string) error {
	if q.cfg.Saver == nil {
		return errors.Newf("no saver configured").
			Component("pending").
			Category(errors.CategoryConfiguration).
			Build()
	}
	item, err := q.mustGet(id)
	if err != nil {
		return err
	}
	if item.Status != model.PendingDone {
		return stateError(item, "commit")
	}
	res, ok, err := q.Result(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf("result of pending item %s is missing", id).
			Component("pending").
			Category(errors.CategoryNotFound).
			Build()
	}
	if err := q.cfg.Saver.Save(ctx, item.Request(), res); err != nil {
		return err
	}
	return q.Delete(ctx, id)
}

// Retry replaces a failed item with a new queued item for the same request.
func (q *Queue) Retry(ctx context.Context, id string) (model.PendingItem, error) {
	item, err := q.mustGet(id)
	if err != nil {
		return model.PendingItem{}, err
	}
	if item.Status != model.PendingFailed {
		return model.PendingItem{}, stateError(item, "retry")
	}
	if err := q.Delete(ctx, id); err != nil {
		return model.PendingItem{}, err
	}
	return q.enqueue(ctx, item.Request(), "retry")
}

func (q *Queue) mustGet(id string) (model.PendingItem, error) {
	item, ok := q.cfg.Items.Get(id)
	if !ok {
		return item, errors.Newf("pending item %s not found", id).
			Component("pending").
			Category(errors.CategoryNotFound).
			Build()
	}
	return item, nil
}

func stateError(item model.PendingItem, operation string) error {
	return errors.Newf("cannot %s pending item in status %s", operation, item.Status).
		Component("pending").
		Category(errors.CategoryValidation).
		Context("id", item.ID).
		Build()
}

func (q *Queue) updateGauges() {
	if q.cfg.Metrics == nil {
		return
	}
	counts := map[model.PendingStatus]int{}
	for _, it := range q.cfg.Items.List() {
		counts[it.Status]++
	}
	for _, s := range []model.PendingStatus{model.PendingQueued, model.PendingDone, model.PendingFailed} {
		q.cfg.Metrics.SetItems(s.String(), counts[s])
	}
}
