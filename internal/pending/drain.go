package pending

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/time/rate"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/persistence"
)

// Summary is the outcome of a drain or bulk run.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Online reports the last connectivity state given to SetOnline.
func (q *Queue) Online() bool { return q.online.Load() }

// Draining reports whether a drain is running.
func (q *Queue) Draining() bool { return q.draining.Load() }

// SetOnline records connectivity. Going from offline to online starts a
// drain unless one is already running.
func (q *Queue) SetOnline(online bool) {
	was := q.online.Swap(online)
	q.cfg.Metrics.SetOnline(online)
	if online && !was {
		q.log.Info("connectivity restored")
		q.startDrain()
	} else if !online && was {
		q.log.Info("connectivity lost")
	}
}

// startDrain runs a drain in the background. The drain is detached from the
// caller; only Stop can cancel it. A request that arrives while a drain runs
// schedules one more pass for the items queued meanwhile.
func (q *Queue) startDrain() {
	if q.closed.Load() {
		return
	}
	if !q.draining.CompareAndSwap(false, true) {
		q.rerun.Store(true)
		return
	}
	q.wg.Go(func() {
		for {
			q.rerun.Store(false)
			q.drain(q.baseCtx)
			if !q.rerun.Load() || q.closed.Load() || q.baseCtx.Err() != nil {
				break
			}
		}
		q.draining.Store(false)
		q.resume()
	})
}

// resume starts a drain requested while the draining flag was being cleared.
func (q *Queue) resume() {
	if q.rerun.Load() && q.online.Load() {
		q.startDrain()
	}
}

// Drain processes the queued items now and returns the summary. It shares
// the single-drain guard with the background drain.
func (q *Queue) Drain(ctx context.Context) (Summary, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return Summary{}, errors.Newf("a drain is already running").
			Component("pending").
			Category(errors.CategoryState).
			Build()
	}
	q.rerun.Store(false)
	sum := q.drain(ctx)
	q.draining.Store(false)
	q.resume()
	return sum, nil
}

func (q *Queue) drain(ctx context.Context) Summary {
	q.procMu.Lock()
	defer q.procMu.Unlock()

	var ids []string
	for _, it := range q.List() {
		if it.Status == model.PendingQueued {
			ids = append(ids, it.ID)
		}
	}
	if len(ids) == 0 {
		return Summary{}
	}

	log := q.log.With(logger.Int("items", len(ids)))
	log.Info("drain started")
	sum := q.processAll(ctx, ids, q.cfg.AutoCommit)
	q.cfg.Metrics.RecordDrain()
	q.results.DeleteExpired()
	log.Info("drain finished",
		logger.Int("succeeded", sum.Succeeded),
		logger.Int("failed", sum.Failed))
	q.notify(ctx, sum)
	return sum
}

// processAll processes ids in order with at least Interval between the
// starts of two classifier calls. Caller holds procMu.
func (q *Queue) processAll(ctx context.Context, ids []string, commit bool) Summary {
	limiter := rate.NewLimiter(rate.Every(q.cfg.Interval), 1)
	var sum Summary
	for _, id := range ids {
		item, ok := q.cfg.Items.Get(id)
		if !ok || item.Status != model.PendingQueued {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			q.log.Warn("processing interrupted", logger.Error(err))
			break
		}
		updated, err := q.process(ctx, item)
		if err != nil {
			if updated.Status == model.PendingFailed {
				sum.Failed++
			}
			continue
		}
		sum.Succeeded++
		if commit && q.cfg.Saver != nil {
			if err := q.Commit(ctx, id); err != nil {
				q.log.Warn("auto-commit failed, result kept for review",
					logger.String("id", id),
					logger.Error(err))
			}
		}
	}
	return sum
}

// process calls the classifier for one queued item and makes the outcome
// durable. Caller holds procMu.
func (q *Queue) process(ctx context.Context, item model.PendingItem) (model.PendingItem, error) {
	start := time.Now()
	res, callErr := q.cfg.Processor.Process(ctx, item.Request())
	elapsed := time.Since(start).Seconds()

	q.itemMu.Lock()
	defer q.itemMu.Unlock()

	current, ok := q.cfg.Items.Get(item.ID)
	if !ok {
		// deleted while the call was in flight
		return item, errors.Newf("pending item %s was deleted", item.ID).
			Component("pending").
			Category(errors.CategoryNotFound).
			Build()
	}

	now := time.Now().UTC()
	next := model.PendingDone
	if callErr != nil {
		next = model.PendingFailed
	}
	if !current.Status.CanTransition(next) {
		return current, stateError(current, "process")
	}
	current.Status = next
	current.ProcessedAt = &now

	var extra []persistence.Op
	if callErr != nil {
		current.Error = callErr.Error()
	} else {
		raw, err := json.Marshal(res)
		if err != nil {
			return item, errors.New(err).Component("pending").Category(errors.CategoryValidation).Build()
		}
		extra = append(extra, persistence.Op{Table: persistence.TablePendingResults, ID: item.ID, Value: raw})
	}

	// result and status land in one transaction before the next item starts
	persistCtx := context.WithoutCancel(ctx)
	if err := q.persist(persistCtx, current, extra...); err != nil {
		q.log.Error("cannot persist pending outcome", logger.String("id", item.ID), logger.Error(err))
		return item, err
	}
	q.cfg.Items.Set(current)
	if callErr == nil {
		q.results.SetDefault(item.ID, res)
	}

	outcome := "succeeded"
	if callErr != nil {
		outcome = "failed"
		q.log.Warn("pending scan failed",
			logger.String("id", item.ID),
			logger.String("tree_code", item.TreeCode),
			logger.Error(callErr))
	}
	q.cfg.Metrics.RecordProcessed(outcome, elapsed)
	q.updateGauges()
	return current, callErr
}

// ProcessOne processes one queued item immediately. The result stays for
// review; it is not committed.
func (q *Queue) ProcessOne(ctx context.Context, id string) (model.PendingItem, error) {
	q.procMu.Lock()
	defer q.procMu.Unlock()

	item, err := q.mustGet(id)
	if err != nil {
		return item, err
	}
	if item.Status != model.PendingQueued {
		return item, stateError(item, "process")
	}
	return q.process(ctx, item)
}

// BulkProcess processes the given queued items in enqueue order, paced like
// a drain. Items that are not queued are skipped.
func (q *Queue) BulkProcess(ctx context.Context, ids []string) Summary {
	q.procMu.Lock()
	defer q.procMu.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var ordered []string
	for _, it := range q.List() {
		if wanted[it.ID] {
			ordered = append(ordered, it.ID)
		}
	}
	return q.processAll(ctx, ordered, false)
}
