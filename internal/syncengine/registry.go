package syncengine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/observability/metrics"
	"github.com/leafscan/leafscan/internal/persistence"
	"github.com/leafscan/leafscan/internal/remote"
	"github.com/leafscan/leafscan/internal/retry"
	"github.com/leafscan/leafscan/internal/store"
)

// Syncer is the type-independent view of an Engine.
type Syncer interface {
	store.Component
	Name() string
	Sync(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
	Pending() int
}

// Options configures a Registry.
type Options struct {
	UserID     string
	RetryDelay time.Duration
	Metrics    *metrics.SyncMetrics
}

// Registry holds one engine per synchronized entity.
type Registry struct {
	Farms              *Engine[model.Farm]
	Trees              *Engine[model.Tree]
	Images             *Engine[model.Image]
	Analyses           *Engine[model.Analysis]
	AnalyzedImages     *Engine[model.AnalyzedImage]
	DiseasesIdentified *Engine[model.DiseaseIdentified]
	Diseases           *Engine[model.Disease]
	Feedbacks          *Engine[model.Feedback]
	FeedbackResponses  *Engine[model.FeedbackResponse]
	Trash              *Engine[model.Trash]

	chains [][]Syncer
	log    logger.Logger
}

var excludeDeleted = []model.RecordStatus{model.StatusDeleted}

// NewRegistry builds the engines for sc against backend. Child scopes are
// derived from the parent records present in the store at sync time.
func NewRegistry(sc *store.Context, backend remote.Backend, a *persistence.Adapter, w *persistence.Writer, opts Options) *Registry {
	policy := retry.Forever(DefaultRetryDelay)
	if opts.RetryDelay > 0 {
		policy = retry.Forever(opts.RetryDelay)
	}
	userID := opts.UserID

	r := &Registry{log: logger.Global().Module("sync")}
	r.Farms = New(Config[model.Farm]{
		Service: backend.Farms(), Map: sc.Farms, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope {
			return remote.Scope{UserID: userID, ExcludeStatuses: excludeDeleted}
		},
	})
	r.Trees = New(Config[model.Tree]{
		Service: backend.Trees(), Map: sc.Trees, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope {
			return remote.Scope{ParentColumn: "farm_id", ParentIDs: liveIDs(sc.Farms, farmStatus), ExcludeStatuses: excludeDeleted}
		},
	})
	r.Images = New(Config[model.Image]{
		Service: backend.Images(), Map: sc.Images, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope {
			return remote.Scope{ParentColumn: "tree_id", ParentIDs: liveIDs(sc.Trees, treeStatus), ExcludeStatuses: excludeDeleted}
		},
	})
	r.Analyses = New(Config[model.Analysis]{
		Service: backend.Analyses(), Map: sc.Analyses, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope {
			return remote.Scope{ParentColumn: "image_id", ParentIDs: liveIDs(sc.Images, imageStatus)}
		},
	})
	r.AnalyzedImages = New(Config[model.AnalyzedImage]{
		Service: backend.AnalyzedImages(), Map: sc.AnalyzedImages, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope {
			return remote.Scope{ParentColumn: "analysis_id", ParentIDs: liveIDs(sc.Analyses, nil)}
		},
	})
	r.DiseasesIdentified = New(Config[model.DiseaseIdentified]{
		Service: backend.DiseasesIdentified(), Map: sc.DiseasesIdentified, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope {
			return remote.Scope{ParentColumn: "analysis_id", ParentIDs: liveIDs(sc.Analyses, nil)}
		},
	})
	r.Diseases = New(Config[model.Disease]{
		Service: backend.Diseases(), Map: sc.Diseases, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
	})
	r.Feedbacks = New(Config[model.Feedback]{
		Service: backend.Feedbacks(), Map: sc.Feedbacks, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope { return remote.Scope{UserID: userID} },
	})
	r.FeedbackResponses = New(Config[model.FeedbackResponse]{
		Service: backend.FeedbackResponses(), Map: sc.FeedbackResponses, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope {
			return remote.Scope{ParentColumn: "feedback_id", ParentIDs: liveIDs(sc.Feedbacks, nil)}
		},
	})
	r.Trash = New(Config[model.Trash]{
		Service: backend.Trash(), Map: sc.Trash, Policy: policy, Adapter: a, Writer: w, Metrics: opts.Metrics,
		Scope: func() remote.Scope { return remote.Scope{UserID: userID} },
	})

	r.chains = [][]Syncer{
		{r.Farms, r.Trees, r.Images, r.Analyses, r.AnalyzedImages, r.DiseasesIdentified},
		{r.Feedbacks, r.FeedbackResponses},
		{r.Diseases},
		{r.Trash},
	}
	return r
}

func farmStatus(f model.Farm) model.RecordStatus   { return f.Status }
func treeStatus(t model.Tree) model.RecordStatus   { return t.Status }
func imageStatus(i model.Image) model.RecordStatus { return i.Status }

// liveIDs returns the ids in m whose status is not permanently deleted.
// A nil status func keeps every record.
func liveIDs[T model.Record](m *store.Map[T], status func(T) model.RecordStatus) []string {
	recs := m.List()
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		if status != nil && status(r) == model.StatusDeleted {
			continue
		}
		ids = append(ids, r.RecordID())
	}
	return ids
}

// Engines returns every engine in sync order.
func (r *Registry) Engines() []Syncer {
	var out []Syncer
	for _, chain := range r.chains {
		out = append(out, chain...)
	}
	return out
}

// Register attaches every engine's push worker to sc.
func (r *Registry) Register(sc *store.Context) error {
	for _, s := range r.Engines() {
		if err := sc.Register("sync."+s.Name(), s); err != nil {
			return err
		}
	}
	return nil
}

// SyncAll pulls every entity. Parents are synced before their children
// within a chain; independent chains run concurrently. Failed list calls
// are retried, so SyncAll only fails when ctx ends or local state cannot be
// written; the first such error cancels the remaining work.
func (r *Registry) SyncAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, chain := range r.chains {
		g.Go(func() error {
			for _, s := range chain {
				if _, err := s.Sync(gctx); err != nil {
					r.log.Warn("sync failed", logger.String("entity", s.Name()), logger.Error(err))
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Flush waits until every engine has drained its outbox.
func (r *Registry) Flush(ctx context.Context) error {
	for _, s := range r.Engines() {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of queued changes across all engines.
func (r *Registry) Pending() int {
	n := 0
	for _, s := range r.Engines() {
		n += s.Pending()
	}
	return n
}
