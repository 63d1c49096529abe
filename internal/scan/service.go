package scan

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/pending"
	"github.com/leafscan/leafscan/internal/store"
	"github.com/leafscan/leafscan/internal/syncengine"
)

// DefaultTimeout bounds one synchronous classifier call.
const DefaultTimeout = 60 * time.Second

// Creator creates one record through its sync engine.
type Creator[T model.Record] interface {
	Create(ctx context.Context, rec T) (T, error)
}

// Writers are the engines a saved scan writes through.
type Writers struct {
	Images             Creator[model.Image]
	Analyses           Creator[model.Analysis]
	AnalyzedImages     Creator[model.AnalyzedImage]
	DiseasesIdentified Creator[model.DiseaseIdentified]
}

// WritersFrom takes the writers from a sync registry.
func WritersFrom(reg *syncengine.Registry) Writers {
	return Writers{
		Images:             reg.Images,
		Analyses:           reg.Analyses,
		AnalyzedImages:     reg.AnalyzedImages,
		DiseasesIdentified: reg.DiseasesIdentified,
	}
}

// Enqueuer accepts scans that could not be processed now.
type Enqueuer interface {
	Enqueue(ctx context.Context, req model.ScanRequest) (model.PendingItem, error)
}

// Outcome is the result of Scan: either a classifier result or the pending
// item the request was queued as.
type Outcome struct {
	Result  *model.ScanResult  `json:"result,omitempty"`
	Pending *model.PendingItem `json:"pending,omitempty"`
}

// Service runs the synchronous scan path and saves results.
type Service struct {
	processor pending.Processor
	queue     Enqueuer
	trees     *store.Map[model.Tree]
	writers   Writers
	timeout   time.Duration
	now       func() time.Time
	log       logger.Logger
}

// NewService wires a service. queue may be nil, in which case failures are
// returned instead of queued.
func NewService(processor pending.Processor, queue Enqueuer, trees *store.Map[model.Tree], writers Writers, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		processor: processor,
		queue:     queue,
		trees:     trees,
		writers:   writers,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.Global().Module("scan"),
	}
}

// SetQueue sets the queue failed scans go to. The queue usually needs the
// service as its Saver, so it is created after the service.
func (s *Service) SetQueue(q Enqueuer) { s.queue = q }

// Scan makes one classifier attempt. When it fails for any reason other than
// an invalid request, the request is queued for later processing.
func (s *Service) Scan(ctx context.Context, req model.ScanRequest) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	res, err := s.processor.Process(callCtx, req)
	cancel()
	if err == nil {
		return Outcome{Result: &res}, nil
	}
	if s.queue == nil {
		return Outcome{}, err
	}

	s.log.Info("scan failed, queued for later",
		logger.String("tree_code", req.TreeCode),
		logger.Error(err))
	item, qerr := s.queue.Enqueue(context.WithoutCancel(ctx), req)
	if qerr != nil {
		return Outcome{}, errors.Join(err, qerr)
	}
	return Outcome{Pending: &item}, nil
}

// Save implements pending.Saver. It resolves the tree by code for the user
// and creates the image, the analysis, the annotated image and one label row
// per disease.
func (s *Service) Save(ctx context.Context, req model.ScanRequest, res model.ScanResult) error {
	tree, err := s.findTree(req.UserID, req.TreeCode)
	if err != nil {
		return err
	}
	now := s.now()

	img, err := s.writers.Images.Create(ctx, model.Image{
		ID:         uuid.NewString(),
		TreeID:     tree.ID,
		UserID:     req.UserID,
		Data:       res.OriginalImage,
		Status:     model.StatusActive,
		UploadedAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		return err
	}
	analysis, err := s.writers.Analyses.Create(ctx, model.Analysis{
		ID:         uuid.NewString(),
		ImageID:    img.ID,
		Status:     model.StatusActive,
		AnalyzedAt: now,
		UpdatedAt:  now,
	})
	if err != nil {
		return err
	}
	if len(res.AnalyzedImage) > 0 || len(res.BoundingBoxes) > 0 {
		if _, err := s.writers.AnalyzedImages.Create(ctx, model.AnalyzedImage{
			ID:            uuid.NewString(),
			AnalysisID:    analysis.ID,
			Data:          res.AnalyzedImage,
			BoundingBoxes: res.BoundingBoxes,
			UpdatedAt:     now,
		}); err != nil {
			return err
		}
	}
	for _, d := range res.Diseases {
		if _, err := s.writers.DiseasesIdentified.Create(ctx, model.DiseaseIdentified{
			ID:              uuid.NewString(),
			AnalysisID:      analysis.ID,
			DiseaseName:     d.Name,
			LikelihoodScore: d.Likelihood,
			UpdatedAt:       now,
		}); err != nil {
			return err
		}
	}

	s.log.Info("scan saved",
		logger.String("tree_id", tree.ID),
		logger.String("image_id", img.ID),
		logger.Int("diseases", len(res.Diseases)))
	return nil
}

func (s *Service) findTree(userID, code string) (model.Tree, error) {
	matches := s.trees.Filter(func(t model.Tree) bool {
		return t.Code == code && t.Status == model.StatusActive && t.UserID == userID
	})
	if len(matches) == 0 {
		return model.Tree{}, errors.Newf("no active tree with code %q", code).
			Component("scan").
			Category(errors.CategoryNotFound).
			Context("user_id", userID).
			Build()
	}
	// codes are unique per user; the lowest id keeps duplicates deterministic
	return slices.MinFunc(matches, func(a, b model.Tree) int { return cmp.Compare(a.ID, b.ID) }), nil
}
