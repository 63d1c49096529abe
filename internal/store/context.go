package store

import (
	"context"
	"sync"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
)

// Component is a background part bound to a Context: persistence mirrors,
// sync engines, the pending queue worker.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type contextState int

const (
	stateNew contextState = iota
	stateRunning
	stateDisposed
)

type namedComponent struct {
	name string
	comp Component
}

// Context owns one Map per entity and the components attached to them.
// Several isolated contexts may exist side by side.
type Context struct {
	Farms              *Map[model.Farm]
	Trees              *Map[model.Tree]
	Images             *Map[model.Image]
	Analyses           *Map[model.Analysis]
	AnalyzedImages     *Map[model.AnalyzedImage]
	DiseasesIdentified *Map[model.DiseaseIdentified]
	Diseases           *Map[model.Disease]
	Feedbacks          *Map[model.Feedback]
	FeedbackResponses  *Map[model.FeedbackResponse]
	Trash              *Map[model.Trash]
	Pending            *Map[model.PendingItem]

	mu         sync.Mutex
	state      contextState
	components []namedComponent
	started    int
	log        logger.Logger
}

// NewContext creates a context with empty maps.
func NewContext() *Context {
	return &Context{
		Farms:              NewMap[model.Farm](model.TableFarms),
		Trees:              NewMap[model.Tree](model.TableTrees),
		Images:             NewMap[model.Image](model.TableImages),
		Analyses:           NewMap[model.Analysis](model.TableAnalyses),
		AnalyzedImages:     NewMap[model.AnalyzedImage](model.TableAnalyzedImages),
		DiseasesIdentified: NewMap[model.DiseaseIdentified](model.TableDiseasesIdentified),
		Diseases:           NewMap[model.Disease](model.TableDiseases),
		Feedbacks:          NewMap[model.Feedback](model.TableFeedbacks),
		FeedbackResponses:  NewMap[model.FeedbackResponse](model.TableFeedbackResponses),
		Trash:              NewMap[model.Trash](model.TableTrash),
		Pending:            NewMap[model.PendingItem](model.TablePendingItems),
		log:                logger.Global().Module("store"),
	}
}

// Register attaches a component. Components start in registration order
// during Init and stop in reverse order during Dispose.
func (c *Context) Register(name string, comp Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateNew {
		return errors.Newf("cannot register %s after init", name).
			Component("store").
			Category(errors.CategoryState).
			Build()
	}
	c.components = append(c.components, namedComponent{name: name, comp: comp})
	return nil
}

// Init starts every registered component. If one fails, the ones already
// started are stopped again and the error is returned.
func (c *Context) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateNew {
		return errors.Newf("store context already initialized").
			Component("store").
			Category(errors.CategoryState).
			Build()
	}

	for i, nc := range c.components {
		if err := nc.comp.Start(ctx); err != nil {
			c.started = i
			stopErr := c.stopLocked(ctx)
			c.state = stateDisposed
			return errors.Join(errors.New(err).
				Component("store").
				Context("component", nc.name).
				Build(), stopErr)
		}
		c.log.Debug("component started", logger.String("component", nc.name))
	}
	c.started = len(c.components)
	c.state = stateRunning
	return nil
}

// Dispose stops the started components in reverse order. It is safe to call
// more than once.
func (c *Context) Dispose(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRunning {
		c.state = stateDisposed
		return nil
	}
	c.state = stateDisposed
	return c.stopLocked(ctx)
}

func (c *Context) stopLocked(ctx context.Context) error {
	var errs []error
	for i := c.started - 1; i >= 0; i-- {
		nc := c.components[i]
		if err := nc.comp.Stop(ctx); err != nil {
			c.log.Warn("component stop failed", logger.String("component", nc.name), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		c.log.Debug("component stopped", logger.String("component", nc.name))
	}
	c.started = 0
	return errors.Join(errs...)
}

// Running reports whether Init succeeded and Dispose has not been called.
func (c *Context) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRunning
}

// Snapshot is an immutable copy of the entity maps, used by read models.
type Snapshot struct {
	Farms              map[string]model.Farm
	Trees              map[string]model.Tree
	Images             map[string]model.Image
	Analyses           map[string]model.Analysis
	AnalyzedImages     map[string]model.AnalyzedImage
	DiseasesIdentified map[string]model.DiseaseIdentified
	Diseases           map[string]model.Disease
}

// Snapshot copies the maps the read models need.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{
		Farms:              c.Farms.Snapshot(),
		Trees:              c.Trees.Snapshot(),
		Images:             c.Images.Snapshot(),
		Analyses:           c.Analyses.Snapshot(),
		AnalyzedImages:     c.AnalyzedImages.Snapshot(),
		DiseasesIdentified: c.DiseasesIdentified.Snapshot(),
		Diseases:           c.Diseases.Snapshot(),
	}
}
