// Package sqlstore is a remote backend that talks to the relational
// database directly through GORM, for deployments without the HTTP gateway.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/remote"
)

// Config selects the database.
type Config struct {
	Driver  string // mysql or sqlite
	DSN     string
	Migrate bool // create missing tables on open
}

// Table is the remote service for one entity type.
type Table[T model.Record] struct {
	db    *gorm.DB
	table string
}

// NewTable binds the entity table of T on db.
func NewTable[T model.Record](db *gorm.DB, table string) *Table[T] {
	return &Table[T]{db: db, table: table}
}

// List returns the records selected by scope, oldest change first.
func (t *Table[T]) List(ctx context.Context, scope remote.Scope) ([]T, error) {
	if scope.Empty() {
		return []T{}, nil
	}
	q := t.db.WithContext(ctx).Table(t.table)
	if scope.UserID != "" {
		q = q.Where("user_id = ?", scope.UserID)
	}
	if scope.ParentColumn != "" {
		q = q.Where(fmt.Sprintf("%s IN ?", scope.ParentColumn), scope.ParentIDs)
	}
	if len(scope.ExcludeStatuses) > 0 {
		q = q.Where("status NOT IN ?", scope.ExcludeStatuses)
	}
	if !scope.Since.IsZero() {
		q = q.Where("updated_at > ?", scope.Since.UTC())
	}

	out := []T{}
	if err := q.Order("updated_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, t.wrap(err, "list", "")
	}
	return out, nil
}

// Create inserts rec.
func (t *Table[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := remote.ValidateID(t.table, rec.RecordID()); err != nil {
		return zero, err
	}
	if err := t.db.WithContext(ctx).Table(t.table).Create(&rec).Error; err != nil {
		return zero, t.wrap(err, "create", rec.RecordID())
	}
	return rec, nil
}

// Update loads the row, overlays the patch and writes back only the patched
// columns, inside one transaction.
func (t *Table[T]) Update(ctx context.Context, patch model.Patch) (T, error) {
	var zero T
	if err := patch.Validate(); err != nil {
		return zero, err
	}

	var merged T
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current T
		if err := tx.Table(t.table).Where("id = ?", patch.ID).Take(&current).Error; err != nil {
			return err
		}
		var err error
		merged, err = model.Apply(current, patch)
		if err != nil {
			return err
		}
		if len(patch.Fields) == 0 {
			return nil
		}
		return tx.Table(t.table).Model(&merged).Select(patch.Columns()).Updates(&merged).Error
	})
	if err != nil {
		if errors.IsValidation(err) {
			return zero, err
		}
		return zero, t.wrap(err, "update", patch.ID)
	}
	return merged, nil
}

func (t *Table[T]) wrap(err error, operation, id string) error {
	category := errors.CategoryNetwork
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		category = errors.CategoryNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.New(errors.Join(remote.ErrAlreadyExists, err)).
			Component("remote").
			Category(errors.CategoryConflict).
			Context("table", t.table).
			Context("id", id).
			Build()
	case errors.Is(err, context.DeadlineExceeded):
		category = errors.CategoryTimeout
	}
	return errors.New(err).
		Component("remote").
		Category(category).
		Context("table", t.table).
		Context("operation", operation).
		Context("id", id).
		Build()
}

// Backend is the GORM implementation of remote.Backend.
type Backend struct {
	db                 *gorm.DB
	farms              *Table[model.Farm]
	trees              *Table[model.Tree]
	images             *Table[model.Image]
	analyses           *Table[model.Analysis]
	analyzedImages     *Table[model.AnalyzedImage]
	diseasesIdentified *Table[model.DiseaseIdentified]
	diseases           *Table[model.Disease]
	feedbacks          *Table[model.Feedback]
	feedbackResponses  *Table[model.FeedbackResponse]
	trash              *Table[model.Trash]
}

// Open connects to the database described by cfg.
func Open(cfg Config) (*Backend, error) {
	log := logger.Global().Module("remote").Module("sql")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported remote driver %q", cfg.Driver).
			Component("remote").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLogger(log, 500*time.Millisecond),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.New(err).
			Component("remote").
			Category(errors.CategoryNetwork).
			Context("driver", cfg.Driver).
			Build()
	}

	if cfg.Migrate {
		if err := db.AutoMigrate(
			&model.Farm{}, &model.Tree{}, &model.Image{}, &model.Analysis{},
			&model.AnalyzedImage{}, &model.DiseaseIdentified{}, &model.Disease{},
			&model.Feedback{}, &model.FeedbackResponse{}, &model.Trash{},
		); err != nil {
			return nil, errors.New(err).
				Component("remote").
				Category(errors.CategoryStorage).
				Context("operation", "migrate").
				Build()
		}
	}

	log.Info("remote database connected", logger.String("driver", cfg.Driver))
	return &Backend{
		db:                 db,
		farms:              NewTable[model.Farm](db, model.TableFarms),
		trees:              NewTable[model.Tree](db, model.TableTrees),
		images:             NewTable[model.Image](db, model.TableImages),
		analyses:           NewTable[model.Analysis](db, model.TableAnalyses),
		analyzedImages:     NewTable[model.AnalyzedImage](db, model.TableAnalyzedImages),
		diseasesIdentified: NewTable[model.DiseaseIdentified](db, model.TableDiseasesIdentified),
		diseases:           NewTable[model.Disease](db, model.TableDiseases),
		feedbacks:          NewTable[model.Feedback](db, model.TableFeedbacks),
		feedbackResponses:  NewTable[model.FeedbackResponse](db, model.TableFeedbackResponses),
		trash:              NewTable[model.Trash](db, model.TableTrash),
	}, nil
}

func (b *Backend) Farms() remote.Service[model.Farm]        { return b.farms }
func (b *Backend) Trees() remote.Service[model.Tree]        { return b.trees }
func (b *Backend) Images() remote.Service[model.Image]      { return b.images }
func (b *Backend) Analyses() remote.Service[model.Analysis] { return b.analyses }
func (b *Backend) AnalyzedImages() remote.Service[model.AnalyzedImage] {
	return b.analyzedImages
}
func (b *Backend) DiseasesIdentified() remote.Service[model.DiseaseIdentified] {
	return b.diseasesIdentified
}
func (b *Backend) Diseases() remote.Service[model.Disease]   { return b.diseases }
func (b *Backend) Feedbacks() remote.Service[model.Feedback] { return b.feedbacks }
func (b *Backend) FeedbackResponses() remote.Service[model.FeedbackResponse] {
	return b.feedbackResponses
}
func (b *Backend) Trash() remote.Service[model.Trash] { return b.trash }

// Close closes the connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
