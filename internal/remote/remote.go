// Package remote defines the CRUD contract every backend service satisfies.
package remote

import (
	"context"
	"time"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/model"
)

// ErrAlreadyExists is returned by Create when the id is already taken.
var ErrAlreadyExists = errors.Newf("record already exists").
	Component("remote").
	Category(errors.CategoryConflict).
	Build()

// Scope selects the records a List call returns.
type Scope struct {
	UserID          string               // filters on user_id when set
	ParentColumn    string               // e.g. farm_id
	ParentIDs       []string             // values of ParentColumn; empty with a column set means no rows
	Since           time.Time            // only records updated after this instant
	ExcludeStatuses []model.RecordStatus // e.g. permanently deleted rows
}

// Empty reports whether the scope cannot match any record, so no request
// needs to be made.
func (s Scope) Empty() bool {
	return s.ParentColumn != "" && len(s.ParentIDs) == 0
}

// Service is a remote collection of one entity type.
type Service[T model.Record] interface {
	List(ctx context.Context, scope Scope) ([]T, error)
	Create(ctx context.Context, rec T) (T, error)
	// Update merges the patch fields into the stored record and returns the result.
	Update(ctx context.Context, patch model.Patch) (T, error)
}

// Backend hands out the service for each entity type.
type Backend interface {
	Farms() Service[model.Farm]
	Trees() Service[model.Tree]
	Images() Service[model.Image]
	Analyses() Service[model.Analysis]
	AnalyzedImages() Service[model.AnalyzedImage]
	DiseasesIdentified() Service[model.DiseaseIdentified]
	Diseases() Service[model.Disease]
	Feedbacks() Service[model.Feedback]
	FeedbackResponses() Service[model.FeedbackResponse]
	Trash() Service[model.Trash]
	Close() error
}

// ValidateID rejects records without an identifier.
func ValidateID(table, id string) error {
	if id == "" {
		return errors.New(errors.NewStd("missing record id")).
			Component("remote").
			Category(errors.CategoryValidation).
			Context("table", table).
			Build()
	}
	return nil
}
