// Package model defines the persisted entities shared by the stores, the
// persistence adapter and the remote backends.
//
// JSON names and gorm column names are identical so a Patch keyed by JSON
// name can be applied both in memory and as a column update.
package model

import (
	"time"
)

// Record is implemented by every entity kept in a store.
type Record interface {
	RecordID() string
	ModifiedAt() time.Time
}

// Table names. The on-device database and the remote backend use the same set.
const (
	TableFarms              = "farms"
	TableTrees              = "trees"
	TableImages             = "images"
	TableAnalyses           = "analyses"
	TableAnalyzedImages     = "analyzed_images"
	TableDiseasesIdentified = "diseases_identified"
	TableDiseases           = "diseases"
	TableFeedbacks          = "feedbacks"
	TableFeedbackResponses  = "feedback_responses"
	TableTrash              = "trash"
	TablePendingItems       = "pending_items"
)

// Farm owns trees.
type Farm struct {
	ID          string       `json:"id" gorm:"column:id;primaryKey;size:36"`
	UserID      string       `json:"user_id" gorm:"column:user_id;index;size:64"`
	Name        string       `json:"name" gorm:"column:name"`
	Address     string       `json:"address" gorm:"column:address"`
	Description string       `json:"description" gorm:"column:description"`
	Status      RecordStatus `json:"status" gorm:"column:status;index"`
	AddedAt     time.Time    `json:"added_at" gorm:"column:added_at"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (Farm) TableName() string       { return TableFarms }
func (f Farm) RecordID() string      { return f.ID }
func (f Farm) ModifiedAt() time.Time { return f.UpdatedAt }

// Tree belongs to a farm and owns images.
type Tree struct {
	ID          string       `json:"id" gorm:"column:id;primaryKey;size:36"`
	FarmID      string       `json:"farm_id" gorm:"column:farm_id;index;size:36"`
	UserID      string       `json:"user_id" gorm:"column:user_id;index;size:64"`
	Code        string       `json:"code" gorm:"column:code;index"`
	Description string       `json:"description" gorm:"column:description"`
	Status      RecordStatus `json:"status" gorm:"column:status;index"`
	AddedAt     time.Time    `json:"added_at" gorm:"column:added_at"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (Tree) TableName() string       { return TableTrees }
func (t Tree) RecordID() string      { return t.ID }
func (t Tree) ModifiedAt() time.Time { return t.UpdatedAt }

// Image is an uploaded photo of a tree.
type Image struct {
	ID         string       `json:"id" gorm:"column:id;primaryKey;size:36"`
	TreeID     string       `json:"tree_id" gorm:"column:tree_id;index;size:36"`
	UserID     string       `json:"user_id" gorm:"column:user_id;index;size:64"`
	Data       []byte       `json:"data" gorm:"column:data"`
	Status     RecordStatus `json:"status" gorm:"column:status;index"`
	UploadedAt time.Time    `json:"uploaded_at" gorm:"column:uploaded_at"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (Image) TableName() string       { return TableImages }
func (i Image) RecordID() string      { return i.ID }
func (i Image) ModifiedAt() time.Time { return i.UpdatedAt }

// Analysis is the classification run for one image.
type Analysis struct {
	ID         string       `json:"id" gorm:"column:id;primaryKey;size:36"`
	ImageID    string       `json:"image_id" gorm:"column:image_id;index;size:36"`
	Status     RecordStatus `json:"status" gorm:"column:status"`
	AnalyzedAt time.Time    `json:"analyzed_at" gorm:"column:analyzed_at"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (Analysis) TableName() string       { return TableAnalyses }
func (a Analysis) RecordID() string      { return a.ID }
func (a Analysis) ModifiedAt() time.Time { return a.UpdatedAt }

// BoundingBox marks a detected region on the analyzed image.
type BoundingBox struct {
	Label      string  `json:"label"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// AnalyzedImage is the annotated output image of an analysis.
type AnalyzedImage struct {
	ID            string        `json:"id" gorm:"column:id;primaryKey;size:36"`
	AnalysisID    string        `json:"analysis_id" gorm:"column:analysis_id;index;size:36"`
	Data          []byte        `json:"data" gorm:"column:data"`
	BoundingBoxes []BoundingBox `json:"bounding_boxes" gorm:"column:bounding_boxes;serializer:json"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (AnalyzedImage) TableName() string       { return TableAnalyzedImages }
func (a AnalyzedImage) RecordID() string      { return a.ID }
func (a AnalyzedImage) ModifiedAt() time.Time { return a.UpdatedAt }

// HealthyDiseaseName is the label the classifier uses for a healthy leaf.
const HealthyDiseaseName = "Healthy"

// DiseaseIdentified is one label with its likelihood for an analysis.
type DiseaseIdentified struct {
	ID              string    `json:"id" gorm:"column:id;primaryKey;size:36"`
	AnalysisID      string    `json:"analysis_id" gorm:"column:analysis_id;index;size:36"`
	DiseaseName     string    `json:"disease_name" gorm:"column:disease_name"`
	LikelihoodScore float64   `json:"likelihood_score" gorm:"column:likelihood_score"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (DiseaseIdentified) TableName() string       { return TableDiseasesIdentified }
func (d DiseaseIdentified) RecordID() string      { return d.ID }
func (d DiseaseIdentified) ModifiedAt() time.Time { return d.UpdatedAt }

// IsHealthy reports whether the label is the healthy class.
func (d DiseaseIdentified) IsHealthy() bool { return d.DiseaseName == HealthyDiseaseName }

// Disease is catalog reference data.
type Disease struct {
	ID          string       `json:"id" gorm:"column:id;primaryKey;size:36"`
	Name        string       `json:"name" gorm:"column:name"`
	Description string       `json:"description" gorm:"column:description"`
	Status      RecordStatus `json:"status" gorm:"column:status"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (Disease) TableName() string       { return TableDiseases }
func (d Disease) RecordID() string      { return d.ID }
func (d Disease) ModifiedAt() time.Time { return d.UpdatedAt }

// Feedback is a user message to the operators.
type Feedback struct {
	ID         string       `json:"id" gorm:"column:id;primaryKey;size:36"`
	UserID     string       `json:"user_id" gorm:"column:user_id;index;size:64"`
	Content    string       `json:"content" gorm:"column:content"`
	Status     RecordStatus `json:"status" gorm:"column:status"`
	FeedbackAt time.Time    `json:"feedback_at" gorm:"column:feedback_at"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (Feedback) TableName() string       { return TableFeedbacks }
func (f Feedback) RecordID() string      { return f.ID }
func (f Feedback) ModifiedAt() time.Time { return f.UpdatedAt }

// FeedbackResponse answers a feedback.
type FeedbackResponse struct {
	ID          string       `json:"id" gorm:"column:id;primaryKey;size:36"`
	FeedbackID  string       `json:"feedback_id" gorm:"column:feedback_id;index;size:36"`
	UserID      string       `json:"user_id" gorm:"column:user_id;size:64"`
	Content     string       `json:"content" gorm:"column:content"`
	Status      RecordStatus `json:"status" gorm:"column:status"`
	RespondedAt time.Time    `json:"responded_at" gorm:"column:responded_at"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (FeedbackResponse) TableName() string       { return TableFeedbackResponses }
func (f FeedbackResponse) RecordID() string      { return f.ID }
func (f FeedbackResponse) ModifiedAt() time.Time { return f.UpdatedAt }

// Trash is an append-only audit row for a soft delete.
// CascadedImageIDs lists the images moved to trash together with a tree,
// so restore and permanent delete touch exactly those.
type Trash struct {
	ID               string      `json:"id" gorm:"column:id;primaryKey;size:36"`
	UserID           string      `json:"user_id" gorm:"column:user_id;index;size:64"`
	ItemID           string      `json:"item_id" gorm:"column:item_id;size:36"`
	ItemType         ItemType    `json:"item_type" gorm:"column:item_type"`
	Status           TrashStatus `json:"status" gorm:"column:status"`
	DeletedAt        time.Time   `json:"deleted_at" gorm:"column:deleted_at"`
	CascadedImageIDs []string    `json:"cascaded_image_ids" gorm:"column:cascaded_image_ids;serializer:json"`
	UpdatedAt        time.Time   `json:"updated_at" gorm:"column:updated_at;index;autoUpdateTime:false"`
}

func (Trash) TableName() string       { return TableTrash }
func (t Trash) RecordID() string      { return t.ID }
func (t Trash) ModifiedAt() time.Time { return t.UpdatedAt }

// Ref returns the typed reference to the trashed item.
func (t Trash) Ref() (ItemRef, error) {
	return ParseItemRef(t.ItemType, t.ItemID)
}

// PendingItem is a scan request waiting for connectivity. It never leaves the device.
type PendingItem struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	TreeCode    string        `json:"tree_code"`
	ImageURL    string        `json:"image_url"`
	Status      PendingStatus `json:"status"`
	Seq         int64         `json:"seq"` // enqueue order
	QueuedAt    time.Time     `json:"queued_at"`
	ProcessedAt *time.Time    `json:"processed_at"`
	Error       string        `json:"error"`
}

func (p PendingItem) RecordID() string      { return p.ID }
func (p PendingItem) ModifiedAt() time.Time { return p.QueuedAt }
