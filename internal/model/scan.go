package model

import (
	"strings"

	"github.com/leafscan/leafscan/internal/errors"
)

// ScanRequest asks the classifier to analyze one uploaded photo.
type ScanRequest struct {
	UserID   string `json:"user_id"`
	TreeCode string `json:"tree_code"`
	ImageURL string `json:"image_url"`
}

// Validate reports missing fields.
func (r ScanRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(r.TreeCode) == "" {
		missing = append(missing, "tree_code")
	}
	if strings.TrimSpace(r.ImageURL) == "" {
		missing = append(missing, "image_url")
	}
	if len(missing) > 0 {
		return errors.ValidationError("model", "scan request is missing "+strings.Join(missing, ", "))
	}
	return nil
}

// ScanDisease is one label returned by the classifier.
type ScanDisease struct {
	Name       string  `json:"name"`
	Likelihood float64 `json:"likelihood"`
}

// ScanResult is the classifier output for one photo.
type ScanResult struct {
	Diseases      []ScanDisease `json:"diseases"`
	AnalyzedImage []byte        `json:"analyzed_image"`
	OriginalImage []byte        `json:"original_image"`
	BoundingBoxes []BoundingBox `json:"bounding_boxes"`
}

// Request returns the scan request the item was queued for.
func (p PendingItem) Request() ScanRequest {
	return ScanRequest{UserID: p.UserID, TreeCode: p.TreeCode, ImageURL: p.ImageURL}
}
