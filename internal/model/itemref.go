package model

import (
	"fmt"

	"github.com/leafscan/leafscan/internal/errors"
)

// ItemType is the wire encoding of a trashable item kind.
// It only appears on Trash rows; components work with ItemRef.
type ItemType int

const (
	ItemTypeTree  ItemType = 1
	ItemTypeImage ItemType = 2
)

func (t ItemType) String() string {
	switch t {
	case ItemTypeTree:
		return "tree"
	case ItemTypeImage:
		return "image"
	default:
		return fmt.Sprintf("item(%d)", int(t))
	}
}

// ItemRef identifies a trashable entity. The set of implementations is closed.
type ItemRef interface {
	ItemID() string
	ItemType() ItemType
	isItemRef()
}

// TreeRef refers to a Tree.
type TreeRef struct{ ID string }

// ImageRef refers to an Image.
type ImageRef struct{ ID string }

func (r TreeRef) ItemID() string    { return r.ID }
func (TreeRef) ItemType() ItemType  { return ItemTypeTree }
func (TreeRef) isItemRef()          {}
func (r ImageRef) ItemID() string   { return r.ID }
func (ImageRef) ItemType() ItemType { return ItemTypeImage }
func (ImageRef) isItemRef()         {}
func (r TreeRef) String() string    { return "tree:" + r.ID }
func (r ImageRef) String() string   { return "image:" + r.ID }

// ParseItemRef converts the wire pair into a typed reference.
func ParseItemRef(t ItemType, id string) (ItemRef, error) {
	if id == "" {
		return nil, errors.ValidationError("model", "item id is required")
	}
	switch t {
	case ItemTypeTree:
		return TreeRef{ID: id}, nil
	case ItemTypeImage:
		return ImageRef{ID: id}, nil
	default:
		return nil, errors.Newf("unknown item type %d", int(t)).
			Component("model").
			Category(errors.CategoryValidation).
			Build()
	}
}
