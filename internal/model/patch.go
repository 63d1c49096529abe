package model

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/leafscan/leafscan/internal/errors"
)

// Patch is a partial record update. Only keys present in Fields change;
// a key mapped to nil resets the field to its zero value. Nested values
// (slices, objects) are replaced whole, never merged.
type Patch struct {
	ID     string
	Fields map[string]any
}

// NewPatch builds a patch for id. fields is copied.
func NewPatch(id string, fields map[string]any) Patch {
	return Patch{ID: id, Fields: maps.Clone(fields)}
}

// Columns returns the changed field names in sorted order.
func (p Patch) Columns() []string {
	return slices.Sorted(maps.Keys(p.Fields))
}

// Validate rejects patches without an id or attempting to change it.
func (p Patch) Validate() error {
	if p.ID == "" {
		return errors.ValidationError("model", "patch requires a record id")
	}
	if id, ok := p.Fields["id"]; ok && id != p.ID {
		return errors.ValidationError("model", "patch cannot change the record id")
	}
	return nil
}

// Merge folds next into p; keys in next win.
func (p Patch) Merge(next Patch) Patch {
	out := Patch{ID: p.ID, Fields: maps.Clone(p.Fields)}
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(next.Fields))
	}
	maps.Copy(out.Fields, next.Fields)
	return out
}

// MarshalJSON encodes the patch as a flat object including the id.
func (p Patch) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Fields)+1)
	maps.Copy(m, p.Fields)
	m["id"] = p.ID
	return json.Marshal(m)
}

// UnmarshalJSON decodes a flat object with an "id" key.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	id, _ := m["id"].(string)
	delete(m, "id")
	p.ID = id
	p.Fields = m
	return nil
}

// Apply returns rec with the patch fields overlaid. Unknown field names are
// rejected so a typo cannot silently drop an update.
func Apply[T Record](rec T, p Patch) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	if rec.RecordID() != "" && rec.RecordID() != p.ID {
		return zero, errors.ValidationError("model", "patch id does not match record")
	}

	current, err := toMap(rec)
	if err != nil {
		return zero, err
	}
	for key, value := range p.Fields {
		if _, known := current[key]; !known {
			return zero, errors.Newf("unknown field %q", key).
				Component("model").
				Category(errors.CategoryValidation).
				Context("id", p.ID).
				Build()
		}
		current[key] = value
	}
	current["id"] = p.ID

	raw, err := json.Marshal(current)
	if err != nil {
		return zero, errors.New(err).Component("model").Category(errors.CategoryValidation).Build()
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, errors.New(err).
			Component("model").
			Category(errors.CategoryValidation).
			Context("id", p.ID).
			Build()
	}
	return out, nil
}

// FullPatch returns a patch carrying every field of rec.
func FullPatch[T Record](rec T) (Patch, error) {
	m, err := toMap(rec)
	if err != nil {
		return Patch{}, err
	}
	delete(m, "id")
	return Patch{ID: rec.RecordID(), Fields: m}, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.New(err).Component("model").Category(errors.CategoryValidation).Build()
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.New(err).Component("model").Category(errors.CategoryValidation).Build()
	}
	return m, nil
}
