// Package metadata holds the shared vocabulary of the inference workflow:
// extracted properties, the fixed field catalogue, field assignments and the
// session keys the workflow reads and writes.
package metadata

import (
	"errors"
	"fmt"
	"slices"
)

// Session storage keys.
const (
	KeyDatasetFiles       = "datasetFiles"
	KeyInferenceSelection = "metadataInferenceSelection"
	KeyGeneratedTitle     = "aiGeneratedTitle"
	GeneratedKeyPrefix    = "aiGenerated"
)

// PropertyType is the inferred category of an extracted property.
type PropertyType string

const (
	TypeText        PropertyType = "text"
	TypeNumeric     PropertyType = "numeric"
	TypeDate        PropertyType = "date"
	TypeCoordinates PropertyType = "coordinates"
	TypeBoolean     PropertyType = "boolean"
)

// PropertyTypes lists the categories in display order.
var PropertyTypes = []PropertyType{TypeText, TypeNumeric, TypeDate, TypeCoordinates, TypeBoolean}

// Property is a named column/predicate found in an uploaded file.
type Property struct {
	Name string       `json:"name"`
	Type PropertyType `json:"type"`
}

// Grouped buckets property names by inferred type.
type Grouped map[PropertyType][]string

// Group builds a Grouped with every category present, keeping input order.
func Group(props []Property) Grouped {
	g := make(Grouped, len(PropertyTypes))
	for _, t := range PropertyTypes {
		g[t] = []string{}
	}
	for _, p := range props {
		t := p.Type
		if _, ok := g[t]; !ok {
			t = TypeText
		}
		g[t] = append(g[t], p.Name)
	}
	return g
}

// FileDescriptor is one uploaded file as kept in session storage.
type FileDescriptor struct {
	Name    string `json:"name"`
	Format  string `json:"format,omitempty"`
	Content string `json:"content"`
}

// Organization is a catalog organization.
type Organization struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// Label is the text shown for the organization in a selector.
func (o Organization) Label() string {
	if o.Title != "" {
		return o.Title
	}
	return o.Name
}

// ErrUnknownField is returned when a field id is outside the closed set.
var ErrUnknownField = errors.New("unknown metadata field")

// Assignment maps fields to the ordered property names assigned to them.
type Assignment map[FieldID][]string

// NewAssignment returns an assignment with an empty list per field.
func NewAssignment() Assignment {
	a := make(Assignment, len(catalogue))
	for _, id := range FieldIDs() {
		a[id] = []string{}
	}
	return a
}

// Add appends property to field unless it is already there. It reports
// whether the assignment changed.
func (a Assignment) Add(field FieldID, property string) (bool, error) {
	if !field.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if property == "" {
		return false, errors.New("property name is required")
	}
	if slices.Contains(a[field], property) {
		return false, nil
	}
	a[field] = append(a[field], property)
	return true, nil
}

// Remove deletes property from field. Removing an absent property is a no-op.
func (a Assignment) Remove(field FieldID, property string) bool {
	list := a[field]
	idx := slices.Index(list, property)
	if idx < 0 {
		return false
	}
	a[field] = slices.Delete(slices.Clone(list), idx, idx+1)
	return true
}

// Assigned returns the properties assigned to field.
func (a Assignment) Assigned(field FieldID) []string {
	return a[field]
}

// NonEmpty returns only the fields that have at least one property.
func (a Assignment) NonEmpty() Assignment {
	out := Assignment{}
	for _, id := range FieldIDs() {
		if len(a[id]) > 0 {
			out[id] = slices.Clone(a[id])
		}
	}
	return out
}

// Fields returns the assigned fields in field order.
func (a Assignment) Fields() []FieldID {
	var out []FieldID
	for _, id := range FieldIDs() {
		if len(a[id]) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// Normalize builds a well-formed assignment from untrusted input: unknown
// fields are dropped and duplicates collapsed.
func Normalize(in map[FieldID][]string) Assignment {
	a := NewAssignment()
	for field, props := range in {
		for _, p := range props {
			_, _ = a.Add(field, p)
		}
	}
	return a
}
