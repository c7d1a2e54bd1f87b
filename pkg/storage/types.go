package storage

import (
	"cmp"
	"fmt"
	"slices"
)

// Field names one of the turn-indexed collections of a context.
type Field string

const (
	LabelsField    Field = "labels"
	RequestsField  Field = "requests"
	ResponsesField Field = "responses"
)

// Fields lists every collection of a context in a stable order.
var Fields = []Field{LabelsField, RequestsField, ResponsesField}

// Validate rejects names that are not one of the known collections. Drivers
// that interpolate field names into queries or keys rely on this.
func (f Field) Validate() error {
	if slices.Contains(Fields, f) {
		return nil
	}
	return fmt.Errorf("unknown context field %q", string(f))
}

// ContextInfo is the scalar record persisted for every context.
type ContextInfo struct {
	TurnID        int    `json:"turn_id" bson:"turn_id"`
	CreatedAt     int64  `json:"created_at" bson:"created_at"`
	UpdatedAt     int64  `json:"updated_at" bson:"updated_at"`
	Misc          []byte `json:"misc" bson:"misc"`
	FrameworkData []byte `json:"framework_data" bson:"framework_data"`
}

// Item is one serialized turn entry.
type Item struct {
	Key   int
	Value []byte
}

// SortItems orders items by key, ascending.
func SortItems(items []Item) {
	slices.SortFunc(items, func(a, b Item) int { return cmp.Compare(a.Key, b.Key) })
}

// Subscript selects which entries of a field are prefetched when a context
// is loaded. Exactly one of the selectors applies, checked in the order All,
// Keys, Latest. The zero Subscript prefetches nothing.
type Subscript struct {
	// All prefetches every entry.
	All bool

	// Keys prefetches an explicit set of turn ids.
	Keys []int

	// Latest prefetches the N entries with the greatest turn ids.
	Latest int
}

// LatestN is shorthand for a Subscript selecting the n most recent entries.
func LatestN(n int) Subscript {
	return Subscript{Latest: n}
}

// IsZero reports whether the subscript selects nothing.
func (s Subscript) IsZero() bool {
	return !s.All && len(s.Keys) == 0 && s.Latest <= 0
}

// Select applies the subscript to a set of stored keys and returns the keys
// to load, sorted descending. Backends without native ordering use this to
// implement LoadFieldLatest.
func (s Subscript) Select(keys []int) []int {
	var out []int

	switch {
	case s.All:
		out = slices.Clone(keys)
	case len(s.Keys) > 0:
		for _, k := range keys {
			if slices.Contains(s.Keys, k) {
				out = append(out, k)
			}
		}
	case s.Latest > 0:
		out = slices.Clone(keys)
	default:
		return nil
	}

	slices.SortFunc(out, func(a, b int) int { return cmp.Compare(b, a) })
	if !s.All && len(s.Keys) == 0 && len(out) > s.Latest {
		out = out[:s.Latest]
	}
	return out
}
