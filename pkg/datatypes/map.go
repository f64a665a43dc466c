// Package datatypes holds the document container and the merge of backend
// diffs into it.
//
// Map is persistent: every write returns a new Map and shares all untouched
// structure with the old one, so an optimistic fork of a document costs a
// pointer copy and writes to the fork never reach the canonical state.
package datatypes

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/immutable"

	"collaborative-frontend/pkg/change"
)

var ErrNotAMap = errors.New("value is not a map")

// Entry is one key's value plus the op that wrote it.
type Entry struct {
	OpID  change.OpID
	Value any
}

// Map is an ordered string-keyed container. Values are scalars or *Map.
type Map struct {
	objectID string
	entries  *immutable.SortedMap[string, Entry]
}

// NewMap returns an empty map for the given object id.
func NewMap(objectID string) *Map {
	return &Map{
		objectID: objectID,
		entries:  immutable.NewSortedMap[string, Entry](nil),
	}
}

// NewRoot returns an empty document root.
func NewRoot() *Map {
	return NewMap(change.RootID)
}

func (m *Map) ObjectID() string {
	return m.objectID
}

func (m *Map) Len() int {
	return m.entries.Len()
}

func (m *Map) Get(key string) (any, bool) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

func (m *Map) Entry(key string) (Entry, bool) {
	return m.entries.Get(key)
}

// Keys returns the keys in iteration order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, m.entries.Len())
	itr := m.entries.Iterator()
	for !itr.Done() {
		k, _, _ := itr.Next()
		keys = append(keys, k)
	}
	return keys
}

// Range calls fn for each key in order until fn returns false.
func (m *Map) Range(fn func(key string, value any) bool) {
	itr := m.entries.Iterator()
	for !itr.Done() {
		k, e, _ := itr.Next()
		if !fn(k, e.Value) {
			return
		}
	}
}

// Set returns a copy of m with key bound to e.
func (m *Map) Set(key string, e Entry) *Map {
	return &Map{objectID: m.objectID, entries: m.entries.Set(key, e)}
}

// Delete returns a copy of m without key.
func (m *Map) Delete(key string) *Map {
	if _, ok := m.entries.Get(key); !ok {
		return m
	}
	return &Map{objectID: m.objectID, entries: m.entries.Delete(key)}
}

// Lookup resolves the nested map reached by following path from m.
func (m *Map) Lookup(path []string) (*Map, error) {
	cur := m
	for i, key := range path {
		v, ok := cur.Get(key)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrNotAMap, path[:i+1])
		}
		child, ok := v.(*Map)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrNotAMap, path[:i+1])
		}
		cur = child
	}
	return cur, nil
}

// SetIn binds key in the map at path and returns the new root. Every map on
// the path is copied, everything else is shared.
func (m *Map) SetIn(path []string, key string, e Entry) (*Map, error) {
	return m.updateIn(path, func(target *Map) *Map { return target.Set(key, e) })
}

// DeleteIn removes key from the map at path and returns the new root.
func (m *Map) DeleteIn(path []string, key string) (*Map, error) {
	return m.updateIn(path, func(target *Map) *Map { return target.Delete(key) })
}

func (m *Map) updateIn(path []string, fn func(*Map) *Map) (*Map, error) {
	if len(path) == 0 {
		return fn(m), nil
	}
	e, ok := m.entries.Get(path[0])
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotAMap, path[0])
	}
	child, ok := e.Value.(*Map)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotAMap, path[0])
	}
	updated, err := child.updateIn(path[1:], fn)
	if err != nil {
		return nil, err
	}
	return m.Set(path[0], Entry{OpID: e.OpID, Value: updated}), nil
}

// ToNative copies m into plain Go maps.
func (m *Map) ToNative() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(key string, value any) bool {
		if child, ok := value.(*Map); ok {
			out[key] = child.ToNative()
		} else {
			out[key] = value
		}
		return true
	})
	return out
}
