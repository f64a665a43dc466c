package datatypes

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"collaborative-frontend/pkg/change"
)

func id(counter uint64, actor string) change.OpID {
	return change.OpID{Counter: counter, Actor: actor}
}

func TestMapIsPersistent(t *testing.T) {
	a := NewRoot()
	b := a.Set("x", Entry{OpID: id(1, "alice"), Value: int64(1)})
	c := b.Set("x", Entry{OpID: id(2, "alice"), Value: int64(2)})
	d := c.Delete("x")

	assert.Equal(t, a.Len(), 0)
	v, _ := b.Get("x")
	assert.Equal(t, v, int64(1))
	v, _ = c.Get("x")
	assert.Equal(t, v, int64(2))
	_, ok := d.Get("x")
	assert.Equal(t, ok, false)

	// deleting a missing key returns the same map
	assert.Equal(t, d.Delete("x") == d, true)
	assert.Equal(t, d.ObjectID(), change.RootID)
}

func TestNestedUpdates(t *testing.T) {
	root := NewRoot().Set("m", Entry{OpID: id(1, "alice"), Value: NewMap("1@alice")})

	updated, err := root.SetIn([]string{"m"}, "k", Entry{OpID: id(2, "alice"), Value: "v"})
	assert.Equal(t, err, nil)

	m, err := updated.Lookup([]string{"m"})
	assert.Equal(t, err, nil)
	assert.Equal(t, m.ObjectID(), "1@alice")
	assert.Equal(t, m.Keys(), []string{"k"})

	// the parent entry keeps the op that created the map
	e, _ := updated.Entry("m")
	assert.Equal(t, e.OpID, id(1, "alice"))

	old, err := root.Lookup([]string{"m"})
	assert.Equal(t, err, nil)
	assert.Equal(t, old.Len(), 0)

	removed, err := updated.DeleteIn([]string{"m"}, "k")
	assert.Equal(t, err, nil)
	assert.Equal(t, removed.ToNative(), map[string]any{"m": map[string]any{}})

	_, err = updated.Lookup([]string{"m", "k"})
	assert.Equal(t, errors.Is(err, ErrNotAMap), true)
	_, err = updated.SetIn([]string{"missing"}, "k", Entry{})
	assert.Equal(t, errors.Is(err, ErrNotAMap), true)
}

func TestApplyDiff(t *testing.T) {
	state := NewRoot()
	d := &change.Diff{ObjectID: change.RootID, Type: change.DiffTypeMap, Props: map[string]map[string]*change.Diff{
		"n":    {"1@alice": {Value: 3.0, Datatype: change.DatatypeInt}},
		"f":    {"2@alice": {Value: 0.5, Datatype: change.DatatypeFloat64}},
		"flag": {"3@alice": {Value: true}},
		"m": {"4@alice": {ObjectID: "4@alice", Type: change.DiffTypeMap, Props: map[string]map[string]*change.Diff{
			"inner": {"5@alice": {Value: "x"}},
		}}},
	}}

	next, err := ApplyDiff(state, d)
	assert.Equal(t, err, nil)
	assert.Equal(t, state.Len(), 0)
	assert.Equal(t, next.ToNative(), map[string]any{
		"n":    int64(3),
		"f":    0.5,
		"flag": true,
		"m":    map[string]any{"inner": "x"},
	})

	// a diff that only touches the nested map keeps its other keys
	more := &change.Diff{ObjectID: change.RootID, Type: change.DiffTypeMap, Props: map[string]map[string]*change.Diff{
		"m": {"4@alice": {ObjectID: "4@alice", Type: change.DiffTypeMap, Props: map[string]map[string]*change.Diff{
			"other": {"6@bob": {Value: "y"}},
		}}},
		"flag": {},
	}}
	next, err = ApplyDiff(next, more)
	assert.Equal(t, err, nil)
	assert.Equal(t, next.ToNative()["m"], map[string]any{"inner": "x", "other": "y"})
	_, ok := next.Get("flag")
	assert.Equal(t, ok, false)

	same, err := ApplyDiff(next, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, same == next, true)
}

func TestApplyDiffConflict(t *testing.T) {
	d := &change.Diff{Props: map[string]map[string]*change.Diff{
		"k": {
			"3@alice": {Value: "a"},
			"3@bob":   {Value: "b"},
			"2@carol": {Value: "c"},
		},
	}}
	next, err := ApplyDiff(NewRoot(), d)
	assert.Equal(t, err, nil)

	e, _ := next.Entry("k")
	assert.Equal(t, e.Value, "b")
	assert.Equal(t, e.OpID, id(3, "bob"))
}

func TestApplyDiffErrors(t *testing.T) {
	_, err := ApplyDiff(NewRoot(), &change.Diff{ObjectID: "1@alice"})
	assert.Equal(t, errors.Is(err, ErrObjectMismatch), true)

	_, err = ApplyDiff(NewRoot(), &change.Diff{Type: "list"})
	assert.Equal(t, errors.Is(err, ErrUnsupportedType), true)

	_, err = ApplyDiff(NewRoot(), &change.Diff{Props: map[string]map[string]*change.Diff{
		"k": {"nonsense": {Value: 1.0}},
	}})
	assert.Equal(t, errors.Is(err, change.ErrInvalidOpID), true)

	_, err = ApplyDiff(NewRoot(), &change.Diff{Props: map[string]map[string]*change.Diff{
		"k": {"1@a": {Value: 1.5, Datatype: change.DatatypeInt}},
	}})
	assert.Equal(t, errors.Is(err, change.ErrUnsupportedValue), true)
}
