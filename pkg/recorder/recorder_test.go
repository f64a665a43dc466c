package recorder

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"collaborative-frontend/pkg/change"
	"collaborative-frontend/pkg/datatypes"
)

func TestOpIDsContinueFromMaxOp(t *testing.T) {
	ctx := New(10, "alice", datatypes.NewRoot())
	root := ctx.Root()

	assert.Equal(t, root.Set("a", 1), nil)
	assert.Equal(t, root.Set("m", map[string]any{"y": "b", "x": "a"}), nil)

	ops := ctx.Ops()
	assert.Equal(t, len(ops), 4)
	assert.Equal(t, ops[1].Action, change.ActionMakeMap)
	// nested keys are written in sorted order into the map created by op 12
	assert.Equal(t, ops[2].Obj, "12@alice")
	assert.Equal(t, ops[2].Key, "x")
	assert.Equal(t, ops[3].Key, "y")

	e, ok := ctx.State().Entry("a")
	assert.Equal(t, ok, true)
	assert.Equal(t, e.OpID, change.OpID{Counter: 11, Actor: "alice"})
	assert.Equal(t, ctx.State().ToNative(), map[string]any{
		"a": int64(1),
		"m": map[string]any{"x": "a", "y": "b"},
	})
}

func TestPredReferencesCurrentEntry(t *testing.T) {
	view := datatypes.NewRoot().Set("k", datatypes.Entry{OpID: change.OpID{Counter: 4, Actor: "bob"}, Value: "old"})
	ctx := New(4, "alice", view)
	root := ctx.Root()

	assert.Equal(t, root.Set("k", "new"), nil)
	assert.Equal(t, root.Delete("k"), nil)
	assert.Equal(t, root.Set("fresh", 1.5), nil)

	ops := ctx.Ops()
	assert.Equal(t, ops[0].Pred, []change.OpID{{Counter: 4, Actor: "bob"}})
	assert.Equal(t, ops[1].Action, change.ActionDel)
	assert.Equal(t, ops[1].Pred, []change.OpID{{Counter: 5, Actor: "alice"}})
	assert.Equal(t, len(ops[2].Pred), 0)
	assert.Equal(t, ops[2].Datatype, change.DatatypeFloat64)

	// the view handed in is never modified
	v, _ := view.Get("k")
	assert.Equal(t, v, "old")
}

func TestProxyReads(t *testing.T) {
	ctx := New(0, "alice", datatypes.NewRoot())
	root := ctx.Root()
	assert.Equal(t, root.Set("m", map[string]any{"inner": map[string]any{"deep": true}}), nil)

	m, ok := root.Map("m")
	assert.Equal(t, ok, true)
	inner, ok := m.Get("inner")
	assert.Equal(t, ok, true)
	deep, ok := inner.(*MapProxy).Get("deep")
	assert.Equal(t, ok, true)
	assert.Equal(t, deep, true)
	assert.Equal(t, m.Keys(), []string{"inner"})
	assert.Equal(t, root.Len(), 1)

	_, ok = root.Map("missing")
	assert.Equal(t, ok, false)

	// a proxy whose map was overwritten reads as empty
	assert.Equal(t, root.Set("m", 1), nil)
	assert.Equal(t, m.Len(), 0)
}

func TestInvalidWritesRecordNothing(t *testing.T) {
	ctx := New(0, "alice", datatypes.NewRoot())
	root := ctx.Root()

	assert.Equal(t, errors.Is(root.Set("", 1), ErrEmptyKey), true)
	assert.Equal(t, errors.Is(root.Set("m", map[string]any{"ok": 1, "bad": struct{}{}}), change.ErrUnsupportedValue), true)
	assert.Equal(t, errors.Is(root.Set("m", map[string]any{"": 1}), ErrEmptyKey), true)
	assert.Equal(t, root.Delete("missing"), nil)

	assert.Equal(t, len(ctx.Ops()), 0)
	assert.Equal(t, ctx.State().Len(), 0)
}
