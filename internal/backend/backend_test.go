package backend

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"collaborative-frontend/pkg/change"
)

func setOp(obj, key string, value any, pred ...change.OpID) change.Op {
	v, datatype, _ := change.NormalizeScalar(value)
	if pred == nil {
		pred = []change.OpID{}
	}
	return change.Op{Action: change.ActionSet, Obj: obj, Key: key, Value: v, Datatype: datatype, Pred: pred}
}

func opID(counter uint64, actor string) change.OpID {
	return change.OpID{Counter: counter, Actor: actor}
}

func encode(t *testing.T, c change.Change) []byte {
	data, err := change.Encode(c)
	assert.Equal(t, err, nil)
	return data
}

func TestApplyLocalChange(t *testing.T) {
	b := New("doc")
	c := change.Change{Actor: "alice", Seq: 1, StartOp: 1, Deps: []string{}, Ops: []change.Op{
		{Action: change.ActionMakeMap, Obj: change.RootID, Key: "m", Pred: []change.OpID{}},
		setOp("1@alice", "k", "v"),
	}}

	patch, encoded, err := b.ApplyLocalChange(c)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, len(encoded), 0)
	assert.Equal(t, patch.ActorID, "alice")
	assert.Equal(t, patch.Seq, uint64(1))
	assert.Equal(t, patch.MaxOp, uint64(2))
	assert.Equal(t, patch.Clock, change.Clock{"alice": 1})

	m := patch.Diffs.Props["m"]["1@alice"]
	assert.Equal(t, m.ObjectID, "1@alice")
	assert.Equal(t, m.Props["k"]["2@alice"].Value, "v")

	assert.Equal(t, len(b.Changes()), 1)
	assert.Equal(t, b.DocumentID(), "doc")
}

func TestApplyLocalChangeRejects(t *testing.T) {
	b := New("doc")

	_, _, err := b.ApplyLocalChange(change.Change{Actor: "alice", Seq: 2, StartOp: 1})
	assert.Equal(t, errors.Is(err, ErrSequenceGap), true)

	_, _, err = b.ApplyLocalChange(change.Change{Actor: "alice", Seq: 1, StartOp: 1, Ops: []change.Op{
		setOp("9@bob", "k", 1),
	}})
	assert.Equal(t, errors.Is(err, ErrUnknownObject), true)

	_, _, err = b.ApplyLocalChange(change.Change{Actor: "alice", Seq: 1, StartOp: 1, Ops: []change.Op{
		{Action: "inc", Obj: change.RootID, Key: "k"},
	}})
	assert.Equal(t, errors.Is(err, ErrUnknownAction), true)

	// nothing was applied
	assert.Equal(t, len(b.Clock()), 0)
	assert.Equal(t, b.MaxOp(), uint64(0))
	assert.Equal(t, len(b.Changes()), 0)
}

func TestConcurrentSetsConflict(t *testing.T) {
	b := New("doc")
	alice := change.Change{Actor: "alice", Seq: 1, StartOp: 1, Deps: []string{}, Ops: []change.Op{setOp(change.RootID, "k", "a")}}
	bob := change.Change{Actor: "bob", Seq: 1, StartOp: 1, Deps: []string{}, Ops: []change.Op{setOp(change.RootID, "k", "b")}}

	_, _, err := b.ApplyLocalChange(alice)
	assert.Equal(t, err, nil)
	patch, err := b.ApplyChanges(encode(t, bob))
	assert.Equal(t, err, nil)

	// both ops survive until one supersedes the other
	values := patch.Diffs.Props["k"]
	assert.Equal(t, len(values), 2)
	assert.Equal(t, values["1@alice"].Value, "a")
	assert.Equal(t, values["1@bob"].Value, "b")

	resolve := change.Change{Actor: "alice", Seq: 2, StartOp: 2, Deps: []string{}, Ops: []change.Op{
		setOp(change.RootID, "k", "c", opID(1, "alice"), opID(1, "bob")),
	}}
	patch, _, err = b.ApplyLocalChange(resolve)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(patch.Diffs.Props["k"]), 1)
	assert.Equal(t, patch.Diffs.Props["k"]["2@alice"].Value, "c")
}

func TestCausalBuffering(t *testing.T) {
	b := New("doc")
	first := change.Change{Actor: "bob", Seq: 1, StartOp: 1, Deps: []string{}, Ops: []change.Op{setOp(change.RootID, "a", 1)}}
	second := change.Change{Actor: "bob", Seq: 2, StartOp: 2, Deps: []string{}, Ops: []change.Op{setOp(change.RootID, "b", 2)}}

	patch, err := b.ApplyChanges(encode(t, second))
	assert.Equal(t, err, nil)
	assert.Equal(t, b.Pending(), 1)
	assert.Equal(t, len(patch.Diffs.Props), 0)
	assert.Equal(t, len(b.Clock()), 0)

	patch, err = b.ApplyChanges(encode(t, first))
	assert.Equal(t, err, nil)
	assert.Equal(t, b.Pending(), 0)
	assert.Equal(t, b.Clock(), change.Clock{"bob": 2})
	assert.Equal(t, b.MaxOp(), uint64(2))
	assert.Equal(t, patch.Diffs.Props["a"]["1@bob"].Value, int64(1))
	assert.Equal(t, patch.Diffs.Props["b"]["2@bob"].Value, int64(2))

	// duplicates are dropped
	patch, err = b.ApplyChanges(encode(t, first), encode(t, second))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(patch.Diffs.Props), 0)
	assert.Equal(t, len(b.Changes()), 2)

	_, err = b.ApplyChanges([]byte{0xff})
	assert.NotEqual(t, err, nil)
}

func TestInvalidRemoteChangeIsDropped(t *testing.T) {
	b := New("doc")
	bad := change.Change{Actor: "bob", Seq: 1, StartOp: 1, Deps: []string{}, Ops: []change.Op{setOp("7@carol", "k", 1)}}

	_, err := b.ApplyChanges(encode(t, bad))
	assert.Equal(t, err, nil)
	assert.Equal(t, b.Pending(), 0)
	assert.Equal(t, len(b.Clock()), 0)
}

func TestDeleteAndGetPatch(t *testing.T) {
	b := New("doc")
	_, _, err := b.ApplyLocalChange(change.Change{Actor: "alice", Seq: 1, StartOp: 1, Deps: []string{}, Ops: []change.Op{
		setOp(change.RootID, "x", 1),
		{Action: change.ActionMakeMap, Obj: change.RootID, Key: "m", Pred: []change.OpID{}},
		setOp("2@alice", "inner", true),
	}})
	assert.Equal(t, err, nil)

	patch, _, err := b.ApplyLocalChange(change.Change{Actor: "alice", Seq: 2, StartOp: 4, Deps: []string{}, Ops: []change.Op{
		{Action: change.ActionDel, Obj: change.RootID, Key: "x", Pred: []change.OpID{opID(1, "alice")}},
	}})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(patch.Diffs.Props["x"]), 0)
	_, touched := patch.Diffs.Props["m"]
	assert.Equal(t, touched, false)

	full := b.GetPatch()
	assert.Equal(t, full.ActorID, "")
	assert.Equal(t, full.MaxOp, uint64(4))
	_, hasX := full.Diffs.Props["x"]
	assert.Equal(t, hasX, false)
	m := full.Diffs.Props["m"]["2@alice"]
	assert.Equal(t, m.Props["inner"]["3@alice"].Value, true)
}
