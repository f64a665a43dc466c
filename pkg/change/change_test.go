package change

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/go-playground/assert/v2"
)

func sample() Change {
	return Change{
		Actor:   "alice",
		Seq:     2,
		StartOp: 5,
		Deps:    []string{},
		Ops: []Op{
			{Action: ActionMakeMap, Obj: RootID, Key: "m", Pred: []OpID{}},
			{Action: ActionSet, Obj: "5@alice", Key: "n", Value: int64(-3), Datatype: DatatypeInt, Pred: []OpID{}},
			{Action: ActionSet, Obj: RootID, Key: "s", Value: "hi", Pred: []OpID{{Counter: 1, Actor: "bob"}}},
			{Action: ActionDel, Obj: RootID, Key: "gone", Pred: []OpID{{Counter: 2, Actor: "alice"}}},
		},
		Time:    1700000000,
		Message: "edit",
	}
}

func TestOpID(t *testing.T) {
	id, err := ParseOpID("12@alice")
	assert.Equal(t, err, nil)
	assert.Equal(t, id, OpID{Counter: 12, Actor: "alice"})
	assert.Equal(t, id.String(), "12@alice")

	for _, bad := range []string{"", "12", "@alice", "x@alice", "12@"} {
		_, err := ParseOpID(bad)
		assert.Equal(t, errors.Is(err, ErrInvalidOpID), true)
	}

	assert.Equal(t, OpID{Counter: 2, Actor: "a"}.Compare(OpID{Counter: 10, Actor: "a"}) < 0, true)
	assert.Equal(t, OpID{Counter: 3, Actor: "b"}.Compare(OpID{Counter: 3, Actor: "a"}) > 0, true)
	assert.Equal(t, OpID{}.String(), "")
	assert.Equal(t, OpID{}.IsZero(), true)
}

func TestEncodeDecode(t *testing.T) {
	in := sample()
	data, err := Encode(in)
	assert.Equal(t, err, nil)

	out, err := Decode(data)
	assert.Equal(t, err, nil)
	assert.Equal(t, out, in)
	assert.Equal(t, out.MaxOp(), uint64(8))
	assert.Equal(t, out.OpIDAt(0).String(), "5@alice")

	_, err = Decode([]byte{0xff, 0xff})
	assert.NotEqual(t, err, nil)
}

func TestEncodeKeepsLargeIntegers(t *testing.T) {
	in := sample()
	in.Ops[1].Value = int64(1<<60 + 1)
	in.Ops = append(in.Ops, Op{Action: ActionSet, Obj: RootID, Key: "u", Value: uint64(math.MaxUint64), Datatype: DatatypeUint, Pred: []OpID{}})
	data, err := Encode(in)
	assert.Equal(t, err, nil)

	out, err := Decode(data)
	assert.Equal(t, err, nil)
	assert.Equal(t, out.Ops[1].Value, int64(1<<60+1))
	assert.Equal(t, out.Ops[4].Value, uint64(math.MaxUint64))
	assert.Equal(t, out, in)
}

func TestChangeJSON(t *testing.T) {
	in := sample()
	in.Ops[1].Value = int64(math.MaxInt64)
	data, err := json.Marshal(in)
	assert.Equal(t, err, nil)

	var out Change
	assert.Equal(t, json.Unmarshal(data, &out), nil)
	assert.Equal(t, out, in)
}

func TestDecodeChangeFromMap(t *testing.T) {
	c, err := DecodeChange(map[string]any{
		"actor":   "bob",
		"seq":     1.0,
		"startOp": 1.0,
		"deps":    []any{},
		"ops": []any{
			map[string]any{"action": "set", "obj": RootID, "key": "u", "value": 7.0, "datatype": "uint", "pred": []any{"3@alice"}},
		},
		"time":    0.0,
		"message": "",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Ops[0].Value, uint64(7))
	assert.Equal(t, c.Ops[0].Pred, []OpID{{Counter: 3, Actor: "alice"}})

	_, err = DecodeChange(map[string]any{
		"ops": []any{map[string]any{"action": "set", "value": 1.5, "datatype": "int"}},
	})
	assert.Equal(t, errors.Is(err, ErrUnsupportedValue), true)
}

func TestScalars(t *testing.T) {
	v, dt, err := NormalizeScalar(int32(4))
	assert.Equal(t, err, nil)
	assert.Equal(t, v, int64(4))
	assert.Equal(t, dt, DatatypeInt)

	v, dt, err = NormalizeScalar(uint8(4))
	assert.Equal(t, err, nil)
	assert.Equal(t, v, uint64(4))
	assert.Equal(t, dt, DatatypeUint)

	v, dt, _ = NormalizeScalar(float32(0.5))
	assert.Equal(t, v, 0.5)
	assert.Equal(t, dt, DatatypeFloat64)

	_, dt, _ = NormalizeScalar("s")
	assert.Equal(t, dt, "")

	_, _, err = NormalizeScalar([]int{1})
	assert.Equal(t, errors.Is(err, ErrUnsupportedValue), true)

	v, err = DecodeScalar(json.Number("18446744073709551615"), DatatypeUint)
	assert.Equal(t, err, nil)
	assert.Equal(t, v, uint64(math.MaxUint64))

	v, err = DecodeScalar("-9223372036854775808", DatatypeInt)
	assert.Equal(t, err, nil)
	assert.Equal(t, v, int64(math.MinInt64))

	_, err = DecodeScalar("-1", DatatypeUint)
	assert.NotEqual(t, err, nil)

	v, err = DecodeScalar(2.0, DatatypeFloat64)
	assert.Equal(t, err, nil)
	assert.Equal(t, v, 2.0)

	_, err = DecodeScalar(-1.0, DatatypeUint)
	assert.Equal(t, errors.Is(err, ErrUnsupportedValue), true)

	_, err = DecodeScalar(1.0, "counter")
	assert.Equal(t, errors.Is(err, ErrUnsupportedDatatype), true)
}

func TestPatchJSON(t *testing.T) {
	p := Patch{
		ActorID: "alice",
		Seq:     1,
		MaxOp:   2,
		Clock:   Clock{"alice": 1},
		Diffs: &Diff{ObjectID: RootID, Type: DiffTypeMap, Props: map[string]map[string]*Diff{
			"k":    {"1@alice": {Value: int64(1), Datatype: DatatypeInt}},
			"gone": {},
		}},
	}
	data, err := json.Marshal(p)
	assert.Equal(t, err, nil)

	var raw map[string]any
	assert.Equal(t, json.Unmarshal(data, &raw), nil)
	diffs := raw["diffs"].(map[string]any)
	assert.Equal(t, diffs["objectId"], RootID)
	_, hasValue := diffs["value"]
	assert.Equal(t, hasValue, false)

	decoded, err := DecodePatch(raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.ActorID, "alice")
	assert.Equal(t, decoded.Clock, Clock{"alice": 1})
	assert.Equal(t, decoded.Diffs.IsObject(), true)
	assert.Equal(t, len(decoded.Diffs.Props["gone"]), 0)
	leaf := decoded.Diffs.Props["k"]["1@alice"]
	assert.Equal(t, leaf.IsObject(), false)
	assert.Equal(t, leaf.Value, 1.0)
	assert.Equal(t, leaf.Datatype, DatatypeInt)
}

func TestClock(t *testing.T) {
	c := Clock{"a": 2}
	c.Merge(Clock{"a": 1, "b": 3})
	assert.Equal(t, c, Clock{"a": 2, "b": 3})

	clone := c.Clone()
	clone["a"] = 9
	assert.Equal(t, c["a"], uint64(2))
}
