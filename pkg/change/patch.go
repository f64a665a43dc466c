package change

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DiffTypeMap is the only object type a diff can address.
const DiffTypeMap = "map"

// Clock maps an actor id to the highest sequence number confirmed for it.
type Clock map[string]uint64

func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for actor, seq := range c {
		out[actor] = seq
	}
	return out
}

// Merge raises every entry of c to at least the value in other.
func (c Clock) Merge(other Clock) {
	for actor, seq := range other {
		if seq > c[actor] {
			c[actor] = seq
		}
	}
}

// Patch tells a frontend how canonical state advances. ActorID and Seq are
// set only when the patch is the echo of that actor's change.
type Patch struct {
	ActorID string `json:"actorId,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	MaxOp   uint64 `json:"maxOp"`
	Clock   Clock  `json:"clock"`
	Diffs   *Diff  `json:"diffs,omitempty"`
}

// Diff is either an object diff (ObjectID/Type/Props) or a scalar value.
// Props maps key -> op id -> value; an empty inner map deletes the key.
type Diff struct {
	ObjectID string                      `json:"objectId,omitempty"`
	Type     string                      `json:"type,omitempty"`
	Props    map[string]map[string]*Diff `json:"props,omitempty"`
	Value    any                         `json:"value"`
	Datatype string                      `json:"datatype,omitempty"`
}

// IsObject reports whether d describes a nested object rather than a scalar.
func (d *Diff) IsObject() bool {
	return d.ObjectID != "" || d.Type != "" || d.Props != nil
}

type objectDiffJSON struct {
	ObjectID string                      `json:"objectId"`
	Type     string                      `json:"type"`
	Props    map[string]map[string]*Diff `json:"props"`
}

type scalarDiffJSON struct {
	Value    any    `json:"value"`
	Datatype string `json:"datatype,omitempty"`
}

func (d *Diff) MarshalJSON() ([]byte, error) {
	if d.IsObject() {
		props := d.Props
		if props == nil {
			props = map[string]map[string]*Diff{}
		}
		return json.Marshal(objectDiffJSON{ObjectID: d.ObjectID, Type: d.Type, Props: props})
	}
	return json.Marshal(scalarDiffJSON{Value: d.Value, Datatype: d.Datatype})
}

// DecodePatch builds a Patch from a generic map, e.g. a JSON object decoded
// into map[string]any by a transport.
func DecodePatch(raw map[string]any) (Patch, error) {
	var p Patch
	if err := decodeMap(raw, &p); err != nil {
		return Patch{}, fmt.Errorf("decode patch: %w", err)
	}
	return p, nil
}

// UnmarshalJSON decodes numbers as json.Number so int and uint values keep
// full precision.
func (c *Change) UnmarshalJSON(b []byte) error {
	type plain Change
	var out plain
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return err
	}
	*c = Change(out)
	return c.normalize()
}
