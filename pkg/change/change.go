package change

import (
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Action is the kind of a recorded operation.
type Action string

const (
	ActionSet     Action = "set"
	ActionDel     Action = "del"
	ActionMakeMap Action = "makeMap"
)

// Op is a single recorded write against one key of one object.
type Op struct {
	Action   Action `json:"action"`
	Obj      string `json:"obj"`
	Key      string `json:"key"`
	Value    any    `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	// ops currently stored at Obj/Key that this op supersedes
	Pred []OpID `json:"pred"`
}

// Change is the batch of ops produced by one committed transaction.
type Change struct {
	Actor   string   `json:"actor"`
	Seq     uint64   `json:"seq"`
	StartOp uint64   `json:"startOp"`
	Deps    []string `json:"deps"`
	Ops     []Op     `json:"ops"`
	Time    int64    `json:"time"`
	Message string   `json:"message"`
}

// OpIDAt returns the id of the i-th op of the change.
func (c Change) OpIDAt(i int) OpID {
	return OpID{Counter: c.StartOp + uint64(i), Actor: c.Actor}
}

// MaxOp is the counter of the last op in the change, or StartOp-1 if empty.
func (c Change) MaxOp() uint64 {
	return c.StartOp + uint64(len(c.Ops)) - 1
}

// AsMap renders the change with only the value kinds structpb accepts.
func (c Change) AsMap() map[string]any {
	deps := make([]any, 0, len(c.Deps))
	for _, d := range c.Deps {
		deps = append(deps, d)
	}
	ops := make([]any, 0, len(c.Ops))
	for _, op := range c.Ops {
		pred := make([]any, 0, len(op.Pred))
		for _, p := range op.Pred {
			pred = append(pred, p.String())
		}
		ops = append(ops, map[string]any{
			"action":   string(op.Action),
			"obj":      op.Obj,
			"key":      op.Key,
			"value":    wireValue(op.Value),
			"datatype": op.Datatype,
			"pred":     pred,
		})
	}
	return map[string]any{
		"actor":   c.Actor,
		"seq":     c.Seq,
		"startOp": c.StartOp,
		"deps":    deps,
		"ops":     ops,
		"time":    c.Time,
		"message": c.Message,
	}
}

// wireValue spells integers as decimal strings, since structpb holds every
// number as a float64.
func wireValue(v any) any {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	}
	return v
}

// Encode produces the binary form of a change handed to peers.
func Encode(c Change) ([]byte, error) {
	s, err := structpb.NewStruct(c.AsMap())
	if err != nil {
		return nil, fmt.Errorf("encode change %s/%d: %w", c.Actor, c.Seq, err)
	}
	return proto.Marshal(s)
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Change, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	return DecodeChange(s.AsMap())
}

// DecodeChange builds a Change from a generic map such as a decoded JSON
// object or a structpb.Struct.
func DecodeChange(raw map[string]any) (Change, error) {
	var c Change
	if err := decodeMap(raw, &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if err := c.normalize(); err != nil {
		return Change{}, err
	}
	return c, nil
}

func (c *Change) normalize() error {
	for i := range c.Ops {
		op := &c.Ops[i]
		if op.Action != ActionSet {
			op.Value = nil
			continue
		}
		v, err := DecodeScalar(op.Value, op.Datatype)
		if err != nil {
			return fmt.Errorf("op %d of %s/%d: %w", i, c.Actor, c.Seq, err)
		}
		op.Value = v
	}
	return nil
}

func decodeMap(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.TextUnmarshallerHookFunc(),
		TagName:    "json",
		Result:     out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
