package datatypes

import (
	"errors"
	"fmt"

	"collaborative-frontend/pkg/change"
)

var (
	ErrObjectMismatch  = errors.New("diff object id does not match")
	ErrUnsupportedType = errors.New("unsupported object type")
)

// ApplyDiff merges a backend diff into m and returns the new map. m is never
// modified. When a key carries several concurrent ops the one with the
// highest op id wins.
func ApplyDiff(m *Map, d *change.Diff) (*Map, error) {
	if d == nil {
		return m, nil
	}
	if d.ObjectID != "" && d.ObjectID != m.ObjectID() {
		return nil, fmt.Errorf("%w: have %q, diff %q", ErrObjectMismatch, m.ObjectID(), d.ObjectID)
	}
	if d.Type != "" && d.Type != change.DiffTypeMap {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, d.Type)
	}

	out := m
	for key, values := range d.Props {
		if len(values) == 0 {
			out = out.Delete(key)
			continue
		}
		id, winner, err := pickWinner(values)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if winner == nil {
			return nil, fmt.Errorf("key %q: nil value for op %s", key, id)
		}
		if !winner.IsObject() {
			v, err := change.DecodeScalar(winner.Value, winner.Datatype)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out = out.Set(key, Entry{OpID: id, Value: v})
			continue
		}

		child := NewMap(winner.ObjectID)
		if cur, ok := out.Get(key); ok {
			if existing, ok := cur.(*Map); ok && existing.ObjectID() == winner.ObjectID {
				child = existing
			}
		}
		child, err = ApplyDiff(child, winner)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out = out.Set(key, Entry{OpID: id, Value: child})
	}
	return out, nil
}

func pickWinner(values map[string]*change.Diff) (change.OpID, *change.Diff, error) {
	var (
		best    change.OpID
		bestVal *change.Diff
	)
	for raw, v := range values {
		id, err := change.ParseOpID(raw)
		if err != nil {
			return change.OpID{}, nil, err
		}
		if bestVal == nil || id.Compare(best) > 0 {
			best, bestVal = id, v
		}
	}
	return best, bestVal, nil
}
