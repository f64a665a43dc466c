package recorder

import (
	"slices"

	"collaborative-frontend/pkg/change"
	"collaborative-frontend/pkg/datatypes"
)

// MapProxy is the write surface handed to application code for one map of
// the document.
type MapProxy struct {
	ctx  *Context
	path []string
}

func (p *MapProxy) target() *datatypes.Map {
	m, err := p.ctx.root.Lookup(p.path)
	if err != nil {
		// the map this proxy points at was replaced by a later write
		return datatypes.NewMap("")
	}
	return m
}

// Get returns the value at key. Nested maps come back as *MapProxy.
func (p *MapProxy) Get(key string) (any, bool) {
	v, ok := p.target().Get(key)
	if !ok {
		return nil, false
	}
	if _, isMap := v.(*datatypes.Map); isMap {
		return p.child(key), true
	}
	return v, true
}

// Map returns the proxy for the nested map at key.
func (p *MapProxy) Map(key string) (*MapProxy, bool) {
	v, ok := p.target().Get(key)
	if !ok {
		return nil, false
	}
	if _, isMap := v.(*datatypes.Map); !isMap {
		return nil, false
	}
	return p.child(key), true
}

func (p *MapProxy) Keys() []string {
	return p.target().Keys()
}

func (p *MapProxy) Len() int {
	return p.target().Len()
}

// Set records a write of value at key. A map[string]any value becomes a new
// nested map followed by one set per entry, in key order.
func (p *MapProxy) Set(key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := validate(value); err != nil {
		return err
	}

	nested, isMap := value.(map[string]any)
	if !isMap {
		v, datatype, _ := change.NormalizeScalar(value)
		id := p.ctx.nextOpID()
		op := change.Op{Action: change.ActionSet, Value: v, Datatype: datatype}
		return p.ctx.record(p.path, key, op, &datatypes.Entry{OpID: id, Value: v})
	}

	id := p.ctx.nextOpID()
	op := change.Op{Action: change.ActionMakeMap}
	entry := &datatypes.Entry{OpID: id, Value: datatypes.NewMap(id.String())}
	if err := p.ctx.record(p.path, key, op, entry); err != nil {
		return err
	}
	child := p.child(key)
	for _, k := range sortedKeys(nested) {
		if err := child.Set(k, nested[k]); err != nil {
			return err
		}
	}
	return nil
}

// Delete records the removal of key. Deleting a missing key records nothing.
func (p *MapProxy) Delete(key string) error {
	if _, ok := p.target().Entry(key); !ok {
		return nil
	}
	return p.ctx.record(p.path, key, change.Op{Action: change.ActionDel}, nil)
}

func (p *MapProxy) child(key string) *MapProxy {
	return &MapProxy{ctx: p.ctx, path: append(slices.Clone(p.path), key)}
}
