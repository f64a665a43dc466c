// Package recorder turns writes against a document view into an ordered list
// of ops. Writes are also applied to a private working copy of the view so
// reads through the proxy see them immediately.
package recorder

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/exp/maps"

	"collaborative-frontend/pkg/change"
	"collaborative-frontend/pkg/datatypes"
)

var ErrEmptyKey = errors.New("empty key")

// Context collects the ops of one transaction.
type Context struct {
	maxOp   uint64
	actorID string
	root    *datatypes.Map
	ops     []change.Op
}

// New opens a recording context over view. The first recorded op gets
// counter maxOp+1.
func New(maxOp uint64, actorID string, view *datatypes.Map) *Context {
	return &Context{
		maxOp:   maxOp,
		actorID: actorID,
		root:    view,
	}
}

// Ops returns the recorded ops in order.
func (c *Context) Ops() []change.Op {
	return c.ops
}

// State returns the working copy with every recorded op applied.
func (c *Context) State() *datatypes.Map {
	return c.root
}

// Root returns the write surface for the document root.
func (c *Context) Root() *MapProxy {
	return &MapProxy{ctx: c}
}

func (c *Context) nextOpID() change.OpID {
	return change.OpID{Counter: c.maxOp + uint64(len(c.ops)) + 1, Actor: c.actorID}
}

func (c *Context) record(path []string, key string, op change.Op, e *datatypes.Entry) error {
	target, err := c.root.Lookup(path)
	if err != nil {
		return err
	}
	op.Obj = target.ObjectID()
	op.Key = key
	op.Pred = []change.OpID{}
	if cur, ok := target.Entry(key); ok {
		op.Pred = append(op.Pred, cur.OpID)
	}

	var root *datatypes.Map
	if e == nil {
		root, err = c.root.DeleteIn(path, key)
	} else {
		root, err = c.root.SetIn(path, key, *e)
	}
	if err != nil {
		return err
	}
	c.root = root
	c.ops = append(c.ops, op)
	return nil
}

// validate rejects a value before any op for it is recorded, so a nested
// map is either recorded whole or not at all.
func validate(v any) error {
	if m, ok := v.(map[string]any); ok {
		for k, child := range m {
			if k == "" {
				return ErrEmptyKey
			}
			if err := validate(child); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	}
	_, _, err := change.NormalizeScalar(v)
	return err
}

func sortedKeys(m map[string]any) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
