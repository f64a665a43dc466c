// Package backend is an in-process merge engine for map documents. It
// accepts local changes in their JSON form and remote changes in encoded
// form, keeps the set of concurrent ops per key, and answers with patches.
package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"collaborative-frontend/pkg/change"
)

var (
	ErrSequenceGap   = errors.New("change out of sequence")
	ErrUnknownObject = errors.New("unknown object")
	ErrUnknownAction = errors.New("unknown action")
)

type opValue struct {
	value    any
	datatype string
	// object id when the op created a nested map
	child string
}

type object struct {
	parent string
	key    string
	// key -> ops not superseded by any later op
	props map[string]map[change.OpID]opValue
}

type pendingChange struct {
	change  change.Change
	encoded []byte
}

// Backend holds the merged op set of one document.
type Backend struct {
	mu         sync.RWMutex
	documentID string
	objects    map[string]*object
	clock      change.Clock
	maxOp      uint64
	// remote changes waiting for their actor's previous seq
	queue   []pendingChange
	history [][]byte
	logger  zerolog.Logger
}

// New creates an empty backend
func New(documentID string) *Backend {
	return &Backend{
		documentID: documentID,
		objects: map[string]*object{
			change.RootID: {props: map[string]map[change.OpID]opValue{}},
		},
		clock:  change.Clock{},
		logger: log.With().Str("comp", "backend").Str("doc", documentID).Logger(),
	}
}

func (b *Backend) DocumentID() string {
	return b.documentID
}

// ApplyLocalChange applies a change produced by a frontend and returns the
// echo patch for it together with the change's encoded form.
func (b *Backend) ApplyLocalChange(c change.Change) (change.Patch, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if want := b.clock[c.Actor] + 1; c.Seq != want {
		return change.Patch{}, nil, fmt.Errorf("%w: actor %s expected seq %d, got %d", ErrSequenceGap, c.Actor, want, c.Seq)
	}
	if err := b.check(c); err != nil {
		return change.Patch{}, nil, err
	}
	encoded, err := change.Encode(c)
	if err != nil {
		return change.Patch{}, nil, err
	}

	diffs := newDiffBuilder(b)
	b.apply(c, encoded, diffs)

	patch := b.patch(diffs)
	patch.ActorID = c.Actor
	patch.Seq = c.Seq

	b.logger.Debug().
		Str("actor", c.Actor).
		Uint64("seq", c.Seq).
		Int("ops", len(c.Ops)).
		Uint64("max_op", b.maxOp).
		Msg("local change applied")
	return patch, encoded, nil
}

// ApplyChanges ingests encoded changes from peers. Changes whose
// predecessor from the same actor has not arrived yet are held back;
// changes already applied are skipped. The returned patch covers every
// change applied by this call.
func (b *Backend) ApplyChanges(encoded ...[]byte) (change.Patch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, raw := range encoded {
		c, err := change.Decode(raw)
		if err != nil {
			return change.Patch{}, err
		}
		b.queue = append(b.queue, pendingChange{change: c, encoded: raw})
	}

	diffs := newDiffBuilder(b)
	applied := 0
	for progress := true; progress; {
		progress = false
		remaining := b.queue[:0]
		for _, p := range b.queue {
			next := b.clock[p.change.Actor] + 1
			switch {
			case p.change.Seq < next:
				// duplicate
			case p.change.Seq == next:
				if err := b.check(p.change); err != nil {
					b.logger.Error().Err(err).Str("actor", p.change.Actor).Uint64("seq", p.change.Seq).Msg("dropping remote change")
					continue
				}
				b.apply(p.change, p.encoded, diffs)
				applied++
				progress = true
			default:
				remaining = append(remaining, p)
			}
		}
		b.queue = remaining
	}

	b.logger.Debug().Int("applied", applied).Int("queued", len(b.queue)).Msg("remote changes ingested")
	return b.patch(diffs), nil
}

// GetPatch returns a patch that builds the whole document from empty.
func (b *Backend) GetPatch() change.Patch {
	b.mu.RLock()
	defer b.mu.RUnlock()

	diffs := newDiffBuilder(b)
	b.walk(change.RootID, diffs)
	return b.patch(diffs)
}

func (b *Backend) walk(objID string, diffs *diffBuilder) {
	obj := b.objects[objID]
	keys := maps.Keys(obj.props)
	slices.Sort(keys)
	for _, key := range keys {
		diffs.mark(objID, key)
		for _, v := range obj.props[key] {
			if v.child != "" {
				b.walk(v.child, diffs)
			}
		}
	}
}

func (b *Backend) Clock() change.Clock {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clock.Clone()
}

func (b *Backend) MaxOp() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxOp
}

// Changes returns every applied change in encoded form, in apply order.
func (b *Backend) Changes() [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.history)
}

// Pending returns the number of remote changes held back.
func (b *Backend) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queue)
}

// check validates c against the current op set so apply cannot fail halfway.
func (b *Backend) check(c change.Change) error {
	created := map[string]bool{}
	for i, op := range c.Ops {
		if _, ok := b.objects[op.Obj]; !ok && !created[op.Obj] {
			return fmt.Errorf("%w: %q in op %d of %s/%d", ErrUnknownObject, op.Obj, i, c.Actor, c.Seq)
		}
		switch op.Action {
		case change.ActionSet, change.ActionDel:
		case change.ActionMakeMap:
			created[c.OpIDAt(i).String()] = true
		default:
			return fmt.Errorf("%w: %q in op %d of %s/%d", ErrUnknownAction, op.Action, i, c.Actor, c.Seq)
		}
	}
	return nil
}

func (b *Backend) apply(c change.Change, encoded []byte, diffs *diffBuilder) {
	for i, op := range c.Ops {
		id := c.OpIDAt(i)
		obj := b.objects[op.Obj]
		current := obj.props[op.Key]
		if current == nil {
			current = map[change.OpID]opValue{}
		}
		for _, pred := range op.Pred {
			delete(current, pred)
		}

		switch op.Action {
		case change.ActionSet:
			current[id] = opValue{value: op.Value, datatype: op.Datatype}
		case change.ActionMakeMap:
			childID := id.String()
			b.objects[childID] = &object{
				parent: op.Obj,
				key:    op.Key,
				props:  map[string]map[change.OpID]opValue{},
			}
			current[id] = opValue{child: childID}
		}

		if len(current) == 0 {
			delete(obj.props, op.Key)
		} else {
			obj.props[op.Key] = current
		}
		diffs.mark(op.Obj, op.Key)
	}

	b.clock[c.Actor] = c.Seq
	if len(c.Ops) > 0 && c.MaxOp() > b.maxOp {
		b.maxOp = c.MaxOp()
	}
	b.history = append(b.history, encoded)
}

func (b *Backend) patch(diffs *diffBuilder) change.Patch {
	return change.Patch{
		MaxOp: b.maxOp,
		Clock: b.clock.Clone(),
		Diffs: diffs.build(),
	}
}
