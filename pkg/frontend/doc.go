// Package frontend implements the optimistic half of a replicated document:
// local edits are recorded in transactions and emitted as changes, and
// patches from the merge engine advance the canonical state.
//
// A Doc runs in one of two modes. With a Backend (integrated) every commit
// is sent to the backend synchronously and its patch applied before Commit
// returns; there is no fork and no in-flight queue. Without one (split) the
// changes are queued for the caller to transmit, reads are served from an
// optimistic fork, and the fork is retired once the backend has echoed every
// queued change.
//
// A Doc is not safe for concurrent use.
package frontend

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"collaborative-frontend/pkg/change"
	"collaborative-frontend/pkg/datatypes"
	"collaborative-frontend/pkg/recorder"
)

// Backend is a merge engine running in the caller's goroutine. It returns
// the patch for the change and the change's encoded form for peers.
type Backend interface {
	ApplyLocalChange(c change.Change) (change.Patch, []byte, error)
}

// MergeFunc merges a diff tree into a state without modifying it.
type MergeFunc func(state *datatypes.Map, diff *change.Diff) (*datatypes.Map, error)

// Reader is the read-only surface of a document or nested map.
type Reader interface {
	Get(key string) (any, bool)
	Keys() []string
	Len() int
	Range(fn func(key string, value any) bool)
}

var (
	_ Reader = (*Doc)(nil)
	_ Reader = (*datatypes.Map)(nil)
)

type options struct {
	actorID string
	initial map[string]any
	backend Backend
	merge   MergeFunc
	now     func() time.Time
	logger  *zerolog.Logger
}

// Option configures a Doc at construction.
type Option func(*options)

// WithActorID fixes the actor id instead of generating one.
func WithActorID(actorID string) Option {
	return func(o *options) { o.actorID = actorID }
}

// WithInitialData seeds the document through one transaction at
// construction, so it counts as the actor's first change.
func WithInitialData(data map[string]any) Option {
	return func(o *options) { o.initial = data }
}

// WithBackend selects integrated mode.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithMerger replaces the function that merges patch diffs into state.
func WithMerger(merge MergeFunc) Option {
	return func(o *options) { o.merge = merge }
}

// WithNow sets the clock used for change timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the parent logger; defaults to the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// Doc is the document state controller.
type Doc struct {
	actorID string
	backend Backend
	merge   MergeFunc
	now     func() time.Time
	logger  zerolog.Logger

	// canonical state, replaced only by ApplyPatch
	state *datatypes.Map
	fork  fork

	// split mode: seqs of local changes not yet echoed, oldest first
	inFlight []uint64
	// split mode: changes for the caller to transmit
	localChanges []change.Change
	// integrated mode: encoded changes returned by the backend
	encodedChanges [][]byte

	clock change.Clock
	seq   uint64
	maxOp uint64
	// highest patch maxOp seen while a transaction was open
	pendingMaxOp uint64

	tx *Transaction
}

// New creates a document. Without WithActorID a random actor id is used.
func New(opts ...Option) (*Doc, error) {
	o := options{
		merge: datatypes.ApplyDiff,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.actorID == "" {
		o.actorID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}

	d := &Doc{
		actorID: o.actorID,
		backend: o.backend,
		merge:   o.merge,
		now:     o.now,
		logger:  logger.With().Str("comp", "frontend").Str("actor", o.actorID).Logger(),
		state:   datatypes.NewRoot(),
		clock:   change.Clock{},
	}

	if len(o.initial) > 0 {
		keys := maps.Keys(o.initial)
		slices.Sort(keys)
		err := d.Change(func(root *recorder.MapProxy) error {
			for _, k := range keys {
				if err := root.Set(k, o.initial[k]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Doc) ActorID() string {
	return d.actorID
}

// Integrated reports whether the document was created with a backend.
func (d *Doc) Integrated() bool {
	return d.backend != nil
}

// view resolves the state reads go to. Called on every read because
// transactions and patches can create or retire the fork in between.
func (d *Doc) view() *datatypes.Map {
	if d.backend != nil {
		return d.state
	}
	return d.fork.active(d.state)
}

func (d *Doc) Get(key string) (any, bool) {
	return d.view().Get(key)
}

func (d *Doc) Keys() []string {
	return d.view().Keys()
}

func (d *Doc) Len() int {
	return d.view().Len()
}

func (d *Doc) Range(fn func(key string, value any) bool) {
	d.view().Range(fn)
}

// ToNative copies the visible document into plain Go maps.
func (d *Doc) ToNative() map[string]any {
	return d.view().ToNative()
}

// OpID returns the id of the op that last wrote the key at path, the final
// element being the key and the rest naming the nested maps leading to it.
func (d *Doc) OpID(path ...string) (change.OpID, bool) {
	if len(path) == 0 {
		return change.OpID{}, false
	}
	m, err := d.view().Lookup(path[:len(path)-1])
	if err != nil {
		return change.OpID{}, false
	}
	e, ok := m.Entry(path[len(path)-1])
	if !ok {
		return change.OpID{}, false
	}
	return e.OpID, true
}

// Set always fails: documents are only written inside a transaction.
func (d *Doc) Set(key string, value any) error {
	return &MutationError{Op: "assign", Key: key, Value: value}
}

// Delete always fails: documents are only written inside a transaction.
func (d *Doc) Delete(key string) error {
	return &MutationError{Op: "delete", Key: key}
}

func (d *Doc) Seq() uint64 {
	return d.seq
}

func (d *Doc) MaxOp() uint64 {
	return d.maxOp
}

func (d *Doc) Clock() change.Clock {
	return d.clock.Clone()
}

// InFlight returns the seqs of local changes awaiting their echo.
func (d *Doc) InFlight() []uint64 {
	return slices.Clone(d.inFlight)
}

func (d *Doc) HasFork() bool {
	return d.fork.present()
}

// Canonical returns the confirmed state, ignoring any fork.
func (d *Doc) Canonical() *datatypes.Map {
	return d.state
}

// LocalChanges returns the changes queued for transmission (split mode).
func (d *Doc) LocalChanges() []change.Change {
	return slices.Clone(d.localChanges)
}

// TakeLocalChanges returns the queued changes and empties the outbox.
func (d *Doc) TakeLocalChanges() []change.Change {
	out := d.localChanges
	d.localChanges = nil
	return out
}

// EncodedChanges returns the backend-encoded changes (integrated mode).
func (d *Doc) EncodedChanges() [][]byte {
	return slices.Clone(d.encodedChanges)
}

// TakeEncodedChanges returns the encoded changes and empties the outbox.
func (d *Doc) TakeEncodedChanges() [][]byte {
	out := d.encodedChanges
	d.encodedChanges = nil
	return out
}
