package frontend

import (
	"fmt"

	"collaborative-frontend/pkg/change"
	"collaborative-frontend/pkg/datatypes"
	"collaborative-frontend/pkg/recorder"
)

// Transaction records writes against the active view and turns them into
// one Change on Commit. Every transaction must end in Commit or Discard;
// Discard after Commit is a no-op, so `defer tx.Discard()` is always safe.
type Transaction struct {
	doc *Doc
	ctx *recorder.Context
	// counter of the first op, fixed at Begin because the recorder has
	// already derived op and object ids from it
	startOp uint64
	message string
	done    bool
}

// Begin opens a transaction. Only one can be open at a time.
func (d *Doc) Begin() (*Transaction, error) {
	if d.tx != nil {
		return nil, ErrTransactionOpen
	}

	var view *datatypes.Map
	if d.backend != nil {
		view = d.state
	} else {
		d.fork.createIfAbsent(d.state)
		view = d.fork.active(d.state)
	}

	tx := &Transaction{
		doc:     d,
		ctx:     recorder.New(d.maxOp, d.actorID, view),
		startOp: d.maxOp + 1,
	}
	d.tx = tx
	return tx, nil
}

// Root is the write surface of the document root.
func (tx *Transaction) Root() *recorder.MapProxy {
	return tx.ctx.Root()
}

func (tx *Transaction) SetMessage(message string) {
	tx.message = message
}

// Ops returns the ops recorded so far.
func (tx *Transaction) Ops() []change.Op {
	return tx.ctx.Ops()
}

// Commit emits the Change. In integrated mode it is applied by the backend
// and the resulting patch merged before Commit returns; in split mode it is
// queued in the outbox and its seq pushed onto the in-flight queue.
func (tx *Transaction) Commit() (change.Change, error) {
	if tx.done {
		return change.Change{}, ErrTransactionDone
	}
	tx.done = true
	d := tx.doc
	d.tx = nil

	ops := tx.ctx.Ops()
	if ops == nil {
		ops = []change.Op{}
	}
	c := change.Change{
		Actor:   d.actorID,
		Seq:     d.seq + 1,
		StartOp: tx.startOp,
		Deps:    []string{},
		Ops:     ops,
		Time:    d.now().Unix(),
		Message: tx.message,
	}

	if d.backend != nil {
		patch, encoded, err := d.backend.ApplyLocalChange(c)
		if err != nil {
			return change.Change{}, fmt.Errorf("backend rejected change %d: %w", c.Seq, err)
		}
		d.seq = c.Seq
		d.advanceMaxOp(c)
		d.encodedChanges = append(d.encodedChanges, encoded)
		d.logger.Debug().Uint64("seq", c.Seq).Int("ops", len(ops)).Msg("change applied by backend")
		if err := d.ApplyPatch(patch); err != nil {
			return c, err
		}
		return c, nil
	}

	d.seq = c.Seq
	d.advanceMaxOp(c)
	d.fork.replace(tx.ctx.State())
	d.localChanges = append(d.localChanges, c)
	d.inFlight = append(d.inFlight, c.Seq)
	d.logger.Debug().
		Uint64("seq", c.Seq).
		Int("ops", len(ops)).
		Int("in_flight", len(d.inFlight)).
		Msg("change queued")
	return c, nil
}

// Discard ends the transaction without emitting anything. If no change is in
// flight the fork opened for it is dropped and any maxOp held back by it is
// adopted.
func (tx *Transaction) Discard() {
	if tx.done {
		return
	}
	tx.done = true
	d := tx.doc
	d.tx = nil
	if d.backend == nil {
		d.fork.retireIfDrained(len(d.inFlight))
	}
	if len(d.inFlight) == 0 {
		d.adoptMaxOp(0)
	}
	d.logger.Debug().Int("ops", len(tx.ctx.Ops())).Msg("transaction discarded")
}

func (d *Doc) advanceMaxOp(c change.Change) {
	if len(c.Ops) > 0 && c.MaxOp() > d.maxOp {
		d.maxOp = c.MaxOp()
	}
}

type ChangeOption func(*Transaction)

// WithMessage sets the change's message.
func WithMessage(message string) ChangeOption {
	return func(tx *Transaction) { tx.message = message }
}

// Change runs fn in a transaction. The transaction commits when fn returns
// nil and is discarded when fn returns an error or panics, so a failed block
// never emits a partial change.
func (d *Doc) Change(fn func(root *recorder.MapProxy) error, opts ...ChangeOption) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	defer tx.Discard()

	for _, opt := range opts {
		opt(tx)
	}
	if err := fn(tx.Root()); err != nil {
		return err
	}
	_, err = tx.Commit()
	return err
}
