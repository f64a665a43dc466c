package frontend

import (
	"fmt"

	"collaborative-frontend/pkg/change"
)

// ApplyPatch advances canonical state with a patch from the backend.
//
// A patch carrying this actor's id echoes the oldest in-flight local change
// and must match the head of the queue; anything else is an
// ErrOrderingViolation and leaves the document untouched. Once nothing is in
// flight and no transaction is open the fork is retired and the patch's
// maxOp adopted; with a transaction open the adoption is deferred until it
// ends. Diffs always go to canonical state only, never into a live
// fork.
func (d *Doc) ApplyPatch(p change.Patch) error {
	echo := d.backend == nil && p.ActorID != "" && p.ActorID == d.actorID
	if echo {
		if len(d.inFlight) == 0 {
			return &OrderingError{Received: p.Seq, QueueEmpty: true}
		}
		if p.Seq != d.inFlight[0] {
			return &OrderingError{Expected: d.inFlight[0], Received: p.Seq}
		}
	}

	// merge before touching any field so a bad diff changes nothing
	next, err := d.merge(d.state, p.Diffs)
	if err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}

	if echo {
		d.inFlight = d.inFlight[1:]
	}
	// patches that predate pending local changes must not roll maxOp back
	if len(d.inFlight) == 0 {
		if d.tx != nil {
			// an open transaction keeps its fork and has already numbered
			// its ops; the maxOp is adopted once it ends
			d.pendingMaxOp = max(d.pendingMaxOp, p.MaxOp)
		} else {
			if d.fork.retireIfDrained(0) {
				d.logger.Debug().Uint64("seq", p.Seq).Msg("caught up, fork retired")
			}
			d.adoptMaxOp(p.MaxOp)
		}
	}
	if confirmed, ok := p.Clock[d.actorID]; ok && confirmed > d.seq {
		d.seq = confirmed
	}
	d.clock.Merge(p.Clock)
	d.state = next
	return nil
}

// adoptMaxOp raises maxOp to n or to a value deferred while a transaction
// was open, whichever is larger.
func (d *Doc) adoptMaxOp(n uint64) {
	n = max(n, d.pendingMaxOp)
	d.pendingMaxOp = 0
	if n > d.maxOp {
		d.maxOp = n
	}
}
