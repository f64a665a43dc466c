package frontend

import "collaborative-frontend/pkg/datatypes"

// fork is the optimistic copy of canonical state that carries local changes
// the backend has not confirmed yet. It is created whole and discarded whole;
// nothing in it is ever merged back into canonical state.
type fork struct {
	state *datatypes.Map
}

func (f *fork) present() bool {
	return f.state != nil
}

// createIfAbsent forks canonical. Map is persistent, so this shares all
// structure with canonical instead of copying it.
func (f *fork) createIfAbsent(canonical *datatypes.Map) {
	if f.state == nil {
		f.state = canonical
	}
}

// replace installs the state produced by a committed transaction.
func (f *fork) replace(state *datatypes.Map) {
	f.state = state
}

// retireIfDrained drops the fork once no local change is in flight.
func (f *fork) retireIfDrained(inFlight int) bool {
	if inFlight > 0 || f.state == nil {
		return false
	}
	f.state = nil
	return true
}

func (f *fork) active(canonical *datatypes.Map) *datatypes.Map {
	if f.state != nil {
		return f.state
	}
	return canonical
}
