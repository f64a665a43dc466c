// Package change defines the wire types exchanged between a document
// frontend and the merge engine: operations, changes, patches and diffs.
package change

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RootID is the object id of every document's root map.
const RootID = "_root"

// ErrInvalidOpID is returned when an op id string is not of the form
// "<counter>@<actor>".
var ErrInvalidOpID = errors.New("invalid op id")

// OpID identifies one operation: the actor's op counter plus the actor id.
type OpID struct {
	Counter uint64
	Actor   string
}

// ParseOpID parses "<counter>@<actor>".
func ParseOpID(s string) (OpID, error) {
	counter, actor, ok := strings.Cut(s, "@")
	if !ok || actor == "" {
		return OpID{}, fmt.Errorf("%w: %q", ErrInvalidOpID, s)
	}
	n, err := strconv.ParseUint(counter, 10, 64)
	if err != nil {
		return OpID{}, fmt.Errorf("%w: %q", ErrInvalidOpID, s)
	}
	return OpID{Counter: n, Actor: actor}, nil
}

func (id OpID) String() string {
	if id.IsZero() {
		return ""
	}
	return strconv.FormatUint(id.Counter, 10) + "@" + id.Actor
}

func (id OpID) IsZero() bool {
	return id.Counter == 0 && id.Actor == ""
}

// Compare orders op ids by counter, then by actor. It returns -1, 0 or 1.
func (id OpID) Compare(other OpID) int {
	switch {
	case id.Counter < other.Counter:
		return -1
	case id.Counter > other.Counter:
		return 1
	}
	return strings.Compare(id.Actor, other.Actor)
}

func (id OpID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OpID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = OpID{}
		return nil
	}
	parsed, err := ParseOpID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
