package backend

import "collaborative-frontend/pkg/change"

// diffBuilder collects the keys touched by a batch of ops and renders them
// as one diff tree rooted at the document root. Every object on the path
// from the root to a touched object is included so the frontend can find it.
type diffBuilder struct {
	b       *Backend
	marked  map[string]map[string]struct{}
	objects map[string]*change.Diff
}

func newDiffBuilder(b *Backend) *diffBuilder {
	return &diffBuilder{
		b:       b,
		marked:  map[string]map[string]struct{}{},
		objects: map[string]*change.Diff{},
	}
}

func (db *diffBuilder) mark(objID, key string) {
	keys := db.marked[objID]
	if keys == nil {
		keys = map[string]struct{}{}
		db.marked[objID] = keys
	}
	keys[key] = struct{}{}
}

// build renders the final state of every marked key.
func (db *diffBuilder) build() *change.Diff {
	root := db.object(change.RootID)
	for objID, keys := range db.marked {
		for key := range keys {
			db.touch(objID, key)
		}
	}
	return root
}

func (db *diffBuilder) object(objID string) *change.Diff {
	if d, ok := db.objects[objID]; ok {
		return d
	}
	d := &change.Diff{
		ObjectID: objID,
		Type:     change.DiffTypeMap,
		Props:    map[string]map[string]*change.Diff{},
	}
	db.objects[objID] = d
	if obj := db.b.objects[objID]; obj != nil && objID != change.RootID {
		db.touch(obj.parent, obj.key)
	}
	return d
}

func (db *diffBuilder) touch(objID, key string) {
	d := db.object(objID)
	values := map[string]*change.Diff{}
	for id, v := range db.b.objects[objID].props[key] {
		if v.child != "" {
			values[id.String()] = db.object(v.child)
		} else {
			values[id.String()] = &change.Diff{Value: v.value, Datatype: v.datatype}
		}
	}
	d.Props[key] = values
}
