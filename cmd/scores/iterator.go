package scores

import "bytes"

// Object is one top-level object found by an Iterator.
type Object struct {
	Raw   []byte
	ID    uint64
	HasID bool
}

// Record converts o into a Record when it carries an id.
func (o Object) Record() (Record, bool) {
	if !o.HasID {
		return Record{}, false
	}
	return Record{ID: o.ID, Raw: o.Raw}, true
}

// Iterator walks the top-level objects of a bare JSON array from both ends.
//
// Next and NextBack consume the same underlying range, so they can be mixed;
// every object is yielded once and carries the same bytes and id whichever
// end it was reached from. Unbalanced input ends the sequence early.
type Iterator struct {
	b           []byte
	front, back int
}

// NewIterator returns an Iterator over b.
func NewIterator(b []byte) *Iterator {
	return &Iterator{b: b, back: len(b)}
}

// Next returns the lowest-index object not consumed yet.
func (it *Iterator) Next() (Object, bool) {
	if it.front >= it.back {
		return Object{}, false
	}

	i := bytes.IndexByte(it.b[it.front:it.back], '{')
	if i < 0 {
		it.front = it.back
		return Object{}, false
	}

	obj, next, ok := objectForward(it.b, it.front+i, it.back)
	if !ok {
		it.front = it.back
		return Object{}, false
	}
	it.front = next
	return obj, true
}

// NextBack returns the highest-index object not consumed yet.
func (it *Iterator) NextBack() (Object, bool) {
	if it.front >= it.back {
		return Object{}, false
	}

	i := bytes.LastIndexByte(it.b[it.front:it.back], '}')
	if i < 0 {
		it.back = it.front
		return Object{}, false
	}

	obj, prev, ok := objectBackward(it.b, it.front, it.front+i)
	if !ok {
		it.back = it.front
		return Object{}, false
	}
	it.back = prev
	return obj, true
}

// Last returns the final object without scanning the objects before it.
func (it *Iterator) Last() (Object, bool) {
	return it.NextBack()
}

// Objects collects every remaining object in forward order.
func (it *Iterator) Objects() []Object {
	var out []Object
	for {
		obj, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, obj)
	}
}
