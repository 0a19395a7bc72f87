package scores

import (
	"cmp"
	"slices"
)

// Record is one score as received upstream.
//
// Raw is exactly one JSON object and must be treated as read-only: it is
// shared between the history and every session queue it was delivered to.
// Ordering and equality are defined by ID alone.
type Record struct {
	ID  uint64
	Raw []byte
}

func compareRecord(r Record, id uint64) int {
	return cmp.Compare(r.ID, id)
}

// RecordSet is an id-unique container iterated in ascending id order.
//
// The zero value is an empty set ready to use. A RecordSet is not safe for
// concurrent use.
type RecordSet struct {
	recs []Record
}

// NewRecordSet returns a set holding recs (duplicates dropped).
func NewRecordSet(recs ...Record) *RecordSet {
	s := &RecordSet{}
	s.Insert(recs...)
	return s
}

// Len returns the number of records in the set.
func (s *RecordSet) Len() int { return len(s.recs) }

// Min returns the smallest id.
func (s *RecordSet) Min() (uint64, bool) {
	if len(s.recs) == 0 {
		return 0, false
	}
	return s.recs[0].ID, true
}

// Max returns the greatest id.
func (s *RecordSet) Max() (uint64, bool) {
	if len(s.recs) == 0 {
		return 0, false
	}
	return s.recs[len(s.recs)-1].ID, true
}

// Contains reports whether a record with id is present.
func (s *RecordSet) Contains(id uint64) bool {
	_, ok := slices.BinarySearchFunc(s.recs, id, compareRecord)
	return ok
}

// Insert adds recs, keeping the first record seen for any id.
// It returns how many records were actually added.
func (s *RecordSet) Insert(recs ...Record) int {
	added := 0
	for _, r := range recs {
		if n := len(s.recs); n == 0 || r.ID > s.recs[n-1].ID {
			s.recs = append(s.recs, r)
			added++
			continue
		}

		i, found := slices.BinarySearchFunc(s.recs, r.ID, compareRecord)
		if found {
			continue
		}
		s.recs = slices.Insert(s.recs, i, r)
		added++
	}
	return added
}

// Merge adds every record of other that s does not hold yet.
// other is left untouched. It returns how many records were added.
func (s *RecordSet) Merge(other *RecordSet) int {
	if other == nil || len(other.recs) == 0 {
		return 0
	}

	// Common case for a live feed: everything fetched is newer than what we hold.
	if n := len(s.recs); n == 0 || other.recs[0].ID > s.recs[n-1].ID {
		s.recs = append(s.recs, other.recs...)
		return len(other.recs)
	}

	merged := make([]Record, 0, len(s.recs)+len(other.recs))
	added := 0
	i, j := 0, 0
	for i < len(s.recs) && j < len(other.recs) {
		a, b := s.recs[i], other.recs[j]
		switch {
		case a.ID < b.ID:
			merged = append(merged, a)
			i++
		case a.ID > b.ID:
			merged = append(merged, b)
			j++
			added++
		default:
			merged = append(merged, a)
			i++
			j++
		}
	}
	merged = append(merged, s.recs[i:]...)
	added += len(other.recs) - j
	merged = append(merged, other.recs[j:]...)

	s.recs = merged
	return added
}

// After returns the records with an id strictly greater than id, ascending.
// The returned slice aliases the set and must not be modified or retained
// across mutations of s.
func (s *RecordSet) After(id uint64) []Record {
	i, found := slices.BinarySearchFunc(s.recs, id, compareRecord)
	if found {
		i++
	}
	return s.recs[i:len(s.recs):len(s.recs)]
}

// All returns every record ascending. Same aliasing rules as After.
func (s *RecordSet) All() []Record {
	return s.recs[:len(s.recs):len(s.recs)]
}

// Truncate evicts the smallest ids until at most limit records remain and
// returns the number evicted.
func (s *RecordSet) Truncate(limit int) int {
	if limit < 0 {
		limit = 0
	}
	n := len(s.recs) - limit
	if n <= 0 {
		return 0
	}
	s.recs = slices.Delete(s.recs, 0, n)
	return n
}

// Reset empties the set, keeping its capacity.
func (s *RecordSet) Reset() {
	clear(s.recs)
	s.recs = s.recs[:0]
}
