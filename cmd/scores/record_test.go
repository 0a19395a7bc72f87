package scores

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id uint64) Record {
	return Record{ID: id, Raw: []byte(fmt.Sprintf(`{"id":%d}`, id))}
}

func ids(recs []Record) []uint64 {
	out := make([]uint64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestRecordSet_InsertKeepsOrderAndDedups(t *testing.T) {
	t.Parallel()

	s := &RecordSet{}
	added := s.Insert(rec(5), rec(1), rec(3), rec(5), rec(9), rec(1))
	assert.Equal(t, 4, added)
	assert.Equal(t, []uint64{1, 3, 5, 9}, ids(s.All()))
	assert.True(t, s.Contains(3))
	assert.False(t, s.Contains(4))
}

func TestRecordSet_DuplicateKeepsFirstRaw(t *testing.T) {
	t.Parallel()

	s := NewRecordSet(Record{ID: 7, Raw: []byte(`first`)})
	s.Insert(Record{ID: 7, Raw: []byte(`second`)})
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "first", string(s.All()[0].Raw))
}

func TestRecordSet_Merge(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		dst, src  []uint64
		want      []uint64
		wantAdded int
	}{
		{name: "append newer", dst: []uint64{1, 2}, src: []uint64{3, 4}, want: []uint64{1, 2, 3, 4}, wantAdded: 2},
		{name: "into empty", dst: nil, src: []uint64{3, 4}, want: []uint64{3, 4}, wantAdded: 2},
		{name: "overlap", dst: []uint64{1, 3, 5}, src: []uint64{2, 3, 6}, want: []uint64{1, 2, 3, 5, 6}, wantAdded: 2},
		{name: "all duplicates", dst: []uint64{1, 2}, src: []uint64{1, 2}, want: []uint64{1, 2}, wantAdded: 0},
		{name: "older", dst: []uint64{10}, src: []uint64{1, 2}, want: []uint64{1, 2, 10}, wantAdded: 2},
		{name: "empty src", dst: []uint64{1}, src: nil, want: []uint64{1}, wantAdded: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dst, src := &RecordSet{}, &RecordSet{}
			for _, id := range tc.dst {
				dst.Insert(rec(id))
			}
			for _, id := range tc.src {
				src.Insert(rec(id))
			}

			added := dst.Merge(src)
			assert.Equal(t, tc.wantAdded, added)
			assert.Equal(t, tc.want, ids(dst.All()))
			assert.Equal(t, len(tc.src), src.Len())
		})
	}
}

func TestRecordSet_After(t *testing.T) {
	t.Parallel()

	s := NewRecordSet(rec(10), rec(20), rec(30))

	assert.Equal(t, []uint64{10, 20, 30}, ids(s.After(0)))
	assert.Equal(t, []uint64{20, 30}, ids(s.After(10)))
	assert.Equal(t, []uint64{20, 30}, ids(s.After(15)))
	assert.Empty(t, s.After(30))
	assert.Empty(t, s.After(99))
}

func TestRecordSet_TruncateKeepsGreatest(t *testing.T) {
	t.Parallel()

	s := &RecordSet{}
	for id := uint64(1); id <= 10; id++ {
		s.Insert(rec(id))
	}

	assert.Equal(t, 6, s.Truncate(4))
	assert.Equal(t, []uint64{7, 8, 9, 10}, ids(s.All()))
	assert.Equal(t, 0, s.Truncate(4))
	assert.Equal(t, 0, s.Truncate(100))

	lo, ok := s.Min()
	require.True(t, ok)
	assert.Equal(t, uint64(7), lo)
}

func TestRecordSet_EmptyBounds(t *testing.T) {
	t.Parallel()

	s := &RecordSet{}
	_, ok := s.Min()
	assert.False(t, ok)
	_, ok = s.Max()
	assert.False(t, ok)

	s.Insert(rec(1))
	s.Reset()
	assert.Equal(t, 0, s.Len())
}
