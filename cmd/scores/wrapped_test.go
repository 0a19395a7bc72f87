package scores

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wrappedBody = `{"scores": [{"id": 123}, {"id":456, "user": {"id": 2}}, {"user": {"id":2}, "id": 789}], "cursor": {"a":true, "b": false, "c": null, "d": 0123, "e": [true, false, null, 0123, [], {}, "abc"], "f": {}, "g": "abc"}, "cursor_string": "abc"}`

func TestScanScores(t *testing.T) {
	t.Parallel()

	set := &RecordSet{}
	require.NoError(t, ScanScores([]byte(wrappedBody), set))

	recs := set.All()
	require.Len(t, recs, 3)
	assert.Equal(t, `{"id": 123}`, string(recs[0].Raw))
	assert.Equal(t, uint64(123), recs[0].ID)
	assert.Equal(t, `{"id":456, "user": {"id": 2}}`, string(recs[1].Raw))
	assert.Equal(t, uint64(456), recs[1].ID)
	assert.Equal(t, `{"user": {"id":2}, "id": 789}`, string(recs[2].Raw))
	assert.Equal(t, uint64(789), recs[2].ID)
}

func TestScanScores_IgnoresCursor(t *testing.T) {
	t.Parallel()

	body := `{"scores":[{"id":123},{"id":456}],"cursor":{"id":999,"nested":[{"id":1000}]},"cursor_string":"eyJpZCI6OTk5fQ"}`

	set := &RecordSet{}
	require.NoError(t, ScanScores([]byte(body), set))

	require.Equal(t, 2, set.Len())
	lo, _ := set.Min()
	hi, _ := set.Max()
	assert.Equal(t, uint64(123), lo)
	assert.Equal(t, uint64(456), hi)
}

func TestScanScores_Empty(t *testing.T) {
	t.Parallel()

	set := &RecordSet{}
	require.NoError(t, ScanScores([]byte(`{"scores": [ ], "cursor": null}`), set))
	assert.Equal(t, 0, set.Len())
}

func TestScanScores_MergesIntoExistingSet(t *testing.T) {
	t.Parallel()

	set := NewRecordSet(Record{ID: 456, Raw: []byte(`{"id":456,"first":true}`)}, Record{ID: 1, Raw: []byte(`{"id":1}`)})
	require.NoError(t, ScanScores([]byte(`{"scores":[{"id":123},{"id":456}]}`), set))

	recs := set.All()
	require.Len(t, recs, 3)
	assert.Equal(t, []uint64{1, 123, 456}, []uint64{recs[0].ID, recs[1].ID, recs[2].ID})
	assert.Equal(t, `{"id":456,"first":true}`, string(recs[2].Raw))
}

func TestScanScores_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want error
	}{
		{name: "missing key", body: `{"cursor":{}}`, want: ErrMissingScores},
		{name: "key without colon", body: `{"note":"scores"}`, want: ErrMissingScores},
		{name: "missing bracket", body: `{"scores": {"id":1}}`, want: ErrMissingArray},
		{name: "missing id", body: `{"scores":[{"id":1},{"user":{"id":2}}]}`, want: ErrMissingID},
		{name: "non numeric id", body: `{"scores":[{"id":"abc"}]}`, want: ErrMissingID},
		{name: "unterminated object", body: `{"scores":[{"id":1},{"id":2`, want: ErrMalformed},
		{name: "unterminated array", body: `{"scores":[{"id":1}`, want: ErrMalformed},
		{name: "bad separator", body: `{"scores":[{"id":1};{"id":2}]}`, want: ErrMalformed},
		{name: "non object element", body: `{"scores":[1,2]}`, want: ErrMalformed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			set := &RecordSet{}
			err := ScanScores([]byte(tc.body), set)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, set.Len(), "nothing must be inserted on error")
		})
	}
}

func TestScanAccessToken(t *testing.T) {
	t.Parallel()

	tok, err := ScanAccessToken([]byte(`{"token_type":"Bearer","expires_in":86400,"access_token": "abc.def-123"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc.def-123", tok)

	_, err = ScanAccessToken([]byte(`{"token_type":"Bearer"}`))
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = ScanAccessToken([]byte(`{"access_token":null}`))
	require.ErrorIs(t, err, ErrMalformedToken)

	_, err = ScanAccessToken([]byte(`{"access_token":"abc`))
	require.ErrorIs(t, err, ErrMalformedToken)
}
