package redsumer

import (
	. "testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntryID(t *T) {
	id, err := ParseEntryID("1693000000000-42")
	require.NoError(t, err)
	assert.Equal(t, uint64(1693000000000), id.Time)
	assert.Equal(t, uint64(42), id.Seq)
	assert.Equal(t, "1693000000000-42", id.String())

	id, err = ParseEntryID(BeginningOfTimeID)
	require.NoError(t, err)
	assert.True(t, id.IsZero())
	assert.Equal(t, BeginningOfTimeID, EntryID{}.String())

	for _, malformed := range []string{"", "5", "5-", "-5", "a-1", "1-b", "1-2-3", "*", ">", "+", "-"} {
		_, err := ParseEntryID(malformed)
		assert.Error(t, err, "input %q", malformed)
	}
}

func TestEntryIDBefore(t *T) {
	assert.True(t, EntryID{}.Before(EntryID{Time: 1}))
	assert.True(t, EntryID{Time: 1, Seq: 1}.Before(EntryID{Time: 1, Seq: 2}))
	assert.True(t, EntryID{Time: 1, Seq: 9}.Before(EntryID{Time: 2}))
	assert.False(t, EntryID{Time: 2}.Before(EntryID{Time: 1, Seq: 9}))
	assert.False(t, EntryID{Time: 1, Seq: 1}.Before(EntryID{Time: 1, Seq: 1}))
}
