package redsumer

import (
	"context"
	"errors"
	. "testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertKind(t *T, err error, kind Kind) {
	t.Helper()
	var e Error
	require.True(t, errors.As(err, &e), "error %v does not unwrap to Error", err)
	assert.Equal(t, kind, e.Kind)
}

func TestEntryFields(t *T) {
	ctx := context.Background()
	entry := Entry{
		ID: EntryID{Time: 5, Seq: 1},
		Fields: map[string]string{
			"name":    "picos de europa",
			"height":  "2650",
			"delta":   "-12",
			"ratio":   "0.75",
			"active":  "true",
			"visited": "2023-08-25T12:00:00Z",
			"epoch":   "1693000000000",
			"id":      "0191d5a4-31ac-7f00-8000-1f6d3c2e4b5a",
			"payload": `{"kind":"summit","tries":3}`,
		},
	}

	v, ok := entry.Field("name")
	assert.True(t, ok)
	assert.Equal(t, "picos de europa", v)
	_, ok = entry.Field("nope")
	assert.False(t, ok)

	s, err := entry.StringField(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "picos de europa", s)

	b, err := entry.BytesField(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, []byte("picos de europa"), b)

	i, err := entry.Int64Field(ctx, "delta")
	require.NoError(t, err)
	assert.Equal(t, int64(-12), i)

	u, err := entry.Uint64Field(ctx, "height")
	require.NoError(t, err)
	assert.Equal(t, uint64(2650), u)

	f, err := entry.Float64Field(ctx, "ratio")
	require.NoError(t, err)
	assert.Equal(t, 0.75, f)

	bl, err := entry.BoolField(ctx, "active")
	require.NoError(t, err)
	assert.True(t, bl)

	ts, err := entry.TimeField(ctx, "visited")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 8, 25, 12, 0, 0, 0, time.UTC), ts.UTC())

	ts, err = entry.TimeField(ctx, "epoch")
	require.NoError(t, err)
	assert.Equal(t, int64(1693000000000), ts.UnixNano()/int64(time.Millisecond))

	id, err := entry.UUIDField(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("0191d5a4-31ac-7f00-8000-1f6d3c2e4b5a"), id)

	var payload struct {
		Kind  string `json:"kind"`
		Tries int    `json:"tries"`
	}
	require.NoError(t, entry.JSONField(ctx, "payload", &payload))
	assert.Equal(t, "summit", payload.Kind)
	assert.Equal(t, 3, payload.Tries)
}

func TestEntryFieldErrors(t *T) {
	ctx := context.Background()
	entry := Entry{
		ID:     EntryID{Time: 5, Seq: 1},
		Fields: map[string]string{"name": "x"},
	}

	_, err := entry.StringField(ctx, "missing")
	assertKind(t, err, KindClient)

	_, err = entry.Int64Field(ctx, "name")
	assertKind(t, err, KindClient)

	_, err = entry.Uint64Field(ctx, "name")
	assertKind(t, err, KindClient)

	_, err = entry.Float64Field(ctx, "name")
	assertKind(t, err, KindClient)

	_, err = entry.BoolField(ctx, "name")
	assertKind(t, err, KindClient)

	_, err = entry.TimeField(ctx, "name")
	assertKind(t, err, KindClient)

	_, err = entry.UUIDField(ctx, "name")
	assertKind(t, err, KindClient)

	var dst interface{}
	err = entry.JSONField(ctx, "name", &dst)
	assertKind(t, err, KindClient)
}
