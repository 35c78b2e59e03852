package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	at time.Time
	id int64
}

func key(r row) (time.Time, int64) { return r.at, r.id }

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 250_000_000, time.UTC)

	encoded := Encode(ts, 4812)
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.At)
	assert.Equal(t, int64(4812), cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	for _, s := range []string{
		"not-base64!!!",
		enc("nopipe"),
		enc("abc|12"),
		enc("1700000000000|x"),
		enc("1700000000000|0"),
	} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestLimit(t *testing.T) {
	n, err := Limit("", 20, 500)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = Limit("50", 20, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	n, err = Limit("9000", 20, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	for _, s := range []string{"0", "-3", "ten"} {
		_, err := Limit(s, 20, 500)
		assert.ErrorIs(t, err, ErrInvalidLimit, s)
	}
}

func TestComputePage_NoMore(t *testing.T) {
	items := []row{{id: 3}, {id: 2}, {id: 1}}
	result, cursor, hasMore := ComputePage(items, 5, key)
	assert.Len(t, result, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePage_HasMore(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []row{{ts, 9}, {ts, 8}, {ts, 7}, {ts, 6}}
	result, cursor, hasMore := ComputePage(items, 3, key)
	assert.Len(t, result, 3)
	assert.True(t, hasMore)

	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, ts, c.At)
}

func TestComputePage_ExactLimit(t *testing.T) {
	items := []row{{id: 3}, {id: 2}, {id: 1}}
	result, cursor, hasMore := ComputePage(items, 3, key)
	assert.Len(t, result, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}
