package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrOrNil(t *testing.T) {
	assert.Nil(t, strOrNil(nil))
	assert.Equal(t, "s1", strOrNil(strPtr("s1")))
	assert.Equal(t, "", strOrNil(strPtr("")))
}

func TestSQLiteTime_SortsAsText(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	earlier := sqliteTime(base)
	later := sqliteTime(base.Add(time.Millisecond))
	assert.Len(t, later, len(earlier))
	assert.Less(t, earlier, later)

	// Non-UTC input is normalised before formatting.
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, earlier, sqliteTime(base.In(est)))
}

func TestScanTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 5, 0, 123, time.UTC)

	var st scanTime
	require.NoError(t, st.Scan(sqliteTime(want)))
	assert.True(t, st.Valid)
	assert.True(t, want.Equal(st.Time))

	require.NoError(t, st.Scan([]byte("2026-03-01 09:05:00")))
	assert.Equal(t, 9, st.Time.Hour())

	require.NoError(t, st.Scan(nil))
	assert.False(t, st.Valid)
	assert.Nil(t, st.ptr())

	assert.Error(t, st.Scan(42))
	assert.Error(t, st.Scan("yesterday"))
}
