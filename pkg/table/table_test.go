package table

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eagerlove/compiler-for-lox/pkg/value"
)

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	tbl := New()
	_, ok := tbl.Get("missing")
	assert.False(t, ok)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	tbl := New()
	tbl.Set("x", value.Number(42))

	v, ok := tbl.Get("x")
	require.True(t, ok)
	assert.Equal(t, 42.0, v.AsNumber())
}

func TestSetReportsWhetherKeyIsNew(t *testing.T) {
	tbl := New()
	assert.True(t, tbl.Set("x", value.Number(1)))
	assert.False(t, tbl.Set("x", value.Number(2)))

	v, _ := tbl.Get("x")
	assert.Equal(t, 2.0, v.AsNumber())
}

func TestDeleteThenGetMisses(t *testing.T) {
	tbl := New()
	tbl.Set("x", value.Number(1))
	require.True(t, tbl.Delete("x"))

	_, ok := tbl.Get("x")
	assert.False(t, ok)
}

func TestDeleteMissingKeyReturnsFalse(t *testing.T) {
	tbl := New()
	assert.False(t, tbl.Delete("nope"))
}

func TestTombstoneDoesNotBreakProbingOfLaterInsertedKeys(t *testing.T) {
	tbl := New()
	// Force enough collisions into the same small table that deleting one
	// entry would break probing for entries behind it if tombstones weren't
	// left in place.
	for i := 0; i < 6; i++ {
		tbl.Set(fmt.Sprintf("key%d", i), value.Number(float64(i)))
	}
	tbl.Delete("key0")
	tbl.Delete("key1")

	for i := 2; i < 6; i++ {
		v, ok := tbl.Get(fmt.Sprintf("key%d", i))
		require.Truef(t, ok, "key%d should still be reachable", i)
		assert.Equal(t, float64(i), v.AsNumber())
	}
}

func TestCountReflectsOnlyLiveEntries(t *testing.T) {
	tbl := New()
	tbl.Set("a", value.Number(1))
	tbl.Set("b", value.Number(2))
	tbl.Delete("a")

	assert.Equal(t, 1, tbl.Count())
}

func TestGrowPreservesAllLiveEntries(t *testing.T) {
	tbl := New()
	const n = 100
	for i := 0; i < n; i++ {
		tbl.Set(fmt.Sprintf("key%d", i), value.Number(float64(i)))
	}

	assert.Equal(t, n, tbl.Count())
	for i := 0; i < n; i++ {
		v, ok := tbl.Get(fmt.Sprintf("key%d", i))
		require.True(t, ok)
		assert.Equal(t, float64(i), v.AsNumber())
	}
}

func TestFindStringMatchesByLengthHashAndBytes(t *testing.T) {
	tbl := New()
	tbl.Set("hello", value.Bool(true))

	key, ok := tbl.FindString("hello", hashKey("hello"))
	require.True(t, ok)
	assert.Equal(t, "hello", key)

	_, ok = tbl.FindString("world", hashKey("world"))
	assert.False(t, ok)
}

func TestFindStringOnEmptyTableMisses(t *testing.T) {
	tbl := New()
	_, ok := tbl.FindString("anything", hashKey("anything"))
	assert.False(t, ok)
}

func TestKeysReturnsEveryLiveKeyExactlyOnce(t *testing.T) {
	tbl := New()
	tbl.Set("a", value.Number(1))
	tbl.Set("b", value.Number(2))
	tbl.Set("c", value.Number(3))
	tbl.Delete("b")

	keys := tbl.Keys()
	assert.ElementsMatch(t, []string{"a", "c"}, keys)
}

func TestRemoveUnmarkedDropsEntriesTheKeepFuncRejects(t *testing.T) {
	tbl := New()
	tbl.Set("keep", value.Number(1))
	tbl.Set("drop", value.Number(2))

	tbl.RemoveUnmarked(func(key string) bool { return key == "keep" })

	_, ok := tbl.Get("keep")
	assert.True(t, ok)
	_, ok = tbl.Get("drop")
	assert.False(t, ok)
}
