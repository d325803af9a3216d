package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eagerlove/compiler-for-lox/pkg/object"
	"github.com/eagerlove/compiler-for-lox/pkg/value"
)

func TestInternStringReturnsSameObjectForSameContent(t *testing.T) {
	h := New()
	a := h.InternString("hello")
	b := h.InternString("hello")
	assert.Same(t, a, b)
}

func TestInternStringDistinguishesDifferentContent(t *testing.T) {
	h := New()
	a := h.InternString("hello")
	b := h.InternString("world")
	assert.NotSame(t, a, b)
}

// fakeRoot lets a test control exactly which values the collector treats
// as reachable, without needing a full VM.
type fakeRoot struct {
	values []value.Value
}

func (r *fakeRoot) MarkRoots(h *Heap) {
	for _, v := range r.values {
		h.MarkValue(v)
	}
}

func TestCollectReclaimsUnreachableString(t *testing.T) {
	h := New()
	kept := h.InternString("kept")
	h.InternString("garbage")

	root := &fakeRoot{values: []value.Value{value.FromObj(kept)}}
	h.AddRoot(root)

	h.Collect()

	// kept survives.
	assert.Same(t, kept, h.InternString("kept"))

	// "garbage" was unreachable, so the collection dropped its entry from
	// the interned-string table.
	_, found := h.strings.FindString("garbage", object.HashString("garbage"))
	assert.False(t, found)
}

func TestCollectKeepsObjectsReachableThroughAGraph(t *testing.T) {
	h := New()
	name := h.InternString("Counter")
	class := h.NewClass(name)
	instance := h.NewInstance(class)

	root := &fakeRoot{values: []value.Value{value.FromObj(instance)}}
	h.AddRoot(root)

	h.Collect()

	assert.False(t, instance.IsMarked()) // sweep clears the mark bit on survivors
	assert.Same(t, class, instance.Class)
}

func TestStressGCCollectsOnEveryAllocation(t *testing.T) {
	h := New()
	h.SetStressGC(true)

	root := &fakeRoot{}
	h.AddRoot(root)

	require.NotPanics(t, func() {
		for i := 0; i < 50; i++ {
			h.InternString("x")
		}
	})
}

func TestBytesAllocatedDecreasesAfterCollectingGarbage(t *testing.T) {
	h := New()
	h.InternString("throwaway")
	before := h.BytesAllocated()

	root := &fakeRoot{}
	h.AddRoot(root)
	h.Collect()

	assert.Less(t, h.BytesAllocated(), before)
}

func TestAddRootThenRemoveRootStopsItFromBeingScanned(t *testing.T) {
	h := New()
	kept := h.InternString("ephemeral")

	root := &fakeRoot{values: []value.Value{value.FromObj(kept)}}
	h.AddRoot(root)
	h.RemoveRoot(root)

	h.Collect()

	_, found := h.strings.FindString("ephemeral", object.HashString("ephemeral"))
	assert.False(t, found)
}

func TestCollectSetsNextGCToExactlyTwiceBytesAllocated(t *testing.T) {
	h := New()
	h.InternString("a")
	h.InternString("b")

	root := &fakeRoot{}
	h.AddRoot(root)
	h.Collect()

	assert.Equal(t, h.BytesAllocated()*2, h.NextGC())
}

func TestBytesAllocatedStaysExactAfterClassGainsMethodsThenIsCollected(t *testing.T) {
	h := New()
	name := h.InternString("Counter")
	class := h.NewClass(name)

	methodName := h.InternString("inc")
	fn := h.NewFunction()
	closure := h.NewClosure(fn)
	class.SetMethod(methodName.Chars, closure)

	root := &fakeRoot{}
	h.AddRoot(root)
	before := h.BytesAllocated()
	h.Collect()

	// Every tracked object (including class, whose Size() grew after
	// allocation) was unreachable and swept: nothing should remain charged.
	assert.Less(t, h.BytesAllocated(), before)
	assert.GreaterOrEqual(t, h.BytesAllocated(), 0)
}

func TestInitStringIsCachedAndSurvivesCollection(t *testing.T) {
	h := New()
	first := h.InitString()

	root := &fakeRoot{}
	h.AddRoot(root)
	h.Collect()

	second := h.InitString()
	assert.Same(t, first, second)
}
