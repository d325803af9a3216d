// Package gc implements the allocator and the tracing mark-and-sweep
// garbage collector every heap object routes through.
//
// Every allocation — a function, a closure, an upvalue, a class, an
// instance, a bound method, or an interned string — goes through a Heap
// method, which links the new object onto the intrusive "objects" list,
// updates the running bytesAllocated total, and triggers a collection if
// that total has grown past nextGC.
//
// The collector is triple-colour (white/grey/black) precise tracing
// mark-and-sweep: non-moving, non-incremental, non-concurrent. Roots are
// supplied by whoever currently holds reachable state — the VM (operand
// stack, call frames, globals, open upvalues) and the compiler (its
// in-flight function chain) — by registering as a RootMarker. The
// compiler must be a root because allocating a string or constant
// mid-compile can trigger a collection that would otherwise sweep the
// partially built function.
package gc

import (
	"fmt"
	"io"

	"github.com/eagerlove/compiler-for-lox/pkg/object"
	"github.com/eagerlove/compiler-for-lox/pkg/table"
	"github.com/eagerlove/compiler-for-lox/pkg/value"
)

// RootMarker is implemented by anything holding Values the collector must
// not reclaim. The VM and the compiler implement it.
type RootMarker interface {
	MarkRoots(h *Heap)
}

// Heap owns every live object, the interned-string table, and the
// mark/sweep state machine.
type Heap struct {
	objects value.Obj // head of the intrusive list of every live allocation

	strings    *table.Table  // interns String objects by content
	initString *object.String // cached "init", installed lazily

	bytesAllocated int
	nextGC         int

	grey []value.Obj // grey worklist for the trace/blacken phase
	temp []value.Obj // freshly allocated objects pinned through the collection they trigger

	roots []RootMarker

	stressGC bool      // collect on every allocation growth, for testing
	trace    io.Writer // if non-nil, log each collection's phases
}

// initialNextGC is the starting heap-growth threshold before the first
// collection. The original C implementation uses 1MiB; this port keeps
// the same order of magnitude so collections are infrequent in normal
// programs but still exercised by the stress-GC test mode.
const initialNextGC = 1 << 20

// New returns an empty heap with no objects allocated yet.
func New() *Heap {
	return &Heap{strings: table.New(), nextGC: initialNextGC}
}

// AddRoot registers r as a GC root source. The VM registers itself once at
// construction; the compiler registers itself for the duration of one
// Compile call and marks its whole FuncCompiler chain from there.
func (h *Heap) AddRoot(r RootMarker) {
	h.roots = append(h.roots, r)
}

// RemoveRoot unregisters a previously added root, e.g. when the compiler
// finishes a Compile call.
func (h *Heap) RemoveRoot(r RootMarker) {
	for i, existing := range h.roots {
		if existing == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// SetStressGC enables (or disables) collecting on every allocation growth,
// regardless of nextGC — useful for shaking out GC-safety bugs in tests.
func (h *Heap) SetStressGC(enabled bool) { h.stressGC = enabled }

// SetTrace enables per-collection phase logging to w (or disables it if
// w is nil).
func (h *Heap) SetTrace(w io.Writer) { h.trace = w }

// BytesAllocated reports the current tracked heap size: the sum of every
// live object's size as recorded when it was first tracked.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// NextGC reports the current collection threshold.
func (h *Heap) NextGC() int { return h.nextGC }

// track links a freshly allocated object onto the objects list, accounts
// for its size, and triggers a collection if warranted. Every New*
// constructor below ends by calling this.
//
// The original C implementation protects a freshly allocated,
// not-yet-stored-anywhere object by pushing it onto the VM's value stack
// before any further allocation and popping it after, so the collection
// that allocation triggers still sees it as a root. The compiler has no
// such stack to push onto while it builds a function that doesn't belong
// to any chunk yet, so this port centralizes the same discipline here:
// the object whose allocation trips the threshold is pinned as a
// temporary root for exactly that collection, then unpinned. By the time
// any later allocation can collect again, the caller has stored the
// object somewhere the ordinary root scan reaches (the operand stack, a
// table, the compiler's function chain).
func (h *Heap) track(o value.Obj, size int) {
	o.SetNextObj(h.objects)
	o.SetTrackedSize(size)
	h.objects = o
	h.bytesAllocated += size
	if h.stressGC || h.bytesAllocated > h.nextGC {
		h.temp = append(h.temp, o)
		h.Collect()
		h.temp = h.temp[:len(h.temp)-1]
	}
}

// InternString returns the canonical String for chars, allocating and
// registering a new one only if no live string with this content already
// exists.
func (h *Heap) InternString(chars string) *object.String {
	hash := object.HashString(chars)
	if key, ok := h.strings.FindString(chars, hash); ok {
		v, _ := h.strings.Get(key)
		if s, ok := v.AsObj().(*object.String); ok {
			return s
		}
	}
	str := object.NewString(chars)
	h.strings.Set(chars, value.FromObj(str))
	h.track(str, str.Size())
	return str
}

// InitString returns the interned "init" string, caching it on first use.
// The cache field is left nil until after the intern completes, so a
// collection that runs mid-intern (triggered by this very allocation)
// never dereferences a half-installed pointer.
func (h *Heap) InitString() *object.String {
	if h.initString == nil {
		h.initString = h.InternString("init")
	}
	return h.initString
}

// NewFunction allocates an empty function object.
func (h *Heap) NewFunction() *object.Function {
	fn := object.NewFunction()
	h.track(fn, fn.Size())
	return fn
}

// NewNative wraps a Go function as a native callable.
func (h *Heap) NewNative(name string, fn object.NativeFn) *object.Native {
	n := object.NewNative(name, fn)
	h.track(n, n.Size())
	return n
}

// NewClosure allocates a closure over fn with an upvalue array sized to
// fn.UpvalueCount, left for the caller to wire.
func (h *Heap) NewClosure(fn *object.Function) *object.Closure {
	c := object.NewClosure(fn)
	h.track(c, c.Size())
	return c
}

// NewUpvalue allocates an open upvalue pointing at slot.
func (h *Heap) NewUpvalue(slot *value.Value) *object.Upvalue {
	u := object.NewUpvalue(slot)
	h.track(u, u.Size())
	return u
}

// NewClass allocates an empty class named name.
func (h *Heap) NewClass(name *object.String) *object.Class {
	c := object.NewClass(name)
	h.track(c, c.Size())
	return c
}

// NewInstance allocates a new instance of class.
func (h *Heap) NewInstance(class *object.Class) *object.Instance {
	i := object.NewInstance(class)
	h.track(i, i.Size())
	return i
}

// NewBoundMethod allocates a bound method pairing receiver with method.
func (h *Heap) NewBoundMethod(receiver value.Value, method *object.Closure) *object.BoundMethod {
	b := object.NewBoundMethod(receiver, method)
	h.track(b, b.Size())
	return b
}

// Collect runs one full mark/trace/sweep cycle.
func (h *Heap) Collect() {
	h.logf("-- gc begin")

	h.markRoots()
	h.traceReferences()
	h.removeWhiteStrings()
	h.sweep()

	h.nextGC = h.bytesAllocated * 2

	h.logf("-- gc end (bytesAllocated=%d nextGC=%d)", h.bytesAllocated, h.nextGC)
}

func (h *Heap) markRoots() {
	for _, r := range h.roots {
		r.MarkRoots(h)
	}
	for _, o := range h.temp {
		h.MarkObject(o)
	}
	if h.initString != nil {
		h.MarkObject(h.initString)
	}
}

// MarkValue marks v's underlying object, if it holds one. Root sources
// call this for every Value they expose (stack slots, globals, upvalues).
func (h *Heap) MarkValue(v value.Value) {
	if v.IsObj() {
		h.MarkObject(v.AsObj())
	}
}

// MarkObject marks o grey (adds it to the trace worklist) unless it is
// nil or already marked. Exported so root sources outside this package
// (the VM, the compiler) can mark objects they hold directly.
func (h *Heap) MarkObject(o value.Obj) {
	if o == nil || o.IsMarked() {
		return
	}
	o.SetMarked(true)
	h.grey = append(h.grey, o)
}

// traceReferences pops the grey worklist until empty, blackening each
// object by marking everything it refers to.
func (h *Heap) traceReferences() {
	for len(h.grey) > 0 {
		o := h.grey[len(h.grey)-1]
		h.grey = h.grey[:len(h.grey)-1]
		h.blacken(o)
	}
}

// blacken marks every Value/Obj a given object refers to. This is the one
// place in the collector that switches on concrete object kind, via a type
// switch on the object's Go type; an unhandled kind panics.
func (h *Heap) blacken(o value.Obj) {
	switch obj := o.(type) {
	case *object.String, *object.Native:
		// no outgoing references

	case *object.Upvalue:
		// Marking Closed even while the upvalue is open is harmless:
		// Closed just holds its zero value until Close() runs.
		h.MarkValue(obj.Closed)

	case *object.Function:
		if obj.Name != nil {
			h.MarkObject(obj.Name)
		}
		for _, c := range obj.Chunk.Constants {
			h.MarkValue(c)
		}

	case *object.Closure:
		h.MarkObject(obj.Function)
		for _, uv := range obj.Upvalues {
			if uv != nil {
				h.MarkObject(uv)
			}
		}

	case *object.Class:
		h.MarkObject(obj.Name)
		for _, key := range obj.Methods.Keys() {
			if v, ok := obj.Methods.Get(key); ok {
				h.MarkValue(v)
			}
		}

	case *object.Instance:
		h.MarkObject(obj.Class)
		for _, key := range obj.Fields.Keys() {
			if v, ok := obj.Fields.Get(key); ok {
				h.MarkValue(v)
			}
		}

	case *object.BoundMethod:
		h.MarkValue(obj.Receiver)
		h.MarkObject(obj.Method)

	default:
		panic(fmt.Sprintf("gc: unhandled object kind %T", o))
	}
}

// removeWhiteStrings drops every interned string not reached by this
// collection. It must run strictly between tracing and sweeping so sweep
// can reclaim the now-dangling String objects.
func (h *Heap) removeWhiteStrings() {
	h.strings.RemoveUnmarked(func(key string) bool {
		v, ok := h.strings.Get(key)
		if !ok {
			return false
		}
		if !v.IsObj() {
			return false
		}
		return v.AsObj().IsMarked()
	})
}

// sweep walks the intrusive objects list, unlinking anything left unmarked
// and clearing the mark bit on everything else.
func (h *Heap) sweep() {
	var prev value.Obj
	cur := h.objects

	for cur != nil {
		if cur.IsMarked() {
			cur.SetMarked(false)
			prev = cur
			cur = cur.NextObj()
			continue
		}

		unreached := cur
		cur = cur.NextObj()
		if prev != nil {
			prev.SetNextObj(cur)
		} else {
			h.objects = cur
		}
		h.bytesAllocated -= unreached.TrackedSize()
	}
}

func (h *Heap) logf(format string, args ...interface{}) {
	if h.trace == nil {
		return
	}
	fmt.Fprintf(h.trace, format+"\n", args...)
}
