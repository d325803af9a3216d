// Package value defines the runtime value representation for the language:
// the tagged Value union every stack slot, constant-pool entry and local
// variable holds, and the heap object kinds a Value can point at.
//
// Design:
//
// A Value is one of four shapes: Number (float64), Bool, Nil, or a
// reference to a heap Obj. Rather than NaN-box these into a single 64-bit
// word (an optimization the original C implementation makes optional behind
// a build flag), this port always uses a small tagged struct — Go has no
// portable way to steal bit patterns out of a float64 without losing type
// safety, and an explicit tag keeps dispatch a plain switch everywhere
// (see the Opcode/Kind switch idiom throughout this module).
//
// Heap objects all embed Header and so implement the Obj interface, which
// carries what the garbage collector needs: the object's kind tag, its
// visited bit (IsMarked) and its link in the intrusive singly-linked list
// of every live allocation, rooted at the heap (NextObj).
package value

import (
	"fmt"
	"math"
)

// Kind identifies which case of Value is populated.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObj
)

// ObjKind identifies which heap object kind an Obj implements. The garbage
// collector (pkg/gc) and the disassembler (pkg/debug) do not read it: the
// collector uses a type switch on the Go type and the disassembler renders
// constants through String().
type ObjKind byte

const (
	ObjString ObjKind = iota
	ObjFunction
	ObjNative
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjBoundMethod
)

// String renders an ObjKind for debugging and error messages.
func (k ObjKind) String() string {
	switch k {
	case ObjString:
		return "string"
	case ObjFunction:
		return "function"
	case ObjNative:
		return "native function"
	case ObjClosure:
		return "closure"
	case ObjUpvalue:
		return "upvalue"
	case ObjClass:
		return "class"
	case ObjInstance:
		return "instance"
	case ObjBoundMethod:
		return "bound method"
	default:
		return "unknown"
	}
}

// Obj is the interface every heap object kind implements. Concrete kinds
// live in pkg/object, which depends on this package (and pkg/bytecode) —
// not the other way around, so Value can hold an Obj reference without
// pkg/value needing to know about functions, classes or instances.
//
// Header supplies the common fields every kind needs: ObjKind() for the
// kind tag, IsMarked/SetMarked for
// the collector's visited bit, and NextObj/SetNextObj for the VM-wide
// intrusive list of every live allocation the sweeper walks.
type Obj interface {
	ObjKind() ObjKind
	IsMarked() bool
	SetMarked(bool)
	NextObj() Obj
	SetNextObj(Obj)
	// Size reports an approximate byte footprint, used by the collector
	// only at the moment an object is first tracked. Some
	// kinds (Class, Instance) grow their reported Size() as methods or
	// fields are added after allocation; TrackedSize freezes the figure
	// actually added to bytesAllocated so sweep subtracts exactly that,
	// not whatever Size() happens to return later.
	Size() int
	TrackedSize() int
	SetTrackedSize(int)
	String() string
}

// Header is embedded by every concrete Obj kind in pkg/object. It is
// exported so pkg/object can construct and thread it, but its fields stay
// unexported — only the methods below mutate them, keeping the collector's
// bookkeeping centralized.
type Header struct {
	kind        ObjKind
	marked      bool
	next        Obj
	trackedSize int
}

// NewHeader returns a Header tagged with the given kind, ready to embed.
func NewHeader(kind ObjKind) Header { return Header{kind: kind} }

func (h *Header) ObjKind() ObjKind     { return h.kind }
func (h *Header) IsMarked() bool       { return h.marked }
func (h *Header) SetMarked(m bool)     { h.marked = m }
func (h *Header) NextObj() Obj         { return h.next }
func (h *Header) SetNextObj(o Obj)     { h.next = o }
func (h *Header) TrackedSize() int     { return h.trackedSize }
func (h *Header) SetTrackedSize(n int) { h.trackedSize = n }

// Value is the tagged union every stack slot and constant holds.
//
// Equality: numbers compare by IEEE-754 rules (NaN != NaN); bools and nil
// compare structurally; Obj values compare by pointer identity, which for
// interned strings is equivalent to content equality by construction (see
// pkg/gc's interning table).
type Value struct {
	kind    Kind
	number  float64
	boolean bool
	obj     Obj
}

// Nil is the canonical nil Value.
var Nil = Value{kind: KindNil}

// Bool wraps a boolean into a Value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Number wraps a float64 into a Value.
func Number(n float64) Value { return Value{kind: KindNumber, number: n} }

// FromObj wraps a heap object reference into a Value.
func FromObj(o Obj) Value { return Value{kind: KindObj, obj: o} }

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsBool reports whether v holds a boolean.
func (v Value) IsBool() bool { return v.kind == KindBool }

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// IsObj reports whether v holds a heap object reference.
func (v Value) IsObj() bool { return v.kind == KindObj }

// AsBool returns the boolean payload. Callers must check IsBool first.
func (v Value) AsBool() bool { return v.boolean }

// AsNumber returns the float64 payload. Callers must check IsNumber first.
func (v Value) AsNumber() float64 { return v.number }

// AsObj returns the heap object payload. Callers must check IsObj first.
func (v Value) AsObj() Obj { return v.obj }

// Kind reports which case of the union is populated.
func (v Value) Kind() Kind { return v.kind }

// IsFalsey implements the language's truthiness rule: nil and false are
// falsey, everything else — including 0 and the empty string — is truthy.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.AsBool())
}

// Equal implements Value equality: numbers by IEEE comparison,
// bools/nil structurally, objects by identity (which is content identity
// for interned strings, since there is at most one live String per
// content).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.boolean == b.boolean
	case KindNumber:
		return a.number == b.number
	case KindObj:
		return a.obj == b.obj
	default:
		return false
	}
}

// String renders a Value the way the language's `print` statement does.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.number)
	case KindObj:
		return v.obj.String()
	default:
		return "<invalid value>"
	}
}

// formatNumber mimics the original's printf("%g")-style rendering: integral
// floats print without a trailing ".0" (so `print 3;` reads `3`, not `3.0`),
// everything else prints the shortest round-tripping decimal.
func formatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if math.IsNaN(n) {
		return "nan"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
