// Package object implements the heap object model: the concrete kinds a
// value.Obj reference can point at.
//
// Every kind embeds value.Header, which supplies ObjKind/IsMarked/NextObj —
// the fields the garbage collector's tracer and sweeper need regardless of
// which concrete kind they're looking at. Dispatch throughout this
// codebase is a type switch on the concrete Go type, never an interface
// hierarchy of per-kind methods.
package object

import (
	"fmt"

	"github.com/eagerlove/compiler-for-lox/pkg/bytecode"
	"github.com/eagerlove/compiler-for-lox/pkg/table"
	"github.com/eagerlove/compiler-for-lox/pkg/value"
)

// String is an immutable, interned byte sequence. At most one live String
// exists per content, so equality of two String values reduces to pointer
// equality.
type String struct {
	value.Header
	Chars string
	Hash  uint32
}

func (s *String) Size() int      { return 24 + len(s.Chars) }
func (s *String) String() string { return s.Chars }

// NewString constructs a String object tagged with its content hash. It
// does not intern — callers go through the heap's interning table so that
// at most one instance per content stays live.
func NewString(chars string) *String {
	return &String{Header: value.NewHeader(value.ObjString), Chars: chars, Hash: HashString(chars)}
}

// HashString computes the FNV-1a hash of s, matching the original C
// implementation's constants so that two ports of the same program intern
// identically.
func HashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// Function is a compiled function body: its constant pool, bytecode,
// per-instruction line table (all three held in Chunk), declared arity,
// upvalue count, and an optional name (nil for the implicit top-level
// script function, matching the original's "<script>" special case).
type Function struct {
	value.Header
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
	Name         *String
}

func (f *Function) Size() int { return 64 }
func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// NewFunction returns an empty Function ready for the compiler to emit
// into via its Chunk.
func NewFunction() *Function {
	return &Function{Header: value.NewHeader(value.ObjFunction), Chunk: bytecode.NewChunk()}
}

// NativeFn is the native-function calling convention: it receives the
// arguments the VM placed contiguously in the operand stack and returns a
// single result value or an error. Implementations must not mutate args.
type NativeFn func(args []value.Value) (value.Value, error)

// Native wraps a Go function as a callable language-level value.
type Native struct {
	value.Header
	Name string
	Fn   NativeFn
}

func (n *Native) Size() int      { return 32 }
func (n *Native) String() string { return fmt.Sprintf("<native fn %s>", n.Name) }

// NewNative wraps fn as a Native object named name.
func NewNative(name string, fn NativeFn) *Native {
	return &Native{Header: value.NewHeader(value.ObjNative), Name: name, Fn: fn}
}

// Upvalue indirects to a captured variable. It is open while the variable
// still lives on the operand stack (Location points into the stack slice)
// and closed once the enclosing scope exits (Location points at the
// upvalue's own Closed field). NextOpen threads the VM's sorted intrusive
// list of open upvalues — distinct from Header's NextObj, which threads
// the collector's all-objects list.
type Upvalue struct {
	value.Header
	Location *value.Value
	Closed   value.Value
	NextOpen *Upvalue
}

func (u *Upvalue) Size() int      { return 40 }
func (u *Upvalue) String() string { return "<upvalue>" }

// NewUpvalue returns an open upvalue pointing at slot.
func NewUpvalue(slot *value.Value) *Upvalue {
	return &Upvalue{Header: value.NewHeader(value.ObjUpvalue), Location: slot}
}

// Close moves the captured value off the stack into the upvalue's own
// storage and redirects Location to point at it, so the variable survives
// after its stack slot is reused.
func (u *Upvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// Closure pairs a Function with the upvalue array that lexically binds it
// to its defining environment. Multiple closures may share one Function
// through constant-pool reuse.
type Closure struct {
	value.Header
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) Size() int      { return 24 + 8*len(c.Upvalues) }
func (c *Closure) String() string { return c.Function.String() }

// NewClosure allocates the fixed-length upvalue array for fn and returns
// the (still unwired) closure; the VM's OP_CLOSURE handler fills Upvalues.
func NewClosure(fn *Function) *Closure {
	return &Closure{
		Header:   value.NewHeader(value.ObjClosure),
		Function: fn,
		Upvalues: make([]*Upvalue, fn.UpvalueCount),
	}
}

// Class is a named method table. Single inheritance: OP_INHERIT copies the
// superclass's method entries into the subclass's table at class-creation
// time, so method lookup never walks a superclass chain at call time.
type Class struct {
	value.Header
	Name    *String
	Methods *table.Table // String -> Value wrapping a *Closure
}

func (c *Class) Size() int      { return 48 + 16*c.Methods.Count() }
func (c *Class) String() string { return c.Name.Chars }

// NewClass returns an empty class named name.
func NewClass(name *String) *Class {
	return &Class{Header: value.NewHeader(value.ObjClass), Name: name, Methods: table.New()}
}

// Method looks up selector in class's method table, returning the bound
// Closure and ok=true if found.
func (c *Class) Method(selector string) (*Closure, bool) {
	v, ok := c.Methods.Get(selector)
	if !ok {
		return nil, false
	}
	closure, ok := v.AsObj().(*Closure)
	return closure, ok
}

// SetMethod registers closure under selector, wrapping it as a Value. A
// method entry always points to a Closure, never a raw Function, so
// calling it needs no special case.
func (c *Class) SetMethod(selector string, closure *Closure) {
	c.Methods.Set(selector, value.FromObj(closure))
}

// Instance is a live object of some Class, holding its own field table.
// A field may shadow a method of the same name: property access checks
// fields before methods.
type Instance struct {
	value.Header
	Class  *Class
	Fields *table.Table
}

func (i *Instance) Size() int      { return 48 + 24*i.Fields.Count() }
func (i *Instance) String() string { return fmt.Sprintf("%s instance", i.Class.Name.Chars) }

// NewInstance returns a new instance of class with an empty field table.
func NewInstance(class *Class) *Instance {
	return &Instance{Header: value.NewHeader(value.ObjInstance), Class: class, Fields: table.New()}
}

// BoundMethod pairs a receiver with one of its class's closures, produced
// by OP_GET_PROPERTY when the named entry resolves to a method rather than
// a field.
type BoundMethod struct {
	value.Header
	Receiver value.Value
	Method   *Closure
}

func (b *BoundMethod) Size() int      { return 32 }
func (b *BoundMethod) String() string { return b.Method.String() }

// NewBoundMethod binds method to receiver.
func NewBoundMethod(receiver value.Value, method *Closure) *BoundMethod {
	return &BoundMethod{Header: value.NewHeader(value.ObjBoundMethod), Receiver: receiver, Method: method}
}

// AsString type-asserts v as a *String, reporting ok=false for any other
// kind (including non-object values).
func AsString(v value.Value) (*String, bool) {
	if !v.IsObj() {
		return nil, false
	}
	s, ok := v.AsObj().(*String)
	return s, ok
}

