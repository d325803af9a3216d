// Package vm implements the stack-based virtual machine that executes the
// bytecode the compiler emits: call-frame management, closure upvalue
// lifecycle, the globals table, native-function dispatch, and runtime
// error reporting with stack traces.
//
// Execution Model:
//
// A VM holds one operand stack shared across every active call frame, plus
// a separate frame stack recording, per active call, which closure is
// running, where its instruction pointer sits, and which operand-stack
// slot its locals start at. Dispatch is a plain switch over the current
// opcode — no threaded code, no JIT. Most operations follow a pattern:
// pop operands, perform operation, push result.
//
// Both the value stack and the frame stack are arrays sized once at
// construction and never reallocated. Open upvalues hold raw pointers
// into the value stack, so the stack must never be relocated while any
// of them exist; fixing the capacity up front guarantees that.
package vm

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/slices"

	"github.com/eagerlove/compiler-for-lox/pkg/bytecode"
	"github.com/eagerlove/compiler-for-lox/pkg/compiler"
	"github.com/eagerlove/compiler-for-lox/pkg/debug"
	"github.com/eagerlove/compiler-for-lox/pkg/gc"
	"github.com/eagerlove/compiler-for-lox/pkg/object"
	"github.com/eagerlove/compiler-for-lox/pkg/table"
	"github.com/eagerlove/compiler-for-lox/pkg/value"
)

// framesMax bounds call-frame depth; stackMax sizes the operand stack for
// one full window of locals per possible frame in the worst case.
const (
	framesMax = 64
	stackMax  = framesMax * bytecode.MaxLocals
)

// CallFrame is one active invocation's execution state.
type CallFrame struct {
	closure  *object.Closure
	ip       int
	slotBase int // index into VM.stack where this frame's slot 0 lives
}

// openUpvalue pairs a live Upvalue with the absolute stack index it was
// captured at, so the VM-wide list can be kept sorted by descending stack
// address and closing a frame's upvalues only ever touches a prefix.
type openUpvalue struct {
	index int
	uv    *object.Upvalue
}

// InterpretResult is the three-way outcome of running a program, which a
// CLI driver maps to distinct process exit codes.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// VM is the bytecode interpreter: operand stack, call frames, open-upvalue
// list, globals table and native registry.
type VM struct {
	heap *gc.Heap

	stack    [stackMax]value.Value
	stackTop int

	frames     [framesMax]CallFrame
	frameCount int

	globals      *table.Table
	openUpvalues []openUpvalue

	stdout io.Writer
	stderr io.Writer
	trace  io.Writer // non-nil enables per-instruction disassembly trace
}

// New returns a VM backed by heap, registering itself as a GC root so the
// collector sees every Value reachable from the operand stack, frames,
// open upvalues and globals.
func New(heap *gc.Heap) *VM {
	vm := &VM{heap: heap, globals: table.New(), stdout: os.Stdout, stderr: os.Stderr}
	heap.AddRoot(vm)
	return vm
}

// SetOutput redirects where `print`/`Ans =` output goes (default os.Stdout).
func (vm *VM) SetOutput(w io.Writer) { vm.stdout = w }

// SetErrorOutput redirects where compile/runtime diagnostics go (default
// os.Stderr).
func (vm *VM) SetErrorOutput(w io.Writer) { vm.stderr = w }

// SetTrace enables (non-nil) or disables (nil) a per-instruction
// disassembly trace, written to w before each instruction executes.
func (vm *VM) SetTrace(w io.Writer) { vm.trace = w }

// Heap exposes the VM's heap so a caller can allocate objects on the same
// heap the VM's own bytecode allocates through.
func (vm *VM) Heap() *gc.Heap { return vm.heap }

// DefineNative registers fn as a global callable named name. Natives live
// in the ordinary globals table alongside user-defined globals: OP_CALL
// dispatches to them the same way it dispatches to a closure.
func (vm *VM) DefineNative(name string, fn object.NativeFn) {
	native := vm.heap.NewNative(name, fn)
	vm.globals.Set(name, value.FromObj(native))
}

// MarkRoots marks every Value the VM currently holds live: the operand
// stack up to stackTop, each active frame's closure, every open upvalue,
// and every global.
func (vm *VM) MarkRoots(h *gc.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	for _, ou := range vm.openUpvalues {
		h.MarkObject(ou.uv)
	}
	for _, key := range vm.globals.Keys() {
		if v, ok := vm.globals.Get(key); ok {
			h.MarkValue(v)
		}
	}
}

// --- stack primitives ---

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// --- top-level entry points ---

// Interpret compiles and runs source as a complete program (file-mode:
// no REPL echo of bare expressions).
func (vm *VM) Interpret(source string) InterpretResult {
	return vm.interpret(source, false)
}

// InterpretREPL compiles and runs one REPL input, echoing a bare top-level
// expression statement's value as "Ans = <value>". Globals and the heap
// persist across calls on the same VM, matching an interactive session's
// expectations.
func (vm *VM) InterpretREPL(source string) InterpretResult {
	return vm.interpret(source, true)
}

func (vm *VM) interpret(source string, replEcho bool) InterpretResult {
	c := compiler.New(source, vm.heap, vm.stderr)
	c.SetREPLMode(replEcho)
	fn, ok := c.Compile()
	if !ok {
		return InterpretCompileError
	}

	closure := vm.heap.NewClosure(fn)
	vm.push(value.FromObj(closure))
	if err := vm.call(closure, 0); err != nil {
		fmt.Fprintln(vm.stderr, err)
		return InterpretRuntimeError
	}

	if err := vm.run(); err != nil {
		fmt.Fprintln(vm.stderr, err)
		return InterpretRuntimeError
	}
	return InterpretOK
}

// --- instruction stream helpers ---

func (vm *VM) readByte(frame *CallFrame) byte {
	b := frame.closure.Function.Chunk.Code[frame.ip]
	frame.ip++
	return b
}

func (vm *VM) readU16(frame *CallFrame) uint16 {
	hi := vm.readByte(frame)
	lo := vm.readByte(frame)
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readConstant(frame *CallFrame) value.Value {
	return frame.closure.Function.Chunk.Constants[vm.readByte(frame)]
}

func (vm *VM) readString(frame *CallFrame) *object.String {
	s, _ := object.AsString(vm.readConstant(frame))
	return s
}

// --- the dispatch loop ---

// run executes bytecode from the current (topmost) frame until the
// outermost frame returns, or a runtime error aborts execution.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]

	for {
		if vm.trace != nil {
			debug.DisassembleInstruction(vm.trace, frame.closure.Function.Chunk, frame.ip)
		}

		switch op := bytecode.OpCode(vm.readByte(frame)); op {
		case bytecode.OpConstant:
			vm.push(vm.readConstant(frame))
		case bytecode.OpNil:
			vm.push(value.Nil)
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := vm.readByte(frame)
			vm.push(vm.stack[frame.slotBase+int(slot)])
		case bytecode.OpSetLocal:
			slot := vm.readByte(frame)
			vm.stack[frame.slotBase+int(slot)] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := vm.readString(frame)
			v, ok := vm.globals.Get(name.Chars)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)
		case bytecode.OpDefineGlobal:
			name := vm.readString(frame)
			vm.globals.Set(name.Chars, vm.peek(0))
			vm.pop()
		case bytecode.OpSetGlobal:
			name := vm.readString(frame)
			if vm.globals.Set(name.Chars, vm.peek(0)) {
				vm.globals.Delete(name.Chars)
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}

		case bytecode.OpGetUpvalue:
			slot := vm.readByte(frame)
			vm.push(*frame.closure.Upvalues[slot].Location)
		case bytecode.OpSetUpvalue:
			slot := vm.readByte(frame)
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case bytecode.OpGetProperty:
			instance, ok := asInstance(vm.peek(0))
			if !ok {
				return vm.runtimeError("Only instances have properties.")
			}
			name := vm.readString(frame)
			if field, ok := instance.Fields.Get(name.Chars); ok {
				vm.pop()
				vm.push(field)
			} else if err := vm.bindMethod(instance.Class, name.Chars); err != nil {
				return err
			}
		case bytecode.OpSetProperty:
			instance, ok := asInstance(vm.peek(1))
			if !ok {
				return vm.runtimeError("Only instances have fields.")
			}
			name := vm.readString(frame)
			instance.Fields.Set(name.Chars, vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)
		case bytecode.OpGetSuper:
			name := vm.readString(frame)
			superclass, _ := vm.pop().AsObj().(*object.Class)
			if err := vm.bindMethod(superclass, name.Chars); err != nil {
				return err
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpGreater:
			if err := vm.numericCompare(func(a, b float64) bool { return a > b }); err != nil {
				return err
			}
		case bytecode.OpLess:
			if err := vm.numericCompare(func(a, b float64) bool { return a < b }); err != nil {
				return err
			}
		case bytecode.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}
		case bytecode.OpSubtract:
			if err := vm.numericBinary(func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}
		case bytecode.OpMultiply:
			if err := vm.numericBinary(func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}
		case bytecode.OpDivide:
			if err := vm.numericBinary(func(a, b float64) float64 { return a / b }); err != nil {
				return err
			}
		case bytecode.OpNot:
			vm.push(value.Bool(vm.pop().IsFalsey()))
		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop().String())
		case bytecode.OpPrintExpr:
			fmt.Fprintf(vm.stdout, "Ans = %s\n", vm.pop().String())

		case bytecode.OpJump:
			offset := vm.readU16(frame)
			frame.ip += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := vm.readU16(frame)
			if vm.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}
		case bytecode.OpLoop:
			offset := vm.readU16(frame)
			frame.ip -= int(offset)

		case bytecode.OpCall:
			argc := int(vm.readByte(frame))
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]
		case bytecode.OpInvoke:
			name := vm.readString(frame)
			argc := int(vm.readByte(frame))
			if err := vm.invoke(name.Chars, argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]
		case bytecode.OpSuperInvoke:
			name := vm.readString(frame)
			argc := int(vm.readByte(frame))
			superclass, _ := vm.pop().AsObj().(*object.Class)
			if err := vm.invokeFromClass(superclass, name.Chars, argc); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			fn, _ := vm.readConstant(frame).AsObj().(*object.Function)
			closure := vm.heap.NewClosure(fn)
			vm.push(value.FromObj(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := vm.readByte(frame)
				index := vm.readByte(frame)
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slotBase + int(index))
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slotBase)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.slotBase
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClass:
			name := vm.readString(frame)
			vm.push(value.FromObj(vm.heap.NewClass(name)))
		case bytecode.OpInherit:
			if !vm.peek(1).IsObj() {
				return vm.runtimeError("Superclass must be a class.")
			}
			superclass, ok := vm.peek(1).AsObj().(*object.Class)
			if !ok {
				return vm.runtimeError("Superclass must be a class.")
			}
			subclass, _ := vm.peek(0).AsObj().(*object.Class)
			for _, key := range superclass.Methods.Keys() {
				if v, ok := superclass.Methods.Get(key); ok {
					subclass.Methods.Set(key, v)
				}
			}
			vm.pop() // pop subclass; superclass stays bound as the "super" local
		case bytecode.OpMethod:
			name := vm.readString(frame)
			method, _ := vm.pop().AsObj().(*object.Closure)
			class, _ := vm.peek(0).AsObj().(*object.Class)
			class.SetMethod(name.Chars, method)

		default:
			return vm.runtimeError("Unknown opcode %d.", byte(op))
		}
	}
}

func asInstance(v value.Value) (*object.Instance, bool) {
	if !v.IsObj() {
		return nil, false
	}
	inst, ok := v.AsObj().(*object.Instance)
	return inst, ok
}

func (vm *VM) numericBinary(op func(a, b float64) float64) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(value.Number(op(a, b)))
	return nil
}

func (vm *VM) numericCompare(op func(a, b float64) bool) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(value.Bool(op(a, b)))
	return nil
}

// add implements OP_ADD's dual role: numeric addition, or string
// concatenation when both operands are strings. No implicit coercion
// between the two.
func (vm *VM) add() error {
	a, b := vm.peek(1), vm.peek(0)
	switch {
	case a.IsNumber() && b.IsNumber():
		vm.pop()
		vm.pop()
		vm.push(value.Number(a.AsNumber() + b.AsNumber()))
	default:
		aStr, aOK := object.AsString(a)
		bStr, bOK := object.AsString(b)
		if !aOK || !bOK {
			return vm.runtimeError("Operands must be two numbers or two strings.")
		}
		vm.pop()
		vm.pop()
		concatenated := vm.heap.InternString(aStr.Chars + bStr.Chars)
		vm.push(value.FromObj(concatenated))
	}
	return nil
}

// --- call dispatch ---

func (vm *VM) callValue(callee value.Value, argc int) error {
	if callee.IsObj() {
		switch callable := callee.AsObj().(type) {
		case *object.Closure:
			return vm.call(callable, argc)
		case *object.Class:
			instance := vm.heap.NewInstance(callable)
			vm.stack[vm.stackTop-argc-1] = value.FromObj(instance)
			if initializer, ok := callable.Method(vm.heap.InitString().Chars); ok {
				return vm.call(initializer, argc)
			} else if argc != 0 {
				return vm.runtimeError("Expected 0 arguments but got %d.", argc)
			}
			return nil
		case *object.BoundMethod:
			vm.stack[vm.stackTop-argc-1] = callable.Receiver
			return vm.call(callable.Method, argc)
		case *object.Native:
			args := vm.stack[vm.stackTop-argc : vm.stackTop]
			result, err := callable.Fn(args)
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.stackTop -= argc + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

// call pushes a new frame for closure after verifying the argument count
// matches the declared arity and the frame stack has room. On failure the
// new frame is never pushed, so the resulting trace ends at the caller.
func (vm *VM) call(closure *object.Closure, argc int) error {
	if argc != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argc)
	}
	if vm.frameCount == framesMax {
		return vm.runtimeError("Stack overflow.")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slotBase = vm.stackTop - argc - 1
	return nil
}

// invoke implements OP_INVOKE: a fused property-get + call. A field of the
// receiver instance with that name is checked first and called if present
// (fields may hold callables); otherwise the class method is called
// directly, without allocating a BoundMethod.
func (vm *VM) invoke(name string, argc int) error {
	receiver := vm.peek(argc)
	instance, ok := asInstance(receiver)
	if !ok {
		return vm.runtimeError("Only instances have methods.")
	}
	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argc-1] = field
		return vm.callValue(field, argc)
	}
	return vm.invokeFromClass(instance.Class, name, argc)
}

func (vm *VM) invokeFromClass(class *object.Class, name string, argc int) error {
	if class == nil {
		return vm.runtimeError("Undefined property '%s'.", name)
	}
	method, ok := class.Method(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name)
	}
	return vm.call(method, argc)
}

// bindMethod resolves name in class's method table and wraps it with the
// value currently on top of the stack as a BoundMethod, replacing that
// top-of-stack value.
func (vm *VM) bindMethod(class *object.Class, name string) error {
	if class == nil {
		return vm.runtimeError("Undefined property '%s'.", name)
	}
	method, ok := class.Method(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name)
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method)
	vm.pop()
	vm.push(value.FromObj(bound))
	return nil
}

// --- upvalues ---

// captureUpvalue returns the open upvalue for the stack slot at index,
// reusing one already open there (two closures capturing the same local
// must share its storage) or allocating a fresh one and inserting it into
// the sorted open list.
func (vm *VM) captureUpvalue(index int) *object.Upvalue {
	for _, ou := range vm.openUpvalues {
		if ou.index == index {
			return ou.uv
		}
	}
	uv := vm.heap.NewUpvalue(&vm.stack[index])
	vm.openUpvalues = append(vm.openUpvalues, openUpvalue{index: index, uv: uv})
	slices.SortFunc(vm.openUpvalues, func(a, b openUpvalue) int { return b.index - a.index })
	return uv
}

// closeUpvalues closes every open upvalue at or above stack index last,
// moving its captured value off the stack into its own storage. The list
// is sorted descending by index so the matching entries are always a
// prefix.
func (vm *VM) closeUpvalues(last int) {
	i := 0
	for i < len(vm.openUpvalues) && vm.openUpvalues[i].index >= last {
		vm.openUpvalues[i].uv.Close()
		i++
	}
	vm.openUpvalues = vm.openUpvalues[i:]
}

// runtimeError formats a runtime error and captures a top-down stack trace
// across every active frame before resetting the VM's stacks. Each frame's
// ip already points one past the instruction it is executing (the faulting
// one on top, the suspended call in every caller), so every frame reads
// its line at ip-1.
func (vm *VM) runtimeError(format string, args ...interface{}) error {
	message := fmt.Sprintf(format, args...)

	var trace []StackFrame
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		fn := f.closure.Function
		name := "script"
		if fn.Name != nil {
			name = fn.Name.Chars + "()"
		}
		trace = append(trace, StackFrame{Name: name, Line: fn.Chunk.LineAt(f.ip - 1)})
	}

	vm.resetStack()
	return &RuntimeError{Message: message, Frames: trace}
}
