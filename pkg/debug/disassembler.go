// Package debug implements the bytecode disassembler: a human-readable
// rendering of a Chunk, one line per instruction.
//
// This is an auxiliary component — the compiler and VM never call into it
// during ordinary execution. Its one runtime consumer is the VM's optional
// per-instruction execution trace (vm.VM.SetTrace, enabled by the CLI's
// GLOX_TRACE environment variable), which calls DisassembleInstruction
// before executing each opcode.
package debug

import (
	"fmt"
	"io"

	"github.com/eagerlove/compiler-for-lox/pkg/bytecode"
	"github.com/eagerlove/compiler-for-lox/pkg/object"
)

// Disassemble renders every instruction in chunk to w, prefixed by name
// (typically the owning function's name, or "<script>").
func Disassemble(w io.Writer, chunk *bytecode.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(chunk.Code); {
		offset = DisassembleInstruction(w, chunk, offset)
	}
}

// DisassembleInstruction renders the single instruction at offset and
// returns the offset of the next one. Operand-bearing opcodes consume the
// appropriate number of following bytes; unrecognized opcodes are printed
// as "Unknown opcode" and advance by one so disassembly of a malformed
// chunk still terminates.
func DisassembleInstruction(w io.Writer, chunk *bytecode.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && chunk.LineAt(offset) == chunk.LineAt(offset-1) {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", chunk.LineAt(offset))
	}

	op := bytecode.OpCode(chunk.Code[offset])
	switch op {
	case bytecode.OpConstant, bytecode.OpGetGlobal, bytecode.OpDefineGlobal,
		bytecode.OpSetGlobal, bytecode.OpGetProperty, bytecode.OpSetProperty,
		bytecode.OpGetSuper, bytecode.OpClass, bytecode.OpMethod:
		return constantInstruction(w, op, chunk, offset)

	case bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpGetUpvalue,
		bytecode.OpSetUpvalue, bytecode.OpCall:
		return byteInstruction(w, op, chunk, offset)

	case bytecode.OpJump, bytecode.OpJumpIfFalse:
		return jumpInstruction(w, op, 1, chunk, offset)
	case bytecode.OpLoop:
		return jumpInstruction(w, op, -1, chunk, offset)

	case bytecode.OpInvoke, bytecode.OpSuperInvoke:
		return invokeInstruction(w, op, chunk, offset)

	case bytecode.OpClosure:
		return closureInstruction(w, chunk, offset)

	case bytecode.OpNil, bytecode.OpTrue, bytecode.OpFalse, bytecode.OpPop,
		bytecode.OpEqual, bytecode.OpGreater, bytecode.OpLess, bytecode.OpAdd,
		bytecode.OpSubtract, bytecode.OpMultiply, bytecode.OpDivide, bytecode.OpNot,
		bytecode.OpNegate, bytecode.OpPrint, bytecode.OpPrintExpr, bytecode.OpCloseUpvalue,
		bytecode.OpReturn, bytecode.OpInherit:
		return simpleInstruction(w, op, offset)

	default:
		fmt.Fprintf(w, "Unknown opcode %d\n", op)
		return offset + 1
	}
}

func simpleInstruction(w io.Writer, op bytecode.OpCode, offset int) int {
	fmt.Fprintf(w, "%s\n", op)
	return offset + 1
}

func byteInstruction(w io.Writer, op bytecode.OpCode, chunk *bytecode.Chunk, offset int) int {
	slot := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return offset + 2
}

func jumpInstruction(w io.Writer, op bytecode.OpCode, sign int, chunk *bytecode.Chunk, offset int) int {
	jump := int(chunk.ReadU16(offset + 1))
	target := offset + 3 + sign*jump
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, target)
	return offset + 3
}

func constantInstruction(w io.Writer, op bytecode.OpCode, chunk *bytecode.Chunk, offset int) int {
	idx := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, chunk.Constants[idx].String())
	return offset + 2
}

func invokeInstruction(w io.Writer, op bytecode.OpCode, chunk *bytecode.Chunk, offset int) int {
	idx := chunk.Code[offset+1]
	argc := chunk.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", op, argc, idx, chunk.Constants[idx].String())
	return offset + 3
}

// closureInstruction renders OP_CLOSURE plus its trailing (is_local, index)
// upvalue descriptor pairs, one line each, so the byte count it reports
// lines up with what the compiler actually emitted.
func closureInstruction(w io.Writer, chunk *bytecode.Chunk, offset int) int {
	offset++
	idx := chunk.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d '%s'\n", bytecode.OpClosure, idx, chunk.Constants[idx].String())

	if fn, ok := chunk.Constants[idx].AsObj().(*object.Function); ok {
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal := chunk.Code[offset]
			index := chunk.Code[offset+1]
			offset += 2
			kind := "upvalue"
			if isLocal == 1 {
				kind = "local"
			}
			fmt.Fprintf(w, "%04d      |                     %s %d\n", offset-2, kind, index)
		}
	}
	return offset
}
