// Package compiler implements the single-pass Pratt-style compiler: it
// turns a token stream directly into a bytecode Chunk with no separate AST
// stage, resolving lexical scope, upvalue capture and class/method
// semantics as it goes.
//
// A Compiler holds a chain of FuncCompiler frames, one per function
// currently being compiled, linked by `enclosing`. The chain mirrors the
// call stack the VM will eventually build at runtime, except it exists
// purely at compile time: the outermost frame compiles the implicit
// top-level script function, and each nested `fun`/method declaration
// pushes a new frame for its own Chunk, locals and upvalues.
package compiler

import (
	"fmt"
	"io"
	"strconv"

	"github.com/eagerlove/compiler-for-lox/pkg/bytecode"
	"github.com/eagerlove/compiler-for-lox/pkg/gc"
	"github.com/eagerlove/compiler-for-lox/pkg/lexer"
	"github.com/eagerlove/compiler-for-lox/pkg/object"
	"github.com/eagerlove/compiler-for-lox/pkg/value"
)

// Precedence orders the Pratt table's infix binding strengths, lowest
// first.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

// FunctionType distinguishes the kind of callable a FuncCompiler frame is
// building, which changes how slot 0 is bound and what `return` means.
type FunctionType int

const (
	TypeScript FunctionType = iota
	TypeFunction
	TypeMethod
	TypeInitializer
)

// Local is a compile-time record of a stack slot bound to a name.
// depth == -1 marks "declared but not yet initialized"; a read of the
// variable while its own initializer is being compiled is an error.
type Local struct {
	name       string
	depth      int
	isCaptured bool
}

// upvalueDesc records how a function's Nth upvalue is sourced: either the
// immediate enclosing function's local at `index`, or that function's own
// upvalue at `index`.
type upvalueDesc struct {
	index   byte
	isLocal bool
}

// FuncCompiler is one frame of the compile-time function chain, linked to
// the frame compiling its enclosing function.
type FuncCompiler struct {
	enclosing *FuncCompiler
	function  *object.Function
	fnType    FunctionType

	locals     []Local
	scopeDepth int
	upvalues   []upvalueDesc

	// loops is per-function, not per-compiler: a break inside a fun
	// declared in a loop body must not see the enclosing function's loop.
	loops []*loopState
}

// classCompiler tracks the nearest enclosing class while compiling its
// body, for `this`/`super` validity checks and inheritance wiring.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// loopState tracks the innermost active loop's jump targets so `break` and
// `continue` can be compiled without a distinct control-flow graph: break
// jumps are collected and back-patched once the loop's end is known;
// continue jumps straight to continueTarget, which is the loop's condition
// recheck for `while` and the increment clause for `for`.
type loopState struct {
	continueTarget    int
	breakJumps        []int
	localCountAtEntry int
}

// Compiler parses token-by-token and emits bytecode directly — there is no
// intermediate syntax tree.
type Compiler struct {
	lexer *lexer.Lexer
	heap  *gc.Heap

	current, previous lexer.Token
	hadError          bool
	panicMode         bool

	fc *FuncCompiler
	cc *classCompiler

	errOut   io.Writer
	replMode bool
}

// New returns a Compiler ready to compile source. Diagnostics are written
// to errOut (use io.Discard to suppress them, e.g. in tests that only
// check hadError).
func New(source string, heap *gc.Heap, errOut io.Writer) *Compiler {
	return &Compiler{lexer: lexer.New(source), heap: heap, errOut: errOut}
}

// SetREPLMode enables "Ans = <value>" echoing of bare top-level expression
// statements. Off by default, matching file execution.
func (c *Compiler) SetREPLMode(enabled bool) { c.replMode = enabled }

// Compile parses the entire token stream and returns the implicit
// top-level script function. ok is false iff at least one compile error
// was reported, in which case the caller should discard the function.
func (c *Compiler) Compile() (fn *object.Function, ok bool) {
	c.heap.AddRoot(c)
	defer c.heap.RemoveRoot(c)

	c.beginFuncCompiler(TypeScript, "")
	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}
	fn, _ = c.endFuncCompiler()
	return fn, !c.hadError
}

// MarkRoots marks every function under active construction — the entire
// compiler frame chain — so a collection triggered by an allocation
// mid-compile never sweeps a partially built function.
func (c *Compiler) MarkRoots(h *gc.Heap) {
	for fc := c.fc; fc != nil; fc = fc.enclosing {
		h.MarkObject(fc.function)
	}
}

// --- token stream plumbing ---

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lexer.NextToken()
		if c.current.Type != lexer.TokenIllegal {
			break
		}
		c.errorAtCurrent(c.current.Literal)
	}
}

func (c *Compiler) check(tt lexer.TokenType) bool { return c.current.Type == tt }

func (c *Compiler) match(tt lexer.TokenType) bool {
	if !c.check(tt) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(tt lexer.TokenType, message string) {
	if c.current.Type == tt {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

// --- diagnostics ---

func (c *Compiler) errorAt(tok lexer.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true
	if c.errOut == nil {
		return
	}
	where := ""
	switch tok.Type {
	case lexer.TokenEOF:
		where = " at end"
	case lexer.TokenIllegal:
		// the lexer's own message already describes the problem
	default:
		where = fmt.Sprintf(" at '%s'", tok.Literal)
	}
	fmt.Fprintf(c.errOut, "[line %d] Error%s: %s\n", tok.Line, where, message)
}

func (c *Compiler) errorAtCurrent(message string) { c.errorAt(c.current, message) }
func (c *Compiler) error(message string)          { c.errorAt(c.previous, message) }

// synchronize discards tokens until a likely statement boundary, so one
// parse error doesn't cascade into a wall of spurious ones while the
// parser is out of sync.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// --- bytecode emission ---

func (c *Compiler) currentChunk() *bytecode.Chunk { return c.fc.function.Chunk }

func (c *Compiler) emitByte(b byte)           { c.currentChunk().Write(b, c.previous.Line) }
func (c *Compiler) emitOp(op bytecode.OpCode) { c.currentChunk().WriteOp(op, c.previous.Line) }
func (c *Compiler) emitOpByte(op bytecode.OpCode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > bytecode.MaxJumpDistance {
		c.error("Loop body too large.")
	}
	c.emitByte(byte((offset >> 8) & 0xFF))
	c.emitByte(byte(offset & 0xFF))
}

func (c *Compiler) emitJump(op bytecode.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xFF)
	c.emitByte(0xFF)
	return len(c.currentChunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	if err := c.currentChunk().PatchJump(offset); err != nil {
		c.error(err.Error())
	}
}

func (c *Compiler) emitReturn() {
	if c.fc.fnType == TypeInitializer {
		c.emitOpByte(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.currentChunk().AddConstant(v)
	if idx > bytecode.MaxConstants-1 {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(v))
}

// emitPopLocalsAbove emits the stack cleanup for every local declared
// since count locals existed, without touching the compiler's own locals
// bookkeeping — used by break/continue, which jump out of scopes that are
// still lexically open for the code that follows them.
func (c *Compiler) emitPopLocalsAbove(count int) {
	for i := len(c.fc.locals) - 1; i >= count; i-- {
		if c.fc.locals[i].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
	}
}

// --- function compiler frame management ---

func (c *Compiler) beginFuncCompiler(fnType FunctionType, name string) {
	fc := &FuncCompiler{enclosing: c.fc, fnType: fnType, function: c.heap.NewFunction()}
	// Link the frame into the root chain before interning the name: that
	// allocation can collect, and the new function must already be visible
	// to MarkRoots when it does.
	c.fc = fc
	if fnType != TypeScript {
		fc.function.Name = c.heap.InternString(name)
	}

	// Slot 0 is reserved: bound to "this" for everything but plain
	// functions so method bodies can address the receiver like any other
	// local; for a plain function it is the unnamed callee placeholder.
	slot0 := ""
	if fnType != TypeFunction {
		slot0 = "this"
	}
	fc.locals = append(fc.locals, Local{name: slot0, depth: 0})
}

// endFuncCompiler closes out the current frame and pops back to its
// enclosing one. The returned FuncCompiler still holds the resolved
// upvalue descriptors the caller needs to emit after OP_CLOSURE; no
// further heap allocation happens between this call and that emission, so
// the finished function stays protected purely by having already survived
// as a Compiler root throughout its own construction.
func (c *Compiler) endFuncCompiler() (*object.Function, *FuncCompiler) {
	c.emitReturn()
	finished := c.fc
	finished.function.UpvalueCount = len(finished.upvalues)
	c.fc = finished.enclosing
	return finished.function, finished
}

func (c *Compiler) beginScope() { c.fc.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fc.scopeDepth--
	for len(c.fc.locals) > 0 && c.fc.locals[len(c.fc.locals)-1].depth > c.fc.scopeDepth {
		if c.fc.locals[len(c.fc.locals)-1].isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		c.fc.locals = c.fc.locals[:len(c.fc.locals)-1]
	}
}

// --- variables ---

func (c *Compiler) identifierConstant(name string) byte {
	return c.makeConstant(value.FromObj(c.heap.InternString(name)))
}

func (c *Compiler) addLocal(name string) {
	if len(c.fc.locals) >= bytecode.MaxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fc.locals = append(c.fc.locals, Local{name: name, depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.fc.scopeDepth == 0 {
		return
	}
	name := c.previous.Literal
	for i := len(c.fc.locals) - 1; i >= 0; i-- {
		local := c.fc.locals[i]
		if local.depth != -1 && local.depth < c.fc.scopeDepth {
			break
		}
		if local.name == name {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) parseVariable(errMsg string) byte {
	c.consume(lexer.TokenIdentifier, errMsg)
	c.declareVariable()
	if c.fc.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Literal)
}

func (c *Compiler) markInitialized() {
	if c.fc.scopeDepth == 0 {
		return
	}
	c.fc.locals[len(c.fc.locals)-1].depth = c.fc.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.fc.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

func (c *Compiler) resolveLocal(fc *FuncCompiler, name string) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if fc.locals[i].name == name {
			if fc.locals[i].depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(fc *FuncCompiler, index byte, isLocal bool) int {
	for i, uv := range fc.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fc.upvalues) >= bytecode.MaxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fc.upvalues = append(fc.upvalues, upvalueDesc{index: index, isLocal: isLocal})
	return len(fc.upvalues) - 1
}

// resolveUpvalue recursively walks the enclosing chain: a hit on an
// enclosing local captures it directly; a hit further up threads an
// upvalue-of-an-upvalue back down one level at a time.
func (c *Compiler) resolveUpvalue(fc *FuncCompiler, name string) int {
	if fc.enclosing == nil {
		return -1
	}
	if local := c.resolveLocal(fc.enclosing, name); local != -1 {
		fc.enclosing.locals[local].isCaptured = true
		return c.addUpvalue(fc, byte(local), true)
	}
	if up := c.resolveUpvalue(fc.enclosing, name); up != -1 {
		return c.addUpvalue(fc, byte(up), false)
	}
	return -1
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp bytecode.OpCode
	arg := c.resolveLocal(c.fc, name)
	if arg != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	} else if arg = c.resolveUpvalue(c.fc, name); arg != -1 {
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

// --- expressions (Pratt parser) ---

func (c *Compiler) expression() { c.parsePrecedence(PrecAssignment) }

func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	rule := rules[c.previous.Type]
	if rule.prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= PrecAssignment
	rule.prefix(c, canAssign)

	for prec <= rules[c.current.Type].precedence {
		c.advance()
		infix := rules[c.previous.Type].infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func grouping(c *Compiler, canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func number(c *Compiler, canAssign bool) {
	n, err := strconv.ParseFloat(c.previous.Literal, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(value.Number(n))
}

func stringLiteral(c *Compiler, canAssign bool) {
	c.emitConstant(value.FromObj(c.heap.InternString(c.previous.Literal)))
}

func literal(c *Compiler, canAssign bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func variable(c *Compiler, canAssign bool) { c.namedVariable(c.previous.Literal, canAssign) }

func thisExpr(c *Compiler, canAssign bool) {
	if c.cc == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.namedVariable("this", false)
}

func superExpr(c *Compiler, canAssign bool) {
	if c.cc == nil {
		c.error("Can't use 'super' outside of a class.")
		return
	} else if !c.cc.hasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
		return
	}

	c.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	c.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.previous.Literal)

	c.namedVariable("this", false)
	if c.match(lexer.TokenLeftParen) {
		argc := c.argumentList()
		c.namedVariable("super", false)
		c.emitOp(bytecode.OpSuperInvoke)
		c.emitByte(name)
		c.emitByte(byte(argc))
	} else {
		c.namedVariable("super", false)
		c.emitOpByte(bytecode.OpGetSuper, name)
	}
}

func unary(c *Compiler, canAssign bool) {
	opType := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch opType {
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	}
}

func binary(c *Compiler, canAssign bool) {
	opType := c.previous.Type
	rule := rules[opType]
	c.parsePrecedence(rule.precedence + 1)

	switch opType {
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	}
}

func and_(c *Compiler, canAssign bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func or_(c *Compiler, canAssign bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func call(c *Compiler, canAssign bool) {
	argc := c.argumentList()
	c.emitOp(bytecode.OpCall)
	c.emitByte(byte(argc))
}

func (c *Compiler) argumentList() int {
	argc := 0
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if argc == bytecode.MaxArguments {
				c.error("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return argc
}

func dot(c *Compiler, canAssign bool) {
	c.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous.Literal)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(bytecode.OpSetProperty, name)
	case c.match(lexer.TokenLeftParen):
		argc := c.argumentList()
		c.emitOp(bytecode.OpInvoke)
		c.emitByte(name)
		c.emitByte(byte(argc))
	default:
		c.emitOpByte(bytecode.OpGetProperty, name)
	}
}

// rules is the Pratt table: one entry per token kind that can start or
// continue an expression. Token kinds with no entry default to the zero
// parseRule (no prefix, no infix, PrecNone).
//
// Populated in init() rather than via a composite literal: a direct
// literal here creates a package-level initialization cycle, since the
// functions referenced in the table (e.g. superExpr) transitively call
// parsePrecedence, which reads rules.
var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {grouping, call, PrecCall},
		lexer.TokenDot:          {nil, dot, PrecCall},
		lexer.TokenMinus:        {unary, binary, PrecTerm},
		lexer.TokenPlus:         {nil, binary, PrecTerm},
		lexer.TokenSlash:        {nil, binary, PrecFactor},
		lexer.TokenStar:         {nil, binary, PrecFactor},
		lexer.TokenBang:         {unary, nil, PrecNone},
		lexer.TokenBangEqual:    {nil, binary, PrecEquality},
		lexer.TokenEqualEqual:   {nil, binary, PrecEquality},
		lexer.TokenGreater:      {nil, binary, PrecComparison},
		lexer.TokenGreaterEqual: {nil, binary, PrecComparison},
		lexer.TokenLess:         {nil, binary, PrecComparison},
		lexer.TokenLessEqual:    {nil, binary, PrecComparison},
		lexer.TokenIdentifier:   {variable, nil, PrecNone},
		lexer.TokenString:       {stringLiteral, nil, PrecNone},
		lexer.TokenNumber:       {number, nil, PrecNone},
		lexer.TokenAnd:          {nil, and_, PrecAnd},
		lexer.TokenOr:           {nil, or_, PrecOr},
		lexer.TokenFalse:        {literal, nil, PrecNone},
		lexer.TokenTrue:         {literal, nil, PrecNone},
		lexer.TokenNil:          {literal, nil, PrecNone},
		lexer.TokenSuper:        {superExpr, nil, PrecNone},
		lexer.TokenThis:         {thisExpr, nil, PrecNone},
	}
}

// --- statements ---

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenBreak):
		c.breakStatement()
	case c.match(lexer.TokenContinue):
		c.continueStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

// expressionStatement compiles `expr;`. In REPL mode, a bare expression at
// the very top level of the script prints its value as "Ans = <value>"
// instead of silently discarding it; every other expression statement —
// inside a block, a function, or a non-interactive run — behaves
// identically either way.
func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	if c.replMode && c.fc.enclosing == nil && c.fc.scopeDepth == 0 {
		c.emitOp(bytecode.OpPrintExpr)
	} else {
		c.emitOp(bytecode.OpPop)
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.compileFunction(TypeFunction)
	c.defineVariable(global)
}

// compileFunction compiles a `fun`/method body into its own Chunk, then
// emits OP_CLOSURE in the *enclosing* chunk with one (is_local, index)
// pair per resolved upvalue, so the VM can wire the runtime closure.
func (c *Compiler) compileFunction(fnType FunctionType) {
	name := c.previous.Literal
	c.beginFuncCompiler(fnType, name)
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.fc.function.Arity++
			if c.fc.function.Arity > bytecode.MaxArguments {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			paramConst := c.parseVariable("Expect parameter name.")
			c.defineVariable(paramConst)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	c.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	fn, finished := c.endFuncCompiler()
	idx := c.makeConstant(value.FromObj(fn))
	c.emitOpByte(bytecode.OpClosure, idx)
	for _, uv := range finished.upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "Expect method name.")
	name := c.previous.Literal
	constant := c.identifierConstant(name)

	fnType := TypeMethod
	if name == "init" {
		fnType = TypeInitializer
	}
	c.compileFunction(fnType)
	c.emitOpByte(bytecode.OpMethod, constant)
}

// classDeclaration compiles `class Name [< Super] { methods... }`.
// `super` is bound as an implicit upvalue the same way `this` is, scoped
// to a synthetic block wrapping the class body.
func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "Expect class name.")
	className := c.previous.Literal
	nameConstant := c.identifierConstant(className)
	c.declareVariable()

	c.emitOpByte(bytecode.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: c.cc}
	c.cc = cc

	if c.match(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "Expect superclass name.")
		variable(c, false)
		if c.previous.Literal == className {
			c.error("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(bytecode.OpInherit)
		cc.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(lexer.TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(bytecode.OpPop)

	if cc.hasSuperclass {
		c.endScope()
	}

	c.cc = cc.enclosing
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) pushLoop(continueTarget int) *loopState {
	loop := &loopState{continueTarget: continueTarget, localCountAtEntry: len(c.fc.locals)}
	c.fc.loops = append(c.fc.loops, loop)
	return loop
}

func (c *Compiler) popLoop(loop *loopState) {
	c.fc.loops = c.fc.loops[:len(c.fc.loops)-1]
	for _, jump := range loop.breakJumps {
		c.patchJump(jump)
	}
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	loop := c.pushLoop(loopStart)

	c.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)

	c.popLoop(loop)
}

// forStatement desugars init/condition/increment into the same bytecode
// shape `while` produces, with a small jump dance so a present increment
// clause runs between the body and the condition recheck. All three
// clauses share one scope.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.match(lexer.TokenSemicolon):
		// no initializer
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	continueTarget := loopStart
	if !c.check(lexer.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := len(c.currentChunk().Code)
		continueTarget = incrementStart

		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	} else {
		c.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")
	}

	loop := c.pushLoop(continueTarget)
	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}

	c.popLoop(loop)
	c.endScope()
}

func (c *Compiler) breakStatement() {
	c.consume(lexer.TokenSemicolon, "Expect ';' after 'break'.")
	if len(c.fc.loops) == 0 {
		c.error("Can't use 'break' outside of a loop.")
		return
	}
	loop := c.fc.loops[len(c.fc.loops)-1]
	c.emitPopLocalsAbove(loop.localCountAtEntry)
	loop.breakJumps = append(loop.breakJumps, c.emitJump(bytecode.OpJump))
}

func (c *Compiler) continueStatement() {
	c.consume(lexer.TokenSemicolon, "Expect ';' after 'continue'.")
	if len(c.fc.loops) == 0 {
		c.error("Can't use 'continue' outside of a loop.")
		return
	}
	loop := c.fc.loops[len(c.fc.loops)-1]
	c.emitPopLocalsAbove(loop.localCountAtEntry)
	c.emitLoop(loop.continueTarget)
}

func (c *Compiler) returnStatement() {
	if c.fc.fnType == TypeScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fc.fnType == TypeInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(bytecode.OpReturn)
}
