package compiler

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eagerlove/compiler-for-lox/pkg/bytecode"
	"github.com/eagerlove/compiler-for-lox/pkg/gc"
)

func compile(t *testing.T, src string) (*bytecode.Chunk, bool) {
	t.Helper()
	h := gc.New()
	var errs bytes.Buffer
	c := New(src, h, &errs)
	fn, ok := c.Compile()
	require.NotNil(t, fn)
	if !ok {
		t.Logf("compile errors: %s", errs.String())
	}
	return fn.Chunk, ok
}

func TestCompileSimpleArithmeticEmitsExpectedOps(t *testing.T) {
	chunk, ok := compile(t, "print 1 + 2 * 3;")
	require.True(t, ok)

	var ops []bytecode.OpCode
	for _, b := range chunk.Code {
		ops = append(ops, bytecode.OpCode(b))
		if bytecode.OpCode(b) != bytecode.OpConstant {
			continue
		}
	}
	assert.Contains(t, ops, bytecode.OpAdd)
	assert.Contains(t, ops, bytecode.OpMultiply)
	assert.Contains(t, ops, bytecode.OpPrint)
}

func TestCompileVarDeclarationAndGlobalRead(t *testing.T) {
	_, ok := compile(t, `var x = 10; print x;`)
	assert.True(t, ok)
}

func TestCompileReportsErrorOnMissingSemicolon(t *testing.T) {
	_, ok := compile(t, `var x = 10`)
	assert.False(t, ok)
}

func TestCompileReportsErrorOnReturnOutsideFunction(t *testing.T) {
	_, ok := compile(t, `return 1;`)
	assert.False(t, ok)
}

func TestCompileReportsErrorOnBreakOutsideLoop(t *testing.T) {
	_, ok := compile(t, `break;`)
	assert.False(t, ok)
}

func TestCompileReportsErrorOnContinueOutsideLoop(t *testing.T) {
	_, ok := compile(t, `continue;`)
	assert.False(t, ok)
}

func TestCompileReportsErrorOnThisOutsideClass(t *testing.T) {
	_, ok := compile(t, `print this;`)
	assert.False(t, ok)
}

func TestCompileReportsErrorOnSuperWithoutSuperclass(t *testing.T) {
	_, ok := compile(t, `class A { m() { super.m(); } }`)
	assert.False(t, ok)
}

func TestCompileReportsErrorOnSelfInheritance(t *testing.T) {
	_, ok := compile(t, `class A < A {}`)
	assert.False(t, ok)
}

func TestCompileReportsErrorOnValueReturnFromInitializer(t *testing.T) {
	_, ok := compile(t, `class A { init() { return 1; } }`)
	assert.False(t, ok)
}

func TestCompileWhileLoopWithBreakAndContinue(t *testing.T) {
	_, ok := compile(t, `
		var i = 0;
		while (i < 10) {
			i = i + 1;
			if (i == 3) continue;
			if (i == 5) break;
		}
	`)
	assert.True(t, ok)
}

func TestCompileForLoopWithAllClauses(t *testing.T) {
	chunk, ok := compile(t, `
		for (var i = 0; i < 10; i = i + 1) {
			print i;
		}
	`)
	require.True(t, ok)

	hasLoop := false
	for _, b := range chunk.Code {
		if bytecode.OpCode(b) == bytecode.OpLoop {
			hasLoop = true
		}
	}
	assert.True(t, hasLoop)
}

func TestCompileForLoopWithBreakInsideNestedBlock(t *testing.T) {
	_, ok := compile(t, `
		for (var i = 0; i < 10; i = i + 1) {
			if (i == 2) {
				var shadow = i;
				break;
			}
		}
	`)
	assert.True(t, ok)
}

func TestCompileBreakInsideNestedFunctionDoesNotSeeOuterLoop(t *testing.T) {
	_, ok := compile(t, `while (true) { fun f() { break; } }`)
	assert.False(t, ok)
}

func TestCompileUnderStressGCKeepsInFlightFunctionsAlive(t *testing.T) {
	h := gc.New()
	h.SetStressGC(true)
	c := New(`fun outer() { fun inner() { return "deep"; } return inner; } print outer()();`, h, io.Discard)
	fn, ok := c.Compile()
	require.True(t, ok)
	require.NotNil(t, fn)
}

func TestCompileClosureCapturesEnclosingLocal(t *testing.T) {
	_, ok := compile(t, `
		fun makeCounter() {
			var count = 0;
			fun increment() {
				count = count + 1;
				return count;
			}
			return increment;
		}
		var counter = makeCounter();
		print counter();
	`)
	assert.True(t, ok)
}

func TestCompileClassWithInheritanceAndSuperCall(t *testing.T) {
	_, ok := compile(t, `
		class Animal {
			speak() {
				print "...";
			}
		}
		class Dog < Animal {
			speak() {
				super.speak();
				print "Woof";
			}
		}
		Dog().speak();
	`)
	assert.True(t, ok)
}

func TestCompileClassWithInitializerAndFields(t *testing.T) {
	_, ok := compile(t, `
		class Point {
			init(x, y) {
				this.x = x;
				this.y = y;
			}
		}
		var p = Point(1, 2);
		print p.x;
	`)
	assert.True(t, ok)
}

func TestCompileDuplicateLocalInSameScopeIsError(t *testing.T) {
	_, ok := compile(t, `{ var a = 1; var a = 2; }`)
	assert.False(t, ok)
}

func TestCompileShadowingInNestedScopeIsAllowed(t *testing.T) {
	_, ok := compile(t, `{ var a = 1; { var a = 2; print a; } print a; }`)
	assert.True(t, ok)
}

func TestCompileREPLModeEmitsPrintExprForTopLevelExpression(t *testing.T) {
	h := gc.New()
	c := New("1 + 2;", h, io.Discard)
	c.SetREPLMode(true)
	fn, ok := c.Compile()
	require.True(t, ok)

	found := false
	for _, b := range fn.Chunk.Code {
		if bytecode.OpCode(b) == bytecode.OpPrintExpr {
			found = true
		}
	}
	assert.True(t, found, "expected OP_PRINT_EXPR in REPL mode")
}

func TestCompileREPLModeDoesNotAffectExpressionsInsideBlocks(t *testing.T) {
	h := gc.New()
	c := New("{ 1 + 2; }", h, io.Discard)
	c.SetREPLMode(true)
	fn, ok := c.Compile()
	require.True(t, ok)

	for _, b := range fn.Chunk.Code {
		assert.NotEqual(t, bytecode.OpPrintExpr, bytecode.OpCode(b))
	}
}

func TestCompileTooManyLocalsIsError(t *testing.T) {
	var src bytes.Buffer
	src.WriteString("{\n")
	for i := 0; i < 300; i++ {
		src.WriteString("var v")
		src.WriteString(itoa(i))
		src.WriteString(" = 0;\n")
	}
	src.WriteString("}\n")
	_, ok := compile(t, src.String())
	assert.False(t, ok)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestCompileAndOrShortCircuitCompiles(t *testing.T) {
	_, ok := compile(t, `print true and false or true;`)
	assert.True(t, ok)
}

func TestCompileSynchronizeRecoversAfterError(t *testing.T) {
	h := gc.New()
	var errs bytes.Buffer
	c := New(`var = 1; var x = 2;`, h, &errs)
	_, ok := c.Compile()
	assert.False(t, ok)
	// synchronize should stop cascading into a flood of errors for the
	// well-formed second statement
	assert.LessOrEqual(t, bytes.Count(errs.Bytes(), []byte("[line")), 2)
}
