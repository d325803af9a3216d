// Package vm - runtime error reporting with stack traces.
package vm

import (
	"fmt"
	"strings"
)

// StackFrame captures one call frame's position at the moment a runtime
// error was raised: the source line the faulting instruction came from and
// the name of the function that frame was executing.
type StackFrame struct {
	Name string // function name followed by "()", or "script" for the top-level frame
	Line int
}

// RuntimeError is the error the VM raises when bytecode execution fails
// after compiling successfully; VM.Interpret writes its Error() text to the
// error output and returns InterpretRuntimeError. Error() renders the
// message followed by a top-down stack trace, one "[line L] in <name>()"
// per active frame ("[line L] in script" for the top-level frame).
type RuntimeError struct {
	Message string
	Frames  []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, f := range e.Frames {
		fmt.Fprintf(&b, "\n[line %d] in %s", f.Line, f.Name)
	}
	return b.String()
}
