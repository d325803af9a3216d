// Command glox is the language's CLI driver: zero arguments starts an
// interactive REPL, one positional argument runs a source file.
//
// Exit codes follow the sysexits convention: 0 on success, 65 on compile
// error, 70 on runtime error, 74 on file I/O error.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/eagerlove/compiler-for-lox/pkg/gc"
	"github.com/eagerlove/compiler-for-lox/pkg/natives"
	"github.com/eagerlove/compiler-for-lox/pkg/vm"
)

const (
	exitOK           = 0
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

func main() {
	switch len(os.Args) {
	case 1:
		runREPL()
	case 2:
		os.Exit(runFile(os.Args[1]))
	default:
		fmt.Fprintln(os.Stderr, "Usage: glox [script]")
		os.Exit(64)
	}
}

// newMachine builds a heap+VM pair with the natives installed and the
// debug traces hooked up: GLOX_TRACE=1 disassembles each instruction to
// stderr before it executes, GLOX_TRACE_GC=1 logs each collection's
// phases.
func newMachine() *vm.VM {
	heap := gc.New()
	machine := vm.New(heap)
	natives.Register(machine)
	if os.Getenv("GLOX_TRACE") != "" {
		machine.SetTrace(os.Stderr)
	}
	if os.Getenv("GLOX_TRACE_GC") != "" {
		heap.SetTrace(os.Stderr)
	}
	return machine
}

// runFile reads, compiles and executes a single source file, returning the
// process exit code for its outcome.
func runFile(path string) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		return exitIOError
	}

	machine := newMachine()

	switch machine.Interpret(string(source)) {
	case vm.InterpretCompileError:
		return exitCompileError
	case vm.InterpretRuntimeError:
		return exitRuntimeError
	default:
		return exitOK
	}
}

// runREPL starts an interactive session: a persistent VM (so globals and
// the heap survive across inputs) paired with either peterh/liner's
// line-editing reader, when stdin is a real terminal, or a plain line
// scanner when it is not.
func runREPL() {
	machine := newMachine()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		runInteractiveREPL(machine)
	} else {
		runPipedREPL(machine)
	}
}

func runInteractiveREPL(machine *vm.VM) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("> ")
		if err != nil { // io.EOF on Ctrl-D, liner.ErrPromptAborted on Ctrl-C
			fmt.Println()
			return
		}
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		machine.InterpretREPL(input)
	}
}

// runPipedREPL is the fallback reader for redirected stdin (scripts feeding
// the REPL, or automated tests) where line-editing has nothing to edit.
func runPipedREPL(machine *vm.VM) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		machine.InterpretREPL(line)
	}
}
