// Package natives implements the interpreter's built-in native functions:
// one Go function per primitive, each wrapped to the object.NativeFn
// calling convention and registered into a VM's globals table by Register.
//
// Each primitive is a small standalone function with its own doc comment;
// errors are built with fmt.Errorf, and argument-count and type checking
// are done by hand rather than through a schema/reflection layer.
package natives

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/eagerlove/compiler-for-lox/pkg/object"
	"github.com/eagerlove/compiler-for-lox/pkg/value"
)

// vmHost is the subset of *vm.VM that Register needs. Declared locally
// (rather than importing pkg/vm) so this package never depends on the VM;
// the CLI passes its VM to Register.
type vmHost interface {
	DefineNative(name string, fn object.NativeFn)
}

// Register installs every built-in native into vm's globals table. Called
// once when the CLI constructs a VM.
func Register(vm vmHost) {
	start := time.Now()
	lfsr := newLFSR(0xACE1)

	vm.DefineNative("clock", clockNative(start))
	vm.DefineNative("sqrt", sqrtNative)
	vm.DefineNative("qsqrt", qsqrtNative)
	vm.DefineNative("rand", randNative(lfsr))
	vm.DefineNative("Rand", hardwareRandNative)
	vm.DefineNative("exit", exitNative)
}

func checkArity(name string, args []value.Value, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s() expects %d argument(s) but got %d.", name, want, len(args))
	}
	return nil
}

func numberArg(name string, args []value.Value, i int) (float64, error) {
	if !args[i].IsNumber() {
		return 0, fmt.Errorf("%s() argument %d must be a number.", name, i+1)
	}
	return args[i].AsNumber(), nil
}

// clockNative returns the number of seconds elapsed since the process (or
// more precisely, this VM) started.
func clockNative(start time.Time) object.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		if err := checkArity("clock", args, 0); err != nil {
			return value.Nil, err
		}
		return value.Number(time.Since(start).Seconds()), nil
	}
}

// sqrtNative computes an ordinary square root.
func sqrtNative(args []value.Value) (value.Value, error) {
	if err := checkArity("sqrt", args, 1); err != nil {
		return value.Nil, err
	}
	x, err := numberArg("sqrt", args, 0)
	if err != nil {
		return value.Nil, err
	}
	return value.Number(math.Sqrt(x)), nil
}

// qsqrtNative computes the fast inverse square root approximation, the
// famous Quake III routine: one Newton-Raphson refinement step after a
// magic-number bit-level initial guess. Returned value approximates
// 1/sqrt(x), not sqrt(x).
func qsqrtNative(args []value.Value) (value.Value, error) {
	if err := checkArity("qsqrt", args, 1); err != nil {
		return value.Nil, err
	}
	x, err := numberArg("qsqrt", args, 0)
	if err != nil {
		return value.Nil, err
	}
	if x == 0 {
		return value.Nil, fmt.Errorf("qsqrt() argument must be nonzero.")
	}

	xhalf := 0.5 * x
	bits := math.Float32bits(float32(x))
	bits = 0x5f3759df - (bits >> 1)
	y := math.Float32frombits(bits)
	approx := float64(y)
	approx = approx * (1.5 - xhalf*approx*approx) // one Newton-Raphson iteration
	return value.Number(approx), nil
}

// lfsr is a 16-bit linear-feedback shift register, the deterministic,
// reseedable generator backing `rand([seed])`. Taps at bits 16, 14, 13,
// 11 (the standard maximal-length fibonacci LFSR polynomial), giving a
// period of 65535.
type lfsr struct {
	state uint16
}

func newLFSR(seed uint16) *lfsr {
	if seed == 0 {
		seed = 1 // an all-zero state never changes
	}
	return &lfsr{state: seed}
}

func (l *lfsr) reseed(seed uint16) {
	if seed == 0 {
		seed = 1
	}
	l.state = seed
}

func (l *lfsr) next() uint16 {
	bit := ((l.state >> 0) ^ (l.state >> 2) ^ (l.state >> 3) ^ (l.state >> 5)) & 1
	l.state = (l.state >> 1) | (bit << 15)
	return l.state
}

// randNative implements the deterministic, reseedable `rand([seed])`
// native: zero arguments draws the next value from the running sequence;
// one numeric argument reseeds it first.
func randNative(gen *lfsr) object.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		switch len(args) {
		case 0:
		case 1:
			seed, err := numberArg("rand", args, 0)
			if err != nil {
				return value.Nil, err
			}
			gen.reseed(uint16(seed))
		default:
			return value.Nil, fmt.Errorf("rand() expects 0 or 1 argument(s) but got %d.", len(args))
		}
		return value.Number(float64(gen.next())), nil
	}
}

// hardwareRandNative implements `Rand()`. The original C implementation
// reaches for `rdrand` directly; this port substitutes Go's crypto/rand
// (the OS-provided CSPRNG), which works on platforms without that
// instruction and needs no assembly.
func hardwareRandNative(args []value.Value) (value.Value, error) {
	if err := checkArity("Rand", args, 0); err != nil {
		return value.Nil, err
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return value.Nil, fmt.Errorf("Rand(): %w", err)
	}
	bits := binary.LittleEndian.Uint64(buf[:])
	// Scale into [0, 1) the same way a hardware RNG's raw word would be
	// normalized, rather than returning a raw 64-bit integer a Value can't
	// represent exactly anyway (numbers are float64).
	return value.Number(float64(bits>>11) / float64(1<<53)), nil
}

// exitNative terminates the process immediately. It never returns to the
// caller.
func exitNative(args []value.Value) (value.Value, error) {
	code := 0
	if len(args) == 1 {
		n, err := numberArg("exit", args, 0)
		if err != nil {
			return value.Nil, err
		}
		code = int(n)
	} else if len(args) != 0 {
		return value.Nil, fmt.Errorf("exit() expects 0 or 1 argument(s) but got %d.", len(args))
	}
	os.Exit(code)
	return value.Nil, nil
}
