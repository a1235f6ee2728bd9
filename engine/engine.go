package engine

import (
	"context"
	"fmt"
)

// Handle is an opaque engine value reference (BQNV).
// It carries no meaning on the host side and is never dereferenced.
type Handle uint64

// HandleSize is the packed width of a Handle in linear memory.
const HandleSize = 8

// Type is the engine's value type tag.
type Type int

const (
	TypeArray Type = iota
	TypeNumber
	TypeCharacter
	TypeFunction
	TypeMod1
	TypeMod2
	TypeNamespace
)

var typeNames = [...]string{
	TypeArray:     "array",
	TypeNumber:    "number",
	TypeCharacter: "character",
	TypeFunction:  "function",
	TypeMod1:      "1-modifier",
	TypeMod2:      "2-modifier",
	TypeNamespace: "namespace",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Callable reports whether values of this type accept Call1/Call2.
func (t Type) Callable() bool {
	return t == TypeFunction || t == TypeMod1 || t == TypeMod2
}

// ParseType converts the raw tag returned by bqn_type.
func ParseType(raw int) (Type, error) {
	if raw < 0 || raw >= len(typeNames) {
		return 0, fmt.Errorf("invalid type tag %d", raw)
	}
	return Type(raw), nil
}

// ElType is the direct element type of an array (BQNElType).
type ElType uint32

const (
	ElUnknown ElType = iota
	ElI8
	ElI16
	ElI32
	ElF64
	ElC8
	ElC16
	ElC32
)

// IsNumeric reports whether elements are stored unboxed as numbers.
func (e ElType) IsNumeric() bool {
	return e >= ElI8 && e <= ElF64
}

// IsChar reports whether elements are stored unboxed as characters.
func (e ElType) IsChar() bool {
	return e >= ElC8 && e <= ElC32
}

func (e ElType) String() string {
	switch e {
	case ElUnknown:
		return "unknown"
	case ElI8:
		return "i8"
	case ElI16:
		return "i16"
	case ElI32:
		return "i32"
	case ElF64:
		return "f64"
	case ElC8:
		return "c8"
	case ElC16:
		return "c16"
	case ElC32:
		return "c32"
	default:
		return fmt.Sprintf("eltype(%d)", uint32(e))
	}
}

// Dispatcher receives engine invocations of host-bound functions.
// obj is the bound object given to MakeBoundFn1/2. All arguments are owned
// by the dispatcher; the returned handle is owned by the engine.
type Dispatcher interface {
	Dispatch1(obj, x Handle) Handle
	Dispatch2(obj, w, x Handle) Handle
}

// Backend is the raw primitive surface of one engine substrate.
//
// Implementations do no locking and no ownership bookkeeping. Callers must
// serialize every call and must free every returned handle exactly once.
type Backend interface {
	// Name identifies the backend ("wasi", "native").
	Name() string

	// Init performs process-level engine initialization. Called once.
	Init() error
	// SetDispatcher installs the receiver for bound host functions.
	SetDispatcher(d Dispatcher)

	MakeF64(v float64) (Handle, error)
	MakeChar(c uint32) (Handle, error)
	MakeUTF8Str(s string) (Handle, error)
	MakeF64Vec(v []float64) (Handle, error)
	MakeI32Vec(v []int32) (Handle, error)
	MakeI16Vec(v []int16) (Handle, error)
	MakeI8Vec(v []int8) (Handle, error)
	// MakeObjVec consumes every element handle, including on error.
	MakeObjVec(v []Handle) (Handle, error)

	Pick(h Handle, i int) (Handle, error)
	ReadF64(h Handle) (float64, error)
	ReadChar(h Handle) (uint32, error)
	ReadF64Arr(h Handle, dst []float64) error
	ReadObjArr(h Handle, dst []Handle) error
	ReadC32Arr(h Handle, dst []uint32) error

	Bound(h Handle) (int, error)
	Rank(h Handle) (int, error)
	Shape(h Handle, dst []int) error
	DirectArrType(h Handle) (ElType, error)
	Type(h Handle) (Type, error)

	HasField(ns Handle, name Handle) (bool, error)
	GetField(ns Handle, name Handle) (Handle, error)

	Call1(f, x Handle) (Handle, error)
	Call2(f, w, x Handle) (Handle, error)

	Copy(h Handle) (Handle, error)
	Free(h Handle) error
	Eval(src Handle) (Handle, error)

	MakeBoundFn1(obj Handle) (Handle, error)
	MakeBoundFn2(obj Handle) (Handle, error)

	// Close releases the substrate. The backend is unusable afterwards.
	Close(ctx context.Context) error
}
