//go:build cbqn

package native

/*
#cgo LDFLAGS: -lcbqn
#include <stdbool.h>
#include <stdint.h>
#include <stddef.h>
#include <bqnffi.h>

extern BQNV cbqnDispatch1(BQNV obj, BQNV x);
extern BQNV cbqnDispatch2(BQNV obj, BQNV w, BQNV x);

static BQNV cbqn_bound_fn1(BQNV obj) {
	return bqn_makeBoundFn1(cbqnDispatch1, obj);
}

static BQNV cbqn_bound_fn2(BQNV obj) {
	return bqn_makeBoundFn2(cbqnDispatch2, obj);
}
*/
import "C"

import (
	"context"
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// Backend forwards each primitive to the linked libcbqn.
// Foreign calls cannot fail at this layer; errors come only from host-side
// validation.
type Backend struct{}

var _ engine.Backend = (*Backend)(nil)

type dispatcherBox struct {
	d engine.Dispatcher
}

var dispatcher atomic.Pointer[dispatcherBox]

// New returns the native backend. libcbqn is process-global, so every
// Backend shares one engine.
func New() *Backend {
	return &Backend{}
}

func (*Backend) Name() string { return "native" }

func (*Backend) Init() error {
	C.bqn_init()
	return nil
}

func (*Backend) SetDispatcher(d engine.Dispatcher) {
	if d == nil {
		dispatcher.Store(nil)
		return
	}
	dispatcher.Store(&dispatcherBox{d: d})
}

func (*Backend) MakeF64(v float64) (engine.Handle, error) {
	return engine.Handle(C.bqn_makeF64(C.double(v))), nil
}

func (*Backend) MakeChar(c uint32) (engine.Handle, error) {
	return engine.Handle(C.bqn_makeChar(C.uint32_t(c))), nil
}

func (*Backend) MakeUTF8Str(s string) (engine.Handle, error) {
	var p *C.char
	if len(s) > 0 {
		p = (*C.char)(unsafe.Pointer(unsafe.StringData(s)))
	}
	return engine.Handle(C.bqn_makeUTF8Str(C.size_t(len(s)), p)), nil
}

func (*Backend) MakeF64Vec(v []float64) (engine.Handle, error) {
	return engine.Handle(C.bqn_makeF64Vec(C.size_t(len(v)), (*C.double)(first(v)))), nil
}

func (*Backend) MakeI32Vec(v []int32) (engine.Handle, error) {
	return engine.Handle(C.bqn_makeI32Vec(C.size_t(len(v)), (*C.int32_t)(first(v)))), nil
}

func (*Backend) MakeI16Vec(v []int16) (engine.Handle, error) {
	return engine.Handle(C.bqn_makeI16Vec(C.size_t(len(v)), (*C.int16_t)(first(v)))), nil
}

func (*Backend) MakeI8Vec(v []int8) (engine.Handle, error) {
	return engine.Handle(C.bqn_makeI8Vec(C.size_t(len(v)), (*C.int8_t)(first(v)))), nil
}

func (*Backend) MakeObjVec(v []engine.Handle) (engine.Handle, error) {
	return engine.Handle(C.bqn_makeObjVec(C.size_t(len(v)), (*C.BQNV)(first(v)))), nil
}

// first returns a pointer to the first element, or nil for an empty slice.
func first[T any](v []T) unsafe.Pointer {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Pointer(&v[0])
}

func (*Backend) Pick(h engine.Handle, i int) (engine.Handle, error) {
	if i < 0 {
		return 0, errors.InvalidInput(errors.PhaseDecode, "negative index")
	}
	return engine.Handle(C.bqn_pick(C.BQNV(h), C.size_t(i))), nil
}

func (*Backend) ReadF64(h engine.Handle) (float64, error) {
	return float64(C.bqn_readF64(C.BQNV(h))), nil
}

func (*Backend) ReadChar(h engine.Handle) (uint32, error) {
	return uint32(C.bqn_readChar(C.BQNV(h))), nil
}

func (*Backend) ReadF64Arr(h engine.Handle, dst []float64) error {
	if len(dst) > 0 {
		C.bqn_readF64Arr(C.BQNV(h), (*C.double)(first(dst)))
	}
	return nil
}

func (*Backend) ReadObjArr(h engine.Handle, dst []engine.Handle) error {
	if len(dst) > 0 {
		C.bqn_readObjArr(C.BQNV(h), (*C.BQNV)(first(dst)))
	}
	return nil
}

func (*Backend) ReadC32Arr(h engine.Handle, dst []uint32) error {
	if len(dst) > 0 {
		C.bqn_readC32Arr(C.BQNV(h), (*C.uint32_t)(first(dst)))
	}
	return nil
}

func (*Backend) Bound(h engine.Handle) (int, error) {
	return int(C.bqn_bound(C.BQNV(h))), nil
}

func (*Backend) Rank(h engine.Handle) (int, error) {
	return int(C.bqn_rank(C.BQNV(h))), nil
}

func (*Backend) Shape(h engine.Handle, dst []int) error {
	if len(dst) == 0 {
		return nil
	}
	buf := make([]C.size_t, len(dst))
	C.bqn_shape(C.BQNV(h), &buf[0])
	for i, n := range buf {
		dst[i] = int(n)
	}
	return nil
}

func (*Backend) DirectArrType(h engine.Handle) (engine.ElType, error) {
	switch C.bqn_directArrType(C.BQNV(h)) {
	case C.elt_i8:
		return engine.ElI8, nil
	case C.elt_i16:
		return engine.ElI16, nil
	case C.elt_i32:
		return engine.ElI32, nil
	case C.elt_f64:
		return engine.ElF64, nil
	case C.elt_c8:
		return engine.ElC8, nil
	case C.elt_c16:
		return engine.ElC16, nil
	case C.elt_c32:
		return engine.ElC32, nil
	default:
		return engine.ElUnknown, nil
	}
}

func (*Backend) Type(h engine.Handle) (engine.Type, error) {
	t, err := engine.ParseType(int(C.bqn_type(C.BQNV(h))))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "bqn_type")
	}
	return t, nil
}

func (*Backend) HasField(ns, name engine.Handle) (bool, error) {
	return bool(C.bqn_hasField(C.BQNV(ns), C.BQNV(name))), nil
}

func (*Backend) GetField(ns, name engine.Handle) (engine.Handle, error) {
	return engine.Handle(C.bqn_getField(C.BQNV(ns), C.BQNV(name))), nil
}

func (*Backend) Call1(f, x engine.Handle) (engine.Handle, error) {
	return engine.Handle(C.bqn_call1(C.BQNV(f), C.BQNV(x))), nil
}

func (*Backend) Call2(f, w, x engine.Handle) (engine.Handle, error) {
	return engine.Handle(C.bqn_call2(C.BQNV(f), C.BQNV(w), C.BQNV(x))), nil
}

func (*Backend) Copy(h engine.Handle) (engine.Handle, error) {
	return engine.Handle(C.bqn_copy(C.BQNV(h))), nil
}

func (*Backend) Free(h engine.Handle) error {
	C.bqn_free(C.BQNV(h))
	return nil
}

func (*Backend) Eval(src engine.Handle) (engine.Handle, error) {
	return engine.Handle(C.bqn_eval(C.BQNV(src))), nil
}

func (*Backend) MakeBoundFn1(obj engine.Handle) (engine.Handle, error) {
	return engine.Handle(C.cbqn_bound_fn1(C.BQNV(obj))), nil
}

func (*Backend) MakeBoundFn2(obj engine.Handle) (engine.Handle, error) {
	return engine.Handle(C.cbqn_bound_fn2(C.BQNV(obj))), nil
}

// Close detaches the dispatcher. libcbqn itself cannot be unloaded.
func (*Backend) Close(context.Context) error {
	dispatcher.Store(nil)
	return nil
}
