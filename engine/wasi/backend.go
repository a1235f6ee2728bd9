package wasi

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// Backend runs CBQN as a WASI reactor inside wazero.
//
// Concurrency hazard: the instantiated module is a single execution context
// whose stack and globals are shared by every call. Backend takes no locks of
// its own. It must only be driven under the process-wide lock held by the
// cbqn package, and there must never be more than one Backend per process
// issuing calls concurrently.
type Backend struct {
	ctx    context.Context
	fns    exportTable
	mem    Memory
	alloc  Allocator
	stderr *Pipe

	runtime wazero.Runtime
	module  api.Module
	cache   wazero.CompilationCache

	exit   *sys.ExitError
	closed bool
}

var _ engine.Backend = (*Backend)(nil)

func newBackend(ctx context.Context, fns exportTable, mem Memory, stderr *Pipe) *Backend {
	if stderr == nil {
		stderr = &Pipe{}
	}
	return &Backend{
		ctx:    ctx,
		fns:    fns,
		mem:    mem,
		alloc:  &allocatorWrapper{ctx: ctx, malloc: fns[expMalloc], free: fns[expFree]},
		stderr: stderr,
	}
}

func (b *Backend) Name() string { return "wasi" }

// Stderr returns the pipe that receives guest stderr.
func (b *Backend) Stderr() *Pipe { return b.stderr }

func (b *Backend) call(phase errors.Phase, e export, params ...uint64) ([]uint64, error) {
	if b.closed {
		return nil, errors.NotInitialized(phase, "wasi backend")
	}
	if b.exit != nil {
		return nil, errors.Wrap(phase, errors.KindTrap, b.exit, "engine exited")
	}
	results, err := b.fns[e].Call(b.ctx, params...)
	if err != nil {
		return nil, b.fault(phase, e.String(), err)
	}
	return results, nil
}

func (b *Backend) callResult(phase errors.Phase, e export, params ...uint64) (uint64, error) {
	results, err := b.call(phase, e, params...)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, errors.InvalidData(phase, fmt.Sprintf("%s returned no result", e))
	}
	return results[0], nil
}

// fault turns any runtime failure into a trap error carrying the stderr
// text the guest produced while the call ran.
func (b *Backend) fault(phase errors.Phase, op string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind == errors.KindTrap {
		return err
	}
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		b.exit = exit
	}
	out := b.stderr.Drain()
	engine.Logger().Warn("sandbox fault",
		zap.String("op", op),
		zap.String("stderr", out),
		zap.Error(err))
	return errors.Trap(phase, op, out, err)
}

// release frees scratch buffers, folding failures into err.
func (b *Backend) release(s *scratch, phase errors.Phase, err error) error {
	if rerr := s.release(); rerr != nil {
		return multierr.Append(err, b.fault(phase, "free", rerr))
	}
	return err
}

func (b *Backend) Init() error {
	_, err := b.call(errors.PhaseInit, expInit)
	return err
}

// SetDispatcher is a no-op: the guest has no way to call into the host.
func (b *Backend) SetDispatcher(engine.Dispatcher) {}

func (b *Backend) MakeF64(v float64) (engine.Handle, error) {
	r, err := b.callResult(errors.PhaseEncode, expMakeF64, api.EncodeF64(v))
	return engine.Handle(r), err
}

func (b *Backend) MakeChar(c uint32) (engine.Handle, error) {
	r, err := b.callResult(errors.PhaseEncode, expMakeChar, uint64(c))
	return engine.Handle(r), err
}

func (b *Backend) MakeUTF8Str(s string) (engine.Handle, error) {
	return b.makeVec(expMakeUTF8Str, []byte(s), len(s), 1)
}

func (b *Backend) MakeF64Vec(v []float64) (engine.Handle, error) {
	return b.makeTyped(expMakeF64Vec, v, len(v), 8)
}

func (b *Backend) MakeI32Vec(v []int32) (engine.Handle, error) {
	return b.makeTyped(expMakeI32Vec, v, len(v), 4)
}

func (b *Backend) MakeI16Vec(v []int16) (engine.Handle, error) {
	return b.makeTyped(expMakeI16Vec, v, len(v), 2)
}

func (b *Backend) MakeI8Vec(v []int8) (engine.Handle, error) {
	return b.makeTyped(expMakeI8Vec, v, len(v), 1)
}

// MakeObjVec moves every element handle into a new list. Element handles
// are released when the vector cannot be built.
func (b *Backend) MakeObjVec(v []engine.Handle) (engine.Handle, error) {
	if _, err := byteSize(len(v), engine.HandleSize); err != nil {
		b.freeAll(v)
		return 0, err
	}
	buf := make([]byte, 0, len(v)*engine.HandleSize)
	for _, h := range v {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(h))
	}
	return b.makeVec(expMakeObjVec, buf, len(v), engine.HandleSize, v...)
}

func (b *Backend) makeTyped(e export, data any, n, width int) (engine.Handle, error) {
	if _, err := byteSize(n, width); err != nil {
		return 0, err
	}
	buf, err := binary.Append(nil, binary.LittleEndian, data)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "encode "+e.String())
	}
	return b.makeVec(e, buf, n, width)
}

// makeVec copies buf into guest scratch memory and calls e(n, ptr).
// owned lists handles consumed by e that must be released if e is never reached.
func (b *Backend) makeVec(e export, buf []byte, n, width int, owned ...engine.Handle) (engine.Handle, error) {
	count, err := toU32(n, "length")
	if err != nil {
		b.freeAll(owned)
		return 0, err
	}
	if _, err := byteSize(n, width); err != nil {
		b.freeAll(owned)
		return 0, err
	}

	s := newScratch(b.alloc)
	ptr, err := s.put(b.mem, buf)
	if err != nil {
		err = b.release(s, errors.PhaseEncode, b.fault(errors.PhaseEncode, e.String(), err))
		b.freeAll(owned)
		return 0, err
	}

	r, err := b.callResult(errors.PhaseEncode, e, uint64(count), uint64(ptr))
	if rerr := b.release(s, errors.PhaseEncode, nil); rerr != nil {
		if err == nil {
			_ = b.Free(engine.Handle(r))
		}
		return 0, multierr.Append(err, rerr)
	}
	return engine.Handle(r), err
}

func (b *Backend) freeAll(hs []engine.Handle) {
	for _, h := range hs {
		_ = b.Free(h)
	}
}

func (b *Backend) Pick(h engine.Handle, i int) (engine.Handle, error) {
	idx, err := toU32(i, "index")
	if err != nil {
		return 0, err
	}
	r, err := b.callResult(errors.PhaseDecode, expPick, uint64(h), uint64(idx))
	return engine.Handle(r), err
}

func (b *Backend) ReadF64(h engine.Handle) (float64, error) {
	r, err := b.callResult(errors.PhaseDecode, expReadF64, uint64(h))
	return api.DecodeF64(r), err
}

func (b *Backend) ReadChar(h engine.Handle) (uint32, error) {
	r, err := b.callResult(errors.PhaseDecode, expReadChar, uint64(h))
	return uint32(r), err
}

func (b *Backend) ReadF64Arr(h engine.Handle, dst []float64) error {
	return b.readTyped(expReadF64Arr, h, dst, len(dst), 8)
}

func (b *Backend) ReadC32Arr(h engine.Handle, dst []uint32) error {
	return b.readTyped(expReadC32Arr, h, dst, len(dst), 4)
}

func (b *Backend) ReadObjArr(h engine.Handle, dst []engine.Handle) error {
	data, err := b.readVec(expReadObjArr, h, len(dst), engine.HandleSize)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = engine.Handle(binary.LittleEndian.Uint64(data[i*engine.HandleSize:]))
	}
	return nil
}

func (b *Backend) readTyped(e export, h engine.Handle, dst any, n, width int) error {
	data, err := b.readVec(e, h, n, width)
	if err != nil || len(data) == 0 {
		return err
	}
	if _, err := binary.Decode(data, binary.LittleEndian, dst); err != nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "decode "+e.String())
	}
	return nil
}

// readVec reserves n*width bytes, calls e(h, ptr) and returns a copy of the
// filled buffer. Zero-length reads never touch the guest.
func (b *Backend) readVec(e export, h engine.Handle, n, width int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	size, err := byteSize(n, width)
	if err != nil {
		return nil, err
	}

	s := newScratch(b.alloc)
	ptr, err := s.reserve(size)
	if err != nil {
		return nil, b.fault(errors.PhaseDecode, e.String(), err)
	}
	if _, err := b.call(errors.PhaseDecode, e, uint64(h), uint64(ptr)); err != nil {
		return nil, b.release(s, errors.PhaseDecode, err)
	}
	data, err := b.mem.Read(ptr, size)
	if err != nil {
		err = b.fault(errors.PhaseDecode, e.String(), err)
	}
	return data, b.release(s, errors.PhaseDecode, err)
}

func (b *Backend) Bound(h engine.Handle) (int, error) {
	r, err := b.callResult(errors.PhaseDecode, expBound, uint64(h))
	return int(uint32(r)), err
}

func (b *Backend) Rank(h engine.Handle) (int, error) {
	r, err := b.callResult(errors.PhaseDecode, expRank, uint64(h))
	return int(uint32(r)), err
}

// Shape reads len(dst) axis lengths, where len(dst) is the rank.
func (b *Backend) Shape(h engine.Handle, dst []int) error {
	data, err := b.readVec(expShape, h, len(dst), 4)
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] = int(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return nil
}

func (b *Backend) DirectArrType(h engine.Handle) (engine.ElType, error) {
	r, err := b.callResult(errors.PhaseDecode, expDirectArrType, uint64(h))
	return engine.ElType(uint32(r)), err
}

func (b *Backend) Type(h engine.Handle) (engine.Type, error) {
	r, err := b.callResult(errors.PhaseDecode, expType, uint64(h))
	if err != nil {
		return 0, err
	}
	t, err := engine.ParseType(int(int32(uint32(r))))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "bqn_type")
	}
	return t, nil
}

func (b *Backend) HasField(ns, name engine.Handle) (bool, error) {
	r, err := b.callResult(errors.PhaseField, expHasField, uint64(ns), uint64(name))
	return uint32(r) != 0, err
}

func (b *Backend) GetField(ns, name engine.Handle) (engine.Handle, error) {
	r, err := b.callResult(errors.PhaseField, expGetField, uint64(ns), uint64(name))
	return engine.Handle(r), err
}

func (b *Backend) Call1(f, x engine.Handle) (engine.Handle, error) {
	r, err := b.callResult(errors.PhaseCall, expCall1, uint64(f), uint64(x))
	return engine.Handle(r), err
}

func (b *Backend) Call2(f, w, x engine.Handle) (engine.Handle, error) {
	r, err := b.callResult(errors.PhaseCall, expCall2, uint64(f), uint64(w), uint64(x))
	return engine.Handle(r), err
}

func (b *Backend) Copy(h engine.Handle) (engine.Handle, error) {
	r, err := b.callResult(errors.PhaseCall, expCopy, uint64(h))
	return engine.Handle(r), err
}

func (b *Backend) Free(h engine.Handle) error {
	_, err := b.call(errors.PhaseRelease, expBQNFree, uint64(h))
	return err
}

func (b *Backend) Eval(src engine.Handle) (engine.Handle, error) {
	r, err := b.callResult(errors.PhaseEval, expEval, uint64(src))
	return engine.Handle(r), err
}

func (b *Backend) MakeBoundFn1(engine.Handle) (engine.Handle, error) {
	return 0, errors.Unsupported(errors.PhaseCallback, "bound host functions are not available in the wasi backend")
}

func (b *Backend) MakeBoundFn2(engine.Handle) (engine.Handle, error) {
	return 0, errors.Unsupported(errors.PhaseCallback, "bound host functions are not available in the wasi backend")
}

// Close closes the module, the runtime and the compilation cache.
func (b *Backend) Close(ctx context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.module != nil {
		err = multierr.Append(err, b.module.Close(ctx))
	}
	if b.runtime != nil {
		err = multierr.Append(err, b.runtime.Close(ctx))
	}
	if b.cache != nil {
		err = multierr.Append(err, b.cache.Close(ctx))
	}
	return err
}
