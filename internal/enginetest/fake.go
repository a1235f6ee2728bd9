// Package enginetest provides an in-process fake CBQN engine.
//
// Fake implements engine.Backend over plain Go objects and keeps strict
// handle accounting, so tests can assert that every handle handed out was
// released exactly once. Source text is not parsed: programs are registered
// up front with Define and looked up by exact text.
package enginetest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// GuardSource is the source of the guarded evaluation wrapper.
const GuardSource = "{⟨1, •BQN 𝕩⟩}⎊{⟨0, •CurrentError 𝕩⟩}"

// Program computes the result of evaluating one registered source text.
type Program func(fk *Fake) (*Object, error)

// Fake is a fake engine.Backend.
type Fake struct {
	mu         sync.Mutex
	handles    map[engine.Handle]*Object
	next       engine.Handle
	programs   map[string]Program
	dispatcher engine.Dispatcher
	calls      map[string]int
	badFrees   []engine.Handle
	faults     map[string]error

	// NoBoundFns makes MakeBoundFn1/2 unsupported, as in the sandbox.
	NoBoundFns bool

	inits  int
	closed bool
}

var _ engine.Backend = (*Fake)(nil)

// New returns a fake with the guard wrapper and •Fmt predefined.
func New() *Fake {
	fk := &Fake{
		handles:  make(map[engine.Handle]*Object),
		next:     1,
		programs: make(map[string]Program),
		calls:    make(map[string]int),
		faults:   make(map[string]error),
	}
	fk.Define(GuardSource, Func1("guard", guard))
	fk.Define("•Fmt", Func1("•Fmt", func(_ *Fake, x *Object) (*Object, error) {
		return Str(Format(x)), nil
	}))
	return fk
}

// guard mirrors {⟨1, •BQN 𝕩⟩}⎊{⟨0, •CurrentError 𝕩⟩}.
func guard(fk *Fake, x *Object) (*Object, error) {
	src, ok := x.Text()
	if !ok {
		return List(Num(0), Str("•BQN: 𝕩 must be a string")), nil
	}
	v, err := fk.run(src)
	if err != nil {
		var e *errors.Error
		if ok := asEngineError(err, &e); ok {
			return List(Num(0), Str(e.Detail)), nil
		}
		return nil, err
	}
	return List(Num(1), v), nil
}

func asEngineError(err error, target **errors.Error) bool {
	e, ok := err.(*errors.Error)
	if !ok || e.Kind != errors.KindEngine {
		return false
	}
	*target = e
	return true
}

// Define registers v as the result of evaluating src.
func (fk *Fake) Define(src string, v *Object) {
	fk.DefineProgram(src, func(*Fake) (*Object, error) { return v, nil })
}

// DefineError makes evaluating src raise an engine error with msg.
func (fk *Fake) DefineError(src, msg string) {
	fk.DefineProgram(src, func(*Fake) (*Object, error) {
		return nil, errors.Engine(errors.PhaseEval, msg)
	})
}

// DefineProgram registers a computed program.
func (fk *Fake) DefineProgram(src string, p Program) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.programs[src] = p
}

// FailNext makes the next call of op (a Backend method name) return err.
func (fk *Fake) FailNext(op string, err error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.faults[op] = err
}

// Live returns the number of handles not yet freed.
func (fk *Fake) Live() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return len(fk.handles)
}

// BadFrees returns handles freed more than once or never issued.
func (fk *Fake) BadFrees() []engine.Handle {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return slices.Clone(fk.badFrees)
}

// Calls returns how often op was invoked.
func (fk *Fake) Calls(op string) int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.calls[op]
}

// ResetCalls clears the call counters.
func (fk *Fake) ResetCalls() {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	clear(fk.calls)
}

// Inits returns how often Init ran.
func (fk *Fake) Inits() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.inits
}

// Object returns the object behind a live handle.
func (fk *Fake) Object(h engine.Handle) (*Object, bool) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	o, ok := fk.handles[h]
	return o, ok
}

// Handle issues a fresh handle for o.
func (fk *Fake) Handle(o *Object) engine.Handle {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.alloc(o)
}

func (fk *Fake) alloc(o *Object) engine.Handle {
	h := fk.next
	fk.next++
	fk.handles[h] = o
	return h
}

// enter records a call and returns a pending injected fault. mu must be held.
func (fk *Fake) enter(op string) error {
	fk.calls[op]++
	if fk.closed {
		return errors.NotInitialized(errors.PhaseCall, "fake engine")
	}
	if err, ok := fk.faults[op]; ok {
		delete(fk.faults, op)
		return err
	}
	return nil
}

// get resolves handles. mu must be held.
func (fk *Fake) get(op string, hs ...engine.Handle) ([]*Object, error) {
	if err := fk.enter(op); err != nil {
		return nil, err
	}
	out := make([]*Object, len(hs))
	for i, h := range hs {
		o, ok := fk.handles[h]
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseCall, fmt.Sprintf("%s: stale handle %d", op, h))
		}
		out[i] = o
	}
	return out, nil
}

func (fk *Fake) one(op string, h engine.Handle) (*Object, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	objs, err := fk.get(op, h)
	if err != nil {
		return nil, err
	}
	return objs[0], nil
}

func (fk *Fake) make(op string, o *Object) (engine.Handle, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if err := fk.enter(op); err != nil {
		return 0, err
	}
	return fk.alloc(o), nil
}

func (fk *Fake) Name() string { return "fake" }

func (fk *Fake) Init() error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.inits++
	return fk.enter("Init")
}

func (fk *Fake) SetDispatcher(d engine.Dispatcher) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.dispatcher = d
}

func (fk *Fake) MakeF64(v float64) (engine.Handle, error) {
	return fk.make("MakeF64", Num(v))
}

func (fk *Fake) MakeChar(c uint32) (engine.Handle, error) {
	return fk.make("MakeChar", &Object{Type: engine.TypeCharacter, Char: c})
}

func (fk *Fake) MakeUTF8Str(s string) (engine.Handle, error) {
	if !utf8.ValidString(s) {
		return 0, errors.InvalidUTF8(errors.PhaseEncode, []byte(s))
	}
	return fk.make("MakeUTF8Str", Str(s))
}

func (fk *Fake) MakeF64Vec(v []float64) (engine.Handle, error) {
	return fk.make("MakeF64Vec", Nums(engine.ElF64, v...))
}

func (fk *Fake) MakeI32Vec(v []int32) (engine.Handle, error) {
	return fk.make("MakeI32Vec", Nums(engine.ElI32, widen(v)...))
}

func (fk *Fake) MakeI16Vec(v []int16) (engine.Handle, error) {
	return fk.make("MakeI16Vec", Nums(engine.ElI16, widen(v)...))
}

func (fk *Fake) MakeI8Vec(v []int8) (engine.Handle, error) {
	return fk.make("MakeI8Vec", Nums(engine.ElI8, widen(v)...))
}

func widen[T int8 | int16 | int32](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// MakeObjVec consumes the element handles, including on error.
func (fk *Fake) MakeObjVec(v []engine.Handle) (engine.Handle, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	objs, err := fk.get("MakeObjVec", v...)
	for _, h := range v {
		delete(fk.handles, h)
	}
	if err != nil {
		return 0, err
	}
	return fk.alloc(List(objs...)), nil
}

func (fk *Fake) Pick(h engine.Handle, i int) (engine.Handle, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	objs, err := fk.get("Pick", h)
	if err != nil {
		return 0, err
	}
	a := objs[0]
	if a.Type != engine.TypeArray || i < 0 || i >= len(a.Items) {
		return 0, errors.OutOfBounds(errors.PhaseDecode, uint32(max(i, 0)), uint32(len(a.Items)))
	}
	return fk.alloc(a.Items[i]), nil
}

func (fk *Fake) ReadF64(h engine.Handle) (float64, error) {
	o, err := fk.one("ReadF64", h)
	if err != nil {
		return 0, err
	}
	if o.Type != engine.TypeNumber {
		return 0, errors.TypeMismatch(errors.PhaseDecode, "number", o.Type.String())
	}
	return o.Num, nil
}

func (fk *Fake) ReadChar(h engine.Handle) (uint32, error) {
	o, err := fk.one("ReadChar", h)
	if err != nil {
		return 0, err
	}
	if o.Type != engine.TypeCharacter {
		return 0, errors.TypeMismatch(errors.PhaseDecode, "character", o.Type.String())
	}
	return o.Char, nil
}

func (fk *Fake) items(op string, h engine.Handle, n int) ([]*Object, error) {
	o, err := fk.one(op, h)
	if err != nil {
		return nil, err
	}
	if o.Type != engine.TypeArray {
		return nil, errors.TypeMismatch(errors.PhaseDecode, "array", o.Type.String())
	}
	if len(o.Items) != n {
		return nil, errors.OutOfBounds(errors.PhaseDecode, uint32(n), uint32(len(o.Items)))
	}
	return o.Items, nil
}

func (fk *Fake) ReadF64Arr(h engine.Handle, dst []float64) error {
	items, err := fk.items("ReadF64Arr", h, len(dst))
	if err != nil {
		return err
	}
	for i, it := range items {
		if it.Type != engine.TypeNumber {
			return errors.TypeMismatch(errors.PhaseDecode, "number", it.Type.String())
		}
		dst[i] = it.Num
	}
	return nil
}

func (fk *Fake) ReadC32Arr(h engine.Handle, dst []uint32) error {
	items, err := fk.items("ReadC32Arr", h, len(dst))
	if err != nil {
		return err
	}
	for i, it := range items {
		if it.Type != engine.TypeCharacter {
			return errors.TypeMismatch(errors.PhaseDecode, "character", it.Type.String())
		}
		dst[i] = it.Char
	}
	return nil
}

func (fk *Fake) ReadObjArr(h engine.Handle, dst []engine.Handle) error {
	items, err := fk.items("ReadObjArr", h, len(dst))
	if err != nil {
		return err
	}
	fk.mu.Lock()
	defer fk.mu.Unlock()
	for i, it := range items {
		dst[i] = fk.alloc(it)
	}
	return nil
}

func (fk *Fake) Bound(h engine.Handle) (int, error) {
	o, err := fk.one("Bound", h)
	if err != nil {
		return 0, err
	}
	if o.Type != engine.TypeArray {
		return 1, nil
	}
	return len(o.Items), nil
}

func (fk *Fake) Rank(h engine.Handle) (int, error) {
	o, err := fk.one("Rank", h)
	if err != nil {
		return 0, err
	}
	if o.Type != engine.TypeArray {
		return 0, nil
	}
	return len(o.Shape), nil
}

func (fk *Fake) Shape(h engine.Handle, dst []int) error {
	o, err := fk.one("Shape", h)
	if err != nil {
		return err
	}
	if len(dst) != len(o.Shape) {
		return errors.OutOfBounds(errors.PhaseDecode, uint32(len(dst)), uint32(len(o.Shape)))
	}
	copy(dst, o.Shape)
	return nil
}

func (fk *Fake) DirectArrType(h engine.Handle) (engine.ElType, error) {
	o, err := fk.one("DirectArrType", h)
	if err != nil {
		return 0, err
	}
	if o.Type != engine.TypeArray {
		return engine.ElUnknown, nil
	}
	return o.El, nil
}

func (fk *Fake) Type(h engine.Handle) (engine.Type, error) {
	o, err := fk.one("Type", h)
	if err != nil {
		return 0, err
	}
	return o.Type, nil
}

// normalizeField follows the engine's name folding: lower case, no underscores.
func normalizeField(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

func (fk *Fake) field(op string, ns, name engine.Handle) (*Object, bool, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	objs, err := fk.get(op, ns, name)
	if err != nil {
		return nil, false, err
	}
	if objs[0].Type != engine.TypeNamespace {
		return nil, false, errors.TypeMismatch(errors.PhaseField, "namespace", objs[0].Type.String())
	}
	key, ok := objs[1].Text()
	if !ok {
		return nil, false, errors.InvalidInput(errors.PhaseField, "field name must be a string")
	}
	v, ok := objs[0].Fields[normalizeField(key)]
	return v, ok, nil
}

func (fk *Fake) HasField(ns, name engine.Handle) (bool, error) {
	_, ok, err := fk.field("HasField", ns, name)
	return ok, err
}

func (fk *Fake) GetField(ns, name engine.Handle) (engine.Handle, error) {
	v, ok, err := fk.field("GetField", ns, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.NotFound(errors.PhaseField, "field", "")
	}
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.alloc(v), nil
}

func (fk *Fake) Call1(f, x engine.Handle) (engine.Handle, error) {
	fk.mu.Lock()
	objs, err := fk.get("Call1", f, x)
	fk.mu.Unlock()
	if err != nil {
		return 0, err
	}
	r, err := fk.Invoke1(objs[0], objs[1])
	if err != nil {
		return 0, err
	}
	return fk.Handle(r), nil
}

func (fk *Fake) Call2(f, w, x engine.Handle) (engine.Handle, error) {
	fk.mu.Lock()
	objs, err := fk.get("Call2", f, w, x)
	fk.mu.Unlock()
	if err != nil {
		return 0, err
	}
	r, err := fk.Invoke2(objs[0], objs[1], objs[2])
	if err != nil {
		return 0, err
	}
	return fk.Handle(r), nil
}

// Invoke1 applies f to x the way the engine would, including dispatching
// bound host functions. Non-functions behave as constants.
func (fk *Fake) Invoke1(f, x *Object) (*Object, error) {
	switch {
	case f.bound != nil && f.arity == 1:
		return fk.dispatch(f.bound, x)
	case f.Fn1 != nil:
		return f.Fn1(fk, x)
	case f.Type.Callable():
		return nil, errors.Engine(errors.PhaseCall, "This function can't be called monadically")
	default:
		return f, nil
	}
}

// Invoke2 applies f to w and x.
func (fk *Fake) Invoke2(f, w, x *Object) (*Object, error) {
	switch {
	case f.bound != nil && f.arity == 2:
		return fk.dispatch(f.bound, w, x)
	case f.Fn2 != nil:
		return f.Fn2(fk, w, x)
	case f.Type.Callable():
		return nil, errors.Engine(errors.PhaseCall, "This function can't be called dyadically")
	default:
		return f, nil
	}
}

// dispatch hands owned handles to the dispatcher and takes ownership of its
// result.
func (fk *Fake) dispatch(key *Object, args ...*Object) (*Object, error) {
	fk.mu.Lock()
	d := fk.dispatcher
	if d == nil {
		fk.mu.Unlock()
		return nil, errors.NotInitialized(errors.PhaseCallback, "dispatcher")
	}
	obj := fk.alloc(key)
	hs := make([]engine.Handle, len(args))
	for i, a := range args {
		hs[i] = fk.alloc(a)
	}
	fk.mu.Unlock()

	var r engine.Handle
	if len(hs) == 1 {
		r = d.Dispatch1(obj, hs[0])
	} else {
		r = d.Dispatch2(obj, hs[0], hs[1])
	}

	fk.mu.Lock()
	defer fk.mu.Unlock()
	o, ok := fk.handles[r]
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseCallback, fmt.Sprintf("dispatcher returned stale handle %d", r))
	}
	delete(fk.handles, r)
	return o, nil
}

func (fk *Fake) Copy(h engine.Handle) (engine.Handle, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	objs, err := fk.get("Copy", h)
	if err != nil {
		return 0, err
	}
	return fk.alloc(objs[0]), nil
}

// Free releases h. Unknown or already freed handles are recorded in
// BadFrees and reported as errors.
func (fk *Fake) Free(h engine.Handle) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if err := fk.enter("Free"); err != nil {
		return err
	}
	if _, ok := fk.handles[h]; !ok {
		fk.badFrees = append(fk.badFrees, h)
		return errors.InvalidInput(errors.PhaseRelease, fmt.Sprintf("bad free of handle %d", h))
	}
	delete(fk.handles, h)
	return nil
}

func (fk *Fake) Eval(src engine.Handle) (engine.Handle, error) {
	o, err := fk.one("Eval", src)
	if err != nil {
		return 0, err
	}
	text, ok := o.Text()
	if !ok {
		return 0, errors.InvalidInput(errors.PhaseEval, "source must be a string")
	}
	v, err := fk.run(text)
	if err != nil {
		return 0, err
	}
	return fk.Handle(v), nil
}

func (fk *Fake) run(src string) (*Object, error) {
	fk.mu.Lock()
	p, ok := fk.programs[src]
	fk.mu.Unlock()
	if !ok {
		return nil, errors.Engine(errors.PhaseEval, "Undefined identifier")
	}
	return p(fk)
}

func (fk *Fake) bind(op string, obj engine.Handle, arity int) (engine.Handle, error) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if fk.NoBoundFns {
		fk.calls[op]++
		return 0, errors.Unsupported(errors.PhaseCallback, "bound host functions")
	}
	objs, err := fk.get(op, obj)
	if err != nil {
		return 0, err
	}
	return fk.alloc(&Object{Type: engine.TypeFunction, Name: "(bound)", bound: objs[0], arity: arity}), nil
}

func (fk *Fake) MakeBoundFn1(obj engine.Handle) (engine.Handle, error) {
	return fk.bind("MakeBoundFn1", obj, 1)
}

func (fk *Fake) MakeBoundFn2(obj engine.Handle) (engine.Handle, error) {
	return fk.bind("MakeBoundFn2", obj, 2)
}

func (fk *Fake) Close(context.Context) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.closed = true
	return nil
}

// LiveObjects returns the live handles in issue order, for leak reports.
func (fk *Fake) LiveObjects() []engine.Handle {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return slices.Sorted(maps.Keys(fk.handles))
}
