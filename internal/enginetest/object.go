package enginetest

import (
	"github.com/wippyai/cbqn-go/engine"
)

// Object is an immutable value inside the fake engine. Handles refer to
// objects; several handles may share one object.
type Object struct {
	Type   engine.Type
	Num    float64
	Char   uint32
	Items  []*Object
	Shape  []int
	El     engine.ElType
	Fields map[string]*Object

	Fn1 func(fk *Fake, x *Object) (*Object, error)
	Fn2 func(fk *Fake, w, x *Object) (*Object, error)

	// Name is the rendering used by •Fmt for functions.
	Name string

	bound *Object
	arity int
}

// Num returns a number.
func Num(v float64) *Object {
	return &Object{Type: engine.TypeNumber, Num: v}
}

// Char returns a character.
func Char(c rune) *Object {
	return &Object{Type: engine.TypeCharacter, Char: uint32(c)}
}

// Str returns a character list. Its element type is the narrowest char
// type holding every code point.
func Str(s string) *Object {
	items := make([]*Object, 0, len(s))
	el := engine.ElC8
	for _, r := range s {
		items = append(items, Char(r))
		el = max(el, charEl(uint32(r)))
	}
	return &Object{Type: engine.TypeArray, Items: items, Shape: []int{len(items)}, El: el}
}

func charEl(c uint32) engine.ElType {
	switch {
	case c <= 0xFF:
		return engine.ElC8
	case c <= 0xFFFF:
		return engine.ElC16
	default:
		return engine.ElC32
	}
}

// List returns a boxed list (element type unknown).
func List(items ...*Object) *Object {
	return &Object{Type: engine.TypeArray, Items: items, Shape: []int{len(items)}, El: engine.ElUnknown}
}

// Nums returns a list with the given direct element type.
func Nums(el engine.ElType, vs ...float64) *Object {
	items := make([]*Object, len(vs))
	for i, v := range vs {
		items[i] = Num(v)
	}
	return &Object{Type: engine.TypeArray, Items: items, Shape: []int{len(items)}, El: el}
}

// Reshape gives an array a new shape. The product of shape must equal the
// number of items.
func Reshape(a *Object, shape ...int) *Object {
	out := *a
	out.Shape = append([]int(nil), shape...)
	return &out
}

// Namespace returns a namespace with the given (normalized) field names.
func Namespace(fields map[string]*Object) *Object {
	return &Object{Type: engine.TypeNamespace, Fields: fields}
}

// Func1 returns a monadic function.
func Func1(name string, f func(fk *Fake, x *Object) (*Object, error)) *Object {
	return &Object{Type: engine.TypeFunction, Name: name, Fn1: f}
}

// Func2 returns a dyadic function.
func Func2(name string, f func(fk *Fake, w, x *Object) (*Object, error)) *Object {
	return &Object{Type: engine.TypeFunction, Name: name, Fn2: f}
}

// Text returns the Go string for a character list, or "", false.
func (o *Object) Text() (string, bool) {
	if o.Type != engine.TypeArray || len(o.Shape) != 1 {
		return "", false
	}
	rs := make([]rune, len(o.Items))
	for i, it := range o.Items {
		if it.Type != engine.TypeCharacter {
			return "", false
		}
		rs[i] = rune(it.Char)
	}
	return string(rs), true
}
