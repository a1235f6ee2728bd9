package enginetest

import (
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/cbqn-go/engine"
)

// Format renders o roughly the way •Fmt does for the shapes tests use.
func Format(o *Object) string {
	var b strings.Builder
	format(&b, o)
	return b.String()
}

func format(b *strings.Builder, o *Object) {
	switch o.Type {
	case engine.TypeNumber:
		b.WriteString(formatNum(o.Num))
	case engine.TypeCharacter:
		if o.Char == 0 {
			b.WriteString("@")
			return
		}
		b.WriteByte('\'')
		b.WriteRune(rune(o.Char))
		b.WriteByte('\'')
	case engine.TypeArray:
		if s, ok := o.Text(); ok && len(o.Items) > 0 {
			b.WriteString(strconv.Quote(s))
			return
		}
		if len(o.Shape) != 1 {
			for i, n := range o.Shape {
				if i > 0 {
					b.WriteString("‿")
				}
				b.WriteString(strconv.Itoa(n))
			}
			b.WriteString("⥊")
		}
		if len(o.Items) == 0 {
			b.WriteString("⟨⟩")
			return
		}
		b.WriteString("⟨ ")
		for i, it := range o.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			format(b, it)
		}
		b.WriteString(" ⟩")
	case engine.TypeNamespace:
		b.WriteString("{")
		b.WriteString(strconv.Itoa(len(o.Fields)))
		b.WriteString(" fields}")
	default:
		if o.Name != "" {
			b.WriteString(o.Name)
			return
		}
		b.WriteString("(" + o.Type.String() + ")")
	}
}

func formatNum(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "∞"
	case math.IsInf(v, -1):
		return "¯∞"
	case math.IsNaN(v):
		return "NaN"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	return strings.ReplaceAll(s, "-", "¯")
}
