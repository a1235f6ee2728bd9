//go:build cbqn

package native

/*
#include <stdbool.h>
#include <stdint.h>
#include <stddef.h>
#include <bqnffi.h>
*/
import "C"

import (
	"go.uber.org/zap"

	"github.com/wippyai/cbqn-go/engine"
)

// orphan frees the arguments of a call that has nowhere to go and hands the
// engine @ so evaluation can continue.
func orphan(args ...C.BQNV) C.BQNV {
	engine.Logger().Warn("bound function called without a dispatcher", zap.Int("args", len(args)))
	for _, a := range args {
		C.bqn_free(a)
	}
	return C.bqn_makeChar(0)
}

//export cbqnDispatch1
func cbqnDispatch1(obj, x C.BQNV) C.BQNV {
	box := dispatcher.Load()
	if box == nil {
		return orphan(obj, x)
	}
	return C.BQNV(box.d.Dispatch1(engine.Handle(obj), engine.Handle(x)))
}

//export cbqnDispatch2
func cbqnDispatch2(obj, w, x C.BQNV) C.BQNV {
	box := dispatcher.Load()
	if box == nil {
		return orphan(obj, w, x)
	}
	return C.BQNV(box.d.Dispatch2(engine.Handle(obj), engine.Handle(w), engine.Handle(x)))
}
