package wasi

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/cbqn-go/errors"
)

// function is the subset of api.Function the backend calls through.
type function interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

type export int

const (
	expMalloc export = iota
	expFree
	expInit
	expBQNFree
	expCopy
	expReadF64
	expReadChar
	expType
	expCall1
	expCall2
	expEval
	expBound
	expRank
	expShape
	expPick
	expReadF64Arr
	expReadC32Arr
	expReadObjArr
	expHasField
	expGetField
	expMakeF64
	expMakeChar
	expMakeUTF8Str
	expMakeF64Vec
	expMakeI32Vec
	expMakeI16Vec
	expMakeI8Vec
	expMakeObjVec
	expDirectArrType

	numExports
)

// exportNames lists the guest symbol for every export the backend calls.
var exportNames = [numExports]string{
	expMalloc:        "malloc",
	expFree:          "free",
	expInit:          "bqn_init",
	expBQNFree:       "bqn_free",
	expCopy:          "bqn_copy",
	expReadF64:       "bqn_readF64",
	expReadChar:      "bqn_readChar",
	expType:          "bqn_type",
	expCall1:         "bqn_call1",
	expCall2:         "bqn_call2",
	expEval:          "bqn_eval",
	expBound:         "bqn_bound",
	expRank:          "bqn_rank",
	expShape:         "bqn_shape",
	expPick:          "bqn_pick",
	expReadF64Arr:    "bqn_readF64Arr",
	expReadC32Arr:    "bqn_readC32Arr",
	expReadObjArr:    "bqn_readObjArr",
	expHasField:      "bqn_hasField",
	expGetField:      "bqn_getField",
	expMakeF64:       "bqn_makeF64",
	expMakeChar:      "bqn_makeChar",
	expMakeUTF8Str:   "bqn_makeUTF8Str",
	expMakeF64Vec:    "bqn_makeF64Vec",
	expMakeI32Vec:    "bqn_makeI32Vec",
	expMakeI16Vec:    "bqn_makeI16Vec",
	expMakeI8Vec:     "bqn_makeI8Vec",
	expMakeObjVec:    "bqn_makeObjVec",
	expDirectArrType: "bqn_directArrType",
}

func (e export) String() string {
	if e >= 0 && e < numExports {
		return exportNames[e]
	}
	return "unknown"
}

// exportTable holds one callable per export, indexed by export.
type exportTable [numExports]function

// checkExports verifies a compiled module exports everything the backend
// needs. All missing names are reported together.
func checkExports(funcs map[string]api.FunctionDefinition, memories map[string]api.MemoryDefinition) error {
	var missing []string
	for _, name := range exportNames {
		if _, ok := funcs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if _, ok := memories["memory"]; !ok {
		missing = append(missing, "memory")
	}
	if len(missing) > 0 {
		return errors.NewMissingExportsError(missing)
	}
	return nil
}

// resolveExports looks up every export on an instantiated module.
func resolveExports(mod api.Module) (exportTable, error) {
	var table exportTable
	var missing []string
	for i, name := range exportNames {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			missing = append(missing, name)
			continue
		}
		table[i] = fn
	}
	if len(missing) > 0 {
		return table, errors.NewMissingExportsError(missing)
	}
	return table, nil
}
