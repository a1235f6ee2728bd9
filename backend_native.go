//go:build cbqn

package cbqn

import (
	"context"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/engine/native"
)

func init() {
	backends["native"] = func(context.Context, Config) (engine.Backend, error) {
		return native.New(), nil
	}
	defaultBackend = "native"
}
