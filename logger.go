package cbqn

import (
	"go.uber.org/zap"

	"github.com/wippyai/cbqn-go/engine"
)

// SetLogger configures the logger shared by the engine and its backends.
func SetLogger(l *zap.Logger) {
	engine.SetLogger(l)
}

func logger() *zap.Logger {
	return engine.Logger()
}
