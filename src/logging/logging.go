// Package logging constructs the single structured logger threaded through
// the buffer pool, lock manager, deadlock detector, and CLI.
package logging

import (
	"go.uber.org/zap"

	"github.com/kvnovik/relcore/src/cfg"
)

// New builds a zap.SugaredLogger appropriate for env.
func New(env cfg.Environment) *zap.SugaredLogger {
	var l *zap.Logger
	var err error

	if env == cfg.EnvProd {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}

	return l.Sugar()
}

// Nop returns a logger that discards everything, for tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
