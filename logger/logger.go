package logger

import (
	"go.uber.org/zap"
)

// Log is a no-op logger until Init is called, so packages can log from tests.
var Log = zap.NewNop().Sugar()

func Init(development bool) {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = l.Sugar()
}

// Sync flushes buffered entries; call it before the process exits.
func Sync() {
	_ = Log.Sync()
}
