// Package logger is a thin process-wide facade over zap. Every binary in this
// repo logs through it so job handlers never carry a logger dependency around.
package logger

import (
	"os"

	"go.uber.org/zap"
)

type zapLogger struct {
	log *zap.SugaredLogger
}

var global *zapLogger

func init() {
	var cfg zap.Config
	if os.Getenv("LOG_ENV") == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if err := Setup(cfg); err != nil {
		panic(err)
	}
}

// Setup builds the global logger from the given zap config. Called once from
// init with an env-selected config; tests may call it again to swap configs.
func Setup(cfg zap.Config) error {
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	defer l.Sync() //nolint
	l = l.WithOptions(zap.AddCallerSkip(1))
	global = &zapLogger{log: l.Sugar()}
	return nil
}

func Info(msg string, values ...any) {
	global.log.Infow(msg, values...)
}

func Warn(msg string, values ...any) {
	global.log.Warnw(msg, values...)
}

func Error(msg string, values ...any) {
	global.log.Errorw(msg, values...)
}

func Debug(msg string, values ...any) {
	global.log.Debugw(msg, values...)
}

func Panic(msg string, values ...any) {
	global.log.Panicw(msg, values...)
}

func Fatal(err error, values ...any) {
	global.log.Fatalw(err.Error(), values...)
}

func Printf(format string, args ...interface{}) {
	global.log.Infof(format, args...)
}
