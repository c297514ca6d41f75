package log

import (
	"os"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level   = zap.NewAtomicLevelAt(zap.InfoLevel)
	sugar   = newLogger(nil)
	cleanup = func() {}
)

func encoderConfig() zapcore.EncoderConfig {
	pe := zap.NewProductionEncoderConfig()
	pe.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	pe.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return pe
}

func newLogger(logFile *os.File) *zap.SugaredLogger {
	console := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(colorable.NewColorableStdout()), level)
	if logFile == nil {
		return zap.New(console).Sugar()
	}

	fe := zap.NewProductionEncoderConfig()
	fe.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fe), zapcore.AddSync(logFile), level),
		console,
	)
	return zap.New(core).Sugar()
}

// Init replaces the console logger. When path is not empty, lines are also
// written to that file as JSON.
func Init(path string, debug bool) error {
	SetDebug(debug)
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	sugar = newLogger(f)
	cleanup = func() { f.Close() }
	return nil
}

func SetDebug(on bool) {
	if on {
		level.SetLevel(zap.DebugLevel)
	} else {
		level.SetLevel(zap.InfoLevel)
	}
}

func DebugOn() bool {
	return level.Enabled(zap.DebugLevel)
}

// With returns a logger tagged with key/value pairs, e.g. With("component", "thermal").
func With(args ...interface{}) *zap.SugaredLogger {
	return sugar.With(args...)
}

func Sync() {
	_ = sugar.Sync()
	cleanup()
}

func Errorf(format string, args ...interface{}) {
	sugar.Errorf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	sugar.Warnf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	sugar.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	sugar.Infof(format, args...)
}

func Printf(format string, args ...interface{}) {
	sugar.Infof(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	sugar.Fatalf(format, args...)
}

func Info(args ...interface{}) {
	sugar.Info(args...)
}

func Error(args ...interface{}) {
	sugar.Error(args...)
}

func Debug(args ...interface{}) {
	sugar.Debug(args...)
}
