// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels lists the accepted level names.
var Levels = []string{"debug", "info", "warn", "error"}

// ParseLevel maps a level name to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	if !slices.Contains(Levels, name) {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, err
	}
	return lvl, nil
}

// New returns a console-encoded logger writing to stderr and, when buf is
// non-nil, to buf as well.
func New(level string, buf io.Writer) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return newWith(lvl, zapcore.Lock(os.Stderr), buf), nil
}

func newWith(lvl zapcore.Level, out zapcore.WriteSyncer, buf io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), out, lvl),
	}
	if buf != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(buf), lvl))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
