// Package logging exposes a zap logger with log levels and the execution log
// that every install, patch and deploy run reports into.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LevelInfo sets the log level to info
	LevelInfo = "info"

	// LevelDebug sets the log level to debug
	LevelDebug = "debug"

	// LevelNone sets logger to no logging
	LevelNone = "none"
)

// New returns a zap logger with the specified level
func New(level string) (*zap.Logger, error) {
	l, _, err := NewAtomic(level)
	return l, err
}

// NewAtomic is New that also returns the level handle, so the level can be
// changed while the logger is in use.
func NewAtomic(level string) (*zap.Logger, zap.AtomicLevel, error) {
	atom := zap.NewAtomicLevel()
	if level == LevelNone {
		return zap.NewNop(), atom, nil
	}
	if err := SetLevel(atom, level); err != nil {
		return nil, atom, err
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = atom
	l, err := zapConfig.Build()
	return l, atom, err
}

// SetLevel parses level into atom. An empty level means info.
func SetLevel(atom zap.AtomicLevel, level string) error {
	if level == "" || level == LevelNone {
		level = LevelInfo
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return err
	}
	atom.SetLevel(lvl)
	return nil
}
