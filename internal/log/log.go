// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package log

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how verbosely the tool logs.
type Options struct {
	Dir   string // Log directory; stdout is used when empty
	Name  string // Log file name without extension; defaults to the binary name
	Debug bool
}

// NewLogger returns a zap JSON logger writing to Options.Dir/Options.Name.log,
// or to stdout when no directory is configured.
func NewLogger(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	cfg.LevelKey = "lv"
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(l.CapitalString()[:2])
	}

	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
		cfg.EncodeCaller = zapcore.ShortCallerEncoder
		cfg.CallerKey = "call"
	}

	sink, err := openSink(opts)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), sink, level)

	if opts.Debug {
		return zap.New(core, zap.AddCaller()), nil
	}
	return zap.New(core), nil
}

func openSink(opts Options) (zapcore.WriteSyncer, error) {
	if opts.Dir == "" {
		return zapcore.AddSync(os.Stdout), nil
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(os.Args[0])
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(opts.Dir, name+".log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}
