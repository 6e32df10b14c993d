package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type logOptions struct {
	level   zapcore.Level
	json    bool
	file    string
	maxSize int
	quiet   bool
}

// newLogger logs to stderr and, when a file is given, to a rotating log file.
// Colors are used only when stderr is a terminal.
func newLogger(opts logOptions) (*zap.Logger, func(), error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if !opts.quiet {
		consoleCfg := encCfg
		var enc zapcore.Encoder
		if opts.json {
			enc = zapcore.NewJSONEncoder(consoleCfg)
		} else {
			if term.IsTerminal(int(os.Stderr.Fd())) {
				consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
			} else {
				consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
			}
			enc = zapcore.NewConsoleEncoder(consoleCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), opts.level))
	}

	closeFn := func() {}
	if opts.file != "" {
		rw := &lumberjack.Logger{
			Filename:   opts.file,
			MaxSize:    opts.maxSize, // megabytes
			MaxBackups: 3,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rw), opts.level))
		closeFn = func() { _ = rw.Close() }
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return l, func() {
		_ = l.Sync()
		closeFn()
	}, nil
}
