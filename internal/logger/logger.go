package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the optional log file
const (
	FileSizeMB   = 8
	RotationSize = 7
)

// Logger is the application logger. It must never be handed PINs, digests,
// keys or decrypted payloads.
type Logger struct {
	*zap.Logger
	closer io.Closer
}

// New creates a console logger at the given level ("debug", "info", "warn",
// "error"). It writes to file with rotation when file is set, otherwise to
// stderr.
func New(level, file string) (*Logger, error) {
	if file == "" {
		return NewWithWriter(level, os.Stderr)
	}

	return NewWithCloser(level, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    FileSizeMB,
		MaxBackups: RotationSize,
	})
}

// NewWithCloser is NewWithWriter for a destination that Close also closes
func NewWithCloser(level string, w io.WriteCloser) (*Logger, error) {
	log, err := NewWithWriter(level, w)
	if err != nil {
		return nil, err
	}
	log.closer = w
	return log, nil
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(level string, w io.Writer) (*Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zap.NewAtomicLevelAt(lvl),
	)

	return &Logger{Logger: zap.New(core).Named("pinvault")}, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Named returns a child logger for a component
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// Close flushes buffered entries and closes the log file, if any
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
