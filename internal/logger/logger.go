package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelOff   Level = "off"
)

func toZapLevel(l string) zapcore.Level {
	levels := map[Level]zapcore.Level{
		LevelDebug: zapcore.DebugLevel,
		LevelInfo:  zapcore.InfoLevel,
		LevelWarn:  zapcore.WarnLevel,
		LevelError: zapcore.ErrorLevel,
		LevelOff:   zapcore.FatalLevel + 1,
	}
	if level, ok := levels[Level(l)]; ok {
		return level
	}
	return zapcore.WarnLevel
}

// Options configures the driver logger. A blank Filename logs to stderr.
type Options struct {
	Level      string `config:"level"`
	Filename   string `config:"filename"`
	MaxSize    int    `config:"maxSize"` // unit: MB
	MaxAge     int    `config:"maxAge"`  // unit: days
	MaxBackups int    `config:"maxBackups"`
}

type Logger struct {
	sugared *zap.SugaredLogger
}

func (l Logger) Debugf(template string, args ...any) {
	l.sugared.Debugf(template, args...)
}

func (l Logger) Infof(template string, args ...any) {
	l.sugared.Infof(template, args...)
}

func (l Logger) Warnf(template string, args ...any) {
	l.sugared.Warnf(template, args...)
}

func (l Logger) Errorf(template string, args ...any) {
	l.sugared.Errorf(template, args...)
}

// Enabled reports whether messages of the given level are written.
func (l Logger) Enabled(level Level) bool {
	return l.sugared.Desugar().Core().Enabled(toZapLevel(string(level)))
}

// New creates a Logger from opt.
func New(opt Options) Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Local().Format("2006-01-02 15:04:05.000"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var w zapcore.WriteSyncer
	switch {
	case opt.Filename == "":
		w = zapcore.AddSync(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(opt.Filename), os.ModePerm); err != nil {
			w = zapcore.AddSync(os.Stderr)
			break
		}

		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSize,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAge,
			LocalTime:  true,
		})
	}

	level := toZapLevel(strings.ToLower(strings.TrimSpace(opt.Level)))
	core := zapcore.NewCore(encoder, w, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	return Logger{
		sugared: logger.Sugar(),
	}
}

var (
	mu     sync.RWMutex
	stdOpt = Options{Level: string(LevelWarn)}
	std    = New(stdOpt)
)

func get() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// SetOptions replaces the global logger configuration.
func SetOptions(opt Options) {
	mu.Lock()
	defer mu.Unlock()
	stdOpt = opt
	std = New(opt)
}

// Configure applies the level and file of a connection url to the global
// logger, leaving it untouched when both are blank.
func Configure(level, filename string) {
	if level == "" && filename == "" {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if level != "" {
		stdOpt.Level = level
	}
	if filename != "" {
		stdOpt.Filename = filename
	}
	std = New(stdOpt)
}

// SetLoggerLevel sets the level of the global logger.
func SetLoggerLevel(s string) {
	mu.Lock()
	defer mu.Unlock()
	stdOpt.Level = strings.ToLower(strings.TrimSpace(s))
	std = New(stdOpt)
}

func Enabled(level Level) bool {
	return get().Enabled(level)
}

func Debugf(template string, args ...any) {
	get().Debugf(template, args...)
}

func Infof(template string, args ...any) {
	get().Infof(template, args...)
}

func Warnf(template string, args ...any) {
	get().Warnf(template, args...)
}

func Errorf(template string, args ...any) {
	get().Errorf(template, args...)
}
