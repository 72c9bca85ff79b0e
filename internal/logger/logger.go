package logger

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 定义日志接口
type Logger interface {
	// Debug 记录调试信息
	Debug(msg string, fields ...any)

	// Info 记录一般信息
	Info(msg string, fields ...any)

	// Warn 记录警告信息
	Warn(msg string, fields ...any)

	// Error 记录错误信息
	Error(msg string, fields ...any)

	// Err 记录错误信息
	Err(err error, msg string, fields ...any)

	// With 返回携带固定字段的子日志器
	With(fields ...any) Logger
}

// Options 日志配置
type Options struct {
	// Level debug / info / warn / error / disabled
	Level string
	// Writers 输出目标：console / file
	Writers []string
	// File 日志文件路径，为空时使用平台默认目录
	File string
}

// ZeroLogger 基于 zerolog 的日志实现
type ZeroLogger struct {
	logger zerolog.Logger
}

// New 创建日志组件
func New(opts Options) Logger {
	level := parseLevel(opts.Level)
	if level == zerolog.Disabled {
		return NewNop()
	}

	writers := make([]io.Writer, 0, len(opts.Writers))
	for _, w := range opts.Writers {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
		case "file":
			filename := opts.File
			if filename == "" {
				filename, _ = DefaultLogPath()
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   filename,
				MaxSize:    1,
				MaxAge:     30,
				MaxBackups: 3,
				LocalTime:  true,
				Compress:   false,
			})
		}
	}

	if len(writers) == 0 {
		return NewNop()
	}

	zerolog.TimeFieldFormat = "2006-01-02 15:04:05.000"
	l := zerolog.New(io.MultiWriter(writers...)).
		With().
		Caller().
		Timestamp().
		Logger().
		Level(level)

	return &ZeroLogger{logger: l}
}

// NewNop 创建一个空的日志记录器
func NewNop() Logger { return &ZeroLogger{logger: zerolog.Nop()} }

// Info 记录信息
func (z *ZeroLogger) Info(msg string, fields ...any) {
	z.logger.Info().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Error 记录错误
func (z *ZeroLogger) Error(msg string, fields ...any) {
	z.logger.Error().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Debug 记录调试信息
func (z *ZeroLogger) Debug(msg string, fields ...any) {
	z.logger.Debug().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Warn 记录警告
func (z *ZeroLogger) Warn(msg string, fields ...any) {
	z.logger.Warn().CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// Err 记录错误信息
func (z *ZeroLogger) Err(err error, msg string, fields ...any) {
	z.logger.Err(err).CallerSkipFrame(1).Fields(fields).Msg(msg)
}

// With 返回携带固定字段的子日志器
func (z *ZeroLogger) With(fields ...any) Logger {
	return &ZeroLogger{logger: z.logger.With().Fields(fields).Logger()}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "none":
		return zerolog.Disabled
	default:
		return zerolog.DebugLevel
	}
}

// DefaultLogPath 获取平台相关的日志文件路径
func DefaultLogPath() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(home, "Library", "Application Support")
	default:
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(home, ".local", "share")
		}
	}

	return filepath.Join(baseDir, "mockrelay", "logs", "mockrelay.log"), nil
}
