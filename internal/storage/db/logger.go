package db

import (
	"context"
	"errors"
	"time"

	"mockrelay/internal/logger"

	glog "gorm.io/gorm/logger"
)

// Logger 将 GORM 日志接入统一日志系统
type Logger struct {
	internalLogger logger.Logger
	LogLevel       glog.LogLevel
	SlowThreshold  time.Duration
}

// NewLogger 创建 GORM 日志适配器，默认只记录警告与错误
func NewLogger(l logger.Logger) *Logger {
	if l == nil {
		l = logger.NewNop()
	}
	return &Logger{
		internalLogger: l.With("component", "gorm"),
		LogLevel:       glog.Warn,
		SlowThreshold:  200 * time.Millisecond,
	}
}

// LogMode 实现 logger.Interface 接口
func (l *Logger) LogMode(level glog.LogLevel) glog.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info 实现 logger.Interface 接口
func (l *Logger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Info {
		l.internalLogger.Info(msg, "data", data)
	}
}

// Warn 实现 logger.Interface 接口
func (l *Logger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Warn {
		l.internalLogger.Warn(msg, "data", data)
	}
}

// Error 实现 logger.Interface 接口
func (l *Logger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= glog.Error {
		l.internalLogger.Error(msg, "data", data)
	}
}

// Trace 记录 SQL 执行详情
func (l *Logger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= glog.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && !errors.Is(err, glog.ErrRecordNotFound) && l.LogLevel >= glog.Error:
		l.internalLogger.Error("SQL执行错误", append(fields, "error", err)...)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= glog.Warn:
		l.internalLogger.Warn("慢SQL查询", append(fields, "threshold", l.SlowThreshold)...)
	case l.LogLevel == glog.Info:
		l.internalLogger.Debug("SQL执行", fields...)
	}
}
