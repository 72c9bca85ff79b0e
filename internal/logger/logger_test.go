package logger_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mockrelay/internal/logger"
)

func TestNew_Disabled(t *testing.T) {
	l := logger.New(logger.Options{Level: "disabled", Writers: []string{"console"}})
	// 不应 panic
	l.Info("ignored", "k", "v")
	l.With("a", 1).Err(errors.New("boom"), "ignored")
}

func TestNew_NoWriters(t *testing.T) {
	l := logger.New(logger.Options{Level: "debug"})
	if l == nil {
		t.Fatal("New() returned nil")
	}
	l.Debug("nothing to write")
}

func TestNew_FileWriter(t *testing.T) {
	file := filepath.Join(t.TempDir(), "app.log")
	l := logger.New(logger.Options{Level: "info", Writers: []string{"file"}, File: file})

	l.Debug("hidden by level")
	l.With("traceID", "t-1").Info("拦截请求", "url", "http://localhost/api/jobs")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "t-1") || !strings.Contains(out, "/api/jobs") {
		t.Errorf("log output missing fields: %s", out)
	}
	if strings.Contains(out, "hidden by level") {
		t.Error("debug message should be filtered at info level")
	}
}

func TestDefaultLogPath(t *testing.T) {
	p, err := logger.DefaultLogPath()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if !strings.Contains(p, "mockrelay") {
		t.Errorf("path %s does not contain app name", p)
	}
}
