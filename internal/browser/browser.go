// Package browser 启动带远程调试端口的本地 Chrome。
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"mockrelay/internal/logger"

	"github.com/mafredri/cdp/devtool"
)

// ErrNotFound 未找到浏览器可执行文件
var ErrNotFound = errors.New("browser: chrome executable not found")

// Options 浏览器启动选项
type Options struct {
	ExecPath    string
	UserDataDir string
	// Port DevTools 端口，0 表示 9222，被占用时随机选择
	Port     int
	Headless bool
	Args     []string
	// StartURL 启动后打开的页面
	StartURL string
	Logger   logger.Logger
}

// Browser 已启动的浏览器进程
type Browser struct {
	cmd         *exec.Cmd
	DevToolsURL string
	tempDir     string
	log         logger.Logger
	exited      chan struct{}
}

// Launch 启动浏览器并等待 DevTools 就绪
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	exe := opts.ExecPath
	if exe == "" {
		exe = findChrome()
	}
	if exe == "" {
		return nil, ErrNotFound
	}

	port, err := pickPort(opts.Port)
	if err != nil {
		return nil, err
	}

	b := &Browser{
		DevToolsURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		log:         l,
		exited:      make(chan struct{}),
	}
	if opts.UserDataDir == "" {
		dir, err := os.MkdirTemp("", "mockrelay-chrome-")
		if err != nil {
			return nil, fmt.Errorf("browser: user data dir: %w", err)
		}
		opts.UserDataDir = dir
		b.tempDir = dir
	}

	b.cmd = exec.Command(exe, launchArgs(port, opts)...)
	if err := b.cmd.Start(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("browser: start: %w", err)
	}
	go func() {
		_ = b.cmd.Wait()
		close(b.exited)
	}()
	l.Info("浏览器已启动", "pid", b.cmd.Process.Pid, "devtools", b.DevToolsURL)

	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := b.waitReady(waitCtx); err != nil {
		_ = b.Stop(2 * time.Second)
		return nil, err
	}
	return b, nil
}

// Exited 浏览器进程退出时关闭
func (b *Browser) Exited() <-chan struct{} { return b.exited }

// Stop 先请求退出，超时后强制结束
func (b *Browser) Stop(timeout time.Duration) error {
	if b == nil || b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	defer b.cleanup()

	if runtime.GOOS == "windows" {
		_ = b.cmd.Process.Kill()
	} else {
		_ = b.cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-b.exited:
		return nil
	case <-time.After(timeout):
		b.log.Warn("浏览器未按时退出，强制结束")
		_ = b.cmd.Process.Kill()
		<-b.exited
		return nil
	}
}

func (b *Browser) cleanup() {
	if b.tempDir != "" {
		_ = os.RemoveAll(b.tempDir)
	}
}

// waitReady 轮询 /json/version 直到 DevTools 可用或进程退出
func (b *Browser) waitReady(ctx context.Context) error {
	dt := devtool.New(b.DevToolsURL)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("browser: devtools not ready: %w", ctx.Err())
		case <-b.exited:
			return errors.New("browser: process exited before devtools was ready")
		case <-ticker.C:
			v, err := dt.Version(ctx)
			if err == nil {
				b.log.Debug("DevTools 就绪", "browser", v.Browser, "protocol", v.Protocol)
				return nil
			}
		}
	}
}

// findChrome 查找常见安装位置与 PATH
func findChrome() string {
	for _, p := range chromePaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func chromePaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(os.Getenv("ProgramFiles"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("LOCALAPPDATA"), "Google", "Chrome", "Application", "chrome.exe"),
		}
	case "darwin":
		return []string{"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"}
	case "linux":
		return []string{"/usr/bin/google-chrome", "/usr/bin/chromium", "/snap/bin/chromium"}
	default:
		return nil
	}
}

// pickPort 优先使用指定端口，被占用时选择随机空闲端口
func pickPort(preferred int) (int, error) {
	if preferred <= 0 {
		preferred = 9222
	}
	if l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferred)); err == nil {
		_ = l.Close()
		return preferred, nil
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("browser: no free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func launchArgs(port int, opts Options) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", opts.UserDataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-renderer-backgrounding",
		"--disable-sync",
	}
	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	args = append(args, opts.Args...)
	if opts.StartURL != "" {
		args = append(args, opts.StartURL)
	}
	return args
}
