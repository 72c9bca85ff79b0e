package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mockrelay/internal/config"
	"mockrelay/internal/logger"
	"mockrelay/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("MOCKRELAY_CONFIG"), "YAML 配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Writers: cfg.Log.Writer, File: cfg.Log.File})
	log.Info("配置已加载",
		"addr", cfg.Server.Addr,
		"upstream", cfg.Server.Upstream,
		"prefix", cfg.Server.PathPrefix,
		"replyTimeoutMS", cfg.Worker.ReplyTimeoutMS,
		"cdp", cfg.CDP.Enabled,
	)

	if err := run(cfg, log); err != nil {
		log.Err(err, "mockrelay 异常退出")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := service.New(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("mockrelay 已启动", "addr", cfg.Server.Addr, "ws", cfg.Server.PathPrefix+"/ws", "api", cfg.Server.PathPrefix+"/api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("收到退出信号，开始关闭")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Err(err, "HTTP 服务关闭失败")
	}
	return nil
}
