package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"EventSync-Agent/internal/api"
	"EventSync-Agent/internal/app"
	"EventSync-Agent/internal/auth"
	"EventSync-Agent/internal/config"
	"EventSync-Agent/internal/observability/metrics"
	"EventSync-Agent/pkg/logger"
)

// main 是 EventSync 守护进程的入口：HTTP API 加异步任务处理器。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("eventsyncd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runtime, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.L().Error("释放资源失败", slog.Any("error", err))
		}
	}()

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := runtime.Processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if addr := cfg.Observability.MetricsAddress; addr != "" {
		go func() {
			if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, runtime.Tasks,
		api.WithAgent(runtime.Agent),
		api.WithTools(runtime.Tools),
		api.WithRedirectURL(cfg.Server.RedirectURL),
		api.WithStaticDir(cfg.Server.StaticDir),
		api.WithAuth(auth.NewService(cfg.Secrets.APITokens)),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
