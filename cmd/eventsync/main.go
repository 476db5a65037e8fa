package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EventSync-Agent/internal/app"
	"EventSync-Agent/internal/config"
	"EventSync-Agent/pkg/logger"
)

// main 是交互式命令行入口，支持对话模式与自主模式。
func main() {
	mode := flag.String("mode", "", "运行模式：chat 或 auto，留空时交互选择")
	interval := flag.Duration("interval", 10*time.Second, "自主模式下两次行动的间隔")
	thread := flag.String("thread", "", "会话线程标识，留空使用配置中的默认值")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *mode, *interval, *thread); err != nil {
		log.Fatalf("eventsync 运行失败: %v", err)
	}
}

func run(ctx context.Context, mode string, interval time.Duration, thread string) error {
	fmt.Println("Starting Agent...")
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
	defer runtime.Close()

	in := bufio.NewScanner(os.Stdin)
	if mode == "" {
		mode, err = chooseMode(in, os.Stdout)
		if err != nil {
			return err
		}
	}

	switch mode {
	case "chat":
		return runChat(ctx, runtime.Agent, thread, in, os.Stdout)
	case "auto":
		return runAutonomous(ctx, runtime.Agent, thread, interval, os.Stdout)
	default:
		return fmt.Errorf("未知的运行模式: %s", mode)
	}
}
