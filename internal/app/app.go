// Package app assembles the EventSync runtime from configuration. Both the
// interactive CLI and the daemon build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"EventSync-Agent/internal/agent"
	"EventSync-Agent/internal/config"
	"EventSync-Agent/internal/distribution"
	"EventSync-Agent/internal/eventbrite"
	"EventSync-Agent/internal/llm/openai"
	"EventSync-Agent/internal/memory"
	"EventSync-Agent/internal/observability/alerting"
	"EventSync-Agent/internal/poap"
	"EventSync-Agent/internal/storage/mysql"
	"EventSync-Agent/internal/storage/redis"
	"EventSync-Agent/internal/task"
	"EventSync-Agent/internal/tools"
	"EventSync-Agent/internal/wallet"
	"EventSync-Agent/internal/web3/provider"
	"EventSync-Agent/pkg/logger"
)

// App 持有运行期组件，Close 按创建的逆序释放资源。
type App struct {
	Config    *config.Config
	Agent     *agent.Agent
	Tools     *tools.Registry
	Wallet    *wallet.Wallet
	Tasks     *task.Service
	Processor *task.Processor

	closers []func() error
}

// Build 根据配置初始化所有组件。链 RPC 未配置时钱包工具仍可用，只是无法查询链上状态。
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	events, err := eventbrite.NewClient(eventbrite.Options{
		BaseURL:       cfg.Eventbrite.BaseURL,
		Token:         cfg.Secrets.EventbriteAPIKey,
		RatePerSecond: cfg.Eventbrite.RatePerSecond,
		Timeout:       seconds(cfg.Eventbrite.TimeoutSeconds),
		MaxPages:      cfg.Eventbrite.MaxPages,
	})
	if err != nil {
		return nil, err
	}
	claims, err := poap.NewClient(poap.Options{
		BaseURL:       cfg.POAP.BaseURL,
		APIKey:        cfg.Secrets.POAPAPIKey,
		AccessToken:   cfg.Secrets.POAPAccessToken,
		RatePerSecond: cfg.POAP.RatePerSecond,
		Timeout:       seconds(cfg.POAP.TimeoutSeconds),
	})
	if err != nil {
		return nil, err
	}

	w, err := wallet.LoadOrCreate(cfg.Wallet.Path, cfg.Wallet.NetworkID)
	if err != nil {
		return nil, err
	}
	a.Wallet = w

	deps := tools.Dependencies{
		Events:         events,
		OrganizationID: cfg.Secrets.EventbriteOrganizationID,
		Claims:         claims,
		Wallet:         w,
		Distributor:    distribution.New(events, claims),
	}
	chains, err := provider.NewRegistry(ctx, cfg.Web3, cfg.Wallet.NetworkID)
	switch {
	case err == nil:
		deps.Chains = chains
		a.closers = append(a.closers, func() error { chains.Close(); return nil })
	case errors.Is(err, provider.ErrNoChains):
		logger.L().Warn("未配置链 RPC，钱包工具将不查询链上状态")
	default:
		return nil, err
	}

	registry, err := tools.Builtin(deps)
	if err != nil {
		return nil, err
	}
	a.Tools = registry

	llmClient, err := openai.NewClient(openai.Config{
		APIKey:  cfg.Secrets.LLMAPIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: seconds(cfg.LLM.TimeoutSeconds),
	})
	if err != nil {
		return nil, err
	}

	checkpointer, err := newCheckpointer(ctx, cfg.Storage.Memory)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, checkpointer.Close)

	runs, err := newRunRepository(ctx, cfg.Storage.Runs)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, runs.Close)

	systemPrompt := cfg.Agent.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = tools.SystemPrompt
	}
	a.Agent = agent.New(llmClient, registry,
		agent.WithSystemPrompt(systemPrompt),
		agent.WithMaxSteps(cfg.Agent.MaxSteps),
		agent.WithLLMTimeout(seconds(cfg.LLM.TimeoutSeconds)),
		agent.WithCheckpointer(checkpointer),
		agent.WithRunRepository(runs),
		agent.WithDefaultThread(cfg.Agent.ThreadID),
	)

	store, err := newTaskStore(ctx, cfg.Storage.TaskStore)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	queue, err := newTaskQueue(ctx, cfg.Task.Queue)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, queue.Close)

	a.Tasks = task.NewService(store, queue, cfg.Task.MaxRetries)
	a.Processor = task.NewProcessor(a.Agent, store, queue, queue,
		task.WithWorkerCount(cfg.Task.Workers),
		task.WithRetryBackoff(2*time.Second),
		task.WithAlertDispatcher(newAlertDispatcher(cfg.Observability)),
	)

	logger.L().Info("EventSync 组件初始化完成",
		slog.String("wallet", w.Address().Hex()),
		slog.Any("tools", registry.Names()),
		slog.String("task_store", cfg.Storage.TaskStore.Driver),
		slog.String("task_queue", cfg.Task.Queue.Driver),
	)
	return a, nil
}

// Close 释放所有已创建的资源。
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newCheckpointer(ctx context.Context, cfg config.MemoryConfig) (memory.Checkpointer, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.NewInMemory(cfg.MaxHistory), nil
	case "redis":
		return redis.NewCheckpointer(ctx, redis.Config{
			Address:    cfg.Addr,
			Password:   cfg.Password,
			DB:         cfg.DB,
			TTL:        seconds(cfg.TTLSeconds),
			MaxHistory: cfg.MaxHistory,
		})
	default:
		return nil, fmt.Errorf("未知的会话记忆驱动: %s", cfg.Driver)
	}
}

func newRunRepository(ctx context.Context, cfg config.RunsConfig) (mysql.RunRepository, error) {
	switch cfg.Driver {
	case "", "file":
		return mysql.NewFileRunRepository(cfg.Path)
	case "mysql":
		return mysql.NewSQLRunRepository(ctx, mysql.Config{DSN: cfg.DSN})
	default:
		return nil, fmt.Errorf("未知的运行记录驱动: %s", cfg.Driver)
	}
}

func newTaskStore(ctx context.Context, cfg config.TaskStoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func newTaskQueue(ctx context.Context, cfg config.QueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		queue, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:  cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Queue:    cfg.Key,
		})
		if err != nil {
			return nil, err
		}
		if n, err := queue.Recover(ctx); err != nil {
			logger.L().Warn("恢复处理中任务失败", slog.Any("error", err))
		} else if n > 0 {
			logger.L().Info("已重新入队未完成任务", slog.Int("count", n))
		}
		return queue, nil
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:     cfg.URL,
			Queue:   cfg.Name,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func newAlertDispatcher(cfg config.ObservabilityConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if url := strings.TrimSpace(cfg.AlertWebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    url,
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
