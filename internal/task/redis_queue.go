package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"EventSync-Agent/pkg/logger"
)

// DefaultRedisQueueKey 是未配置时使用的 Redis 列表键。
const DefaultRedisQueueKey = "eventsync:tasks"

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现任务队列。取出的任务先移入处理中列表，
// 处理完成后再删除，进程崩溃时可通过 Recover 重新入队。
type RedisQueue struct {
	client     *redis.Client
	queue      string
	processing string
	wait       time.Duration
	log        *slog.Logger
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = DefaultRedisQueueKey
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisQueue{
		client:     client,
		queue:      queue,
		processing: queue + ":processing",
		wait:       wait,
		log:        logger.Named("task.queue"),
	}, nil
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return fmt.Errorf("Redis 发布任务失败: %w", err)
	}
	return nil
}

// Recover 将上次未处理完的任务移回待处理队列，返回移动的数量。
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.queue, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("Redis 恢复任务失败: %w", err)
		}
		moved++
	}
}

// Consume 通过 BLMOVE 从 Redis 获取任务。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	if moved, err := q.Recover(ctx); err != nil {
		return err
	} else if moved > 0 {
		q.log.Warn("重新入队未完成任务", slog.Int("count", moved))
	}

	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				taskID, err := q.client.BLMove(ctx, q.queue, q.processing, "RIGHT", "LEFT", q.wait).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("Redis 取任务失败: %w", err)
					return
				}
				if handlerErr := handler(ctx, taskID); handlerErr != nil {
					q.log.Error("处理任务失败，重新入队", slog.String("task_id", taskID), slog.Any("error", handlerErr))
					_ = q.client.RPush(ctx, q.queue, taskID).Err()
				}
				if err := q.client.LRem(ctx, q.processing, 1, taskID).Err(); err != nil {
					q.log.Warn("清理处理中任务失败", slog.String("task_id", taskID), slog.Any("error", err))
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
