package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/llm"
	"EventSync-Agent/internal/memory"
)

const keyPrefix = "eventsync:thread:"

// Config 描述会话记忆所用的 Redis 连接。
type Config struct {
	Address    string
	Password   string
	DB         int
	TTL        time.Duration
	MaxHistory int
}

// Checkpointer 将每个会话的消息历史以 JSON 保存在单个键中。
type Checkpointer struct {
	client     *goredis.Client
	ttl        time.Duration
	maxHistory int
}

var _ memory.Checkpointer = (*Checkpointer)(nil)

// NewCheckpointer 创建并校验 Redis 连接。
func NewCheckpointer(ctx context.Context, cfg Config) (*Checkpointer, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &Checkpointer{client: client, ttl: cfg.TTL, maxHistory: cfg.MaxHistory}, nil
}

// Load 读取会话历史，键不存在时返回空历史。
func (c *Checkpointer) Load(ctx context.Context, threadID string) ([]llm.Message, error) {
	raw, err := c.client.Get(ctx, threadKey(threadID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话历史失败")
	}
	return decode(raw)
}

// Save 覆盖会话历史并刷新过期时间。
func (c *Checkpointer) Save(ctx context.Context, threadID string, messages []llm.Message) error {
	raw, err := encode(memory.Trim(messages, c.maxHistory))
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, threadKey(threadID), raw, c.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存会话历史失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (c *Checkpointer) Close() error {
	return c.client.Close()
}

func threadKey(threadID string) string {
	return keyPrefix + threadID
}

func encode(messages []llm.Message) ([]byte, error) {
	if messages == nil {
		messages = []llm.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话历史失败", xerrors.WithRetryable(false))
	}
	return raw, nil
}

func decode(raw []byte) ([]llm.Message, error) {
	var messages []llm.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话历史失败", xerrors.WithRetryable(false))
	}
	return messages, nil
}
