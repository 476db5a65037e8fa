package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/llm"
	"EventSync-Agent/internal/memory"
	"EventSync-Agent/internal/storage/mysql"
	"EventSync-Agent/pkg/logger"
)

// DefaultThreadID 是未指定会话时使用的线程标识。
const DefaultThreadID = "EventSync Agent"

const (
	defaultMaxSteps    = 8
	defaultMemoryDepth = 20
)

// ChunkKind 区分流式输出的来源。
type ChunkKind string

const (
	ChunkAgent ChunkKind = "agent"
	ChunkTools ChunkKind = "tools"
)

// Chunk 是一次运行过程中产生的一段输出。
type Chunk struct {
	Kind    ChunkKind `json:"kind"`
	Content string    `json:"content"`
}

// TaskRequest 描述一次对话输入或一条脚本化指令。
// Tool 非空时直接调用该工具，不经过大模型。
type TaskRequest struct {
	ID        string          `json:"id,omitempty"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// ToolInvocation 记录一次工具调用。
type ToolInvocation struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    string          `json:"output"`
	Error     string          `json:"error,omitempty"`
}

// TaskResult 汇总一次运行的回复与工具观察。
type TaskResult struct {
	ThreadID     string           `json:"thread_id"`
	Input        string           `json:"input"`
	Reply        string           `json:"reply"`
	ToolCalls    []ToolInvocation `json:"tool_calls,omitempty"`
	Observations string           `json:"observations,omitempty"`
	Steps        int              `json:"steps"`
	CreatedAt    int64            `json:"created_at"`
}

// ToolNames 返回本次运行调用过的工具名称。
func (r *TaskResult) ToolNames() []string {
	if r == nil || len(r.ToolCalls) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.ToolCalls))
	for _, call := range r.ToolCalls {
		names = append(names, call.Name)
	}
	return names
}

// ToolRunner 是 Agent 依赖的工具注册表能力。
type ToolRunner interface {
	Specs() []llm.ToolSpec
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Agent 以 ReAct 循环协调大模型与 Eventbrite / POAP 工具。
type Agent struct {
	llmClient    llm.Client
	tools        ToolRunner
	checkpointer memory.Checkpointer
	runs         mysql.RunRepository
	systemPrompt string
	maxSteps     int
	memoryDepth  int
	llmTimeout   time.Duration
	threadID     string
	log          *slog.Logger

	locks sync.Map
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithSystemPrompt 设置每轮对话前置的系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithMaxSteps 限制单次运行中调用大模型的次数。
func WithMaxSteps(steps int) Option {
	return func(a *Agent) {
		a.maxSteps = steps
	}
}

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.llmTimeout = timeout
	}
}

// WithCheckpointer 配置会话记忆。
func WithCheckpointer(cp memory.Checkpointer) Option {
	return func(a *Agent) {
		a.checkpointer = cp
	}
}

// WithRunRepository 配置运行记录仓库。
func WithRunRepository(repo mysql.RunRepository) Option {
	return func(a *Agent) {
		a.runs = repo
	}
}

// WithMemoryDepth 设置 ListHistory 未指定数量时返回的记录数。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		a.memoryDepth = depth
	}
}

// WithDefaultThread 设置未指定会话时使用的线程标识。
func WithDefaultThread(threadID string) Option {
	return func(a *Agent) {
		a.threadID = strings.TrimSpace(threadID)
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, tools ToolRunner, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:   llmClient,
		tools:       tools,
		maxSteps:    defaultMaxSteps,
		memoryDepth: defaultMemoryDepth,
		threadID:    DefaultThreadID,
		log:         logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.maxSteps <= 0 {
		ag.maxSteps = defaultMaxSteps
	}
	if ag.memoryDepth <= 0 {
		ag.memoryDepth = defaultMemoryDepth
	}
	if ag.threadID == "" {
		ag.threadID = DefaultThreadID
	}
	return ag
}

// Execute 运行一次请求并返回汇总结果。
func (a *Agent) Execute(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	return a.Stream(ctx, req, nil)
}

// Stream 与 Execute 相同，但在产生输出时立即回调 emit。
func (a *Agent) Stream(ctx context.Context, req TaskRequest, emit func(Chunk)) (*TaskResult, error) {
	if a.tools == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具注册表")
	}
	req.Message = strings.TrimSpace(req.Message)
	req.Tool = strings.TrimSpace(req.Tool)
	if req.Message == "" && req.Tool == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = a.threadID
	}
	if emit == nil {
		emit = func(Chunk) {}
	}

	var (
		result *TaskResult
		err    error
	)
	if req.Tool != "" {
		result, err = a.runScripted(ctx, threadID, req, emit)
	} else {
		result, err = a.runConversation(ctx, threadID, req.Message, emit)
	}
	if err != nil {
		return nil, err
	}

	if err := a.record(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// runScripted 直接调用指定工具，错误原样返回以便任务处理器判断是否重试。
func (a *Agent) runScripted(ctx context.Context, threadID string, req TaskRequest, emit func(Chunk)) (*TaskResult, error) {
	out, err := a.tools.Invoke(ctx, req.Tool, req.Arguments)
	if err != nil {
		return nil, err
	}
	emit(Chunk{Kind: ChunkTools, Content: out})

	input := req.Message
	if input == "" {
		input = fmt.Sprintf("%s %s", req.Tool, strings.TrimSpace(string(req.Arguments)))
	}
	return &TaskResult{
		ThreadID:     threadID,
		Input:        strings.TrimSpace(input),
		Reply:        out,
		ToolCalls:    []ToolInvocation{{Name: req.Tool, Arguments: req.Arguments, Output: out}},
		Observations: out,
		Steps:        0,
		CreatedAt:    time.Now().Unix(),
	}, nil
}

func (a *Agent) runConversation(ctx context.Context, threadID, input string, emit func(Chunk)) (*TaskResult, error) {
	if a.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	unlock, err := a.lockThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	history, err := a.loadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	messages := append(history, llm.Message{Role: llm.RoleUser, Content: input})

	result := &TaskResult{ThreadID: threadID, Input: input}
	var observations []string
	specs := a.tools.Specs()
	finished := false

	for result.Steps < a.maxSteps {
		result.Steps++
		resp, err := a.chat(ctx, llm.Request{Messages: a.withSystemPrompt(messages), Tools: specs})
		if err != nil {
			return nil, err
		}
		reply := resp.Message
		reply.Role = llm.RoleAssistant
		messages = append(messages, reply)

		if strings.TrimSpace(reply.Content) != "" {
			emit(Chunk{Kind: ChunkAgent, Content: reply.Content})
		}
		if len(reply.ToolCalls) == 0 {
			result.Reply = reply.Content
			finished = true
			break
		}

		for _, call := range reply.ToolCalls {
			invocation := a.invoke(ctx, call)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "运行被取消")
			}
			emit(Chunk{Kind: ChunkTools, Content: invocation.Output})
			result.ToolCalls = append(result.ToolCalls, invocation)
			observations = append(observations, invocation.Output)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    invocation.Output,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	if !finished {
		result.Reply = fmt.Sprintf("Stopped after %d steps without a final answer.", a.maxSteps)
		a.log.Warn("达到最大推理步数",
			slog.String("thread_id", threadID),
			slog.Int("max_steps", a.maxSteps),
		)
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: result.Reply})
	}
	result.Observations = strings.Join(observations, "\n")
	result.CreatedAt = time.Now().Unix()

	if a.checkpointer != nil {
		if err := a.checkpointer.Save(ctx, threadID, messages); err != nil {
			return nil, xerrors.Ensure(err, xerrors.CodeStorageFailure, "保存会话历史失败")
		}
	}
	return result, nil
}

// invoke 执行模型请求的工具，错误转为观察文本交给模型。
func (a *Agent) invoke(ctx context.Context, call llm.ToolCall) ToolInvocation {
	args := json.RawMessage(call.Arguments)
	invocation := ToolInvocation{Name: call.Name, Arguments: args}
	out, err := a.tools.Invoke(ctx, call.Name, args)
	invocation.Output = out
	if err != nil {
		invocation.Error = err.Error()
		if strings.TrimSpace(out) == "" {
			invocation.Output = "Error: " + err.Error()
		}
	}
	return invocation
}

func (a *Agent) chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	resp, err := a.llmClient.Chat(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Ensure(err, xerrors.CodeExecutorFailure, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "大模型返回空响应")
	}
	return resp, nil
}

func (a *Agent) withSystemPrompt(messages []llm.Message) []llm.Message {
	if strings.TrimSpace(a.systemPrompt) == "" {
		return messages
	}
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt})
	return append(out, messages...)
}

func (a *Agent) loadThread(ctx context.Context, threadID string) ([]llm.Message, error) {
	if a.checkpointer == nil {
		return nil, nil
	}
	history, err := a.checkpointer.Load(ctx, threadID)
	if err != nil {
		return nil, xerrors.Ensure(err, xerrors.CodeStorageFailure, "加载会话历史失败")
	}
	return history, nil
}

func (a *Agent) record(ctx context.Context, result *TaskResult) error {
	if a.runs == nil || result == nil {
		return nil
	}
	record := &mysql.RunRecord{
		ThreadID:     result.ThreadID,
		Input:        result.Input,
		Reply:        result.Reply,
		Tools:        result.ToolNames(),
		Observations: result.Observations,
		CreatedAt:    result.CreatedAt,
	}
	if err := a.runs.Create(ctx, record); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存运行记录失败")
	}
	return nil
}

// ListHistory 获取最近的运行记录，threadID 为空时返回所有会话。
func (a *Agent) ListHistory(ctx context.Context, threadID string, limit int) ([]TaskResult, error) {
	if a.runs == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置运行记录仓库")
	}
	if limit <= 0 {
		limit = a.memoryDepth
	}
	records, err := a.runs.ListLatest(ctx, strings.TrimSpace(threadID), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行记录失败")
	}

	results := make([]TaskResult, 0, len(records))
	for _, record := range records {
		calls := make([]ToolInvocation, 0, len(record.Tools))
		for _, name := range record.Tools {
			calls = append(calls, ToolInvocation{Name: name})
		}
		results = append(results, TaskResult{
			ThreadID:     record.ThreadID,
			Input:        record.Input,
			Reply:        record.Reply,
			ToolCalls:    calls,
			Observations: record.Observations,
			CreatedAt:    record.CreatedAt,
		})
	}
	return results, nil
}

// lockThread 串行化同一会话上的对话，避免会话历史互相覆盖。
// 等待期间上下文结束时返回 CodeTimeout。
func (a *Agent) lockThread(ctx context.Context, threadID string) (func(), error) {
	value, _ := a.locks.LoadOrStore(threadID, make(chan struct{}, 1))
	sem := value.(chan struct{})
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待会话锁超时")
	}
}
