package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"EventSync-Agent/internal/agent"
	"EventSync-Agent/internal/auth"
	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/llm"
	"EventSync-Agent/internal/observability/metrics"
	"EventSync-Agent/internal/task"
	"EventSync-Agent/internal/tools"
	"EventSync-Agent/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Chatter 是 /chat 与历史查询依赖的 Agent 能力。
type Chatter interface {
	Stream(ctx context.Context, req agent.TaskRequest, emit func(agent.Chunk)) (*agent.TaskResult, error)
	ListHistory(ctx context.Context, threadID string, limit int) ([]agent.TaskResult, error)
}

// ToolCatalog 列出可用工具。
type ToolCatalog interface {
	Specs() []llm.ToolSpec
}

// Server 负责暴露 REST 接口，供外部驱动智能体执行。
type Server struct {
	addr        string
	tasks       *task.Service
	agent       Chatter
	tools       ToolCatalog
	redirectURL string
	staticDir   string
	auth        *auth.Service
	log         *slog.Logger
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithAgent 配置对话接口使用的 Agent。
func WithAgent(ag Chatter) Option {
	return func(s *Server) { s.agent = ag }
}

// WithTools 配置工具目录。
func WithTools(catalog ToolCatalog) Option {
	return func(s *Server) { s.tools = catalog }
}

// WithRedirectURL 设置根路径跳转的目标地址。
func WithRedirectURL(url string) Option {
	return func(s *Server) { s.redirectURL = url }
}

// WithStaticDir 以 /static/ 前缀提供该目录下的文件。
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// WithAuth 为 /api/v1 下的接口启用令牌认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...Option) *Server {
	s := &Server{addr: addr, tasks: tasks, log: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回带 CORS 与指标中间件的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.Handle("POST /api/v1/tasks", s.protect("task_submit", s.handleCreateTask))
	mux.Handle("GET /api/v1/tasks", s.protect("task_list", s.handleListTasks))
	mux.Handle("GET /api/v1/tasks/stats", s.protect("task_stats", s.handleTaskStats))
	mux.Handle("GET /api/v1/tasks/{id}", s.protect("task_detail", s.handleTaskDetail))
	mux.Handle("GET /api/v1/history", s.protect("history", s.handleHistory))
	mux.Handle("GET /api/v1/tools", s.protect("tools", s.handleTools))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	if s.staticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	}
	return withCORS(withMetrics(mux))
}

func (s *Server) protect(event string, h http.HandlerFunc) http.Handler {
	if !s.auth.Enabled() {
		return h
	}
	return s.auth.Middleware(event)(h)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	target := s.redirectURL
	if target == "" {
		target = "/healthz"
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// handleChat 运行一轮对话，只返回 Agent 自身的输出，工具观察不计入响应。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空"))
		return
	}

	var response strings.Builder
	_, err := s.agent.Stream(r.Context(), agent.TaskRequest{ThreadID: req.ThreadID, Message: req.Message}, func(c agent.Chunk) {
		if c.Kind == agent.ChunkAgent {
			response.WriteString(c.Content)
		}
	})
	if err != nil {
		s.log.Error("对话执行失败", slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: response.String()})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	var req agent.TaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空"))
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "Agent 未初始化"))
		return
	}
	query := r.URL.Query()
	limit, err := parseInt(query.Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := s.agent.ListHistory(r.Context(), query.Get("thread_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	specs := make([]llm.ToolSpec, 0)
	if s.tools != nil {
		specs = append(specs, s.tools.Specs()...)
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := parseInt(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := parseInt(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("updated_since"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithUpdatedSince(ts))
	}
	if raw := query.Get("updated_until"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithUpdatedUntil(ts))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "has_result 必须是布尔值")
		}
		opts = append(opts, task.WithResultPresence(hasResult))
	}
	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 只支持 asc 或 desc")
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	return opts, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "参数必须是非负整数: "+raw)
	}
	return value, nil
}

// parseTime 接受 Unix 秒或 RFC3339 时间。
func parseTime(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "时间格式应为 Unix 秒或 RFC3339")
	}
	return ts, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if coded, ok := xerrors.From(err); ok {
		message = coded.Message()
	}
	writeJSON(w, statusFor(err), errorResponse{Error: message, Code: string(code)})
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation, tools.CodeInvalidArguments:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound, tools.CodeToolNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeUpstreamFailure, xerrors.CodeUpstreamUnauthorized, xerrors.CodeUpstreamRateLimited, xerrors.CodeUpstreamRejected:
		return http.StatusBadGateway
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// withCORS 放行所有来源、方法与请求头，预检请求直接返回。
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
				header.Set("Access-Control-Allow-Headers", requested)
			} else {
				header.Set("Access-Control-Allow-Headers", "*")
			}
			header.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(started))
	})
}
