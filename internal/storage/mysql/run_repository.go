package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const fileRetention = 512

// RunRecord 表示一次智能体对话轮次的落库结构。
type RunRecord struct {
	ID           int64    `json:"id"`
	ThreadID     string   `json:"thread_id"`
	Input        string   `json:"input"`
	Reply        string   `json:"reply"`
	Tools        []string `json:"tools,omitempty"`
	Observations string   `json:"observations,omitempty"`
	CreatedAt    int64    `json:"created_at"`
}

// RunRepository 抽象运行记录的持久化接口。
type RunRepository interface {
	Create(ctx context.Context, record *RunRecord) error
	ListLatest(ctx context.Context, threadID string, limit int) ([]RunRecord, error)
	Close() error
}

// FileRunRepository 以追加写的 JSON 行日志保存运行记录，并在内存中保留最近的部分。
type FileRunRepository struct {
	mu       sync.RWMutex
	dataFile string
	nextID   int64
	records  []RunRecord
}

// NewFileRunRepository 打开（或创建）指定路径的运行日志。
func NewFileRunRepository(path string) (*FileRunRepository, error) {
	if path == "" {
		path = "runs.jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileRunRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Create 分配自增编号并追加写入日志。
func (m *FileRunRepository) Create(_ context.Context, record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("运行记录不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开运行日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化运行记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入运行日志失败: %w", err)
	}

	m.records = append([]RunRecord{cloneRecord(*record)}, m.records...)
	if len(m.records) > fileRetention {
		m.records = m.records[:fileRetention]
	}
	return nil
}

// ListLatest 按时间倒序返回记录，threadID 为空时返回所有会话。
func (m *FileRunRepository) ListLatest(_ context.Context, threadID string, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]RunRecord, 0)
	for _, record := range m.records {
		if threadID != "" && record.ThreadID != threadID {
			continue
		}
		results = append(results, cloneRecord(record))
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 无需释放资源。
func (m *FileRunRepository) Close() error { return nil }

func (m *FileRunRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取运行日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var restored []RunRecord
	for scanner.Scan() {
		var record RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]RunRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析运行日志失败: %w", err)
	}

	if len(restored) > fileRetention {
		restored = restored[:fileRetention]
	}
	m.records = restored
	return nil
}

func cloneRecord(record RunRecord) RunRecord {
	if record.Tools != nil {
		record.Tools = append([]string(nil), record.Tools...)
	}
	return record
}

// SQLRunRepository 使用 MySQL 存储运行记录。
type SQLRunRepository struct {
	db *sql.DB
}

// NewSQLRunRepository 建立连接池并执行迁移。
func NewSQLRunRepository(ctx context.Context, cfg Config) (*SQLRunRepository, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLRunRepository{db: db}, nil
}

const insertRunSQL = `INSERT INTO agent_runs
    (thread_id, input, reply, tools, observations, created_at)
    VALUES (?, ?, ?, ?, ?, ?)`

const selectRunColumns = `SELECT id, thread_id, input, reply, tools, observations, created_at FROM agent_runs`

// Create 写入一条运行记录并回填自增编号。
func (s *SQLRunRepository) Create(ctx context.Context, record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("运行记录不能为空")
	}
	tools, err := json.Marshal(nonNilTools(record.Tools))
	if err != nil {
		return fmt.Errorf("序列化工具列表失败: %w", err)
	}
	result, err := s.db.ExecContext(ctx, insertRunSQL,
		record.ThreadID,
		record.Input,
		record.Reply,
		string(tools),
		record.Observations,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// ListLatest 查询最近的若干条运行记录。
func (s *SQLRunRepository) ListLatest(ctx context.Context, threadID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if threadID == "" {
		rows, err = s.db.QueryContext(ctx, selectRunColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectRunColumns+` WHERE thread_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, threadID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	records := make([]RunRecord, 0)
	for rows.Next() {
		var (
			record RunRecord
			tools  string
		)
		if err := rows.Scan(&record.ID, &record.ThreadID, &record.Input, &record.Reply, &tools, &record.Observations, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析运行记录失败: %w", err)
		}
		if tools != "" {
			if err := json.Unmarshal([]byte(tools), &record.Tools); err != nil {
				return nil, fmt.Errorf("解析工具列表失败: %w", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRunRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nonNilTools(tools []string) []string {
	if tools == nil {
		return []string{}
	}
	return tools
}
