package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	fileName    = "journal.log"
	maxRetained = 512
)

// FileRepository 以 JSON Lines 追加写入本地文件，并在内存中保留最新的 512 条。
type FileRepository struct {
	mu       sync.RWMutex
	dataFile string
	entries  []Entry // 新记录在前
}

// NewFileRepository 在 dataDir 下创建或恢复日志文件。
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &FileRepository{dataFile: filepath.Join(dataDir, fileName)}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Append 追加一条记录。
func (r *FileRepository) Append(_ context.Context, entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化裁决记录失败: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开裁决日志失败: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入裁决日志失败: %w", err)
	}

	r.entries = append([]Entry{entry}, r.entries...)
	if len(r.entries) > maxRetained {
		r.entries = r.entries[:maxRetained]
	}
	return nil
}

// ListByAgent 返回代理最近的记录，按时间倒序。
func (r *FileRepository) ListByAgent(_ context.Context, agentID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]Entry, 0, limit)
	for _, entry := range r.entries {
		if entry.AgentID != agentID {
			continue
		}
		results = append(results, entry)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 无需释放资源。
func (r *FileRepository) Close() error { return nil }

func (r *FileRepository) loadFromDisk() error {
	file, err := os.OpenFile(r.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取裁决日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []Entry
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		restored = append(restored, entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析裁决日志失败: %w", err)
	}

	if len(restored) > maxRetained {
		restored = restored[len(restored)-maxRetained:]
	}
	r.entries = make([]Entry, len(restored))
	for i, entry := range restored {
		r.entries[len(restored)-1-i] = entry
	}
	return nil
}
