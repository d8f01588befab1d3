package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/firefly-engineering/devproxy/internal/history"
)

// auditLogger mirrors request records to a JSONL file with size-based rotation.
type auditLogger struct {
	path    string
	maxSize int64 // max file size in bytes before rotation (0 = no limit)
	file    *os.File
	size    int64
	mu      sync.Mutex
	logger  *slog.Logger
}

const (
	defaultAuditMaxSize = 50 * 1024 * 1024 // 50 MiB
	auditKeepFiles      = 3                 // keep current + 3 rotated files
)

func newAuditLogger(path string, logger *slog.Logger) (*auditLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	info, _ := f.Stat()
	var size int64
	if info != nil {
		size = info.Size()
	}
	return &auditLogger{
		path:    path,
		maxSize: defaultAuditMaxSize,
		file:    f,
		size:    size,
		logger:  logger,
	}, nil
}

func (al *auditLogger) log(rec history.Record) {
	al.mu.Lock()
	defer al.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		al.logger.Warn("audit log encode failed", "error", err)
		return
	}
	data = append(data, '\n')
	n, err := al.file.Write(data)
	if err != nil {
		al.logger.Warn("audit log write failed", "error", err)
		return
	}

	al.size += int64(n)
	if al.maxSize > 0 && al.size >= al.maxSize {
		al.rotate()
	}
}

func (al *auditLogger) rotate() {
	al.file.Close()

	// Shift existing rotated files: .3 -> deleted, .2 -> .3, .1 -> .2, current -> .1
	for i := auditKeepFiles; i > 0; i-- {
		old := fmt.Sprintf("%s.%d", al.path, i)
		if i == auditKeepFiles {
			os.Remove(old)
		}
		if i > 1 {
			prev := fmt.Sprintf("%s.%d", al.path, i-1)
			os.Rename(prev, old)
		} else {
			os.Rename(al.path, old)
		}
	}

	f, err := os.OpenFile(al.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		al.logger.Warn("audit log rotation failed", "error", err)
		return
	}
	al.file = f
	al.size = 0
}

func (al *auditLogger) close() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.file.Close()
}
