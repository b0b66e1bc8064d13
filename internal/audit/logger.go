package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileLogger appends entries to a JSON-lines file. The file is opened on
// the first write and kept open until Close. A nil or path-less logger
// discards everything.
type FileLogger struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func NewFileLogger(path string) *FileLogger {
	return &FileLogger{path: path}
}

func (l *FileLogger) Write(e Entry) error {
	if l == nil || l.path == "" {
		return nil
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
			return fmt.Errorf("create audit log dir: %w", err)
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		l.f = f
	}
	if _, err := l.f.Write(line); err != nil {
		// Reopen on the next write; the file may have been rotated away.
		_ = l.f.Close()
		l.f = nil
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (l *FileLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
