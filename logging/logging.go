package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"rankpool/models"
)

const DefaultMaxSize = 2 * 1024 * 1024 // 2MB

type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup tees the standard logger into a size-capped file next to stdout.
func Setup(logPath string, maxSize int64) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	// Truncate if too large on startup
	if info, err := os.Stat(logPath); err == nil && info.Size() > maxSize {
		os.Truncate(logPath, 0)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, _ := f.Stat()
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	rw := &RotatingWriter{
		file:    f,
		path:    logPath,
		size:    size,
		maxSize: maxSize,
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rw))
	return rw, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()

	// Keep one backup
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

var (
	levelMu  sync.RWMutex
	minLevel = models.LogLevelInfo
)

// SetLevel drops messages below min. Unknown levels keep everything.
func SetLevel(min models.LogLevel) {
	levelMu.Lock()
	minLevel = min
	levelMu.Unlock()
}

// Logf writes "[level] source: message" through the standard logger.
func Logf(level models.LogLevel, source, format string, args ...any) {
	levelMu.RLock()
	min := minLevel
	levelMu.RUnlock()
	if !level.Enabled(min) {
		return
	}
	log.Printf("[%s] %s: %s", level, source, fmt.Sprintf(format, args...))
}
