package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes timestamped session logs to a file. Pipeline components take
// a plain func(string) callback; Func adapts a Logger into one.
type Logger struct {
	file    *os.File
	mu      sync.Mutex
	verbose bool
}

// NewLogger creates a new Logger instance. When verbose is true every line is
// mirrored to stderr.
func NewLogger(verbose bool) *Logger {
	return &Logger{verbose: verbose}
}

// Init starts logging to a new file in logDir. Each run of the same day gets
// its own numbered file.
func (l *Logger) Init(logDir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	dateStr := time.Now().Format("2006-01-02")
	matches, _ := filepath.Glob(filepath.Join(logDir, fmt.Sprintf("sqlchart_%s_*.log", dateStr)))
	filename := filepath.Join(logDir, fmt.Sprintf("sqlchart_%s_%d.log", dateStr, len(matches)+1))

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	l.file = f
	l.write("session started")
	return nil
}

// Log writes a message to the log file.
func (l *Logger) Log(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(message)
}

// Logf writes a formatted message to the log file.
func (l *Logger) Logf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(fmt.Sprintf(format, args...))
}

// Func returns a callback suitable for pipeline components. A nil Logger
// yields a no-op callback.
func (l *Logger) Func() func(string) {
	if l == nil {
		return func(string) {}
	}
	return l.Log
}

func (l *Logger) write(message string) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05.000"), message)
	if l.verbose {
		fmt.Fprintln(os.Stderr, line)
	}
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
}

// Close flushes and closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.write("session closed")
		l.file.Close()
		l.file = nil
	}
}
