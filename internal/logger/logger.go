package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"facedetect/internal/config"

	"github.com/sirupsen/logrus"
)

// Logger provides leveled logging (debug/info/warning/error) to per-level files and stderr.
type Logger struct {
	log    *logrus.Logger
	logDir string
	files  map[logrus.Level]*os.File
	mu     sync.Mutex
}

// levelFiles maps each level to the file it is mirrored into.
var levelFiles = map[logrus.Level]string{
	logrus.InfoLevel:  "info.log",
	logrus.WarnLevel:  "warning.log",
	logrus.ErrorLevel: "error.log",
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(config *config.Config) *Logger {
	l, err := New(config.LogDirectory, config.LogLevel)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	return l
}

// New creates a Logger writing into logDir. An empty logDir disables the log files.
func New(logDir, level string) (*Logger, error) {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	l := &Logger{
		log:    base,
		logDir: logDir,
		files:  make(map[logrus.Level]*os.File),
	}

	if logDir == "" {
		return l, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	for lvl, name := range levelFiles {
		file, err := openLogFile(filepath.Join(logDir, name))
		if err != nil {
			l.Close()
			return nil, err
		}
		l.files[lvl] = file
	}
	base.AddHook(&fileHook{logger: l, formatter: &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}})

	return l, nil
}

// NewDiscard returns a Logger that drops everything. Handy in tests.
func NewDiscard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{log: base, files: map[logrus.Level]*os.File{}}
}

// openLogFile opens or creates a log file for appending.
func openLogFile(filename string) (*os.File, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filename, err)
	}
	return file, nil
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.log.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.log.Errorf(format, v...)
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logDir == "" {
		return nil
	}
	filePath := filepath.Join(l.logDir, fileName)
	if err := os.Truncate(filePath, 0); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", fileName, err)
	}
	return nil
}

// Close releases the log files.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for lvl, f := range l.files {
		f.Close()
		delete(l.files, lvl)
	}
}

// fileHook mirrors entries into the file of their level.
type fileHook struct {
	logger    *Logger
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel, logrus.FatalLevel}
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	lvl := entry.Level
	if lvl == logrus.FatalLevel {
		lvl = logrus.ErrorLevel
	}

	h.logger.mu.Lock()
	defer h.logger.mu.Unlock()

	file, ok := h.logger.files[lvl]
	if !ok {
		return nil
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = file.Write(line)
	return err
}
