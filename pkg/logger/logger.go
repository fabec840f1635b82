package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var (
	mu           sync.RWMutex
	currentLevel = INFO
	sink         = &fileSink{}
)

// fileSink appends JSON lines to a log file, rotating by size and by day.
type fileSink struct {
	mu           sync.Mutex
	file         *os.File
	path         string
	rotate       bool
	maxBytes     int64
	maxAgeDays   int
	written      int64
	lastRotation time.Time
}

type entry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// EnableFileLogging opens path for append and mirrors every log entry to it
// as a JSON line. Rotation keeps at most maxSizeMB per file and deletes
// rotated files older than maxAgeDays.
func EnableFileLogging(path string, rotate bool, maxSizeMB, maxAgeDays int) error {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	var size int64
	if stat, statErr := f.Stat(); statErr == nil {
		size = stat.Size()
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.file != nil {
		sink.file.Close()
	}
	sink.file = f
	sink.path = path
	sink.rotate = rotate
	sink.maxBytes = int64(maxSizeMB) * 1024 * 1024
	sink.maxAgeDays = maxAgeDays
	sink.written = size
	sink.lastRotation = time.Now()
	return nil
}

func DisableFileLogging() {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.file != nil {
		sink.file.Close()
		sink.file = nil
	}
}

func (s *fileSink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	if s.shouldRotate() {
		if err := s.rotateLocked(); err != nil {
			log.Printf("log rotation failed: %v", err)
		}
	}
	n, err := s.file.Write(append(line, '\n'))
	if err == nil {
		s.written += int64(n)
	}
}

func (s *fileSink) shouldRotate() bool {
	if !s.rotate {
		return false
	}
	if s.maxBytes > 0 && s.written >= s.maxBytes {
		return true
	}
	if s.maxAgeDays > 0 {
		now := time.Now()
		if now.YearDay() != s.lastRotation.YearDay() || now.Year() != s.lastRotation.Year() {
			return true
		}
	}
	return false
}

func (s *fileSink) rotateLocked() error {
	s.file.Close()
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, rotated); err != nil {
		if f, openErr := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); openErr == nil {
			s.file = f
		}
		return fmt.Errorf("rename log file: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen log file: %w", err)
	}
	s.file = f
	s.written = 0
	s.lastRotation = time.Now()
	go s.cleanRotated()
	return nil
}

func (s *fileSink) cleanRotated() {
	if s.maxAgeDays <= 0 {
		return
	}
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base+".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func logMessage(level LogLevel, component, message string, fields map[string]interface{}) {
	if level < GetLevel() {
		return
	}

	e := entry{
		Level:     levelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}
	if data, err := json.Marshal(e); err == nil {
		sink.write(data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s]", e.Timestamp, levelNames[level])
	if component != "" {
		fmt.Fprintf(&b, " %s:", component)
	}
	b.WriteByte(' ')
	b.WriteString(message)
	if len(fields) > 0 {
		b.WriteByte(' ')
		b.WriteString(formatFields(fields))
	}
	log.Println(b.String())

	if level == FATAL {
		os.Exit(1)
	}
}

func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func Debug(message string)             { logMessage(DEBUG, "", message, nil) }
func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }
func Info(message string)              { logMessage(INFO, "", message, nil) }
func InfoC(component, message string)  { logMessage(INFO, component, message, nil) }
func Warn(message string)              { logMessage(WARN, "", message, nil) }
func WarnC(component, message string)  { logMessage(WARN, component, message, nil) }
func Error(message string)             { logMessage(ERROR, "", message, nil) }
func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }
func Fatal(message string)             { logMessage(FATAL, "", message, nil) }
func FatalC(component, message string) { logMessage(FATAL, component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}

func FatalCF(component, message string, fields map[string]interface{}) {
	logMessage(FATAL, component, message, fields)
}
