/*
NAME
  mxlog.go - structured, leveled, rotating logger used throughout the
  switching engine.

DESCRIPTION
  The Logger interface matches the shape revid/revid.go declares locally
  (SetLevel(int8), Log(level int8, message string, params ...interface{}),
  plus the Debug/Info/Warning/Error convenience wrappers used at every call
  site in revid.go, senders.go and pipeline.go) so that code carried over
  from the teacher keeps compiling against the same calling convention.
  cmd/rv/main.go wires gopkg.in/natefinch/lumberjack.v2 for log-file
  rotation; mxlog.New does the same so a long-running engine process never
  grows an unbounded log file.

LICENSE
  See repository LICENSE.
*/

// Package mxlog provides the leveled, rotating logger used across the
// switching engine's packages.
package mxlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, matching the int8 level scale the teacher's Logger
// interface uses (lower is more severe).
const (
	Error   int8 = 0
	Warning int8 = 1
	Info    int8 = 2
	Debug   int8 = 3
)

// Logger is the leveled logging interface every package in this module
// depends on.
type Logger interface {
	SetLevel(level int8)
	Log(level int8, message string, params ...interface{})
	Debug(message string, params ...interface{})
	Info(message string, params ...interface{})
	Warning(message string, params ...interface{})
	Error(message string, params ...interface{})
}

// FileLogger writes leveled, rotating log lines to a file (or any
// io.Writer, for tests).
type FileLogger struct {
	mu    sync.Mutex
	level int8
	out   *log.Logger
}

// Config controls log destination and rotation, mirroring the fields
// cmd/rv/main.go passes to lumberjack.Logger.
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New returns a FileLogger writing to a lumberjack-rotated file described by
// cfg, at the given starting level.
func New(cfg Config, level int8) *FileLogger {
	var w io.Writer
	if cfg.Path == "" {
		w = os.Stderr
	} else {
		w = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	}
	return &FileLogger{level: level, out: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

// NewWriter is used by tests to capture log output without touching disk.
func NewWriter(w io.Writer, level int8) *FileLogger {
	return &FileLogger{level: level, out: log.New(w, "", 0)}
}

func (l *FileLogger) SetLevel(level int8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

var levelName = map[int8]string{Error: "ERROR", Warning: "WARN", Info: "INFO", Debug: "DEBUG"}

// Log writes message at level, appended with any params as key/value pairs,
// if level is at or below the logger's current threshold.
func (l *FileLogger) Log(level int8, message string, params ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	line := fmt.Sprintf("[%s] %s", levelName[level], message)
	for i := 0; i+1 < len(params); i += 2 {
		line += fmt.Sprintf(" %v=%v", params[i], params[i+1])
	}
	l.out.Println(line)
}

func (l *FileLogger) Debug(message string, params ...interface{})   { l.Log(Debug, message, params...) }
func (l *FileLogger) Info(message string, params ...interface{})    { l.Log(Info, message, params...) }
func (l *FileLogger) Warning(message string, params ...interface{}) { l.Log(Warning, message, params...) }
func (l *FileLogger) Error(message string, params ...interface{})   { l.Log(Error, message, params...) }
