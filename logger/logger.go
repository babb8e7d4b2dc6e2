//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoETL.
//
// GoETL is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoETL is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoETL. If not, see https://www.gnu.org/licenses/.

// Package logger provides leveled logging for the aggregation stage.
//
// Log lines are written through the standard library log package as
// "[timestamp] [LEVEL] message". Components accept a Logger so callers can
// route, silence or capture diagnostics.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level defines log levels.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	// OFF disables logging.
	OFF
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case OFF:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "OFF", "NONE":
		return OFF, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", name)
}

// Logger is the logging contract used across the module.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

type stdLogger struct {
	mu     sync.Mutex
	level  Level
	logger *log.Logger
}

// NewLogger creates a Logger writing lines at or above level to output.
func NewLogger(level Level, output io.Writer) Logger {
	return &stdLogger{
		level:  level,
		logger: log.New(output, "", 0),
	}
}

func (l *stdLogger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *stdLogger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *stdLogger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *stdLogger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

func (l *stdLogger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *stdLogger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	enabled := l.level != OFF && level >= l.level
	l.mu.Unlock()
	if !enabled {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	l.logger.Printf("[%s] [%s] %s", ts, level, fmt.Sprintf(format, args...))
}

type discardLogger struct{}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() Logger { return discardLogger{} }

func (discardLogger) Debug(string, ...interface{}) {}
func (discardLogger) Info(string, ...interface{})  {}
func (discardLogger) Warn(string, ...interface{})  {}
func (discardLogger) Error(string, ...interface{}) {}
func (discardLogger) SetLevel(Level)               {}

var (
	defaultMu       sync.RWMutex
	defaultInstance = NewLogger(INFO, os.Stderr)
)

// SetDefault replaces the process-wide default logger.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defaultInstance = l
	defaultMu.Unlock()
}

// GetDefault returns the process-wide default logger.
func GetDefault() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultInstance
}
