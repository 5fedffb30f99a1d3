// Package logger provides the leveled logging used across the launch flow
// and its HTTP surface, as a thin wrapper over the standard logger.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level orders log priorities from most to least verbose.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

var (
	std          = log.New(os.Stdout, "", log.LstdFlags)
	currentLevel = InfoLevel
)

// Initialize sets the process-wide level from a config string ("debug",
// "info", "warn", "error"). Unknown or empty values mean info. Debug also
// turns on source locations.
func Initialize(level string) {
	switch strings.ToLower(level) {
	case "debug":
		currentLevel = DebugLevel
		std.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		return
	case "warn", "warning":
		currentLevel = WarnLevel
	case "error":
		currentLevel = ErrorLevel
	default:
		currentLevel = InfoLevel
	}
	std.SetFlags(log.Ldate | log.Ltime)
}

func output(level Level, format string, v ...any) {
	if level < currentLevel {
		return
	}
	std.SetPrefix("[" + levelNames[level] + "] ")
	_ = std.Output(3, fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) { output(DebugLevel, format, v...) }
func Info(format string, v ...any)  { output(InfoLevel, format, v...) }
func Warn(format string, v ...any)  { output(WarnLevel, format, v...) }
func Error(format string, v ...any) { output(ErrorLevel, format, v...) }
