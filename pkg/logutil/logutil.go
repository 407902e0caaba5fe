package logutil

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/charmbracelet/log"
)

var (
	outputMu  sync.Mutex
	outputTee io.Writer
	level     = log.InfoLevel
	formatter = log.TextFormatter
)

// Configure sets the level and formatter for the default logger and for
// loggers created afterwards with New.
func Configure(levelRaw, formatRaw string) error {
	lvl, err := ParseLevel(levelRaw)
	if err != nil {
		return err
	}
	f, err := ParseFormat(formatRaw)
	if err != nil {
		return err
	}
	outputMu.Lock()
	level = lvl
	formatter = f
	outputMu.Unlock()
	log.SetLevel(lvl)
	log.SetFormatter(f)
	log.SetReportTimestamp(true)
	log.SetOutput(output())
	return nil
}

func ParseLevel(levelRaw string) (log.Level, error) {
	levelRaw = strings.ToLower(strings.TrimSpace(levelRaw))
	switch levelRaw {
	case "":
		return log.InfoLevel, nil
	case "trace", "trac":
		// charm log has no trace level; trace maps to the most verbose one.
		return log.DebugLevel, nil
	}
	lvl, err := log.ParseLevel(levelRaw)
	if err != nil {
		return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
	}
	return lvl, nil
}

func ParseFormat(formatRaw string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(formatRaw)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("invalid log format %q", formatRaw)
	}
}

// SetOutputTee mirrors every log line to w in addition to stderr.
func SetOutputTee(w io.Writer) {
	outputMu.Lock()
	outputTee = w
	outputMu.Unlock()
	log.SetOutput(output())
}

// New returns a logger tagged with prefix that follows the configured level,
// formatter and output.
func New(prefix string) *log.Logger {
	outputMu.Lock()
	lvl, f := level, formatter
	outputMu.Unlock()
	return log.NewWithOptions(output(), log.Options{
		Prefix:          prefix,
		Level:           lvl,
		Formatter:       f,
		ReportTimestamp: true,
	})
}

// Discard returns a logger that drops everything. Used as the zero value for
// injected loggers in tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

func output() io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	if outputTee == nil {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, outputTee)
}
