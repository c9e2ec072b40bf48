package main

// ---------------------------------------------------------------------------
// helpers.go: TTY detection, color, error helpers, config loading
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/1sec-project/casewatch/internal/core"
)

// ---------------------------------------------------------------------------
// TTY / color helpers
// ---------------------------------------------------------------------------

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTTY(os.Stderr)
}

func ansi(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + "\033[0m"
}

func red(s string) string    { return ansi("\033[91m", s) }
func yellow(s string) string { return ansi("\033[93m", s) }
func green(s string) string  { return ansi("\033[32m", s) }
func cyan(s string) string   { return ansi("\033[36m", s) }
func dim(s string) string    { return ansi("\033[90m", s) }
func bold(s string) string   { return ansi("\033[1m", s) }

// severityColor paints a severity name the way the tables show it.
func severityColor(s core.Severity) string {
	switch s {
	case core.SeverityHigh:
		return red(s.String())
	case core.SeverityMedium:
		return yellow(s.String())
	default:
		return cyan(s.String())
	}
}

// ---------------------------------------------------------------------------
// Error / warn helpers (always to stderr)
// ---------------------------------------------------------------------------

func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, red("error: ")+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, yellow("warn: ")+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Config / logger
//
// Environment variables:
//   CASEWATCH_CONFIG    : default config file path
//   CASEWATCH_LOG_LEVEL : log level override
// ---------------------------------------------------------------------------

// loadConfig loads the config or exits. An empty path falls back to
// CASEWATCH_CONFIG, then to the built-in defaults.
func loadConfig(path string) *core.Config {
	cfg, err := core.LoadConfig(path)
	if err != nil {
		errorf("loading config: %v", err)
	}
	return cfg
}

// newLogger builds the process logger. Logs go to stderr so that stdout
// carries only command output.
func newLogger(cfg *core.Config) zerolog.Logger {
	return core.NewLogger(cfg.Logging, os.Stderr)
}

// ---------------------------------------------------------------------------
// Suggest: typo correction for unknown commands
// ---------------------------------------------------------------------------

var commands = []string{"analyze", "watch", "config", "version", "help"}

func suggest(input string) string {
	input = strings.ToLower(input)
	if input == "" {
		return ""
	}
	for _, c := range commands {
		if strings.HasPrefix(c, input) || strings.HasPrefix(input, c) {
			return c
		}
	}
	for _, c := range commands {
		if len(c) == len(input) {
			diff := 0
			for i := range c {
				if c[i] != input[i] {
					diff++
				}
			}
			if diff <= 1 {
				return c
			}
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// parseValue converts a string to the appropriate Go type.
// ---------------------------------------------------------------------------

func parseValue(s string) interface{} {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := fmt.Sscanf(s, "%d", new(int)); n == 1 && err == nil && !strings.ContainsAny(s, ".smh") {
		var i int
		fmt.Sscanf(s, "%d", &i)
		return i
	}
	if n, err := fmt.Sscanf(s, "%f", new(float64)); n == 1 && err == nil && strings.Contains(s, ".") && !strings.ContainsAny(s, "smh") {
		var f float64
		fmt.Sscanf(s, "%f", &f)
		return f
	}
	return s
}
