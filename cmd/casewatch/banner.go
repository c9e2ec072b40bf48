package main

// ---------------------------------------------------------------------------
// banner.go: banner, version, usage, and per-command help
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func bannerText() string {
	art := `
    ╔══════════════════════════════════════════════════════════╗
    ║   casewatch :: security event correlation engine         ║
    ╚══════════════════════════════════════════════════════════╝
`
	if !colorEnabled() {
		return art
	}
	return "\033[36m" + art + "\033[0m"
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "casewatch v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  casewatch <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	fmt.Fprintf(w, "  %-14s  %s\n", bold("analyze"), "Correlate a log file and print alerts or cases")
	fmt.Fprintf(w, "  %-14s  %s\n", bold("watch"), "Tail sources and syslog, correlate continuously")
	fmt.Fprintf(w, "  %-14s  %s\n", bold("config"), "Show the effective configuration or set a value")
	fmt.Fprintf(w, "  %-14s  %s\n", bold("version"), "Print version and build info")
	fmt.Fprintf(w, "  %-14s  %s\n", bold("help"), "Show help for a command")
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (env: CASEWATCH_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "  %-22s  %s\n", "--help, -h", "Show help")
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT VARIABLES"))
	fmt.Fprintf(w, "  %-22s  %s\n", "CASEWATCH_CONFIG", "Default config file path")
	fmt.Fprintf(w, "  %-22s  %s\n", "CASEWATCH_LOG_LEVEL", "Log level override (debug, info, warn, error)")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Case view of a mixed log file"))
	fmt.Fprintf(w, "  casewatch analyze --input logs/mixed.log --view cases\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Detailed alert view from stdin, only HIGH"))
	fmt.Fprintf(w, "  cat auth.log | casewatch analyze --sort --detail --min-severity high\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Live mode with syslog and NATS publication"))
	fmt.Fprintf(w, "  casewatch watch --config configs/casewatch.yaml\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("casewatch help <command>"))
}

func cmdHelp(cmd string) {
	w := os.Stdout
	switch cmd {
	case "analyze":
		fmt.Fprintf(w, "%s casewatch analyze [flags]\n\n", bold("USAGE"))
		fmt.Fprintln(w, "Reads a log file, runs every detector and correlates the alerts into cases.")
		fmt.Fprintln(w, "Input must be in time order unless --sort is given.")
		fmt.Fprintf(w, "\n%s\n", bold("FLAGS"))
		fmt.Fprintf(w, "  %-24s  %s\n", "--config <path>", "Config file path")
		fmt.Fprintf(w, "  %-24s  %s\n", "--input <file|->", "Log file to read, - for stdin (default: -)")
		fmt.Fprintf(w, "  %-24s  %s\n", "--view <events|cases>", "Alert view or case view (default: cases)")
		fmt.Fprintf(w, "  %-24s  %s\n", "--detail", "Print evidence and timelines")
		fmt.Fprintf(w, "  %-24s  %s\n", "--format <table|json>", "Output format (default: table)")
		fmt.Fprintf(w, "  %-24s  %s\n", "--sort", "Sort events by time before detection")
		fmt.Fprintf(w, "  %-24s  %s\n", "--min-severity <sev>", "Hide results below LOW, MEDIUM or HIGH")
		fmt.Fprintf(w, "  %-24s  %s\n", "--publish", "Publish alerts and cases to the NATS bus")
		fmt.Fprintf(w, "  %-24s  %s\n", "--output <file>", "Write output to file")
	case "watch":
		fmt.Fprintf(w, "%s casewatch watch [flags]\n\n", bold("USAGE"))
		fmt.Fprintln(w, "Tails configured sources and the syslog listener, detects continuously and")
		fmt.Fprintln(w, "re-correlates every engine.correlate_interval. Stops on SIGINT or SIGTERM.")
		fmt.Fprintf(w, "\n%s\n", bold("FLAGS"))
		fmt.Fprintf(w, "  %-24s  %s\n", "--config <path>", "Config file path")
		fmt.Fprintf(w, "  %-24s  %s\n", "--syslog", "Enable the syslog listener regardless of config")
		fmt.Fprintf(w, "  %-24s  %s\n", "--metrics-addr <addr>", "Serve /metrics on addr")
	case "config":
		fmt.Fprintf(w, "%s casewatch config [flags]\n", bold("USAGE"))
		fmt.Fprintf(w, "      casewatch config set <key> <value> [--config <path>]\n\n")
		fmt.Fprintln(w, "Prints the effective configuration as YAML, or sets one key in the file.")
		fmt.Fprintf(w, "\n%s\n", bold("FLAGS"))
		fmt.Fprintf(w, "  %-24s  %s\n", "--config <path>", "Config file path")
		fmt.Fprintf(w, "  %-24s  %s\n", "--defaults", "Print the built-in defaults")
		fmt.Fprintf(w, "  %-24s  %s\n", "--validate", "Validate and exit")
		fmt.Fprintf(w, "  %-24s  %s\n", "--format <yaml|json>", "Output format (default: yaml)")
	case "version":
		fmt.Fprintf(w, "%s casewatch version\n", bold("USAGE"))
	default:
		printUsage(w)
	}
}
