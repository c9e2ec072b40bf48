package main

// ---------------------------------------------------------------------------
// cmd_analyze.go: batch correlation of a log file
// ---------------------------------------------------------------------------

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/1sec-project/casewatch/internal/collect"
	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/engine"
)

type analyzeOptions struct {
	View        string
	Detail      bool
	Format      OutputFormat
	Sort        bool
	MinSeverity core.Severity
}

// analyzeReport is the JSON shape of an analyze run.
type analyzeReport struct {
	Lines   int               `json:"lines"`
	Events  int               `json:"events"`
	Skipped int               `json:"skipped"`
	Alerts  []core.EventAlert `json:"alerts,omitempty"`
	Cases   []core.CaseAlert  `json:"cases,omitempty"`
}

func cmdAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	input := fs.String("input", "-", "Log file to read, - for stdin")
	view := fs.String("view", "cases", "View: events, cases")
	detail := fs.Bool("detail", false, "Print evidence and timelines")
	format := fs.String("format", "table", "Output format: table, json")
	sortInput := fs.Bool("sort", false, "Sort events by time before detection")
	publish := fs.Bool("publish", false, "Publish alerts and cases to the bus")
	minSev := fs.String("min-severity", "low", "Minimum severity to show")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	opts := analyzeOptions{
		View:   strings.ToLower(*view),
		Detail: *detail,
		Format: parseFormat(*format),
		Sort:   *sortInput,
	}
	if opts.View != "events" && opts.View != "cases" {
		errorf("--view must be events or cases, got %q", *view)
	}
	sev, ok := core.ParseSeverity(*minSev)
	if !ok {
		errorf("--min-severity must be low, medium or high, got %q", *minSev)
	}
	opts.MinSeverity = sev

	cfg := loadConfig(*configPath)
	logger := newLogger(cfg)

	var in io.Reader = os.Stdin
	if *input != "-" && *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			errorf("opening input: %v", err)
		}
		defer f.Close()
		in = f
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	res, err := runAnalyze(context.Background(), cfg, in, w, opts, logger)
	if err != nil {
		if errors.Is(err, core.ErrOutOfOrder) {
			errorf("%v\n  Input must be in time order; rerun with --sort", err)
		}
		errorf("%v", err)
	}

	if *publish {
		if err := publishResult(cfg, res, logger); err != nil {
			errorf("publishing: %v", err)
		}
	}
}

// runAnalyze reads, detects, correlates and renders one batch.
func runAnalyze(ctx context.Context, cfg *core.Config, in io.Reader, w io.Writer, opts analyzeOptions, logger zerolog.Logger) (*engine.Result, error) {
	parser := collect.NewParser(cfg.Collect)
	events, stats, err := collect.ReadEvents(in, parser)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	logger.Debug().Int("lines", stats.Lines).Int("parsed", stats.Parsed).Int("skipped", stats.Skipped).Msg("input read")

	if opts.Sort {
		collect.SortEvents(events)
	}

	res, err := engine.New(cfg, logger).Run(ctx, events)
	if err != nil {
		return nil, err
	}

	alerts := filterAlerts(res.Alerts, opts.MinSeverity)
	cases := filterCases(res.Cases, opts.MinSeverity)

	if opts.Format == FormatJSON {
		report := analyzeReport{Lines: stats.Lines, Events: stats.Parsed, Skipped: stats.Skipped}
		if opts.View == "events" {
			report.Alerts = sortAlertsForView(alerts)
		} else {
			report.Cases = sortCasesForView(cases)
		}
		return res, writeJSON(w, report)
	}

	fmt.Fprintf(w, "%s %d lines, %d events, %d skipped\n\n",
		dim("input:"), stats.Lines, stats.Parsed, stats.Skipped)
	if opts.View == "events" {
		renderEvents(w, alerts, opts.Detail)
	} else {
		renderCases(w, cases, opts.Detail)
	}
	return res, nil
}

func filterAlerts(alerts []core.EventAlert, floor core.Severity) []core.EventAlert {
	out := make([]core.EventAlert, 0, len(alerts))
	for _, a := range alerts {
		if a.Severity >= floor {
			out = append(out, a)
		}
	}
	return out
}

func filterCases(cases []core.CaseAlert, floor core.Severity) []core.CaseAlert {
	out := make([]core.CaseAlert, 0, len(cases))
	for _, c := range cases {
		if c.Severity >= floor {
			out = append(out, c)
		}
	}
	return out
}

func publishResult(cfg *core.Config, res *engine.Result, logger zerolog.Logger) error {
	bus, err := core.NewAlertBus(&cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer bus.Close()

	pub, err := engine.NewPublisher(bus, cfg.Bus.DedupCacheSize, logger)
	if err != nil {
		return err
	}
	stats, err := pub.Publish(res.Alerts, res.Cases)
	fmt.Fprintf(os.Stderr, "%s published %d alerts and %d cases\n", green("✓"), stats.Alerts, stats.Cases)
	return err
}
