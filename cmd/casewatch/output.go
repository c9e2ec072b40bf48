package main

// ---------------------------------------------------------------------------
// output.go: format flag, table rendering, event and case views
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
)

// OutputFormat enumerates supported output formats.
type OutputFormat int

const (
	FormatTable OutputFormat = iota
	FormatJSON
)

// parseFormat converts a --format string to an OutputFormat.
func parseFormat(s string) OutputFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	default:
		return FormatTable
	}
}

// formatName returns the canonical name for a format.
func formatName(f OutputFormat) string {
	switch f {
	case FormatJSON:
		return "json"
	default:
		return "table"
	}
}

// ---------------------------------------------------------------------------
// Table renderer: auto-sized columns with box-drawing borders
// ---------------------------------------------------------------------------

// Table renders aligned, bordered tables to a writer.
type Table struct {
	headers []string
	rows    [][]string
	w       io.Writer
}

// NewTable creates a table with the given column headers.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{headers: headers, w: w}
}

// AddRow appends a row. Values are matched positionally to headers.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		}
	}
	t.rows = append(t.rows, row)
}

// Render writes the table with box-drawing borders.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], visibleLen(cell))
		}
	}

	line := func(left, sep, right string) string {
		var b strings.Builder
		b.WriteString(left)
		for i, w := range widths {
			b.WriteString(strings.Repeat("─", w+2))
			if i < len(widths)-1 {
				b.WriteString(sep)
			}
		}
		b.WriteString(right)
		return b.String()
	}

	printRow := func(cells []string) {
		fmt.Fprint(t.w, "│")
		for i, cell := range cells {
			pad := widths[i] - visibleLen(cell)
			fmt.Fprintf(t.w, " %s%s │", cell, strings.Repeat(" ", pad))
		}
		fmt.Fprintln(t.w)
	}

	fmt.Fprintln(t.w, line("┌", "┬", "┐"))
	printRow(t.headers)
	fmt.Fprintln(t.w, line("├", "┼", "┤"))
	for _, row := range t.rows {
		printRow(row)
	}
	fmt.Fprintln(t.w, line("└", "┴", "┘"))
}

// visibleLen is the printed width of s, ignoring ANSI color sequences.
func visibleLen(s string) int {
	n, esc := 0, false
	for _, r := range s {
		switch {
		case r == '\033':
			esc = true
		case esc:
			if r == 'm' {
				esc = false
			}
		default:
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// JSON / output destination
// ---------------------------------------------------------------------------

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// outputWriter writes to file if --output is set, otherwise stdout.
func outputWriter(path string) (*os.File, func()) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}
	}
	f, err := os.Create(path)
	if err != nil {
		errorf("opening output file %q: %v", path, err)
	}
	return f, func() { f.Close() }
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

var signalNames = map[core.Signal]string{
	core.SignalWebBruteForce: "Web Brute Force",
	core.SignalFWPortScan:    "Port Scan",
	core.SignalSSHBruteForce: "SSH Brute Force",
	core.SignalWinBruteForce: "Windows Brute Force",
	core.SignalBurst:         "Activity Burst",
	core.SignalCrossSurface:  "Multi-System Access",
}

func signalName(s core.Signal) string {
	if n, ok := signalNames[s]; ok {
		return n
	}
	return string(s)
}

func entityLabel(en core.Entity) string {
	return strings.ToUpper(string(en.Type)) + ":" + en.Value
}

// titleKey turns an evidence key like "failed_attempts" into "Failed Attempts".
func titleKey(k string) string {
	words := strings.Fields(strings.ReplaceAll(k, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func evidenceKeys(ev map[string]any) []string {
	keys := make([]string, 0, len(ev))
	for k := range ev {
		if k == "note" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// sortAlertsForView orders alerts by weight, then time, both descending.
func sortAlertsForView(alerts []core.EventAlert) []core.EventAlert {
	out := append([]core.EventAlert(nil), alerts...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Time.After(out[j].Time)
	})
	return out
}

// sortCasesForView orders cases by score, descending.
func sortCasesForView(cases []core.CaseAlert) []core.CaseAlert {
	out := append([]core.CaseAlert(nil), cases...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func renderEvents(w io.Writer, alerts []core.EventAlert, detail bool) {
	sorted := sortAlertsForView(alerts)
	fmt.Fprintf(w, "%s\n\n", bold("EVENT-BASED ALERT VIEW"))

	if !detail {
		tbl := NewTable(w, "#", "SEVERITY", "THREAT", "ENTITY", "KIND", "WEIGHT", "TIME")
		for i, a := range sorted {
			tbl.AddRow(fmt.Sprint(i+1), severityColor(a.Severity), signalName(a.Signal),
				entityLabel(a.Entity), string(a.Kind), fmt.Sprint(a.Weight), stamp(a.Time))
		}
		tbl.Render()
	} else {
		for i, a := range sorted {
			fmt.Fprintln(w, dim(strings.Repeat("─", 80)))
			fmt.Fprintf(w, "Alert #%d | ID: %s\n", i+1, a.ID)
			fmt.Fprintf(w, "Type: %s | Threat: %s\n", a.Kind, bold(signalName(a.Signal)))
			fmt.Fprintf(w, "Entity: %s | Severity: %s | Weight: %d\n", entityLabel(a.Entity), severityColor(a.Severity), a.Weight)
			fmt.Fprintf(w, "Time: %s\n", stamp(a.Time))
			if keys := evidenceKeys(a.Evidence); len(keys) > 0 {
				fmt.Fprintln(w, "\nEvidence:")
				for _, k := range keys {
					fmt.Fprintf(w, "  - %s: %v\n", titleKey(k), a.Evidence[k])
				}
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintf(w, "\nTotal alerts: %d\n", len(sorted))
}

func renderCases(w io.Writer, cases []core.CaseAlert, detail bool) {
	sorted := sortCasesForView(cases)
	fmt.Fprintf(w, "%s\n\n", bold("CASE-BASED VIEW"))

	if !detail {
		tbl := NewTable(w, "#", "SCORE", "SEVERITY", "ENTITY", "DETECTIONS", "RULE", "ANOMALY", "DURATION", "FIRST SEEN")
		for i, c := range sorted {
			rules, anomalies := kindCounts(c.EventAlerts)
			tbl.AddRow(fmt.Sprint(i+1), fmt.Sprintf("%d/100", c.Score), severityColor(c.Severity),
				entityLabel(c.Entity), fmt.Sprint(len(c.EventAlerts)), fmt.Sprint(rules), fmt.Sprint(anomalies),
				fmt.Sprintf("%.1f min", c.Duration.Minutes()), stamp(c.FirstSeen))
		}
		tbl.Render()
	} else {
		for i, c := range sorted {
			rules, anomalies := kindCounts(c.EventAlerts)
			fmt.Fprintln(w, strings.Repeat("═", 80))
			fmt.Fprintf(w, "CASE #%d | SCORE: %d/100 | %s\n", i+1, c.Score, dim(c.ID))
			fmt.Fprintln(w, strings.Repeat("═", 80))
			fmt.Fprintf(w, "Entity: %s | Severity: %s\n", entityLabel(c.Entity), severityColor(c.Severity))
			fmt.Fprintf(w, "Duration: %s to %s (%.1f min)\n", stamp(c.FirstSeen), stamp(c.LastSeen), c.Duration.Minutes())
			fmt.Fprintf(w, "Detections: %d (%d rule, %d anomaly), bonus +%d\n",
				len(c.EventAlerts), rules, anomalies, c.AttackMetrics.BonusApplied)

			fmt.Fprintln(w, "\nTimeline:")
			timeline := append([]core.EventAlert(nil), c.EventAlerts...)
			sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].Time.Before(timeline[j].Time) })
			for _, a := range timeline {
				fmt.Fprintf(w, "  [%s] %s (w=%d)\n", stamp(a.Time), signalName(a.Signal), a.Weight)
				keys := evidenceKeys(a.Evidence)
				for _, k := range keys[:min(2, len(keys))] {
					fmt.Fprintf(w, "    %s: %v\n", k, a.Evidence[k])
				}
			}
			fmt.Fprintln(w)
		}
	}

	counts := map[core.Severity]int{}
	for _, c := range sorted {
		counts[c.Severity]++
	}
	fmt.Fprintf(w, "\nTotal cases: %d\n", len(sorted))
	fmt.Fprintf(w, "Severity: HIGH=%d, MEDIUM=%d, LOW=%d\n",
		counts[core.SeverityHigh], counts[core.SeverityMedium], counts[core.SeverityLow])
}

func kindCounts(alerts []core.EventAlert) (rules, anomalies int) {
	for _, a := range alerts {
		if a.Kind == core.KindRule {
			rules++
		} else {
			anomalies++
		}
	}
	return rules, anomalies
}
