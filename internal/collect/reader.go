package collect

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/metrics"
)

// ReadStats summarizes one ReadEvents call.
type ReadStats struct {
	Lines   int
	Parsed  int
	Skipped int
}

const maxLineSize = 1024 * 1024

// ReadEvents parses every line of r. Unrecognized lines are counted and skipped.
func ReadEvents(r io.Reader, p Parser) ([]core.Event, ReadStats, error) {
	var (
		events []core.Event
		stats  ReadStats
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		stats.Lines++
		e, ok := p.ParseLine(sc.Text())
		if !ok {
			stats.Skipped++
			metrics.ObserveSkippedLine()
			continue
		}
		events = append(events, e)
		stats.Parsed++
	}
	if err := sc.Err(); err != nil {
		return events, stats, fmt.Errorf("reading line %d: %w", stats.Lines+1, err)
	}
	return events, stats, nil
}

// SortEvents orders events by time, keeping input order for equal timestamps.
func SortEvents(events []core.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
}
