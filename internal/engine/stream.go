package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/correlate"
	"github.com/1sec-project/casewatch/internal/detect"
	"github.com/1sec-project/casewatch/internal/metrics"
)

// Stream is the incremental form of Engine.Run for live sources. Feeding the
// same events one at a time yields the same alerts and cases as a batch run.
//
// A Stream is safe for concurrent use.
type Stream struct {
	mu        sync.Mutex
	rules     *detect.RuleBank
	anomalies *detect.AnomalyBank

	last   time.Time
	events int

	ruleAlerts    []core.EventAlert
	anomalyAlerts []core.EventAlert
}

// NewStream creates an empty stream.
func NewStream(cfg core.DetectionConfig) *Stream {
	return &Stream{
		rules:     detect.NewRuleBank(cfg),
		anomalies: detect.NewAnomalyBank(cfg),
	}
}

// Ingest runs both banks on e and returns the alerts it raised, rule alerts
// first. An event older than its predecessor is rejected without touching
// detector state.
func (s *Stream) Ingest(e core.Event) ([]core.EventAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.events > 0 && e.Time.Before(s.last) {
		metrics.ObserveOutOfOrder()
		return nil, fmt.Errorf("event at %s precedes %s: %w",
			e.Time.Format(time.RFC3339Nano), s.last.Format(time.RFC3339Nano), core.ErrOutOfOrder)
	}
	s.last = e.Time
	s.events++
	metrics.ObserveEvent(string(e.Type))

	ruleAlerts, err := s.rules.Observe(e)
	if err != nil {
		return nil, err
	}
	anomalyAlerts, err := s.anomalies.Observe(e)
	if err != nil {
		return nil, err
	}
	s.ruleAlerts = append(s.ruleAlerts, ruleAlerts...)
	s.anomalyAlerts = append(s.anomalyAlerts, anomalyAlerts...)

	raised := append(ruleAlerts, anomalyAlerts...)
	for _, a := range raised {
		metrics.ObserveAlert(string(a.Signal), string(a.Kind))
	}
	return raised, nil
}

// Events returns how many events have been accepted.
func (s *Stream) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Alerts returns every alert so far, rule alerts before anomaly alerts.
func (s *Stream) Alerts() []core.EventAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alertsLocked()
}

func (s *Stream) alertsLocked() []core.EventAlert {
	out := make([]core.EventAlert, 0, len(s.ruleAlerts)+len(s.anomalyAlerts))
	out = append(out, s.ruleAlerts...)
	return append(out, s.anomalyAlerts...)
}

// Cases correlates every alert raised so far.
func (s *Stream) Cases() []core.CaseAlert {
	s.mu.Lock()
	alerts := s.alertsLocked()
	s.mu.Unlock()

	start := time.Now()
	cases := correlate.Correlate(alerts)
	metrics.ObserveCorrelation(time.Since(start))
	metrics.SetCases(CountBySeverity(cases))
	return cases
}
