// Package engine runs the detector banks over an event stream and correlates
// their alerts into cases.
package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/correlate"
	"github.com/1sec-project/casewatch/internal/detect"
	"github.com/1sec-project/casewatch/internal/metrics"
)

// Result is the output of one batch run.
type Result struct {
	Events        int
	RuleAlerts    []core.EventAlert
	AnomalyAlerts []core.EventAlert
	// Alerts is RuleAlerts followed by AnomalyAlerts, the order cases are built from.
	Alerts  []core.EventAlert
	Cases   []core.CaseAlert
	Elapsed time.Duration
}

// Engine runs batch detection with both banks in parallel.
type Engine struct {
	cfg    core.DetectionConfig
	shards int
	logger zerolog.Logger
}

// New creates an Engine from the detection and engine settings in cfg.
func New(cfg *core.Config, logger zerolog.Logger) *Engine {
	shards := cfg.Engine.Shards
	if shards < 1 {
		shards = 1
	}
	return &Engine{
		cfg:    cfg.Detection,
		shards: shards,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// ValidateOrder returns an error wrapping core.ErrOutOfOrder at the first
// event whose timestamp precedes its predecessor.
func ValidateOrder(events []core.Event) error {
	for i := 1; i < len(events); i++ {
		if events[i].Time.Before(events[i-1].Time) {
			return fmt.Errorf("event %d at %s precedes event %d at %s: %w",
				i, events[i].Time.Format(time.RFC3339Nano),
				i-1, events[i-1].Time.Format(time.RFC3339Nano),
				core.ErrOutOfOrder)
		}
	}
	return nil
}

// Run detects and correlates a complete, time-ordered batch. Nothing is
// evaluated when the batch is out of order.
func (en *Engine) Run(ctx context.Context, events []core.Event) (*Result, error) {
	start := time.Now()

	if err := ValidateOrder(events); err != nil {
		metrics.ObserveOutOfOrder()
		en.logger.Error().Err(err).Msg("rejecting batch")
		return nil, err
	}
	for _, e := range events {
		metrics.ObserveEvent(string(e.Type))
	}

	res := &Result{Events: len(events)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alerts, err := runSharded(gctx, events, en.shards, core.WindowIP, func() observer {
			return detect.NewRuleBank(en.cfg)
		})
		res.RuleAlerts = alerts
		return err
	})
	g.Go(func() error {
		alerts, err := runSharded(gctx, events, en.shards, assetKey, func() observer {
			return detect.NewAnomalyBank(en.cfg)
		})
		res.AnomalyAlerts = alerts
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Alerts = make([]core.EventAlert, 0, len(res.RuleAlerts)+len(res.AnomalyAlerts))
	res.Alerts = append(res.Alerts, res.RuleAlerts...)
	res.Alerts = append(res.Alerts, res.AnomalyAlerts...)
	for _, a := range res.Alerts {
		metrics.ObserveAlert(string(a.Signal), string(a.Kind))
	}

	res.Cases = correlate.Correlate(res.Alerts)
	res.Elapsed = time.Since(start)

	metrics.ObserveCorrelation(res.Elapsed)
	metrics.SetCases(CountBySeverity(res.Cases))

	en.logger.Info().
		Int("events", res.Events).
		Int("rule_alerts", len(res.RuleAlerts)).
		Int("anomaly_alerts", len(res.AnomalyAlerts)).
		Int("cases", len(res.Cases)).
		Dur("elapsed", res.Elapsed).
		Msg("batch correlated")

	return res, nil
}

// CountBySeverity tallies cases per severity name.
func CountBySeverity(cases []core.CaseAlert) map[string]int {
	out := make(map[string]int)
	for _, c := range cases {
		out[c.Severity.String()]++
	}
	return out
}

type observer interface {
	Observe(core.Event) ([]core.EventAlert, error)
}

func assetKey(e core.Event) string { return core.Asset(e).Key() }

type ordered struct {
	event int
	seq   int
	alert core.EventAlert
}

// runSharded partitions events by key across n private banks. Each key is
// owned by exactly one shard and sees its events in stream order, so the
// merged output equals a single sequential bank.
func runSharded(ctx context.Context, events []core.Event, n int, keyOf func(core.Event) string, newBank func() observer) ([]core.EventAlert, error) {
	buckets := make([][]int, n)
	for i, e := range events {
		s := shardOf(keyOf(e), n)
		buckets[s] = append(buckets[s], i)
	}

	results := make([][]ordered, n)
	g, gctx := errgroup.WithContext(ctx)
	for s := range buckets {
		if len(buckets[s]) == 0 {
			continue
		}
		s := s
		g.Go(func() error {
			bank := newBank()
			var out []ordered
			for j, idx := range buckets[s] {
				if j%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				alerts, err := bank.Observe(events[idx])
				if err != nil {
					return fmt.Errorf("event %d: %w", idx, err)
				}
				for k, a := range alerts {
					out = append(out, ordered{event: idx, seq: k, alert: a})
				}
			}
			results[s] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []ordered
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].event != merged[j].event {
			return merged[i].event < merged[j].event
		}
		return merged[i].seq < merged[j].seq
	})

	alerts := make([]core.EventAlert, len(merged))
	for i, m := range merged {
		alerts[i] = m.alert
	}
	return alerts, nil
}

func shardOf(key string, n int) int {
	if n == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
