package detect

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
)

const (
	// anomalyMinEvents is the window population below which neither
	// anomaly detector is evaluated.
	anomalyMinEvents = 5
	// burstBaseline is the event count treated as "normal" for one window.
	burstBaseline   = 5.0
	burstDecay      = 60.0 // seconds
	burstThreshold  = 2.5
	crossMinSurface = 3
)

// AnomalyBank runs the burst and cross-surface detectors over one shared
// window per asset entity.
//
// An AnomalyBank is not safe for concurrent use.
type AnomalyBank struct {
	cfg      core.DetectionConfig
	windows  windowSet
	cooldown *Cooldown
	guard    orderGuard
}

// NewAnomalyBank creates an anomaly bank using the window and cooldown in cfg.
func NewAnomalyBank(cfg core.DetectionConfig) *AnomalyBank {
	return &AnomalyBank{
		cfg:      cfg,
		windows:  windowSet{},
		cooldown: NewCooldown(cfg.Cooldown),
	}
}

// Observe adds e to its asset window and evaluates both detectors. When both
// fire the burst alert comes first.
func (b *AnomalyBank) Observe(e core.Event) ([]core.EventAlert, error) {
	if err := b.guard.check(e); err != nil {
		return nil, err
	}

	asset := core.Asset(e)
	w := b.windows.get(asset.Key())
	w.push(e, b.cfg.AnomalyWindow)

	if w.len() < anomalyMinEvents {
		return nil, nil
	}

	var alerts []core.EventAlert
	if a := b.burst(e, asset, w); a != nil {
		alerts = append(alerts, *a)
	}
	if a := b.crossSurface(e, asset, w); a != nil {
		alerts = append(alerts, *a)
	}
	return alerts, nil
}

// burstMultiplier returns the decay-weighted activity of events relative to
// now, its normalization factor and their ratio.
func burstMultiplier(events []core.Event, now time.Time) (weighted, norm, multiplier float64) {
	for _, x := range events {
		elapsed := now.Sub(x.Time).Seconds()
		weighted += math.Exp(-elapsed / burstDecay)
	}
	norm = float64(len(events)) / burstBaseline
	if norm > 0 {
		multiplier = weighted / norm
	}
	return weighted, norm, multiplier
}

func (b *AnomalyBank) burst(e core.Event, asset core.Entity, w *window) *core.EventAlert {
	weighted, norm, mult := burstMultiplier(w.events, e.Time)
	if mult <= burstThreshold {
		return nil
	}

	var weight int
	switch {
	case mult >= 5:
		weight = 30
	case mult >= 4:
		weight = 25
	case mult >= 3:
		weight = 20
	default:
		weight = 15
	}

	return b.fire(core.SignalBurst, e, asset, w, weight, map[string]any{
		"weighted_activity_score": round2(weighted),
		"normalization_factor":    round2(norm),
		"burst_intensity":         burstIntensity(mult),
		"event_count_in_window":   w.len(),
		"window_minutes":          b.cfg.AnomalyWindow.Minutes(),
	})
}

func (b *AnomalyBank) crossSurface(e core.Event, asset core.Entity, w *window) *core.EventAlert {
	seen := make(map[core.EventType]struct{})
	for _, x := range w.events {
		seen[x.Type] = struct{}{}
	}
	if len(seen) < crossMinSurface {
		return nil
	}
	systems := make([]string, 0, len(seen))
	for t := range seen {
		systems = append(systems, string(t))
	}
	sort.Strings(systems)

	weight := 20
	if len(systems) >= 4 {
		weight = 25
	}

	return b.fire(core.SignalCrossSurface, e, asset, w, weight, map[string]any{
		"systems_accessed": systems,
		"access_diversity": fmt.Sprintf("%d different systems", len(systems)),
		"total_events":     w.len(),
		"window_minutes":   b.cfg.AnomalyWindow.Minutes(),
	})
}

func (b *AnomalyBank) fire(sig core.Signal, e core.Event, asset core.Entity, w *window, weight int, evidence map[string]any) *core.EventAlert {
	key := asset.Key()
	if !b.cooldown.Ready(key, sig, e.Time) {
		return nil
	}
	b.cooldown.Fire(key, sig, e.Time)

	return &core.EventAlert{
		ID:           core.AlertID(sig, asset, e.Time),
		Time:         e.Time,
		Entity:       asset,
		Kind:         core.KindAnomaly,
		Signal:       sig,
		Severity:     core.SeverityMedium,
		Weight:       weight,
		Evidence:     evidence,
		SourceEvents: w.snapshot(),
	}
}

// burstIntensity renders the multiplier rounded to two places with at least
// one decimal: 3.0x normal, 4.68x normal.
func burstIntensity(mult float64) string {
	s := strconv.FormatFloat(round2(mult), 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "x normal"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
