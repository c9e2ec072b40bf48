package correlate

import (
	"reflect"
	"testing"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

var (
	attacker = core.Entity{Type: core.EntityIP, Value: "1.2.3.4", Role: core.RoleActor}
	server   = core.Entity{Type: core.EntityHost, Value: "web-01", Role: core.RoleAsset}
)

func alert(en core.Entity, sig core.Signal, kind core.Kind, weight int, d time.Duration) core.EventAlert {
	ts := t0.Add(d)
	return core.EventAlert{
		ID:     core.AlertID(sig, en, ts),
		Time:   ts,
		Entity: en,
		Kind:   kind,
		Signal: sig,
		Weight: weight,
	}
}

// ─── scoring ────────────────────────────────────────────────────────────────

func TestCorrelate_MixedKindsReachHigh(t *testing.T) {
	cases := Correlate([]core.EventAlert{
		alert(attacker, core.SignalWebBruteForce, core.KindRule, 35, 0),
		alert(attacker, core.SignalCrossSurface, core.KindAnomaly, 20, time.Minute),
	})
	if len(cases) != 1 {
		t.Fatalf("cases = %d, want 1", len(cases))
	}
	c := cases[0]
	if c.Score != 70 {
		t.Errorf("Score = %d, want 70", c.Score)
	}
	if c.Severity != core.SeverityHigh {
		t.Errorf("Severity = %s, want HIGH", c.Severity)
	}
	if c.AttackMetrics.BonusApplied != 15 {
		t.Errorf("BonusApplied = %d, want 15", c.AttackMetrics.BonusApplied)
	}
	if !c.AttackMetrics.HasRuleBased || !c.AttackMetrics.HasAnomalyBased {
		t.Errorf("metrics = %+v, want both kinds", c.AttackMetrics)
	}
}

func TestCorrelate_FourRuleSignalsStayMedium(t *testing.T) {
	cases := Correlate([]core.EventAlert{
		alert(attacker, core.SignalWebBruteForce, core.KindRule, 10, 0),
		alert(attacker, core.SignalFWPortScan, core.KindRule, 10, time.Minute),
		alert(attacker, core.SignalSSHBruteForce, core.KindRule, 15, 2*time.Minute),
		alert(attacker, core.SignalWinBruteForce, core.KindRule, 15, 3*time.Minute),
	})
	c := cases[0]
	if c.Score != 60 {
		t.Errorf("Score = %d, want 60", c.Score)
	}
	if c.Severity != core.SeverityMedium {
		t.Errorf("Severity = %s, want MEDIUM", c.Severity)
	}
	if c.AttackMetrics.BonusApplied != 10 {
		t.Errorf("BonusApplied = %d, want 10", c.AttackMetrics.BonusApplied)
	}
}

func TestCorrelate_ScoreCapped(t *testing.T) {
	var alerts []core.EventAlert
	for i, sig := range core.Signals {
		kind := core.KindRule
		if sig == core.SignalBurst || sig == core.SignalCrossSurface {
			kind = core.KindAnomaly
		}
		alerts = append(alerts, alert(attacker, sig, kind, 45, time.Duration(i)*time.Minute))
	}
	c := Correlate(alerts)[0]
	if c.Score != MaxScore {
		t.Errorf("Score = %d, want %d", c.Score, MaxScore)
	}
	if c.AttackMetrics.BonusApplied != 25 {
		t.Errorf("BonusApplied = %d, want 25", c.AttackMetrics.BonusApplied)
	}
}

func TestCorrelate_SingleWeakSignalIsLow(t *testing.T) {
	c := Correlate([]core.EventAlert{alert(server, core.SignalCrossSurface, core.KindAnomaly, 20, 0)})[0]
	if c.Score != 20 || c.Severity != core.SeverityLow {
		t.Errorf("got score %d severity %s, want 20 LOW", c.Score, c.Severity)
	}
}

// ─── dedup ──────────────────────────────────────────────────────────────────

func TestDedup_KeepsHighestWeight(t *testing.T) {
	in := []core.EventAlert{
		alert(attacker, core.SignalSSHBruteForce, core.KindRule, 35, 0),
		alert(attacker, core.SignalFWPortScan, core.KindRule, 30, time.Minute),
		alert(attacker, core.SignalSSHBruteForce, core.KindRule, 40, 15*time.Minute),
	}
	out := Dedup(in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Signal != core.SignalSSHBruteForce || out[0].Weight != 40 {
		t.Errorf("out[0] = %s/%d, want SSH_BRUTE_FORCE/40 in first-seen position", out[0].Signal, out[0].Weight)
	}
}

func TestDedup_TieKeepsEarliest(t *testing.T) {
	first := alert(attacker, core.SignalSSHBruteForce, core.KindRule, 35, 0)
	second := alert(attacker, core.SignalSSHBruteForce, core.KindRule, 35, 15*time.Minute)
	out := Dedup([]core.EventAlert{first, second})
	if len(out) != 1 || out[0].ID != first.ID {
		t.Errorf("Dedup kept %v, want %s", out, first.ID)
	}
}

func TestDedup_Idempotent(t *testing.T) {
	in := []core.EventAlert{
		alert(attacker, core.SignalWebBruteForce, core.KindRule, 36, 0),
		alert(attacker, core.SignalWebBruteForce, core.KindRule, 41, 11*time.Minute),
		alert(attacker, core.SignalBurst, core.KindAnomaly, 15, time.Minute),
		alert(attacker, core.SignalBurst, core.KindAnomaly, 30, 12*time.Minute),
	}
	once := Dedup(in)
	twice := Dedup(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Dedup not idempotent:\n once=%v\ntwice=%v", once, twice)
	}
}

func TestCorrelate_KeepsAllEventsForAudit(t *testing.T) {
	in := []core.EventAlert{
		alert(attacker, core.SignalWebBruteForce, core.KindRule, 35, 0),
		alert(attacker, core.SignalWebBruteForce, core.KindRule, 38, 11*time.Minute),
	}
	c := Correlate(in)[0]
	if len(c.AllEvents) != 2 || c.AttackMetrics.TotalDetections != 2 {
		t.Errorf("AllEvents = %d, TotalDetections = %d, want 2", len(c.AllEvents), c.AttackMetrics.TotalDetections)
	}
	if len(c.EventAlerts) != 1 || c.AttackMetrics.UniqueDetections != 1 {
		t.Errorf("EventAlerts = %d, want 1", len(c.EventAlerts))
	}
	if c.Score != 38 {
		t.Errorf("Score = %d, want 38", c.Score)
	}
}

// ─── grouping ───────────────────────────────────────────────────────────────

func TestCorrelate_GroupsByEntityInFirstSeenOrder(t *testing.T) {
	cases := Correlate([]core.EventAlert{
		alert(attacker, core.SignalWebBruteForce, core.KindRule, 35, 5*time.Minute),
		alert(server, core.SignalBurst, core.KindAnomaly, 25, time.Minute),
		alert(attacker, core.SignalFWPortScan, core.KindRule, 30, 2*time.Minute),
	})
	if len(cases) != 2 {
		t.Fatalf("cases = %d, want 2", len(cases))
	}
	if cases[0].Entity.Key() != "ip:1.2.3.4" || cases[1].Entity.Key() != "host:web-01" {
		t.Errorf("order = %s, %s", cases[0].Entity.Key(), cases[1].Entity.Key())
	}

	c := cases[0]
	if !c.FirstSeen.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("FirstSeen = %v, want +2m", c.FirstSeen)
	}
	if !c.LastSeen.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("LastSeen = %v, want +5m", c.LastSeen)
	}
	if c.Duration != 3*time.Minute || c.DurationMinutes != 3 {
		t.Errorf("Duration = %s (%v min), want 3m", c.Duration, c.DurationMinutes)
	}
}

func TestCorrelate_Deterministic(t *testing.T) {
	in := []core.EventAlert{
		alert(attacker, core.SignalWebBruteForce, core.KindRule, 35, 0),
		alert(server, core.SignalCrossSurface, core.KindAnomaly, 25, time.Minute),
	}
	if a, b := Correlate(in), Correlate(in); !reflect.DeepEqual(a, b) {
		t.Error("Correlate produced different output for identical input")
	}
}

func TestCorrelate_Empty(t *testing.T) {
	if cases := Correlate(nil); len(cases) != 0 {
		t.Errorf("cases = %d, want 0", len(cases))
	}
}

func TestCaseID_StablePerEntity(t *testing.T) {
	if CaseID("ip:1.2.3.4") != CaseID("ip:1.2.3.4") {
		t.Error("CaseID not stable")
	}
	if CaseID("ip:1.2.3.4") == CaseID("host:1.2.3.4") {
		t.Error("CaseID collides across entity types")
	}
}

// ─── severity ───────────────────────────────────────────────────────────────

func TestSeverity_Ladder(t *testing.T) {
	tests := []struct {
		score   int
		signals int
		mixed   bool
		want    core.Severity
	}{
		{80, 1, false, core.SeverityHigh},
		{79, 3, false, core.SeverityHigh},
		{70, 3, false, core.SeverityHigh},
		{70, 2, false, core.SeverityMedium},
		{60, 2, true, core.SeverityHigh},
		{59, 2, true, core.SeverityMedium},
		{40, 1, false, core.SeverityMedium},
		{39, 1, false, core.SeverityLow},
		{0, 0, false, core.SeverityLow},
	}
	for _, tt := range tests {
		if got := Severity(tt.score, tt.signals, tt.mixed); got != tt.want {
			t.Errorf("Severity(%d, %d, %v) = %s, want %s", tt.score, tt.signals, tt.mixed, got, tt.want)
		}
	}
}

func TestSeverity_MonotoneInScore(t *testing.T) {
	for signals := 1; signals <= 6; signals++ {
		for _, mixed := range []bool{false, true} {
			prev := core.SeverityLow
			for score := 0; score <= MaxScore; score++ {
				got := Severity(score, signals, mixed)
				if got < prev {
					t.Fatalf("severity dropped from %s to %s at score %d (signals=%d mixed=%v)", prev, got, score, signals, mixed)
				}
				prev = got
			}
		}
	}
}

func TestBonus(t *testing.T) {
	tests := []struct {
		mixed   bool
		signals int
		want    int
	}{
		{false, 1, 0},
		{false, 3, 5},
		{false, 4, 10},
		{true, 2, 15},
		{true, 3, 20},
		{true, 6, 25},
	}
	for _, tt := range tests {
		if got := Bonus(tt.mixed, tt.signals); got != tt.want {
			t.Errorf("Bonus(%v, %d) = %d, want %d", tt.mixed, tt.signals, got, tt.want)
		}
	}
}
