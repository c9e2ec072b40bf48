package detect

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/1sec-project/casewatch/internal/core"
)

func newRuleBank() *RuleBank {
	return NewRuleBank(core.DefaultConfig().Detection)
}

func login(ip string, d time.Duration, status int) core.Event {
	return core.Event{Time: at(d), Type: core.EventWeb, IP: ip, Method: "POST", Path: "/login", Status: status}
}

func observeAll(t *testing.T, b interface {
	Observe(core.Event) ([]core.EventAlert, error)
}, events []core.Event) []core.EventAlert {
	t.Helper()
	var out []core.EventAlert
	for i, e := range events {
		alerts, err := b.Observe(e)
		if err != nil {
			t.Fatalf("Observe(#%d): %v", i, err)
		}
		out = append(out, alerts...)
	}
	return out
}

// ─── WEB_BRUTE_FORCE ────────────────────────────────────────────────────────

func TestRuleBank_WebBruteForce_SixFailures(t *testing.T) {
	var events []core.Event
	for i := 0; i < 6; i++ {
		events = append(events, login("1.2.3.4", time.Duration(i)*10*time.Second, 401))
	}

	alerts := observeAll(t, newRuleBank(), events)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Signal != core.SignalWebBruteForce || a.Kind != core.KindRule {
		t.Errorf("got %s/%s, want WEB_BRUTE_FORCE/RULE", a.Signal, a.Kind)
	}
	if a.Weight != 35 {
		t.Errorf("Weight = %d, want 35", a.Weight)
	}
	if a.Severity != core.SeverityHigh {
		t.Errorf("Severity = %s, want HIGH", a.Severity)
	}
	if a.Entity.Key() != "ip:1.2.3.4" {
		t.Errorf("Entity = %q, want ip:1.2.3.4", a.Entity.Key())
	}
	if !a.Time.Equal(at(50 * time.Second)) {
		t.Errorf("Time = %v, want sixth event time", a.Time)
	}
	if got := a.Evidence["failure_attempts"]; got != 6 {
		t.Errorf("failure_attempts = %v, want 6", got)
	}
	if got := a.Evidence["target_path"]; got != "/login" {
		t.Errorf("target_path = %v, want /login", got)
	}
	if got := a.Evidence["timeframe_minutes"]; got != 2.0 {
		t.Errorf("timeframe_minutes = %v, want 2", got)
	}
	if got := a.Evidence["window_start"]; got != "2025-03-01T10:00:00Z" {
		t.Errorf("window_start = %v", got)
	}
	if len(a.SourceEvents) != 6 {
		t.Errorf("SourceEvents = %d, want 6", len(a.SourceEvents))
	}
	if a.ID != "WEB_BRUTE_FORCE_ip:1.2.3.4_2025-03-01T10:00:50Z" {
		t.Errorf("ID = %q", a.ID)
	}
}

func TestRuleBank_WebBruteForce_WeightCapped(t *testing.T) {
	b := newRuleBank()
	// Leave the cooldown spent until the twentieth failure.
	b.cooldown.Fire("ip:9.9.9.9", core.SignalWebBruteForce, at(19*time.Second-10*time.Minute-time.Nanosecond))

	var events []core.Event
	for i := 0; i < 20; i++ {
		events = append(events, login("9.9.9.9", time.Duration(i)*time.Second, 401))
	}
	alerts := observeAll(t, b, events)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Weight != 45 {
		t.Errorf("Weight = %d, want 45 (capped)", alerts[0].Weight)
	}
}

func TestRuleBank_WebBruteForce_SuccessSuppresses(t *testing.T) {
	events := []core.Event{login("1.2.3.4", 0, 200)}
	for i := 1; i <= 7; i++ {
		events = append(events, login("1.2.3.4", time.Duration(i)*5*time.Second, 401))
	}
	if alerts := observeAll(t, newRuleBank(), events); len(alerts) != 0 {
		t.Errorf("alerts = %d, want 0 when a 200 is in the window", len(alerts))
	}
}

func TestRuleBank_WebBruteForce_IgnoresOtherPaths(t *testing.T) {
	var events []core.Event
	for i := 0; i < 10; i++ {
		e := login("1.2.3.4", time.Duration(i)*time.Second, 401)
		e.Path = "/admin"
		events = append(events, e)
	}
	if alerts := observeAll(t, newRuleBank(), events); len(alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(alerts))
	}
}

func TestRuleBank_WebBruteForce_EvictedFailuresDoNotCount(t *testing.T) {
	var events []core.Event
	for i := 0; i < 5; i++ {
		events = append(events, login("1.2.3.4", time.Duration(i)*10*time.Second, 401))
	}
	events = append(events, login("1.2.3.4", 3*time.Minute, 401))
	if alerts := observeAll(t, newRuleBank(), events); len(alerts) != 0 {
		t.Errorf("alerts = %d, want 0", len(alerts))
	}
}

func TestRuleBank_CooldownSpacing(t *testing.T) {
	var events []core.Event
	// One failure every 20s for 30 minutes keeps the threshold met throughout.
	for d := time.Duration(0); d <= 30*time.Minute; d += 20 * time.Second {
		events = append(events, login("1.2.3.4", d, 401))
	}
	alerts := observeAll(t, newRuleBank(), events)
	if len(alerts) < 2 {
		t.Fatalf("alerts = %d, want at least 2", len(alerts))
	}
	for i := 1; i < len(alerts); i++ {
		if gap := alerts[i].Time.Sub(alerts[i-1].Time); gap <= 10*time.Minute {
			t.Errorf("alerts %d and %d are %s apart, want > 10m", i-1, i, gap)
		}
	}
}

// ─── FW_PORT_SCAN ───────────────────────────────────────────────────────────

func fw(ip string, d time.Duration, port int, action string) core.Event {
	return core.Event{Time: at(d), Type: core.EventFirewall, IP: ip, Src: ip, Port: port, Action: action, Proto: "tcp"}
}

func TestRuleBank_PortScan_ThreeDeniedPorts(t *testing.T) {
	events := []core.Event{
		fw("5.6.7.8", 0, 443, "deny"),
		fw("5.6.7.8", 10*time.Second, 8080, "allow"),
		fw("5.6.7.8", 20*time.Second, 22, "deny"),
		fw("5.6.7.8", 30*time.Second, 22, "deny"),
		fw("5.6.7.8", 40*time.Second, 80, "deny"),
	}
	alerts := observeAll(t, newRuleBank(), events)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Weight != 30 {
		t.Errorf("Weight = %d, want 30", a.Weight)
	}
	if got := a.Evidence["unique_ports_scanned"]; !reflect.DeepEqual(got, []int{22, 80, 443}) {
		t.Errorf("unique_ports_scanned = %v, want [22 80 443]", got)
	}
	if got := a.Evidence["total_attempts"]; got != 5 {
		t.Errorf("total_attempts = %v, want 5", got)
	}
}

func TestRuleBank_PortScan_WeightGrowsWithPorts(t *testing.T) {
	b := newRuleBank()
	b.cooldown.Fire("ip:5.6.7.8", core.SignalFWPortScan, at(7*time.Second-10*time.Minute-time.Nanosecond))

	var scan []core.Event
	for i, p := range []int{21, 22, 23, 25, 53, 80, 110, 143} {
		scan = append(scan, fw("5.6.7.8", time.Duration(i)*time.Second, p, "deny"))
	}
	alerts := observeAll(t, b, scan)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Weight != 35 {
		t.Errorf("Weight = %d, want 35 for 8 ports", alerts[0].Weight)
	}
}

// ─── SSH_BRUTE_FORCE ────────────────────────────────────────────────────────

func sshFail(ip, user string, d time.Duration) core.Event {
	return core.Event{Time: at(d), Type: core.EventSSH, IP: ip, Host: "bastion", User: user, Outcome: "fail", AuthMethod: "password"}
}

func TestRuleBank_SSHBruteForce(t *testing.T) {
	events := []core.Event{
		sshFail("7.7.7.7", "root", 0),
		{Time: at(5 * time.Second), Type: core.EventSSH, IP: "7.7.7.7", User: "deploy", Outcome: "success"},
		sshFail("7.7.7.7", "admin", 10*time.Second),
		sshFail("7.7.7.7", "root", 20*time.Second),
		sshFail("7.7.7.7", "", 30*time.Second),
	}
	alerts := observeAll(t, newRuleBank(), events)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Weight != 35 {
		t.Errorf("Weight = %d, want 35", a.Weight)
	}
	if got := a.Evidence["failed_attempts"]; got != 4 {
		t.Errorf("failed_attempts = %v, want 4", got)
	}
	if got := a.Evidence["targeted_usernames"]; !reflect.DeepEqual(got, []string{"admin", "root"}) {
		t.Errorf("targeted_usernames = %v, want [admin root]", got)
	}
}

func TestRuleBank_SharedWindowIndependentCooldowns(t *testing.T) {
	// Without an IP both actors fall into the "unknown" window but resolve to
	// distinct user entities.
	events := []core.Event{
		sshFail("", "alice", 0),
		sshFail("", "alice", time.Second),
		sshFail("", "alice", 2*time.Second),
		sshFail("", "alice", 3*time.Second),
		sshFail("", "bob", 4*time.Second),
		sshFail("", "alice", 5*time.Second),
	}
	alerts := observeAll(t, newRuleBank(), events)
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}
	if alerts[0].Entity.Key() != "user:alice" || alerts[0].Weight != 35 {
		t.Errorf("first alert = %s weight %d, want user:alice weight 35", alerts[0].Entity.Key(), alerts[0].Weight)
	}
	if alerts[1].Entity.Key() != "user:bob" || alerts[1].Weight != 36 {
		t.Errorf("second alert = %s weight %d, want user:bob weight 36", alerts[1].Entity.Key(), alerts[1].Weight)
	}
}

// ─── WIN_BRUTE_FORCE ────────────────────────────────────────────────────────

func TestRuleBank_WinBruteForce(t *testing.T) {
	var events []core.Event
	for i := 0; i < 5; i++ {
		events = append(events, core.Event{
			Time: at(time.Duration(i) * 15 * time.Second), Type: core.EventWindows,
			EventCode: 4625, Host: "DC01", User: "administrator", IP: "10.1.1.9",
		})
	}
	events = append(events, core.Event{Time: at(2 * time.Minute), Type: core.EventWindows, EventCode: 4624, Host: "DC01", IP: "10.1.1.9"})

	alerts := observeAll(t, newRuleBank(), events)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Weight != 35 {
		t.Errorf("Weight = %d, want 35", a.Weight)
	}
	if a.Evidence["target_host"] != "DC01" || a.Evidence["target_user"] != "administrator" {
		t.Errorf("target = %v/%v", a.Evidence["target_host"], a.Evidence["target_user"])
	}
	if got := a.Evidence["failed_logons"]; got != 5 {
		t.Errorf("failed_logons = %v, want 5", got)
	}
}

// ─── ordering ───────────────────────────────────────────────────────────────

func TestRuleBank_RejectsOutOfOrder(t *testing.T) {
	b := newRuleBank()
	if _, err := b.Observe(login("1.2.3.4", time.Minute, 401)); err != nil {
		t.Fatal(err)
	}
	_, err := b.Observe(login("1.2.3.4", 0, 401))
	if !errors.Is(err, core.ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
}
