package core

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBus(t *testing.T) *AlertBus {
	t.Helper()
	// Port -1 lets the embedded server pick a free port.
	bus, err := NewAlertBus(&BusConfig{Embedded: true, Port: -1, DataDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAlertBus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestSubjects(t *testing.T) {
	if got := AlertSubject(SignalFWPortScan); got != "casewatch.alerts.fw_port_scan" {
		t.Errorf("AlertSubject = %q", got)
	}
	if got := CaseSubject(SeverityHigh); got != "casewatch.cases.high" {
		t.Errorf("CaseSubject = %q", got)
	}
}

func TestAlertBus_CaseRoundTrip(t *testing.T) {
	bus := newTestBus(t)
	if !bus.IsConnected() {
		t.Fatal("expected connection to embedded server")
	}

	got := make(chan CaseAlert, 4)
	if err := bus.SubscribeCases(func(c CaseAlert) { got <- c }); err != nil {
		t.Fatal(err)
	}

	c := CaseAlert{
		ID:       "7f1c",
		Entity:   Entity{Type: EntityIP, Value: "203.0.113.5", Role: RoleActor},
		Severity: SeverityHigh,
		Score:    100,
		LastSeen: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := bus.PublishCase(c); err != nil {
		t.Fatalf("PublishCase: %v", err)
	}

	select {
	case rc := <-got:
		if rc.ID != c.ID || rc.Score != 100 || rc.Severity != SeverityHigh || rc.Entity.Key() != "ip:203.0.113.5" {
			t.Errorf("received %+v", rc)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for case")
	}
}

func TestAlertBus_DuplicateAlertsStoredOnce(t *testing.T) {
	bus := newTestBus(t)

	en := Entity{Type: EntityIP, Value: "203.0.113.5", Role: RoleActor}
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a := EventAlert{ID: AlertID(SignalWebBruteForce, en, ts), Time: ts, Entity: en, Kind: KindRule, Signal: SignalWebBruteForce, Severity: SeverityHigh, Weight: 35}

	for j := 0; j < 2; j++ {
		if err := bus.PublishAlert(a); err != nil {
			t.Fatalf("PublishAlert: %v", err)
		}
	}

	info, err := bus.js.StreamInfo(alertsStream)
	if err != nil {
		t.Fatal(err)
	}
	if info.State.Msgs != 1 {
		t.Errorf("stream holds %d messages, want 1", info.State.Msgs)
	}
	if m := bus.GetMetrics(); m["alerts_published"] != 2 || m["publish_failed"] != 0 {
		t.Errorf("metrics = %v", m)
	}
}

func TestAlertBus_CloseIsIdempotent(t *testing.T) {
	bus := newTestBus(t)
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if bus.IsConnected() {
		t.Error("still connected after Close")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
