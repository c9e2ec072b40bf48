package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/1sec-project/casewatch/internal/collect"
	"github.com/1sec-project/casewatch/internal/core"
	"github.com/1sec-project/casewatch/internal/engine"
)

func sshFailure(d time.Duration) core.Event {
	return core.Event{Time: t0.Add(d), Type: core.EventSSH, IP: "203.0.113.5", Host: "bastion", User: "root", Outcome: "fail"}
}

func TestIngestHandler_DropsOutOfOrder(t *testing.T) {
	var logs bytes.Buffer
	stream := engine.NewStream(core.DefaultConfig().Detection)
	handle := ingestHandler(stream, zerolog.New(&logs))

	handle(sshFailure(time.Minute))
	handle(sshFailure(0))

	if stream.Events() != 1 {
		t.Errorf("Events = %d, want 1", stream.Events())
	}
	if !strings.Contains(logs.String(), "dropping out-of-order event") {
		t.Errorf("expected a warning, logs:\n%s", logs.String())
	}
}

func TestCorrelateOnce_LogsChangedCasesOnce(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	stream := engine.NewStream(core.DefaultConfig().Detection)
	handle := ingestHandler(stream, logger)
	for i := 0; i < 4; i++ {
		handle(sshFailure(time.Duration(i) * time.Second))
	}

	pub, err := engine.NewPublisher(logSink{logger: logger}, 16, logger)
	if err != nil {
		t.Fatal(err)
	}
	pubs := []*engine.Publisher{pub}

	logs.Reset()
	correlateOnce(stream, pubs, logger)
	first := strings.Count(logs.String(), "case updated")
	if first == 0 {
		t.Fatalf("expected case updates, logs:\n%s", logs.String())
	}

	logs.Reset()
	correlateOnce(stream, pubs, logger)
	if n := strings.Count(logs.String(), "case updated"); n != 0 {
		t.Errorf("unchanged cases logged %d times on second pass", n)
	}
}

func TestDedupHandler_DropsOtherSourceRepeats(t *testing.T) {
	var got []core.Event
	handle := dedupHandler(core.NewEventDedup(time.Minute, 0), func(e core.Event) { got = append(got, e) })

	e := sshFailure(0)
	e.Source = "syslog"
	handle(e)
	handle(e)
	e.Source = "auth:/var/log/auth.log"
	handle(e)
	handle(sshFailure(time.Second))

	if len(got) != 3 {
		t.Errorf("forwarded %d events, want 3", len(got))
	}
}

func TestWatchPipeline_IdenticalFailuresStillAlert(t *testing.T) {
	cfg := core.DefaultConfig()
	parser := collect.NewParser(cfg.Collect)
	stream := engine.NewStream(cfg.Detection)
	handle, reorder := watchPipeline(cfg.Engine, stream, zerolog.Nop())
	if reorder == nil {
		t.Fatal("default config should enable the reorder buffer")
	}

	for i := 0; i < 6; i++ {
		line := fmt.Sprintf("2025-03-01T10:00:0%dZ 1.2.3.4 POST /login 401 512 curl/8", i/3)
		e, ok := parser.ParseLine(line)
		if !ok {
			t.Fatalf("ParseLine(%q) rejected", line)
		}
		e.Source = "nginx:/var/log/nginx/access.log"
		handle(e)
	}
	reorder.Flush()

	if stream.Events() != 6 {
		t.Fatalf("Events = %d, want 6", stream.Events())
	}
	var found bool
	for _, a := range stream.Alerts() {
		if a.Signal == core.SignalWebBruteForce {
			found = true
		}
	}
	if !found {
		t.Error("expected WEB_BRUTE_FORCE from six identical failures")
	}
}

func TestWatchPipeline_MergesLaggingSource(t *testing.T) {
	cfg := core.DefaultConfig()
	stream := engine.NewStream(cfg.Detection)
	handle, reorder := watchPipeline(cfg.Engine, stream, zerolog.Nop())

	for i := 0; i < 3; i++ {
		fast := sshFailure(time.Duration(2*i+1) * time.Second)
		fast.Source = "syslog"
		slow := sshFailure(time.Duration(2*i) * time.Second)
		slow.Source = "auth:/var/log/auth.log"
		handle(fast)
		handle(slow)
	}
	reorder.Flush()

	if stream.Events() != 6 {
		t.Errorf("Events = %d, want 6", stream.Events())
	}
}
